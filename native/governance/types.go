package governance

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Hash is the 32 byte identity hash of a governance message. Block hashes use
// the same representation.
type Hash = common.Hash

// Validator describes a Cooperatively Validating Node registered on chain.
type Validator struct {
	ID          uint32 `json:"id"`
	HeightAdded uint32 `json:"heightAdded"`
	PubKey      []byte `json:"pubKey"`
}

// ChainAdmin describes a key holder allowed to co-sign governance messages.
// Admin ids and validator ids are independent key spaces.
type ChainAdmin struct {
	ID     uint32 `json:"id"`
	PubKey []byte `json:"pubKey"`
}

// DynamicChainParams are the consensus knobs that governance messages may
// override at runtime.
type DynamicChainParams struct {
	BlockSpacing            uint32 `json:"nBlockSpacing" yaml:"nBlockSpacing" toml:"nBlockSpacing"`
	BlockSpacingGracePeriod uint32 `json:"nBlockSpacingGracePeriod" yaml:"nBlockSpacingGracePeriod" toml:"nBlockSpacingGracePeriod"`
	DustThreshold           uint32 `json:"nDustThreshold" yaml:"nDustThreshold" toml:"nDustThreshold"`
	MaxCvnSigners           uint32 `json:"nMaxCvnSigners" yaml:"nMaxCvnSigners" toml:"nMaxCvnSigners"`
	MinCvnSigners           uint32 `json:"nMinCvnSigners" yaml:"nMinCvnSigners" toml:"nMinCvnSigners"`
	MinSuccessiveSignatures uint32 `json:"nMinSuccessiveSignatures" yaml:"nMinSuccessiveSignatures" toml:"nMinSuccessiveSignatures"`
}

// String renders the parameters in the compact form used by logs and RPC
// responses.
func (p DynamicChainParams) String() string {
	return fmt.Sprintf("DynamicChainParams(spacing=%d grace=%d dust=%d maxSigners=%d minSigners=%d minSuccessive=%d)",
		p.BlockSpacing, p.BlockSpacingGracePeriod, p.DustThreshold, p.MaxCvnSigners, p.MinCvnSigners, p.MinSuccessiveSignatures)
}

// AdminSignature pairs a chain admin id with its signature over a message's
// identity hash.
type AdminSignature struct {
	SignerID  uint32 `json:"signerId"`
	Signature []byte `json:"signature"`
}

// PayloadFlags records which optional sections a message carries.
type PayloadFlags uint8

const (
	PayloadValidators  PayloadFlags = 0x01
	PayloadChainAdmins PayloadFlags = 0x02
	PayloadChainParams PayloadFlags = 0x04

	payloadKnownMask = PayloadValidators | PayloadChainAdmins | PayloadChainParams
)

// Has reports whether every bit in f is set.
func (p PayloadFlags) Has(f PayloadFlags) bool { return p&f == f }

// MessageState enumerates the lifecycle of a governance message as it moves
// from construction through signing to submission.
type MessageState uint8

const (
	// MessageStateDraft marks a message whose payload is populated but which
	// has not been handed out for signing.
	MessageStateDraft MessageState = iota
	// MessageStateHashable marks a message whose signing hash was returned to
	// the caller for the offline ceremony.
	MessageStateHashable
	// MessageStatePartiallySigned marks a message with signatures attached
	// but not yet verified.
	MessageStatePartiallySigned
	// MessageStateVerified marks a message carrying a valid quorum.
	MessageStateVerified
	// MessageStateSubmitted marks a message accepted into chain state.
	MessageStateSubmitted
	// MessageStateRelayed marks a submitted message that was broadcast.
	MessageStateRelayed
	// MessageStateRejected marks a message that failed verification or
	// submission. Rejected messages are discarded; a retry starts from a
	// fresh proposal.
	MessageStateRejected
	// MessageStateBlocked marks a message refused while the node catches up.
	MessageStateBlocked
)

func (s MessageState) String() string {
	switch s {
	case MessageStateDraft:
		return "draft"
	case MessageStateHashable:
		return "hashable"
	case MessageStatePartiallySigned:
		return "partially_signed"
	case MessageStateVerified:
		return "verified"
	case MessageStateSubmitted:
		return "submitted"
	case MessageStateRelayed:
		return "relayed"
	case MessageStateRejected:
		return "rejected"
	case MessageStateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ChangeOp selects whether a membership change adds or removes an entry.
type ChangeOp uint8

const (
	ChangeAdd ChangeOp = iota + 1
	ChangeRemove
)

func (op ChangeOp) String() string {
	switch op {
	case ChangeAdd:
		return "add"
	case ChangeRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// MemberChange describes a single add or remove against the validator or
// admin set. PubKey is only consulted for additions.
type MemberChange struct {
	Op     ChangeOp
	ID     uint32
	PubKey []byte
}

// Proposal bundles the payloads that a single governance message carries.
// Any combination may be set; at least one must be.
type Proposal struct {
	Validator *MemberChange
	Admin     *MemberChange
	Params    map[string]int64
}

// RegistryReader exposes the current validator set, admin set, and dynamic
// parameters. Implementations handed to View callbacks must not take the
// registry lock again.
type RegistryReader interface {
	Validators() []Validator
	Admins() []ChainAdmin
	Params() DynamicChainParams
	HasValidator(id uint32) bool
	HasAdmin(id uint32) bool
}

// Registry is the authoritative membership store. View runs fn while holding
// the registry-wide lock so a snapshot and the chain tip read inside fn stay
// consistent with each other.
type Registry interface {
	View(fn func(RegistryReader) error) error
}

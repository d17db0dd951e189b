package governance

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Message is the unit of governance mutation. When a membership flag is set
// the corresponding slice is the complete replacement set, never a delta.
type Message struct {
	Payload         PayloadFlags
	PrevBlockHash   Hash
	Validators      []Validator
	ChainAdmins     []ChainAdmin
	DynamicParams   DynamicChainParams
	AdminSignatures []AdminSignature

	state MessageState
}

// NewMessage starts a draft bound to the given chain tip with no payload.
func NewMessage(prevBlockHash Hash) *Message {
	return &Message{PrevBlockHash: prevBlockHash, state: MessageStateDraft}
}

// State reports the lifecycle phase of the message.
func (m *Message) State() MessageState {
	if m == nil {
		return MessageStateDraft
	}
	return m.state
}

func (m *Message) setState(s MessageState) { m.state = s }

func (m *Message) HasValidators() bool { return m.Payload.Has(PayloadValidators) }

func (m *Message) HasChainAdmins() bool { return m.Payload.Has(PayloadChainAdmins) }

func (m *Message) HasChainParams() bool { return m.Payload.Has(PayloadChainParams) }

// SetValidators embeds a full validator snapshot and marks the payload.
func (m *Message) SetValidators(set []Validator) {
	m.Payload |= PayloadValidators
	m.Validators = cloneValidators(set)
}

// SetChainAdmins embeds a full admin snapshot and marks the payload.
func (m *Message) SetChainAdmins(set []ChainAdmin) {
	m.Payload |= PayloadChainAdmins
	m.ChainAdmins = cloneAdmins(set)
}

// SetDynamicParams embeds a full parameter set and marks the payload.
func (m *Message) SetDynamicParams(p DynamicChainParams) {
	m.Payload |= PayloadChainParams
	m.DynamicParams = p
}

// IdentityHash returns the Keccak-256 hash of the canonical encoding. Admin
// signatures are not part of the encoding, so every signer signs the same
// value regardless of how many signatures are attached.
func (m *Message) IdentityHash() Hash {
	return crypto.Keccak256Hash(m.canonicalBytes())
}

// IdentityHash is the free-function form of (*Message).IdentityHash.
func IdentityHash(m *Message) Hash { return m.IdentityHash() }

// canonicalBytes lays out the hashed fields with fixed big-endian widths:
//
//	u8 flags | 32B prevBlockHash
//	[validators] u32 n, n * (u32 id, u32 heightAdded, u32 len, pubkey)
//	[admins]     u32 n, n * (u32 id, u32 len, pubkey)
//	[params]     6 * u32 in declaration order
//
// Sections whose flag is clear are omitted.
func (m *Message) canonicalBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Payload))
	buf.Write(m.PrevBlockHash[:])
	if m.HasValidators() {
		writeU32(&buf, uint32(len(m.Validators)))
		for _, v := range m.Validators {
			writeU32(&buf, v.ID)
			writeU32(&buf, v.HeightAdded)
			writeBytes(&buf, v.PubKey)
		}
	}
	if m.HasChainAdmins() {
		writeU32(&buf, uint32(len(m.ChainAdmins)))
		for _, a := range m.ChainAdmins {
			writeU32(&buf, a.ID)
			writeBytes(&buf, a.PubKey)
		}
	}
	if m.HasChainParams() {
		p := m.DynamicParams
		for _, v := range []uint32{
			p.BlockSpacing,
			p.BlockSpacingGracePeriod,
			p.DustThreshold,
			p.MaxCvnSigners,
			p.MinCvnSigners,
			p.MinSuccessiveSignatures,
		} {
			writeU32(&buf, v)
		}
	}
	return buf.Bytes()
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], v)
	buf.Write(scratch[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	if uint64(len(b)) > math.MaxUint32 {
		panic("governance: field exceeds u32 length prefix")
	}
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

// WithoutSignatures returns a copy of the message with no admin signatures.
// The copy has the same identity hash as the original.
func (m *Message) WithoutSignatures() *Message {
	clone := m.Clone()
	clone.AdminSignatures = nil
	return clone
}

// Clone deep-copies the message, including its lifecycle state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	clone := &Message{
		Payload:       m.Payload,
		PrevBlockHash: m.PrevBlockHash,
		DynamicParams: m.DynamicParams,
		state:         m.state,
	}
	if m.Validators != nil {
		clone.Validators = cloneValidators(m.Validators)
	}
	if m.ChainAdmins != nil {
		clone.ChainAdmins = cloneAdmins(m.ChainAdmins)
	}
	if m.AdminSignatures != nil {
		clone.AdminSignatures = make([]AdminSignature, len(m.AdminSignatures))
		for i, sig := range m.AdminSignatures {
			clone.AdminSignatures[i] = AdminSignature{SignerID: sig.SignerID, Signature: append([]byte(nil), sig.Signature...)}
		}
	}
	return clone
}

func cloneValidators(in []Validator) []Validator {
	out := make([]Validator, len(in))
	for i, v := range in {
		out[i] = Validator{ID: v.ID, HeightAdded: v.HeightAdded, PubKey: append([]byte(nil), v.PubKey...)}
	}
	return out
}

func cloneAdmins(in []ChainAdmin) []ChainAdmin {
	out := make([]ChainAdmin, len(in))
	for i, a := range in {
		out[i] = ChainAdmin{ID: a.ID, PubKey: append([]byte(nil), a.PubKey...)}
	}
	return out
}

// wireMessage is the RLP shape used for persistence and relay. Unlike the
// canonical hash layout it carries the signatures.
type wireMessage struct {
	Payload         uint8
	PrevBlockHash   Hash
	Validators      []Validator
	ChainAdmins     []ChainAdmin
	DynamicParams   DynamicChainParams
	AdminSignatures []AdminSignature
}

// MarshalBinary encodes the complete message, signatures included.
func (m *Message) MarshalBinary() ([]byte, error) {
	if m == nil {
		return nil, errors.New("governance: nil message")
	}
	return rlp.EncodeToBytes(&wireMessage{
		Payload:         uint8(m.Payload),
		PrevBlockHash:   m.PrevBlockHash,
		Validators:      m.Validators,
		ChainAdmins:     m.ChainAdmins,
		DynamicParams:   m.DynamicParams,
		AdminSignatures: m.AdminSignatures,
	})
}

// UnmarshalBinary decodes a message produced by MarshalBinary. Decoded
// messages start in the partially signed state when they carry signatures
// and in the draft state otherwise.
func (m *Message) UnmarshalBinary(data []byte) error {
	var wire wireMessage
	if err := rlp.DecodeBytes(data, &wire); err != nil {
		return fmt.Errorf("governance: decode message: %w", err)
	}
	flags := PayloadFlags(wire.Payload)
	if flags&^payloadKnownMask != 0 {
		return fmt.Errorf("governance: decode message: unknown payload flags 0x%02x", wire.Payload)
	}
	*m = Message{
		Payload:         flags,
		PrevBlockHash:   wire.PrevBlockHash,
		Validators:      wire.Validators,
		ChainAdmins:     wire.ChainAdmins,
		DynamicParams:   wire.DynamicParams,
		AdminSignatures: wire.AdminSignatures,
		state:           MessageStateDraft,
	}
	if len(m.AdminSignatures) > 0 {
		m.state = MessageStatePartiallySigned
	}
	return nil
}

// DecodeMessage is a convenience wrapper around UnmarshalBinary.
func DecodeMessage(data []byte) (*Message, error) {
	msg := new(Message)
	if err := msg.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return msg, nil
}

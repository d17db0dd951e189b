package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cvnchain/core/events"
	"cvnchain/core/registry"
	"cvnchain/native/governance"
	"cvnchain/storage"
)

var (
	// ErrStaleMessage is returned when a message was built against a block
	// that is no longer the chain tip.
	ErrStaleMessage = errors.New("chain: governance message does not extend the current tip")
	// ErrSetSizeChange is returned when a snapshot does not grow or shrink a
	// set by exactly one entry.
	ErrSetSizeChange = errors.New("chain: governance snapshot must change set size by exactly one")
	// ErrSnapshotMismatch is returned when a snapshot alters entries other than
	// the single one it adds or removes.
	ErrSnapshotMismatch = errors.New("chain: governance snapshot rewrites existing members")
	// ErrQuorumInvalid is returned when the attached signatures do not form a
	// valid quorum under the current registry.
	ErrQuorumInvalid = errors.New("chain: governance message quorum invalid")
)

var govLogPrefix = []byte("gov/")

func govLogKey(height uint32) []byte {
	return []byte(fmt.Sprintf("%s%08x", govLogPrefix, height))
}

// ChainData applies verified governance messages to the registry and records
// them in the governance log. The registry, the chain and db must share one
// database: the log entry, the registry record and the new tip are written in
// a single batch.
type ChainData struct {
	chain    *Blockchain
	registry *registry.Registry
	verifier governance.SignatureVerifier
	db       storage.Database
	emitter  events.Emitter
	logger   *slog.Logger
}

func NewChainData(chain *Blockchain, reg *registry.Registry, verifier governance.SignatureVerifier, db storage.Database) *ChainData {
	return &ChainData{
		chain:    chain,
		registry: reg,
		verifier: verifier,
		db:       db,
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}
}

// SetEmitter configures where GovernanceApplied events go. Nil discards them.
func (c *ChainData) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	c.emitter = emitter
}

func (c *ChainData) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger.With(slog.String("component", "chain"))
}

// SubmitGovernanceMessage implements governance.Submitter. The quorum is
// re-checked against the current registry, then the message is applied only if
// it still extends the chain tip. On success the tip advances with the message
// hash, so a second message built against the same tip is refused.
func (c *ChainData) SubmitGovernanceMessage(ctx context.Context, msg *governance.Message) (bool, error) {
	if msg == nil {
		return false, governance.ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	hash := msg.IdentityHash()
	params := c.registry.Params()
	if !governance.VerifyQuorum(hash, msg.AdminSignatures, c.registry.HasAdmin, params.MinCvnSigners, c.verifier) {
		return false, ErrQuorumInvalid
	}
	raw, err := msg.MarshalBinary()
	if err != nil {
		return false, err
	}

	var applied events.GovernanceApplied
	err = c.registry.Update(func(tx *registry.Txn) error {
		height, tip := c.chain.Tip()
		if msg.PrevBlockHash != tip {
			return fmt.Errorf("%w: built on %s, tip is %s", ErrStaleMessage, msg.PrevBlockHash.Hex(), tip.Hex())
		}
		if msg.HasValidators() {
			next, err := validatorEntries(msg.Validators)
			if err != nil {
				return err
			}
			current, _ := validatorEntries(tx.Validators())
			if err := checkSnapshot("validators", next, current); err != nil {
				return err
			}
		}
		if msg.HasChainAdmins() {
			next, err := adminEntries(msg.ChainAdmins)
			if err != nil {
				return err
			}
			current, _ := adminEntries(tx.Admins())
			if err := checkSnapshot("admins", next, current); err != nil {
				return err
			}
		}
		key, value, advance, err := c.chain.stageAdvance(hash)
		if err != nil {
			return err
		}
		tx.Apply(msg)
		tx.Put(govLogKey(height+1), raw)
		tx.Put(key, value)
		tx.OnCommit(advance)
		applied = events.GovernanceApplied{
			Hash:       hash.Hex(),
			Height:     height + 1,
			Validators: len(tx.Validators()),
			Admins:     len(tx.Admins()),
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("governance message refused", slog.String("hash", hash.Hex()), slog.String("error", err.Error()))
		return false, err
	}
	c.logger.Info("governance message applied",
		slog.String("hash", hash.Hex()),
		slog.Uint64("height", uint64(applied.Height)),
		slog.Int("validators", applied.Validators),
		slog.Int("admins", applied.Admins))
	c.emitter.Emit(applied)
	return true, nil
}

// GovernanceLog returns every applied message in height order.
func (c *ChainData) GovernanceLog() ([]*governance.Message, error) {
	if c.db == nil {
		return nil, nil
	}
	var out []*governance.Message
	err := c.db.ForEach(govLogPrefix, func(key, value []byte) error {
		msg, err := governance.DecodeMessage(value)
		if err != nil {
			return fmt.Errorf("chain: governance log %s: %w", key, err)
		}
		out = append(out, msg)
		return nil
	})
	return out, err
}

func validatorEntries(set []governance.Validator) (map[uint32]string, error) {
	out := make(map[uint32]string, len(set))
	for _, v := range set {
		if _, dup := out[v.ID]; dup {
			return nil, fmt.Errorf("%w: validator 0x%08x", governance.ErrDuplicateID, v.ID)
		}
		out[v.ID] = fmt.Sprintf("%d/%x", v.HeightAdded, v.PubKey)
	}
	return out, nil
}

func adminEntries(set []governance.ChainAdmin) (map[uint32]string, error) {
	out := make(map[uint32]string, len(set))
	for _, a := range set {
		if _, dup := out[a.ID]; dup {
			return nil, fmt.Errorf("%w: admin 0x%08x", governance.ErrDuplicateID, a.ID)
		}
		out[a.ID] = fmt.Sprintf("%x", a.PubKey)
	}
	return out, nil
}

// checkSnapshot accepts next only if it is current plus one new id or minus
// one present id, with every other entry unchanged.
func checkSnapshot(set string, next, current map[uint32]string) error {
	larger, smaller := next, current
	switch len(next) - len(current) {
	case 1:
	case -1:
		larger, smaller = current, next
	default:
		return fmt.Errorf("%w: %s %d -> %d", ErrSetSizeChange, set, len(current), len(next))
	}
	for id, entry := range smaller {
		if got, ok := larger[id]; !ok || got != entry {
			return fmt.Errorf("%w: %s entry 0x%08x", ErrSnapshotMismatch, set, id)
		}
	}
	return nil
}

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"cvnchain/native/governance"
	"cvnchain/storage"
)

var tipKey = []byte("chain/tip")

type tipRecord struct {
	Height uint32          `json:"height"`
	Hash   governance.Hash `json:"hash"`
}

// Blockchain tracks the local chain tip and whether the node is still
// downloading blocks. Accepted governance messages advance the tip as pseudo
// blocks so every later message must be built against the new tip.
type Blockchain struct {
	db         storage.Database
	mu         sync.RWMutex
	height     uint32
	tip        governance.Hash
	catchingUp atomic.Bool
}

// NewBlockchain opens the chain stored in db, starting from genesis at height
// zero when db holds no tip.
func NewBlockchain(db storage.Database, genesis governance.Hash) (*Blockchain, error) {
	if db == nil {
		return nil, errors.New("chain: nil database")
	}
	bc := &Blockchain{db: db, tip: genesis}
	raw, err := db.Get(tipKey)
	switch {
	case err == nil:
		var rec tipRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("chain: decode tip: %w", err)
		}
		bc.height = rec.Height
		bc.tip = rec.Hash
	case errors.Is(err, storage.ErrNotFound):
		if err := bc.store(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("chain: load tip: %w", err)
	}
	return bc, nil
}

func (bc *Blockchain) store() error {
	raw, err := encodeTip(bc.height, bc.tip)
	if err != nil {
		return err
	}
	if err := bc.db.Put(tipKey, raw); err != nil {
		return fmt.Errorf("chain: persist tip: %w", err)
	}
	return nil
}

// Tip returns the current height and tip hash.
func (bc *Blockchain) Tip() (uint32, governance.Hash) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.height, bc.tip
}

// Advance appends a block with the given hash on top of the current tip.
func (bc *Blockchain) Advance(hash governance.Hash) (uint32, error) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	prevHeight, prevTip := bc.height, bc.tip
	bc.height++
	bc.tip = hash
	if err := bc.store(); err != nil {
		bc.height, bc.tip = prevHeight, prevTip
		return prevHeight, err
	}
	return bc.height, nil
}

// stageAdvance encodes the tip record for the block after the current tip
// without writing it. The in-memory tip moves only when commit runs, which
// the caller does after the record was persisted.
func (bc *Blockchain) stageAdvance(hash governance.Hash) (key, value []byte, commit func(), err error) {
	bc.mu.RLock()
	next := bc.height + 1
	bc.mu.RUnlock()
	value, err = encodeTip(next, hash)
	if err != nil {
		return nil, nil, nil, err
	}
	commit = func() {
		bc.mu.Lock()
		bc.height, bc.tip = next, hash
		bc.mu.Unlock()
	}
	return tipKey, value, commit, nil
}

func encodeTip(height uint32, hash governance.Hash) ([]byte, error) {
	raw, err := json.Marshal(tipRecord{Height: height, Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("chain: encode tip: %w", err)
	}
	return raw, nil
}

// SetCatchingUp toggles initial block download mode.
func (bc *Blockchain) SetCatchingUp(v bool) { bc.catchingUp.Store(v) }

// IsCatchingUp reports whether the node is still syncing.
func (bc *Blockchain) IsCatchingUp() bool { return bc.catchingUp.Load() }

package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"cvnchain/native/governance"
	"cvnchain/observability"
	"cvnchain/storage"
)

var stateKey = []byte("registry/state")

// State is the persisted form of the registry.
type State struct {
	Validators []governance.Validator        `json:"validators"`
	Admins     []governance.ChainAdmin       `json:"admins"`
	Params     governance.DynamicChainParams `json:"params"`
}

type members struct {
	validators map[uint32]governance.Validator
	admins     map[uint32]governance.ChainAdmin
	params     governance.DynamicChainParams
}

func newMembers(st State) (*members, error) {
	m := &members{
		validators: make(map[uint32]governance.Validator, len(st.Validators)),
		admins:     make(map[uint32]governance.ChainAdmin, len(st.Admins)),
		params:     st.Params,
	}
	for _, v := range st.Validators {
		if _, dup := m.validators[v.ID]; dup {
			return nil, fmt.Errorf("%w: validator 0x%08x", governance.ErrDuplicateID, v.ID)
		}
		m.validators[v.ID] = copyValidator(v)
	}
	for _, a := range st.Admins {
		if _, dup := m.admins[a.ID]; dup {
			return nil, fmt.Errorf("%w: admin 0x%08x", governance.ErrDuplicateID, a.ID)
		}
		m.admins[a.ID] = copyAdmin(a)
	}
	return m, nil
}

func (m *members) clone() *members {
	out := &members{
		validators: make(map[uint32]governance.Validator, len(m.validators)),
		admins:     make(map[uint32]governance.ChainAdmin, len(m.admins)),
		params:     m.params,
	}
	for id, v := range m.validators {
		out.validators[id] = v
	}
	for id, a := range m.admins {
		out.admins[id] = a
	}
	return out
}

func (m *members) Validators() []governance.Validator {
	out := make([]governance.Validator, 0, len(m.validators))
	for _, v := range m.validators {
		out = append(out, copyValidator(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *members) Admins() []governance.ChainAdmin {
	out := make([]governance.ChainAdmin, 0, len(m.admins))
	for _, a := range m.admins {
		out = append(out, copyAdmin(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *members) Params() governance.DynamicChainParams { return m.params }

func (m *members) HasValidator(id uint32) bool {
	_, ok := m.validators[id]
	return ok
}

func (m *members) HasAdmin(id uint32) bool {
	_, ok := m.admins[id]
	return ok
}

func (m *members) state() State {
	return State{Validators: m.Validators(), Admins: m.Admins(), Params: m.params}
}

// Registry is the authoritative store of validators, chain admins, and
// dynamic parameters. Every read and write goes through one lock.
type Registry struct {
	mu      sync.Mutex
	cur     *members
	db      storage.Database
	metrics *observability.GovernanceMetrics
}

// New returns an empty in-memory registry with the given parameters.
func New(params governance.DynamicChainParams) *Registry {
	r, _ := FromState(State{Params: params})
	return r
}

// FromState builds an in-memory registry from a seed state.
func FromState(st State) (*Registry, error) {
	m, err := newMembers(st)
	if err != nil {
		return nil, err
	}
	return &Registry{cur: m}, nil
}

// Open loads the registry persisted in db. When db holds no record the seed is
// written and used instead.
func Open(db storage.Database, seed State) (*Registry, error) {
	if db == nil {
		return nil, errors.New("registry: nil database")
	}
	raw, err := db.Get(stateKey)
	switch {
	case err == nil:
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("registry: decode state: %w", err)
		}
		seed = st
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, fmt.Errorf("registry: load state: %w", err)
	}
	m, err := newMembers(seed)
	if err != nil {
		return nil, err
	}
	r := &Registry{cur: m, db: db}
	if err := r.persist(m, nil); err != nil {
		return nil, err
	}
	return r, nil
}

// SetMetrics publishes membership sizes to m after every change.
func (r *Registry) SetMetrics(m *observability.GovernanceMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
	r.publish()
}

func (r *Registry) publish() {
	r.metrics.SetRegistrySize(len(r.cur.validators), len(r.cur.admins))
}

func (r *Registry) persist(m *members, extra *storage.Batch) error {
	if r.db == nil {
		if extra.Len() > 0 {
			return errors.New("registry: staged writes need a database")
		}
		return nil
	}
	raw, err := json.Marshal(m.state())
	if err != nil {
		return fmt.Errorf("registry: encode state: %w", err)
	}
	batch := new(storage.Batch)
	values := extra.Values()
	for i, key := range extra.Keys() {
		batch.Put(key, values[i])
	}
	batch.Put(stateKey, raw)
	if err := r.db.Write(batch); err != nil {
		return fmt.Errorf("registry: persist state: %w", err)
	}
	return nil
}

// View runs fn while holding the registry lock. fn must not call back into
// the registry.
func (r *Registry) View(fn func(governance.RegistryReader) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.cur)
}

// Txn is a staged registry mutation handed to Update callbacks.
type Txn struct {
	*members
	changed  bool
	writes   storage.Batch
	onCommit []func()
}

// Put stages a write that lands in the same atomic batch as the registry
// record. Nothing is written if the update fails.
func (tx *Txn) Put(key, value []byte) {
	tx.writes.Put(key, value)
}

// OnCommit registers fn to run after the staged state was committed, while
// the registry lock is still held.
func (tx *Txn) OnCommit(fn func()) {
	if fn != nil {
		tx.onCommit = append(tx.onCommit, fn)
	}
}

// Apply replaces every set the message flags with the message's snapshot.
func (tx *Txn) Apply(msg *governance.Message) {
	if msg == nil {
		return
	}
	if msg.HasValidators() {
		tx.validators = make(map[uint32]governance.Validator, len(msg.Validators))
		for _, v := range msg.Validators {
			tx.validators[v.ID] = copyValidator(v)
		}
		tx.changed = true
	}
	if msg.HasChainAdmins() {
		tx.admins = make(map[uint32]governance.ChainAdmin, len(msg.ChainAdmins))
		for _, a := range msg.ChainAdmins {
			tx.admins[a.ID] = copyAdmin(a)
		}
		tx.changed = true
	}
	if msg.HasChainParams() {
		tx.params = msg.DynamicParams
		tx.changed = true
	}
}

// Update runs fn against a staged copy under the registry lock. The staged
// state is persisted and committed only when fn returns nil.
func (r *Registry) Update(fn func(*Txn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Txn{members: r.cur.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.changed || tx.writes.Len() > 0 {
		if err := r.persist(tx.members, &tx.writes); err != nil {
			return err
		}
		r.cur = tx.members
		r.publish()
	}
	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

// Snapshot returns a copy of the full registry state.
func (r *Registry) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.state()
}

func (r *Registry) Validators() []governance.Validator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.Validators()
}

func (r *Registry) Admins() []governance.ChainAdmin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.Admins()
}

func (r *Registry) Params() governance.DynamicChainParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.params
}

// Validator looks up a single validator by id.
func (r *Registry) Validator(id uint32) (governance.Validator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cur.validators[id]
	return copyValidator(v), ok
}

// Admin looks up a single chain admin by id.
func (r *Registry) Admin(id uint32) (governance.ChainAdmin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.cur.admins[id]
	return copyAdmin(a), ok
}

func (r *Registry) HasAdmin(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur.HasAdmin(id)
}

// AdminPubKey returns the registered key of admin id.
func (r *Registry) AdminPubKey(id uint32) ([]byte, bool) {
	a, ok := r.Admin(id)
	return a.PubKey, ok
}

func copyValidator(v governance.Validator) governance.Validator {
	v.PubKey = append([]byte(nil), v.PubKey...)
	return v
}

func copyAdmin(a governance.ChainAdmin) governance.ChainAdmin {
	a.PubKey = append([]byte(nil), a.PubKey...)
	return a
}

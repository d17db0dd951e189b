package governance

import (
	"context"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"cvnchain/crypto"
)

type memRegistry struct {
	mu         sync.Mutex
	validators map[uint32]Validator
	admins     map[uint32]ChainAdmin
	params     DynamicChainParams
}

func newMemRegistry(params DynamicChainParams) *memRegistry {
	return &memRegistry{
		validators: make(map[uint32]Validator),
		admins:     make(map[uint32]ChainAdmin),
		params:     params,
	}
}

func (r *memRegistry) View(fn func(RegistryReader) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(memReader{r})
}

func (r *memRegistry) apply(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.HasValidators() {
		r.validators = make(map[uint32]Validator, len(msg.Validators))
		for _, v := range msg.Validators {
			r.validators[v.ID] = v
		}
	}
	if msg.HasChainAdmins() {
		r.admins = make(map[uint32]ChainAdmin, len(msg.ChainAdmins))
		for _, a := range msg.ChainAdmins {
			r.admins[a.ID] = a
		}
	}
	if msg.HasChainParams() {
		r.params = msg.DynamicParams
	}
}

func (r *memRegistry) adminKey(id uint32) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.admins[id]
	return a.PubKey, ok
}

func (r *memRegistry) validatorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.validators)
}

type memReader struct{ r *memRegistry }

func (m memReader) Validators() []Validator {
	out := make([]Validator, 0, len(m.r.validators))
	for _, v := range m.r.validators {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memReader) Admins() []ChainAdmin {
	out := make([]ChainAdmin, 0, len(m.r.admins))
	for _, a := range m.r.admins {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m memReader) Params() DynamicChainParams { return m.r.params }

func (m memReader) HasValidator(id uint32) bool {
	_, ok := m.r.validators[id]
	return ok
}

func (m memReader) HasAdmin(id uint32) bool {
	_, ok := m.r.admins[id]
	return ok
}

type stubChain struct {
	height     uint32
	tip        Hash
	catchingUp bool
}

func (c *stubChain) Tip() (uint32, Hash) { return c.height, c.tip }

func (c *stubChain) IsCatchingUp() bool { return c.catchingUp }

type applyingSubmitter struct {
	registry *memRegistry
	accept   bool
	err      error
	calls    int
}

func (s *applyingSubmitter) SubmitGovernanceMessage(_ context.Context, msg *Message) (bool, error) {
	s.calls++
	if s.err != nil || !s.accept {
		return false, s.err
	}
	s.registry.apply(msg)
	return true, nil
}

type recordingRelayer struct {
	relayed []Hash
}

func (r *recordingRelayer) RelayGovernanceMessage(_ context.Context, msg *Message) {
	r.relayed = append(r.relayed, msg.IdentityHash())
}

// fixture mirrors a small network: validators 1..5, admins 10..13, with
// signer bounds [3, 7].
type fixture struct {
	registry  *memRegistry
	chain     *stubChain
	submitter *applyingSubmitter
	relayer   *recordingRelayer
	engine    *Engine
	adminKeys map[uint32]*crypto.PrivateKey
}

func defaultParams() DynamicChainParams {
	return DynamicChainParams{
		BlockSpacing:            180,
		BlockSpacingGracePeriod: 60,
		DustThreshold:           1000,
		MaxCvnSigners:           7,
		MinCvnSigners:           3,
		MinSuccessiveSignatures: 2,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := newMemRegistry(defaultParams())
	for id := uint32(1); id <= 5; id++ {
		reg.validators[id] = Validator{ID: id, HeightAdded: 1, PubKey: mustKey(t).PubKey().Bytes()}
	}
	keys := make(map[uint32]*crypto.PrivateKey)
	for id := uint32(10); id <= 13; id++ {
		key := mustKey(t)
		keys[id] = key
		reg.admins[id] = ChainAdmin{ID: id, PubKey: key.PubKey().Bytes()}
	}
	chain := &stubChain{height: 41, tip: Hash{0xaa, 0xbb}}
	verifier := SignatureVerifierFunc(func(hash Hash, signerID uint32, sig []byte) bool {
		pub, ok := reg.adminKey(signerID)
		return ok && crypto.VerifySignature(hash[:], pub, sig)
	})
	submitter := &applyingSubmitter{registry: reg, accept: true}
	relayer := &recordingRelayer{}
	engine := NewEngine(reg, chain, verifier)
	engine.SetSubmitter(submitter)
	engine.SetRelayer(relayer)
	return &fixture{
		registry:  reg,
		chain:     chain,
		submitter: submitter,
		relayer:   relayer,
		engine:    engine,
		adminKeys: keys,
	}
}

func (f *fixture) sign(t *testing.T, hash Hash, ids ...uint32) []string {
	t.Helper()
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		key, ok := f.adminKeys[id]
		require.Truef(t, ok, "no key for admin %d", id)
		sig, err := crypto.Sign(hash[:], key)
		require.NoError(t, err)
		tokens = append(tokens, FormatSignatureToken(id, sig))
	}
	return tokens
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

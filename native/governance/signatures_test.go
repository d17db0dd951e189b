package governance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"cvnchain/crypto"
)

func TestParseSignatureToken(t *testing.T) {
	id, sig, err := ParseSignatureToken("0x0A:0xDEADbeef")
	require.NoError(t, err)
	require.Equal(t, uint32(10), id)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, sig)

	id, sig, err = ParseSignatureToken(FormatSignatureToken(0xffffffff, []byte{0x01}))
	require.NoError(t, err)
	require.Equal(t, uint32(0xffffffff), id)
	require.Equal(t, []byte{0x01}, sig)

	for _, token := range []string{
		"",
		"0a",
		"0a:01:02",
		":0102",
		"0a:",
		"zz:0102",
		"0a:0g",
		"0a:012",
		"100000000:01",
	} {
		_, _, err := ParseSignatureToken(token)
		require.ErrorIsf(t, err, ErrMalformedToken, "token %q", token)
	}
}

func TestAddSignaturesSignerBounds(t *testing.T) {
	f := newFixture(t)
	// Seven admins so that the upper bound is reachable with valid signatures.
	for id := uint32(14); id <= 17; id++ {
		key := mustKey(t)
		f.adminKeys[id] = key
		f.registry.admins[id] = ChainAdmin{ID: id, PubKey: key.PubKey().Bytes()}
	}
	verifier := f.engine.collector.verifier
	collector := NewCollector(f.registry, verifier)

	cases := []struct {
		signers []uint32
		ok      bool
		err     error
	}{
		{signers: []uint32{10, 11}, err: ErrTooFewSigners},
		{signers: []uint32{10, 11, 12}, ok: true},
		{signers: []uint32{10, 11, 12, 13, 14, 15, 16}, ok: true},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_signers", len(tc.signers)), func(t *testing.T) {
			msg := sampleMessage()
			ok, err := collector.AddSignatures(msg, f.sign(t, msg.IdentityHash(), tc.signers...))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				require.Equal(t, MessageStateDraft, msg.State())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, MessageStateVerified, msg.State())
		})
	}

	// maxSigners+1 fails on count alone, even with garbage signatures.
	tokens := make([]string, 8)
	for i := range tokens {
		tokens[i] = FormatSignatureToken(uint32(10+i), []byte{0x00})
	}
	_, err := collector.AddSignatures(sampleMessage(), tokens)
	require.ErrorIs(t, err, ErrTooManySigners)
	_, err = collector.AddSignatures(sampleMessage(), tokens[:2])
	require.ErrorIs(t, err, ErrTooFewSigners)
}

func TestAddSignaturesRejectsForgery(t *testing.T) {
	f := newFixture(t)
	collector := f.engine.collector
	msg := sampleMessage()
	hash := msg.IdentityHash()

	tokens := f.sign(t, hash, 10, 11, 12)
	ok, err := collector.AddSignatures(msg, tokens)
	require.NoError(t, err)
	require.True(t, ok)

	// Signature over a different hash.
	other := sampleMessage()
	other.DynamicParams.BlockSpacing++
	bad := append([]string{}, tokens[:2]...)
	bad = append(bad, f.sign(t, other.IdentityHash(), 12)...)
	ok, err = collector.AddSignatures(msg, bad)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, MessageStatePartiallySigned, msg.State())

	// Signer that is not an admin.
	outsider := mustKey(t)
	sig, err := crypto.Sign(hash[:], outsider)
	require.NoError(t, err)
	bad = append(append([]string{}, tokens[:2]...), FormatSignatureToken(77, sig))
	ok, err = collector.AddSignatures(msg, bad)
	require.NoError(t, err)
	require.False(t, ok)

	// Duplicate signer.
	bad = append(append([]string{}, tokens...), tokens[0])
	ok, err = collector.AddSignatures(msg, bad)
	require.NoError(t, err)
	require.False(t, ok)

	// Malformed token aborts before anything is attached.
	fresh := sampleMessage()
	_, err = collector.AddSignatures(fresh, append(append([]string{}, tokens[:2]...), "nope"))
	require.ErrorIs(t, err, ErrMalformedToken)
	require.Empty(t, fresh.AdminSignatures)
}

func TestVerifyQuorumOrderIndependent(t *testing.T) {
	f := newFixture(t)
	hash := sampleMessage().IdentityHash()
	tokens := f.sign(t, hash, 10, 11, 12, 13)
	sigs := make([]AdminSignature, len(tokens))
	for i, token := range tokens {
		id, sig, err := ParseSignatureToken(token)
		require.NoError(t, err)
		sigs[i] = AdminSignature{SignerID: id, Signature: sig}
	}
	isAdmin := func(id uint32) bool { return id >= 10 && id <= 13 }
	verifier := f.engine.collector.verifier

	require.True(t, VerifyQuorum(hash, sigs, isAdmin, 3, verifier))
	reversed := []AdminSignature{sigs[3], sigs[2], sigs[1], sigs[0]}
	require.True(t, VerifyQuorum(hash, reversed, isAdmin, 3, verifier))
	require.False(t, VerifyQuorum(hash, sigs, isAdmin, 5, verifier))
	require.False(t, VerifyQuorum(hash, sigs, isAdmin, 3, nil))
}

package crypto

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256([]byte("chain data"))

	sig, err := Sign(hash, key)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub := key.PubKey().Bytes()
	require.True(t, VerifySignature(hash, pub, sig))
	require.True(t, VerifySignature(hash, pub, sig[:64]))

	uncompressed := crypto.FromECDSAPub(key.PubKey().PublicKey)
	require.True(t, VerifySignature(hash, uncompressed, sig))
}

func TestVerifySignatureRejectsMismatch(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	other, err := GeneratePrivateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256([]byte("chain data"))
	sig, err := Sign(hash, key)
	require.NoError(t, err)

	require.False(t, VerifySignature(hash, other.PubKey().Bytes(), sig))
	require.False(t, VerifySignature(crypto.Keccak256([]byte("other")), key.PubKey().Bytes(), sig))
	require.False(t, VerifySignature(hash, key.PubKey().Bytes(), sig[:10]))
	require.False(t, VerifySignature(hash, []byte{0x01, 0x02}, sig))
	require.False(t, VerifySignature(hash[:31], key.PubKey().Bytes(), sig))
}

func TestSignRejectsShortHash(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	_, err = Sign([]byte{0x01}, key)
	require.Error(t, err)
	_, err = Sign(make([]byte, 32), nil)
	require.Error(t, err)
}

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr, err := AddressFromPubKey(key.PubKey().Bytes())
	require.NoError(t, err)
	require.Equal(t, FairPrefix, addr.Prefix())

	decoded, err := DecodeAddress(addr.String())
	require.NoError(t, err)
	require.Equal(t, addr.Bytes(), decoded.Bytes())

	_, err = NewAddress(FairPrefix, []byte{1, 2, 3})
	require.Error(t, err)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "admins", "admin-10.keystore")

	require.NoError(t, SaveToKeystore(path, key, ""))
	loaded, err := LoadFromKeystore(path, "")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

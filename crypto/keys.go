package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used for CVN and admin addresses.
type AddressPrefix string

const (
	FairPrefix AddressPrefix = "fair"
)

var (
	errInvalidPublicKey = errors.New("crypto: invalid public key")
	errInvalidHash      = errors.New("crypto: hash must be 32 bytes")
)

// Address represents a 20-byte address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(b))
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}, nil
}

// MustNewAddress is NewAddress for callers holding a known-good 20 byte slice.
func MustNewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := NewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Bytes returns the 33-byte compressed encoding, the form admins register
// on chain.
func (k *PublicKey) Bytes() []byte {
	return crypto.CompressPubkey(k.PublicKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return MustNewAddress(FairPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// PublicKeyFromBytes parses a compressed (33 byte) or uncompressed (65 byte)
// secp256k1 public key.
func PublicKeyFromBytes(b []byte) (*PublicKey, error) {
	switch len(b) {
	case 33:
		pub, err := crypto.DecompressPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidPublicKey, err)
		}
		return &PublicKey{pub}, nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(b)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errInvalidPublicKey, err)
		}
		return &PublicKey{pub}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected length %d", errInvalidPublicKey, len(b))
	}
}

// AddressFromPubKey derives the bech32 address for raw public key bytes.
func AddressFromPubKey(pubKey []byte) (Address, error) {
	pub, err := PublicKeyFromBytes(pubKey)
	if err != nil {
		return Address{}, err
	}
	return pub.Address(), nil
}

// Sign produces a 65 byte recoverable signature over a 32 byte hash.
func Sign(hash []byte, key *PrivateKey) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	if len(hash) != 32 {
		return nil, errInvalidHash
	}
	return crypto.Sign(hash, key.PrivateKey)
}

// VerifySignature checks sig against hash for the given public key. Both the
// 64 byte [R || S] and the 65 byte recoverable form are accepted.
func VerifySignature(hash, pubKey, sig []byte) bool {
	if len(hash) != 32 {
		return false
	}
	switch len(sig) {
	case 64:
	case 65:
		sig = sig[:64]
	default:
		return false
	}
	if _, err := PublicKeyFromBytes(pubKey); err != nil {
		return false
	}
	return crypto.VerifySignature(pubKey, hash, sig)
}

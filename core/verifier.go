package core

import (
	"cvnchain/crypto"
	"cvnchain/native/governance"
)

// AdminKeySource resolves a chain admin id to its registered public key.
type AdminKeySource interface {
	AdminPubKey(id uint32) ([]byte, bool)
}

// KeyVerifier checks admin signatures against the keys held in the registry.
// It takes the registry lock on every lookup, so it must not be called from
// inside Registry.View or Registry.Update.
type KeyVerifier struct {
	keys AdminKeySource
}

func NewKeyVerifier(keys AdminKeySource) *KeyVerifier {
	return &KeyVerifier{keys: keys}
}

// VerifySignature implements governance.SignatureVerifier.
func (v *KeyVerifier) VerifySignature(hash governance.Hash, signerID uint32, signature []byte) bool {
	if v == nil || v.keys == nil {
		return false
	}
	pub, ok := v.keys.AdminPubKey(signerID)
	if !ok {
		return false
	}
	return crypto.VerifySignature(hash[:], pub, signature)
}

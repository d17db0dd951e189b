package governance

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// SignatureVerifier checks a single admin signature over a message hash. The
// implementation resolves signerID to the admin's registered public key.
type SignatureVerifier interface {
	VerifySignature(hash Hash, signerID uint32, signature []byte) bool
}

// SignatureVerifierFunc adapts a plain function to SignatureVerifier.
type SignatureVerifierFunc func(hash Hash, signerID uint32, signature []byte) bool

func (f SignatureVerifierFunc) VerifySignature(hash Hash, signerID uint32, signature []byte) bool {
	return f(hash, signerID, signature)
}

// ParseSignatureToken splits a "<hexSignerId>:<hexSignature>" token. Both
// halves accept an optional 0x prefix and either hex case.
func ParseSignatureToken(token string) (uint32, []byte, error) {
	parts := strings.Split(strings.TrimSpace(token), ":")
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("%w: expected <signerId>:<signature>", ErrMalformedToken)
	}
	idHex := trimHexPrefix(parts[0])
	if idHex == "" {
		return 0, nil, fmt.Errorf("%w: empty signer id", ErrMalformedToken)
	}
	signerID, err := strconv.ParseUint(idHex, 16, 32)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: signer id %q: %v", ErrMalformedToken, parts[0], err)
	}
	sigHex := trimHexPrefix(parts[1])
	if sigHex == "" {
		return 0, nil, fmt.Errorf("%w: empty signature", ErrMalformedToken)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: signature: %v", ErrMalformedToken, err)
	}
	return uint32(signerID), sig, nil
}

// FormatSignatureToken is the inverse of ParseSignatureToken.
func FormatSignatureToken(signerID uint32, signature []byte) string {
	return fmt.Sprintf("0x%08x:%s", signerID, hex.EncodeToString(signature))
}

func trimHexPrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// Collector turns raw signer tokens into a verified quorum on a message.
// Signer bounds are read from the registry's current parameters at the moment
// of collection, never from the message being signed.
type Collector struct {
	registry Registry
	verifier SignatureVerifier
}

// NewCollector wires a collector to the registry and a verifier.
func NewCollector(registry Registry, verifier SignatureVerifier) *Collector {
	return &Collector{registry: registry, verifier: verifier}
}

// AddSignatures replaces the message's signatures with the parsed tokens and
// verifies them. Count and format problems are returned as errors before any
// signature is attached. A verification failure is reported as false with a
// nil error.
func (c *Collector) AddSignatures(msg *Message, tokens []string) (bool, error) {
	if c == nil || c.registry == nil || c.verifier == nil {
		return false, ErrNotConfigured
	}
	if msg == nil {
		return false, ErrNilMessage
	}
	var (
		params DynamicChainParams
		admins map[uint32]struct{}
	)
	if err := c.registry.View(func(r RegistryReader) error {
		params = r.Params()
		current := r.Admins()
		admins = make(map[uint32]struct{}, len(current))
		for _, a := range current {
			admins[a.ID] = struct{}{}
		}
		return nil
	}); err != nil {
		return false, err
	}

	if uint64(len(tokens)) < uint64(params.MinCvnSigners) {
		return false, fmt.Errorf("%w (got %d signatures, but need at least %d to sign)", ErrTooFewSigners, len(tokens), params.MinCvnSigners)
	}
	if uint64(len(tokens)) > uint64(params.MaxCvnSigners) {
		return false, fmt.Errorf("%w (got %d signatures, %d max)", ErrTooManySigners, len(tokens), params.MaxCvnSigners)
	}

	sigs := make([]AdminSignature, len(tokens))
	for i, token := range tokens {
		signerID, sig, err := ParseSignatureToken(token)
		if err != nil {
			return false, fmt.Errorf("signature %d: %w", i+1, err)
		}
		sigs[i] = AdminSignature{SignerID: signerID, Signature: sig}
	}

	msg.AdminSignatures = sigs
	msg.setState(MessageStatePartiallySigned)

	isAdmin := func(id uint32) bool {
		_, ok := admins[id]
		return ok
	}
	if !VerifyQuorum(msg.IdentityHash(), sigs, isAdmin, params.MinCvnSigners, c.verifier) {
		return false, nil
	}
	msg.setState(MessageStateVerified)
	return true, nil
}

// VerifyQuorum reports whether every signature verifies against hash, every
// signer is an admin, no signer appears twice, and the number of distinct
// signers reaches minSigners. The result does not depend on signature order.
func VerifyQuorum(hash Hash, sigs []AdminSignature, isAdmin func(uint32) bool, minSigners uint32, verifier SignatureVerifier) bool {
	if verifier == nil || isAdmin == nil {
		return false
	}
	seen := make(map[uint32]struct{}, len(sigs))
	for _, sig := range sigs {
		if _, dup := seen[sig.SignerID]; dup {
			return false
		}
		seen[sig.SignerID] = struct{}{}
		if !isAdmin(sig.SignerID) {
			return false
		}
		if !verifier.VerifySignature(hash, sig.SignerID, sig.Signature) {
			return false
		}
	}
	return uint64(len(seen)) >= uint64(minSigners)
}

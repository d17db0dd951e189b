package genesis

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"cvnchain/crypto"
)

// ParseBech32Address decodes a fair1... address into its 20 raw bytes.
func ParseBech32Address(addr string) ([20]byte, error) {
	var out [20]byte
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return out, fmt.Errorf("decode bech32 address: %w", err)
	}
	if hrp != string(crypto.FairPrefix) {
		return out, fmt.Errorf("decode bech32 address: unsupported hrp %q", hrp)
	}
	decoded, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return out, fmt.Errorf("decode bech32 address: %w", err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("decode bech32 address: invalid address length %d", len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

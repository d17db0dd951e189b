package genesis

import (
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"cvnchain/core/registry"
	"cvnchain/native/governance"
)

// RegistryState converts the spec into the seed used by registry.Open. Public
// keys are stored in compressed form.
func (s *GenesisSpec) RegistryState() (registry.State, error) {
	if err := ValidateGenesis(s); err != nil {
		return registry.State{}, err
	}
	st := registry.State{Params: s.Params}
	for _, v := range s.Validators {
		pub, err := decodePubKey(v.PubKey)
		if err != nil {
			return registry.State{}, fmt.Errorf("genesis: validator 0x%08x: %w", v.ID, err)
		}
		st.Validators = append(st.Validators, governance.Validator{ID: v.ID, HeightAdded: v.HeightAdded, PubKey: pub.Bytes()})
	}
	for _, a := range s.Admins {
		pub, err := decodePubKey(a.PubKey)
		if err != nil {
			return registry.State{}, fmt.Errorf("genesis: admin 0x%08x: %w", a.ID, err)
		}
		st.Admins = append(st.Admins, governance.ChainAdmin{ID: a.ID, PubKey: pub.Bytes()})
	}
	return st, nil
}

// Hash returns the block hash every first governance message must reference.
// Without an explicit genesisHash it is derived from the network name.
func (s *GenesisSpec) Hash() (governance.Hash, error) {
	if strings.TrimSpace(s.GenesisHash) != "" {
		return parseHash(s.GenesisHash)
	}
	name := strings.TrimSpace(s.NetworkName)
	if name == "" {
		name = "cvn-local"
	}
	return ethcrypto.Keccak256Hash([]byte("cvn-genesis:" + name)), nil
}

package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"cvnchain/crypto"
	"cvnchain/native/governance"
)

// GenesisSpec is the YAML document describing the initial CVN registry.
type GenesisSpec struct {
	NetworkName string                        `yaml:"networkName"`
	GenesisHash string                        `yaml:"genesisHash,omitempty"`
	Params      governance.DynamicChainParams `yaml:"params"`
	Validators  []ValidatorSpec               `yaml:"validators"`
	Admins      []AdminSpec                   `yaml:"admins"`
}

type ValidatorSpec struct {
	ID          uint32 `yaml:"id"`
	HeightAdded uint32 `yaml:"heightAdded,omitempty"`
	PubKey      string `yaml:"pubKey"`
	// Address is optional; when present it must match the key.
	Address string `yaml:"address,omitempty"`
}

type AdminSpec struct {
	ID      uint32 `yaml:"id"`
	PubKey  string `yaml:"pubKey"`
	Address string `yaml:"address,omitempty"`
}

var errInvalidGenesis = errors.New("genesis: invalid spec")

// LoadGenesisSpec reads and validates a genesis file. Unknown keys are
// rejected so misspelt parameters do not silently fall back to zero.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var spec GenesisSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}
	if err := ValidateGenesis(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// ValidateGenesis checks id uniqueness, key encodings, and that the signer
// bounds can be met by the admin set.
func ValidateGenesis(s *GenesisSpec) error {
	if s == nil {
		return fmt.Errorf("%w: nil", errInvalidGenesis)
	}
	if s.GenesisHash != "" {
		if _, err := parseHash(s.GenesisHash); err != nil {
			return err
		}
	}
	p := s.Params
	if p.MinCvnSigners == 0 {
		return fmt.Errorf("%w: params.nMinCvnSigners must be at least 1", errInvalidGenesis)
	}
	if p.MinCvnSigners > p.MaxCvnSigners {
		return fmt.Errorf("%w: params.nMinCvnSigners %d exceeds nMaxCvnSigners %d", errInvalidGenesis, p.MinCvnSigners, p.MaxCvnSigners)
	}
	if uint64(len(s.Admins)) < uint64(p.MinCvnSigners) {
		return fmt.Errorf("%w: %d admins cannot satisfy nMinCvnSigners %d", errInvalidGenesis, len(s.Admins), p.MinCvnSigners)
	}

	seen := make(map[uint32]struct{}, len(s.Validators))
	for i, v := range s.Validators {
		if _, dup := seen[v.ID]; dup {
			return fmt.Errorf("%w: validators[%d]: %w 0x%08x", errInvalidGenesis, i, governance.ErrDuplicateID, v.ID)
		}
		seen[v.ID] = struct{}{}
		if err := checkKey(v.PubKey, v.Address); err != nil {
			return fmt.Errorf("%w: validators[%d]: %w", errInvalidGenesis, i, err)
		}
	}
	seen = make(map[uint32]struct{}, len(s.Admins))
	for i, a := range s.Admins {
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("%w: admins[%d]: %w 0x%08x", errInvalidGenesis, i, governance.ErrDuplicateID, a.ID)
		}
		seen[a.ID] = struct{}{}
		if err := checkKey(a.PubKey, a.Address); err != nil {
			return fmt.Errorf("%w: admins[%d]: %w", errInvalidGenesis, i, err)
		}
	}
	return nil
}

func checkKey(pubHex, address string) error {
	pub, err := decodePubKey(pubHex)
	if err != nil {
		return err
	}
	if strings.TrimSpace(address) == "" {
		return nil
	}
	want, err := ParseBech32Address(address)
	if err != nil {
		return err
	}
	got := pub.Address().Bytes()
	if !bytes.Equal(want[:], got) {
		return fmt.Errorf("address %s does not match pubKey", address)
	}
	return nil
}

func decodePubKey(pubHex string) (*crypto.PublicKey, error) {
	raw := common.FromHex(strings.TrimSpace(pubHex))
	pub, err := crypto.PublicKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", governance.ErrInvalidPubKey, err)
	}
	return pub, nil
}

func parseHash(s string) (governance.Hash, error) {
	raw := common.FromHex(strings.TrimSpace(s))
	if len(raw) != common.HashLength {
		return governance.Hash{}, fmt.Errorf("%w: genesisHash must be 32 bytes, got %d", errInvalidGenesis, len(raw))
	}
	return common.BytesToHash(raw), nil
}

package governance

import (
	"fmt"
	"math"
	"sort"
)

// Param keys accepted by ApplyParamOverrides. They keep the names operators
// already pass on the command line.
const (
	ParamKeyBlockSpacing            = "nBlockSpacing"
	ParamKeyBlockSpacingGracePeriod = "nBlockSpacingGracePeriod"
	ParamKeyDustThreshold           = "nDustThreshold"
	ParamKeyMaxCvnSigners           = "nMaxCvnSigners"
	ParamKeyMinCvnSigners           = "nMinCvnSigners"
	ParamKeyMinSuccessiveSignatures = "nMinSuccessiveSignatures"
)

// BuildValidatorSnapshot returns every current validator plus add, ordered by
// id. A nil add returns the current set unchanged.
func BuildValidatorSnapshot(reg RegistryReader, add *Validator) ([]Validator, error) {
	current := reg.Validators()
	if add == nil {
		return sortValidators(current), nil
	}
	if reg.HasValidator(add.ID) {
		return nil, fmt.Errorf("%w: validator 0x%08x", ErrDuplicateID, add.ID)
	}
	out := make([]Validator, 0, len(current)+1)
	out = append(out, current...)
	out = append(out, Validator{ID: add.ID, HeightAdded: add.HeightAdded, PubKey: append([]byte(nil), add.PubKey...)})
	return sortValidators(out), nil
}

// BuildValidatorSnapshotRemoving returns every current validator except id.
func BuildValidatorSnapshotRemoving(reg RegistryReader, id uint32) ([]Validator, error) {
	if !reg.HasValidator(id) {
		return nil, fmt.Errorf("%w: validator 0x%08x", ErrNotFound, id)
	}
	current := reg.Validators()
	out := make([]Validator, 0, len(current)-1)
	for _, v := range current {
		if v.ID != id {
			out = append(out, v)
		}
	}
	return sortValidators(out), nil
}

// BuildAdminSnapshot returns every current chain admin plus add.
func BuildAdminSnapshot(reg RegistryReader, add *ChainAdmin) ([]ChainAdmin, error) {
	current := reg.Admins()
	if add == nil {
		return sortAdmins(current), nil
	}
	if reg.HasAdmin(add.ID) {
		return nil, fmt.Errorf("%w: admin 0x%08x", ErrDuplicateID, add.ID)
	}
	out := make([]ChainAdmin, 0, len(current)+1)
	out = append(out, current...)
	out = append(out, ChainAdmin{ID: add.ID, PubKey: append([]byte(nil), add.PubKey...)})
	return sortAdmins(out), nil
}

// BuildAdminSnapshotRemoving returns every current chain admin except id.
func BuildAdminSnapshotRemoving(reg RegistryReader, id uint32) ([]ChainAdmin, error) {
	if !reg.HasAdmin(id) {
		return nil, fmt.Errorf("%w: admin 0x%08x", ErrNotFound, id)
	}
	current := reg.Admins()
	out := make([]ChainAdmin, 0, len(current)-1)
	for _, a := range current {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return sortAdmins(out), nil
}

// ApplyParamOverrides starts from current and overwrites the fields named in
// overrides. Unrecognised keys are skipped unless strict is set, in which case
// they fail with ErrUnknownParam.
func ApplyParamOverrides(current DynamicChainParams, overrides map[string]int64, strict bool) (DynamicChainParams, error) {
	params := current
	// Iterate in key order so a strict-mode error is deterministic.
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		raw := overrides[key]
		var field *uint32
		switch key {
		case ParamKeyBlockSpacing:
			field = &params.BlockSpacing
		case ParamKeyBlockSpacingGracePeriod:
			field = &params.BlockSpacingGracePeriod
		case ParamKeyDustThreshold:
			field = &params.DustThreshold
		case ParamKeyMaxCvnSigners:
			field = &params.MaxCvnSigners
		case ParamKeyMinCvnSigners:
			field = &params.MinCvnSigners
		case ParamKeyMinSuccessiveSignatures:
			field = &params.MinSuccessiveSignatures
		default:
			if strict {
				return current, fmt.Errorf("%w: %q", ErrUnknownParam, key)
			}
			continue
		}
		if raw < 0 || raw > math.MaxUint32 {
			return current, fmt.Errorf("%w: %s=%d", ErrInvalidParam, key, raw)
		}
		*field = uint32(raw)
	}
	return params, nil
}

func sortValidators(in []Validator) []Validator {
	out := cloneValidators(in)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortAdmins(in []ChainAdmin) []ChainAdmin {
	out := cloneAdmins(in)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

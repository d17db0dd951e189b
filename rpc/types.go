package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"cvnchain/crypto"
	"cvnchain/native/governance"
)

// Member types accepted by cvn_add and cvn_remove. The single letter forms
// are the ones operators already script against.
const (
	memberTypeCVN   = "c"
	memberTypeAdmin = "a"
)

// hexID decodes from either a hex string ("0x0a", "0a") or a JSON number.
type hexID uint32

func (h *hexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint32
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return fmt.Errorf("id must be a hex string or uint32")
		}
		*h = hexID(n)
		return nil
	}
	v, err := strconv.ParseUint(trimHex(s), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid id %q", s)
	}
	*h = hexID(v)
	return nil
}

func (h hexID) String() string { return fmt.Sprintf("0x%08x", uint32(h)) }

func trimHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(trimHex(s))
}

type cvnAddParams struct {
	Type       string           `json:"type"`
	ID         hexID            `json:"id"`
	PubKey     string           `json:"pubKey"`
	Signatures []string         `json:"signatures,omitempty"`
	Params     map[string]int64 `json:"params,omitempty"`
}

type cvnRemoveParams struct {
	Type       string   `json:"type"`
	ID         hexID    `json:"id"`
	Signatures []string `json:"signatures,omitempty"`
}

type cvnParamsParams struct {
	Params     map[string]int64 `json:"params"`
	Signatures []string         `json:"signatures,omitempty"`
}

type signChainDataParams struct {
	Hash    string `json:"hash"`
	AdminID hexID  `json:"adminId"`
	PrivKey string `json:"privKey"`
}

// signingHashResult is returned when a mutating call carried no signatures.
type signingHashResult struct {
	Hash  string `json:"hash"`
	State string `json:"state"`
}

type submitResult struct {
	Hash    string                         `json:"hash"`
	State   string                         `json:"state"`
	Type    string                         `json:"type,omitempty"`
	ID      string                         `json:"id,omitempty"`
	PubKey  string                         `json:"pubKey,omitempty"`
	Address string                         `json:"address,omitempty"`
	Params  *governance.DynamicChainParams `json:"params,omitempty"`
}

type validatorResult struct {
	ID          string `json:"id"`
	HeightAdded uint32 `json:"heightAdded"`
	PubKey      string `json:"pubKey"`
	Address     string `json:"address,omitempty"`
}

type adminResult struct {
	ID      string `json:"id"`
	PubKey  string `json:"pubKey"`
	Address string `json:"address,omitempty"`
}

type infoResult struct {
	Height     uint32                        `json:"height"`
	Tip        string                        `json:"tip"`
	CatchingUp bool                          `json:"catchingUp"`
	Validators int                           `json:"validators"`
	Admins     int                           `json:"admins"`
	Params     governance.DynamicChainParams `json:"params"`
}

type logEntryResult struct {
	Hash          string                         `json:"hash"`
	PrevBlockHash string                         `json:"prevBlockHash"`
	Payload       uint8                          `json:"payload"`
	Validators    int                            `json:"validators,omitempty"`
	Admins        int                            `json:"admins,omitempty"`
	Params        *governance.DynamicChainParams `json:"params,omitempty"`
	Signers       []string                       `json:"signers"`
}

type eventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func addressOf(pubKey []byte) string {
	addr, err := crypto.AddressFromPubKey(pubKey)
	if err != nil {
		return ""
	}
	return addr.String()
}

func toValidatorResults(in []governance.Validator) []validatorResult {
	out := make([]validatorResult, 0, len(in))
	for _, v := range in {
		out = append(out, validatorResult{
			ID:          hexID(v.ID).String(),
			HeightAdded: v.HeightAdded,
			PubKey:      hex.EncodeToString(v.PubKey),
			Address:     addressOf(v.PubKey),
		})
	}
	return out
}

func toAdminResults(in []governance.ChainAdmin) []adminResult {
	out := make([]adminResult, 0, len(in))
	for _, a := range in {
		out = append(out, adminResult{
			ID:      hexID(a.ID).String(),
			PubKey:  hex.EncodeToString(a.PubKey),
			Address: addressOf(a.PubKey),
		})
	}
	return out
}

func toLogEntry(msg *governance.Message) logEntryResult {
	entry := logEntryResult{
		Hash:          msg.IdentityHash().Hex(),
		PrevBlockHash: msg.PrevBlockHash.Hex(),
		Payload:       uint8(msg.Payload),
		Signers:       make([]string, 0, len(msg.AdminSignatures)),
	}
	if msg.HasValidators() {
		entry.Validators = len(msg.Validators)
	}
	if msg.HasChainAdmins() {
		entry.Admins = len(msg.ChainAdmins)
	}
	if msg.HasChainParams() {
		params := msg.DynamicParams
		entry.Params = &params
	}
	for _, sig := range msg.AdminSignatures {
		entry.Signers = append(entry.Signers, hexID(sig.SignerID).String())
	}
	return entry
}

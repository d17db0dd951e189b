package rpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"cvnchain/crypto"
	"cvnchain/native/governance"
)

func decodeSingleParam(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object expected"}
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func parseMemberType(raw string) (string, *RPCError) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case memberTypeCVN, "cvn":
		return memberTypeCVN, nil
	case memberTypeAdmin, "admin":
		return memberTypeAdmin, nil
	default:
		return "", &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("type must be %q or %q", memberTypeCVN, memberTypeAdmin)}
	}
}

// governanceError maps engine errors to JSON-RPC errors. Anything the caller
// can fix by changing the request is reported as invalid params.
func governanceError(err error) *RPCError {
	switch {
	case errors.Is(err, governance.ErrNotConfigured),
		errors.Is(err, governance.ErrNilMessage),
		errors.Is(err, governance.ErrInvalidState):
		return &RPCError{Code: codeServerError, Message: err.Error()}
	default:
		return &RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
}

func outcomeError(out governance.Outcome) *RPCError {
	err := out.Err()
	if err == nil {
		return nil
	}
	data := map[string]string{
		"hash":   out.Hash.Hex(),
		"state":  out.State.String(),
		"reason": string(out.Reason),
	}
	switch out.Reason {
	case governance.ReasonSyncInProgress:
		return &RPCError{Code: codeBlocked, Message: governance.ErrSyncInProgress.Error(), Data: data}
	case governance.ReasonSubmitFailed:
		if out.Cause != nil {
			data["cause"] = out.Cause.Error()
		}
		return &RPCError{Code: codeSubmitFailed, Message: governance.ErrSubmitFailed.Error(), Data: data}
	default:
		return &RPCError{Code: codeRejected, Message: err.Error(), Data: data}
	}
}

// submit drives a freshly proposed message through the engine. Without
// signatures the caller receives the hash to sign offline.
func (s *Server) submit(r *http.Request, msg *governance.Message, signatures []string, result submitResult) (interface{}, *RPCError) {
	out, err := s.backend.Engine.Submit(r.Context(), msg, signatures)
	if err != nil {
		return nil, governanceError(err)
	}
	if len(signatures) == 0 {
		return signingHashResult{Hash: out.Hash.Hex(), State: out.State.String()}, nil
	}
	if rpcErr := outcomeError(out); rpcErr != nil {
		return nil, rpcErr
	}
	result.Hash = out.Hash.Hex()
	result.State = out.State.String()
	return result, nil
}

func (s *Server) handleCvnAdd(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params cvnAddParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	kind, rpcErr := parseMemberType(params.Type)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubKey, err := decodeHex(params.PubKey)
	if err != nil || len(pubKey) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "pubKey must be hex encoded"}
	}
	change := &governance.MemberChange{Op: governance.ChangeAdd, ID: uint32(params.ID), PubKey: pubKey}
	proposal := governance.Proposal{Params: params.Params}
	if kind == memberTypeCVN {
		proposal.Validator = change
	} else {
		proposal.Admin = change
	}
	msg, err := s.backend.Engine.Propose(r.Context(), proposal)
	if err != nil {
		return nil, governanceError(err)
	}
	result := submitResult{
		Type:    kind,
		ID:      params.ID.String(),
		PubKey:  hex.EncodeToString(pubKey),
		Address: addressOf(pubKey),
	}
	if msg.HasChainParams() {
		p := msg.DynamicParams
		result.Params = &p
	}
	return s.submit(r, msg, params.Signatures, result)
}

func (s *Server) handleCvnRemove(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params cvnRemoveParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	kind, rpcErr := parseMemberType(params.Type)
	if rpcErr != nil {
		return nil, rpcErr
	}
	change := &governance.MemberChange{Op: governance.ChangeRemove, ID: uint32(params.ID)}
	var proposal governance.Proposal
	if kind == memberTypeCVN {
		proposal.Validator = change
	} else {
		proposal.Admin = change
	}
	msg, err := s.backend.Engine.Propose(r.Context(), proposal)
	if err != nil {
		return nil, governanceError(err)
	}
	return s.submit(r, msg, params.Signatures, submitResult{Type: kind, ID: params.ID.String()})
}

func (s *Server) handleSetParams(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params cvnParamsParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if len(params.Params) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "params must not be empty"}
	}
	msg, err := s.backend.Engine.Propose(r.Context(), governance.Proposal{Params: params.Params})
	if err != nil {
		return nil, governanceError(err)
	}
	p := msg.DynamicParams
	return s.submit(r, msg, params.Signatures, submitResult{Params: &p})
}

// handleSignChainData signs a governance hash with an admin key supplied by
// the operator. The key must belong to the registered admin so the returned
// token is guaranteed to verify.
func (s *Server) handleSignChainData(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params signChainDataParams
	if rpcErr := decodeSingleParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	hashBytes, err := decodeHex(params.Hash)
	if err != nil || len(hashBytes) != len(governance.Hash{}) {
		return nil, &RPCError{Code: codeInvalidParams, Message: "hash must be 32 hex encoded bytes"}
	}
	keyBytes, err := decodeHex(params.PrivKey)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "privKey must be hex encoded"}
	}
	key, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, &RPCError{Code: codeInvalidParams, Message: "invalid private key"}
	}
	adminID := uint32(params.AdminID)
	registered, ok := s.backend.Registry.AdminPubKey(adminID)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("chain admin %s not registered", params.AdminID)}
	}
	regKey, err := crypto.PublicKeyFromBytes(registered)
	if err != nil || !bytes.Equal(regKey.Bytes(), key.PubKey().Bytes()) {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("private key does not belong to chain admin %s", params.AdminID)}
	}
	sig, err := crypto.Sign(hashBytes, key)
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "signing failed", Data: err.Error()}
	}
	if !crypto.VerifySignature(hashBytes, registered, sig) {
		return nil, &RPCError{Code: codeServerError, Message: "signature did not verify against registered key"}
	}
	return map[string]string{
		"hash":      common.BytesToHash(hashBytes).Hex(),
		"adminId":   params.AdminID.String(),
		"signature": governance.FormatSignatureToken(adminID, sig),
	}, nil
}

func (s *Server) handleGetInfo(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	height, tip := s.backend.Chain.Tip()
	return infoResult{
		Height:     height,
		Tip:        tip.Hex(),
		CatchingUp: s.backend.Chain.IsCatchingUp(),
		Validators: len(s.backend.Registry.Validators()),
		Admins:     len(s.backend.Registry.Admins()),
		Params:     s.backend.Registry.Params(),
	}, nil
}

func (s *Server) handleListValidators(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return toValidatorResults(s.backend.Registry.Validators()), nil
}

func (s *Server) handleListAdmins(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return toAdminResults(s.backend.Registry.Admins()), nil
}

func (s *Server) handleGetDynamicParams(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	return s.backend.Registry.Params(), nil
}

func (s *Server) handleGetGovernanceLog(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	if s.backend.Log == nil {
		return []logEntryResult{}, nil
	}
	msgs, err := s.backend.Log.GovernanceLog()
	if err != nil {
		return nil, &RPCError{Code: codeServerError, Message: "failed to read governance log", Data: err.Error()}
	}
	out := make([]logEntryResult, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toLogEntry(msg))
	}
	return out, nil
}

func (s *Server) handleRecentEvents(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	if s.backend.Events == nil {
		return []eventResult{}, nil
	}
	evts := s.backend.Events.Events()
	out := make([]eventResult, 0, len(evts))
	for _, evt := range evts {
		out = append(out, eventResult{Type: evt.EventType(), Attributes: evt.Attributes()})
	}
	return out, nil
}

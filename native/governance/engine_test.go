package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"cvnchain/core/events"
)

func TestEngineAddValidatorEndToEnd(t *testing.T) {
	f := newFixture(t)
	rec := events.NewRecorder(0)
	f.engine.SetEmitter(rec)
	ctx := context.Background()

	newKey := mustKey(t).PubKey().Bytes()
	msg, err := f.engine.ProposeValidatorChange(ctx, ChangeAdd, 6, newKey)
	require.NoError(t, err)
	require.Len(t, msg.Validators, 6)
	require.Equal(t, uint32(6), msg.Validators[5].ID)
	require.Equal(t, uint32(42), msg.Validators[5].HeightAdded)
	require.Equal(t, f.chain.tip, msg.PrevBlockHash)
	require.Equal(t, PayloadValidators, msg.Payload)
	require.Equal(t, MessageStateDraft, msg.State())

	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)
	require.Equal(t, MessageStateHashable, msg.State())

	out, err := f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12))
	require.NoError(t, err)
	require.NoError(t, out.Err())
	require.Equal(t, MessageStateRelayed, out.State)
	require.Equal(t, hash, out.Hash)
	require.Equal(t, MessageStateRelayed, msg.State())
	require.Equal(t, 6, f.registry.validatorCount())
	require.Equal(t, []Hash{hash}, f.relayer.relayed)

	var types []string
	for _, evt := range rec.Events() {
		types = append(types, evt.EventType())
	}
	require.Equal(t, []string{events.TypeGovernanceProposed, events.TypeGovernanceSubmitted}, types)
}

func TestEngineTooFewSignersLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.engine.ProposeValidatorChange(ctx, ChangeAdd, 6, mustKey(t).PubKey().Bytes())
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	_, err = f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11))
	require.ErrorIs(t, err, ErrTooFewSigners)
	require.Equal(t, 5, f.registry.validatorCount())
	require.Zero(t, f.submitter.calls)
	require.Empty(t, f.relayer.relayed)
	require.Empty(t, msg.AdminSignatures)
	require.Equal(t, MessageStateHashable, msg.State())
}

func TestEngineRemoveUnknownValidator(t *testing.T) {
	f := newFixture(t)
	msg, err := f.engine.ProposeValidatorChange(context.Background(), ChangeRemove, 99, nil)
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, msg)
}

func TestEngineRemoveValidator(t *testing.T) {
	f := newFixture(t)
	msg, err := f.engine.ProposeValidatorChange(context.Background(), ChangeRemove, 3, nil)
	require.NoError(t, err)
	require.Len(t, msg.Validators, 4)
	for _, v := range msg.Validators {
		require.NotEqual(t, uint32(3), v.ID)
	}
}

func TestEngineProposeRejectsInvalidPubKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProposeValidatorChange(context.Background(), ChangeAdd, 6, []byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrInvalidPubKey)

	_, err = f.engine.ProposeAdminChange(context.Background(), ChangeAdd, 14, nil)
	require.ErrorIs(t, err, ErrInvalidPubKey)
}

func TestEngineProposeDuplicateAdmin(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ProposeAdminChange(context.Background(), ChangeAdd, 10, mustKey(t).PubKey().Bytes())
	require.ErrorIs(t, err, ErrDuplicateID)
}

func TestEngineProposeEmpty(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Propose(context.Background(), Proposal{Params: map[string]int64{}})
	require.ErrorIs(t, err, ErrEmptyProposal)
}

func TestEngineProposeCombinedPayload(t *testing.T) {
	f := newFixture(t)
	msg, err := f.engine.Propose(context.Background(), Proposal{
		Admin:  &MemberChange{Op: ChangeRemove, ID: 13},
		Params: map[string]int64{ParamKeyMinCvnSigners: 2, "nUnknown": 9},
	})
	require.NoError(t, err)
	require.Equal(t, PayloadChainAdmins|PayloadChainParams, msg.Payload)
	require.Len(t, msg.ChainAdmins, 3)
	require.Equal(t, uint32(2), msg.DynamicParams.MinCvnSigners)
	require.Equal(t, uint32(7), msg.DynamicParams.MaxCvnSigners)
	require.Nil(t, msg.Validators)
}

func TestEngineStrictParams(t *testing.T) {
	f := newFixture(t)
	f.engine.SetStrictParams(true)
	_, err := f.engine.ProposeParamChange(context.Background(), map[string]int64{"nBlockSpacng": 10})
	require.ErrorIs(t, err, ErrUnknownParam)
}

func TestEngineBadSignatureRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.engine.ProposeParamChange(ctx, map[string]int64{ParamKeyDustThreshold: 5})
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	tokens := f.sign(t, hash, 10, 11)
	// admin 13 signs with admin 12's id
	forged := f.sign(t, hash, 13)
	_, sig, err := ParseSignatureToken(forged[0])
	require.NoError(t, err)
	tokens = append(tokens, FormatSignatureToken(12, sig))

	out, err := f.engine.SubmitSigned(ctx, msg, tokens)
	require.NoError(t, err)
	require.Equal(t, MessageStateRejected, out.State)
	require.Equal(t, ReasonBadSignatures, out.Reason)
	require.ErrorIs(t, out.Err(), ErrBadSignatures)
	require.Zero(t, f.submitter.calls)
	require.Equal(t, uint32(1000), f.registry.params.DustThreshold)

	_, err = f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12))
	require.ErrorIs(t, err, ErrInvalidState)
	require.Contains(t, err.Error(), "propose it again")
}

func TestEngineRetryAfterBadSignaturesReusesHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.engine.ProposeParamChange(ctx, map[string]int64{ParamKeyDustThreshold: 5})
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	forged := f.sign(t, hash, 13)
	_, sig, err := ParseSignatureToken(forged[0])
	require.NoError(t, err)
	tokens := append(f.sign(t, hash, 10, 11), FormatSignatureToken(12, sig))
	out, err := f.engine.SubmitSigned(ctx, msg, tokens)
	require.NoError(t, err)
	require.Equal(t, ReasonBadSignatures, out.Reason)

	retry, err := f.engine.ProposeParamChange(ctx, map[string]int64{ParamKeyDustThreshold: 5})
	require.NoError(t, err)
	retryHash, err := f.engine.RequestSigningHash(retry)
	require.NoError(t, err)
	require.Equal(t, hash, retryHash)

	out, err = f.engine.SubmitSigned(ctx, retry, f.sign(t, hash, 10, 11, 12))
	require.NoError(t, err)
	require.NoError(t, out.Err())
	require.Equal(t, MessageStateRelayed, out.State)
	require.Equal(t, 1, f.submitter.calls)
	require.Equal(t, MessageStateRejected, msg.State())
}

func TestEngineBlockedWhileCatchingUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.engine.ProposeValidatorChange(ctx, ChangeRemove, 1, nil)
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	f.chain.catchingUp = true
	out, err := f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12))
	require.NoError(t, err)
	require.Equal(t, MessageStateBlocked, out.State)
	require.ErrorIs(t, out.Err(), ErrSyncInProgress)
	require.Zero(t, f.submitter.calls)

	f.chain.catchingUp = false
	out, err = f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12))
	require.NoError(t, err)
	require.Equal(t, MessageStateRelayed, out.State)
	require.Equal(t, 4, f.registry.validatorCount())
}

func TestEngineSubmitFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cause := errors.New("stale tip")
	f.submitter.err = cause

	msg, err := f.engine.ProposeValidatorChange(ctx, ChangeRemove, 2, nil)
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	out, err := f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12))
	require.NoError(t, err)
	require.Equal(t, MessageStateRejected, out.State)
	require.Equal(t, ReasonSubmitFailed, out.Reason)
	rejection, ok := IsRejection(out.Err())
	require.True(t, ok)
	require.ErrorIs(t, rejection, ErrSubmitFailed)
	require.ErrorIs(t, rejection, cause)
	require.Empty(t, f.relayer.relayed)
}

func TestEngineSubmitWithoutTokensReturnsHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	msg, err := f.engine.ProposeAdminChange(ctx, ChangeAdd, 20, mustKey(t).PubKey().Bytes())
	require.NoError(t, err)

	out, err := f.engine.Submit(ctx, msg, nil)
	require.NoError(t, err)
	require.Equal(t, MessageStateHashable, out.State)
	require.Equal(t, msg.IdentityHash(), out.Hash)

	again, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)
	require.Equal(t, out.Hash, again)

	out, err = f.engine.Submit(ctx, msg, f.sign(t, again, 11, 12, 13))
	require.NoError(t, err)
	require.Equal(t, MessageStateRelayed, out.State)
}

func TestEngineSubmittedWithoutRelayer(t *testing.T) {
	f := newFixture(t)
	f.engine.SetRelayer(nil)
	ctx := context.Background()
	msg, err := f.engine.ProposeValidatorChange(ctx, ChangeRemove, 5, nil)
	require.NoError(t, err)
	hash, err := f.engine.RequestSigningHash(msg)
	require.NoError(t, err)

	out, err := f.engine.SubmitSigned(ctx, msg, f.sign(t, hash, 10, 11, 12, 13))
	require.NoError(t, err)
	require.Equal(t, MessageStateSubmitted, out.State)
}

func TestEngineNotConfigured(t *testing.T) {
	var engine *Engine
	_, err := engine.Propose(context.Background(), Proposal{Params: map[string]int64{ParamKeyDustThreshold: 1}})
	require.ErrorIs(t, err, ErrNotConfigured)

	f := newFixture(t)
	f.engine.SetSubmitter(nil)
	_, err = f.engine.SubmitSigned(context.Background(), NewMessage(Hash{}), []string{"0a:00"})
	require.ErrorIs(t, err, ErrNotConfigured)

	f.engine.SetSubmitter(f.submitter)
	_, err = f.engine.SubmitSigned(context.Background(), nil, []string{"0a:00"})
	require.ErrorIs(t, err, ErrNilMessage)
}

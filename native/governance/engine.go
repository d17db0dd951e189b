package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cvnchain/core/events"
	"cvnchain/crypto"
	"cvnchain/observability"
)

// ChainView exposes the local chain tip and sync state.
type ChainView interface {
	Tip() (height uint32, hash Hash)
	IsCatchingUp() bool
}

// Submitter hands a verified message to chain state. It validates against the
// current tip and applies the registry mutation atomically, returning false on
// any late-detected conflict.
type Submitter interface {
	SubmitGovernanceMessage(ctx context.Context, msg *Message) (bool, error)
}

// Relayer broadcasts an accepted message to peers on a best-effort basis.
type Relayer interface {
	RelayGovernanceMessage(ctx context.Context, msg *Message)
}

// Outcome reports where a submission attempt ended.
type Outcome struct {
	State  MessageState
	Reason Reason
	Hash   Hash
	Cause  error
}

// Err returns a *RejectionError for rejected or blocked outcomes and nil
// otherwise.
func (o Outcome) Err() error {
	if o.Reason == ReasonNone {
		return nil
	}
	return &RejectionError{Reason: o.Reason, Hash: o.Hash, Cause: o.Cause}
}

// Engine orchestrates governance message construction, the offline signing
// round trip, verification, submission, and relay. At most one signed
// submission is processed at a time.
type Engine struct {
	registry  Registry
	chain     ChainView
	collector *Collector
	submitter Submitter
	relayer   Relayer
	emitter   events.Emitter
	logger    *slog.Logger
	metrics   *observability.GovernanceMetrics
	tracer    trace.Tracer
	strict    bool

	mu sync.Mutex
}

// NewEngine constructs an engine over the registry, chain view, and signature
// verifier. Submission and relay collaborators are wired with setters.
func NewEngine(registry Registry, chain ChainView, verifier SignatureVerifier) *Engine {
	return &Engine{
		registry:  registry,
		chain:     chain,
		collector: NewCollector(registry, verifier),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("cvnchain/governance"),
	}
}

// SetSubmitter wires the chain submission path.
func (e *Engine) SetSubmitter(s Submitter) { e.submitter = s }

// SetRelayer wires the peer broadcast path.
func (e *Engine) SetRelayer(r Relayer) { e.relayer = r }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", "governance"))
}

// SetMetrics enables Prometheus instrumentation.
func (e *Engine) SetMetrics(m *observability.GovernanceMetrics) { e.metrics = m }

// SetStrictParams makes unknown dynamic parameter keys an error instead of
// silently ignoring them.
func (e *Engine) SetStrictParams(strict bool) { e.strict = strict }

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil && evt != nil {
		e.emitter.Emit(evt)
	}
}

// ProposeValidatorChange builds a message carrying the validator snapshot that
// results from adding or removing id.
func (e *Engine) ProposeValidatorChange(ctx context.Context, op ChangeOp, id uint32, pubKey []byte) (*Message, error) {
	return e.Propose(ctx, Proposal{Validator: &MemberChange{Op: op, ID: id, PubKey: pubKey}})
}

// ProposeAdminChange builds a message carrying the admin snapshot that results
// from adding or removing id.
func (e *Engine) ProposeAdminChange(ctx context.Context, op ChangeOp, id uint32, pubKey []byte) (*Message, error) {
	return e.Propose(ctx, Proposal{Admin: &MemberChange{Op: op, ID: id, PubKey: pubKey}})
}

// ProposeParamChange builds a message carrying the current parameters with
// overrides applied.
func (e *Engine) ProposeParamChange(ctx context.Context, overrides map[string]int64) (*Message, error) {
	return e.Propose(ctx, Proposal{Params: overrides})
}

// Propose builds a draft message for every payload set on p. The snapshots and
// the chain tip are read under a single registry lock so the message is
// internally consistent. Nothing is mutated; a failed proposal produces no
// message.
func (e *Engine) Propose(ctx context.Context, p Proposal) (*Message, error) {
	if e == nil || e.registry == nil || e.chain == nil {
		return nil, ErrNotConfigured
	}
	if p.Validator == nil && p.Admin == nil && len(p.Params) == 0 {
		return nil, ErrEmptyProposal
	}
	for _, change := range []*MemberChange{p.Validator, p.Admin} {
		if change == nil {
			continue
		}
		switch change.Op {
		case ChangeAdd:
			if _, err := crypto.PublicKeyFromBytes(change.PubKey); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidPubKey, err)
			}
		case ChangeRemove:
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnknownChangeOp, change.Op)
		}
	}

	_, span := e.tracer.Start(ctx, "governance.Propose")
	defer span.End()

	var msg *Message
	err := e.registry.View(func(r RegistryReader) error {
		height, tip := e.chain.Tip()
		draft := NewMessage(tip)
		if c := p.Validator; c != nil {
			var (
				set []Validator
				err error
			)
			if c.Op == ChangeAdd {
				set, err = BuildValidatorSnapshot(r, &Validator{ID: c.ID, HeightAdded: height + 1, PubKey: c.PubKey})
			} else {
				set, err = BuildValidatorSnapshotRemoving(r, c.ID)
			}
			if err != nil {
				return err
			}
			draft.SetValidators(set)
		}
		if c := p.Admin; c != nil {
			var (
				set []ChainAdmin
				err error
			)
			if c.Op == ChangeAdd {
				set, err = BuildAdminSnapshot(r, &ChainAdmin{ID: c.ID, PubKey: c.PubKey})
			} else {
				set, err = BuildAdminSnapshotRemoving(r, c.ID)
			}
			if err != nil {
				return err
			}
			draft.SetChainAdmins(set)
		}
		if len(p.Params) > 0 {
			params, err := ApplyParamOverrides(r.Params(), p.Params, e.strict)
			if err != nil {
				return err
			}
			draft.SetDynamicParams(params)
		}
		msg = draft
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn("governance proposal refused", slog.String("error", err.Error()))
		return nil, err
	}

	hash := msg.IdentityHash()
	span.SetAttributes(attribute.String("gov.hash", hash.Hex()), attribute.Int("gov.payload", int(msg.Payload)))
	e.logger.Info("governance message drafted",
		slog.String("hash", hash.Hex()),
		slog.String("prevBlockHash", msg.PrevBlockHash.Hex()),
		slog.Int("payload", int(msg.Payload)),
		slog.Int("validators", len(msg.Validators)),
		slog.Int("chainAdmins", len(msg.ChainAdmins)))
	e.metrics.RecordProposal(payloadLabels(msg)...)
	e.emit(events.GovernanceProposed{
		Hash:          hash.Hex(),
		PrevBlockHash: msg.PrevBlockHash.Hex(),
		Payload:       uint8(msg.Payload),
		Validators:    len(msg.Validators),
		ChainAdmins:   len(msg.ChainAdmins),
	})
	return msg, nil
}

// RequestSigningHash returns the value each admin signs offline. It may be
// called any number of times on a draft or hashable message and always returns
// the same hash.
func (e *Engine) RequestSigningHash(msg *Message) (Hash, error) {
	if msg == nil {
		return Hash{}, ErrNilMessage
	}
	switch msg.State() {
	case MessageStateDraft, MessageStateHashable:
	default:
		return Hash{}, fmt.Errorf("%w: cannot hash a %s message for signing", ErrInvalidState, msg.State())
	}
	msg.setState(MessageStateHashable)
	return msg.IdentityHash(), nil
}

// Submit keeps the single entry point shape of the RPC commands: without
// tokens it returns the signing hash, otherwise it behaves as SubmitSigned.
func (e *Engine) Submit(ctx context.Context, msg *Message, tokens []string) (Outcome, error) {
	if len(tokens) == 0 {
		hash, err := e.RequestSigningHash(msg)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{State: MessageStateHashable, Hash: hash}, nil
	}
	return e.SubmitSigned(ctx, msg, tokens)
}

// SubmitSigned attaches and verifies the admin signatures, then submits and
// relays the message. Malformed tokens and signer count violations are
// returned as errors and leave the message untouched. Policy failures are
// reported through the outcome: Rejected with BadSignatures or SubmitFailed,
// or Blocked with SyncInProgress while the node catches up.
//
// Rejected is terminal. To retry after BadSignatures, propose the same change
// again: the new draft has the same identity hash as long as the tip and the
// registry have not moved, so tokens collected for the old hash still apply.
// Blocked messages may be resubmitted as they are.
func (e *Engine) SubmitSigned(ctx context.Context, msg *Message, tokens []string) (Outcome, error) {
	if e == nil || e.collector == nil || e.chain == nil {
		return Outcome{}, ErrNotConfigured
	}
	if e.submitter == nil {
		return Outcome{}, fmt.Errorf("%w: submitter not set", ErrNotConfigured)
	}
	if msg == nil {
		return Outcome{}, ErrNilMessage
	}
	switch msg.State() {
	case MessageStateDraft, MessageStateHashable, MessageStatePartiallySigned, MessageStateBlocked:
	case MessageStateRejected:
		return Outcome{State: msg.State()}, fmt.Errorf("%w: cannot submit a rejected message, propose it again", ErrInvalidState)
	default:
		return Outcome{State: msg.State()}, fmt.Errorf("%w: cannot submit a %s message", ErrInvalidState, msg.State())
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, span := e.tracer.Start(ctx, "governance.SubmitSigned", trace.WithAttributes(attribute.Int("gov.signatures", len(tokens))))
	defer span.End()

	hash := msg.IdentityHash()
	span.SetAttributes(attribute.String("gov.hash", hash.Hex()))
	log := e.logger.With(slog.String("hash", hash.Hex()))

	started := time.Now()
	ok, err := e.collector.AddSignatures(msg, tokens)
	e.metrics.ObserveVerification(time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("governance signatures refused", slog.String("error", err.Error()))
		return Outcome{State: msg.State(), Hash: hash}, err
	}
	if !ok {
		return e.finish(span, log, msg, Outcome{State: MessageStateRejected, Reason: ReasonBadSignatures, Hash: hash}), nil
	}
	log.Info("governance quorum verified", slog.Int("signatures", len(msg.AdminSignatures)))

	if e.chain.IsCatchingUp() {
		return e.finish(span, log, msg, Outcome{State: MessageStateBlocked, Reason: ReasonSyncInProgress, Hash: hash}), nil
	}

	accepted, err := e.submitter.SubmitGovernanceMessage(ctx, msg)
	if err != nil || !accepted {
		return e.finish(span, log, msg, Outcome{State: MessageStateRejected, Reason: ReasonSubmitFailed, Hash: hash, Cause: err}), nil
	}
	msg.setState(MessageStateSubmitted)

	state := MessageStateSubmitted
	if e.relayer != nil {
		e.relayer.RelayGovernanceMessage(ctx, msg)
		state = MessageStateRelayed
	}
	return e.finish(span, log, msg, Outcome{State: state, Hash: hash}), nil
}

func (e *Engine) finish(span trace.Span, log *slog.Logger, msg *Message, out Outcome) Outcome {
	msg.setState(out.State)
	span.SetAttributes(attribute.String("gov.state", out.State.String()))
	e.metrics.RecordOutcome(out.State.String(), string(out.Reason), len(msg.AdminSignatures))
	if out.Reason != ReasonNone {
		err := out.Err()
		span.SetStatus(codes.Error, err.Error())
		log.Warn("governance message not applied",
			slog.String("state", out.State.String()),
			slog.String("reason", string(out.Reason)),
			slog.String("error", err.Error()))
		e.emit(events.GovernanceRejected{Hash: out.Hash.Hex(), Reason: string(out.Reason), State: out.State.String()})
		return out
	}
	log.Info("governance message submitted", slog.String("state", out.State.String()))
	e.emit(events.GovernanceSubmitted{Hash: out.Hash.Hex(), Signatures: len(msg.AdminSignatures), State: out.State.String()})
	return out
}

func payloadLabels(msg *Message) []string {
	var labels []string
	if msg.HasValidators() {
		labels = append(labels, "validators")
	}
	if msg.HasChainAdmins() {
		labels = append(labels, "chain_admins")
	}
	if msg.HasChainParams() {
		labels = append(labels, "chain_params")
	}
	return labels
}

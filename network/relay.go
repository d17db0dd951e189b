package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cvnchain/native/governance"
)

const (
	peerQueueSize     = 128
	seenCacheSize     = 1024
	heartbeatInterval = 5 * time.Second
)

// EnvelopeKind tags what a relay envelope carries.
type EnvelopeKind uint8

const (
	KindGovernance EnvelopeKind = iota + 1
	KindHeartbeat
)

// Envelope is the unit delivered to subscribed peers.
type Envelope struct {
	Kind       EnvelopeKind
	Hash       governance.Hash
	Payload    []byte
	UnixMillis int64
}

// Handler applies a governance message received from a peer.
type Handler func(ctx context.Context, msg *governance.Message) (bool, error)

var errUnknownPeer = errors.New("network relay: unknown peer")

type peerState struct {
	queue chan Envelope
	done  chan struct{}
	once  sync.Once
}

func newPeerState(size int) *peerState {
	return &peerState{
		queue: make(chan Envelope, size),
		done:  make(chan struct{}),
	}
}

func (s *peerState) close() {
	s.once.Do(func() {
		close(s.done)
		close(s.queue)
	})
}

// Relay fans accepted governance messages out to subscribed peers. Delivery is
// best effort: a saturated peer queue drops the envelope instead of blocking
// the submitter. Each message hash is relayed at most once.
type Relay struct {
	mu      sync.RWMutex
	peers   map[string]*peerState
	handler Handler

	seenMu    sync.Mutex
	seen      map[governance.Hash]struct{}
	seenOrder []governance.Hash

	queueSize int
	metrics   *relayMetrics
	logger    *slog.Logger
}

// NewRelay constructs a relay with no subscribed peers.
func NewRelay() *Relay {
	return &Relay{
		peers:     make(map[string]*peerState),
		seen:      make(map[governance.Hash]struct{}),
		queueSize: peerQueueSize,
		metrics:   defaultRelayMetrics(),
		logger:    slog.Default().With(slog.String("component", "relay")),
	}
}

// SetHandler wires the path used to apply messages received from peers.
func (r *Relay) SetHandler(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
}

// SetQueueSize bounds the per-peer envelope queue for peers subscribed after
// the call. Non-positive values keep the default.
func (r *Relay) SetQueueSize(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.queueSize = n
	r.mu.Unlock()
}

func (r *Relay) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger.With(slog.String("component", "relay"))
}

// Subscribe registers peerID and returns its envelope stream. A second
// subscription for the same peer replaces the first. The returned cancel
// function unsubscribes and closes the stream.
func (r *Relay) Subscribe(peerID string) (<-chan Envelope, func()) {
	r.mu.Lock()
	state := newPeerState(r.queueSize)
	if prev, ok := r.peers[peerID]; ok {
		prev.close()
	}
	r.peers[peerID] = state
	r.metrics.peers.Set(float64(len(r.peers)))
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if r.peers[peerID] == state {
			delete(r.peers, peerID)
			r.metrics.peers.Set(float64(len(r.peers)))
		}
		r.mu.Unlock()
		state.close()
	}
	return state.queue, cancel
}

// RelayGovernanceMessage implements governance.Relayer.
func (r *Relay) RelayGovernanceMessage(ctx context.Context, msg *governance.Message) {
	if msg == nil {
		return
	}
	hash := msg.IdentityHash()
	if !r.markSeen(hash) {
		r.metrics.duplicates.Inc()
		return
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		r.logger.Error("encode governance message", slog.String("hash", hash.Hex()), slog.String("error", err.Error()))
		return
	}
	sent, dropped := r.broadcast(Envelope{Kind: KindGovernance, Hash: hash, Payload: payload}, "")
	r.logger.Debug("governance message relayed",
		slog.String("hash", hash.Hex()),
		slog.Int("peers", sent),
		slog.Int("dropped", dropped))
}

// Receive handles a governance envelope arriving from peerID. New messages are
// handed to the handler and, once applied, forwarded to every other peer.
func (r *Relay) Receive(ctx context.Context, peerID string, env Envelope) error {
	if env.Kind != KindGovernance {
		return nil
	}
	r.mu.RLock()
	_, known := r.peers[peerID]
	handler := r.handler
	r.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", errUnknownPeer, peerID)
	}
	msg, err := governance.DecodeMessage(env.Payload)
	if err != nil {
		r.metrics.received.WithLabelValues("malformed").Inc()
		return err
	}
	hash := msg.IdentityHash()
	if r.hasSeen(hash) {
		r.metrics.duplicates.Inc()
		return nil
	}
	if handler == nil {
		return errors.New("network relay: no handler configured")
	}
	ok, err := handler(ctx, msg)
	if err != nil || !ok {
		r.metrics.received.WithLabelValues("rejected").Inc()
		if err == nil {
			err = fmt.Errorf("network relay: message %s rejected", hash.Hex())
		}
		return err
	}
	r.metrics.received.WithLabelValues("applied").Inc()
	if r.markSeen(hash) {
		r.broadcast(Envelope{Kind: KindGovernance, Hash: hash, Payload: env.Payload}, peerID)
	}
	return nil
}

// StartHeartbeats emits heartbeat envelopes at a fixed cadence until ctx is
// cancelled.
func (r *Relay) StartHeartbeats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = heartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			r.broadcast(Envelope{Kind: KindHeartbeat, UnixMillis: t.UnixMilli()}, "")
		}
	}
}

// Peers lists the currently subscribed peer ids.
func (r *Relay) Peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}

func (r *Relay) broadcast(env Envelope, skip string) (sent, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, peer := range r.peers {
		if id == skip {
			continue
		}
		select {
		case <-peer.done:
			continue
		default:
		}
		select {
		case peer.queue <- env:
			sent++
			r.metrics.enqueued.Inc()
		default:
			// Peer is saturated; drop rather than block the submitter.
			dropped++
			r.metrics.dropped.Inc()
		}
	}
	return sent, dropped
}

func (r *Relay) hasSeen(hash governance.Hash) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	_, ok := r.seen[hash]
	return ok
}

// markSeen records hash and reports whether it was new.
func (r *Relay) markSeen(hash governance.Hash) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if _, ok := r.seen[hash]; ok {
		return false
	}
	r.seen[hash] = struct{}{}
	r.seenOrder = append(r.seenOrder, hash)
	if len(r.seenOrder) > seenCacheSize {
		oldest := r.seenOrder[0]
		r.seenOrder = r.seenOrder[1:]
		delete(r.seen, oldest)
	}
	return true
}

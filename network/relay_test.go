package network

import (
	"context"
	"errors"
	"testing"
	"time"

	"cvnchain/native/governance"
)

func testMessage(seed byte) *governance.Message {
	msg := governance.NewMessage(governance.Hash{seed})
	msg.SetDynamicParams(governance.DynamicChainParams{BlockSpacing: uint32(seed), MinCvnSigners: 1, MaxCvnSigners: 3})
	msg.AdminSignatures = []governance.AdminSignature{{SignerID: 10, Signature: []byte{0x01}}}
	return msg
}

func TestRelayDeliversOnceToEachPeer(t *testing.T) {
	relay := NewRelay()
	a, cancelA := relay.Subscribe("a")
	defer cancelA()
	b, cancelB := relay.Subscribe("b")
	defer cancelB()

	msg := testMessage(1)
	relay.RelayGovernanceMessage(context.Background(), msg)
	relay.RelayGovernanceMessage(context.Background(), msg)

	for name, ch := range map[string]<-chan Envelope{"a": a, "b": b} {
		select {
		case env := <-ch:
			if env.Kind != KindGovernance || env.Hash != msg.IdentityHash() {
				t.Fatalf("peer %s: unexpected envelope %+v", name, env)
			}
			decoded, err := governance.DecodeMessage(env.Payload)
			if err != nil {
				t.Fatalf("peer %s: decode: %v", name, err)
			}
			if len(decoded.AdminSignatures) != 1 {
				t.Fatalf("peer %s: signatures not relayed", name)
			}
		case <-time.After(time.Second):
			t.Fatalf("peer %s: no envelope", name)
		}
		select {
		case env := <-ch:
			t.Fatalf("peer %s: duplicate envelope %+v", name, env)
		default:
		}
	}
}

func TestRelayDropsWhenSaturated(t *testing.T) {
	relay := NewRelay()
	relay.queueSize = 1
	ch, cancel := relay.Subscribe("slow")
	defer cancel()

	relay.RelayGovernanceMessage(context.Background(), testMessage(1))
	done := make(chan struct{})
	go func() {
		relay.RelayGovernanceMessage(context.Background(), testMessage(2))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay blocked on a saturated peer")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("expected one queued envelope, got %d", got)
	}
}

func TestRelayCancelClosesStream(t *testing.T) {
	relay := NewRelay()
	ch, cancel := relay.Subscribe("p")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed stream")
	}
	if len(relay.Peers()) != 0 {
		t.Fatalf("peer not removed: %v", relay.Peers())
	}
	relay.RelayGovernanceMessage(context.Background(), testMessage(3))
}

func TestRelayReceiveAppliesAndForwards(t *testing.T) {
	relay := NewRelay()
	var applied []governance.Hash
	relay.SetHandler(func(_ context.Context, msg *governance.Message) (bool, error) {
		applied = append(applied, msg.IdentityHash())
		return true, nil
	})
	origin, cancelOrigin := relay.Subscribe("origin")
	defer cancelOrigin()
	other, cancelOther := relay.Subscribe("other")
	defer cancelOther()

	msg := testMessage(4)
	payload, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env := Envelope{Kind: KindGovernance, Hash: msg.IdentityHash(), Payload: payload}
	if err := relay.Receive(context.Background(), "origin", env); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := relay.Receive(context.Background(), "origin", env); err != nil {
		t.Fatalf("duplicate receive: %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("expected single application, got %d", len(applied))
	}
	select {
	case <-other:
	default:
		t.Fatal("message not forwarded to other peer")
	}
	select {
	case <-origin:
		t.Fatal("message echoed back to origin")
	default:
	}
}

func TestRelayReceiveRejections(t *testing.T) {
	relay := NewRelay()
	if err := relay.Receive(context.Background(), "ghost", Envelope{Kind: KindGovernance}); !errors.Is(err, errUnknownPeer) {
		t.Fatalf("expected unknown peer error, got %v", err)
	}
	_, cancel := relay.Subscribe("p")
	defer cancel()
	if err := relay.Receive(context.Background(), "p", Envelope{Kind: KindGovernance, Payload: []byte{0xff}}); err == nil {
		t.Fatal("expected decode error")
	}

	boom := errors.New("stale")
	relay.SetHandler(func(context.Context, *governance.Message) (bool, error) { return false, boom })
	payload, _ := testMessage(5).MarshalBinary()
	if err := relay.Receive(context.Background(), "p", Envelope{Kind: KindGovernance, Payload: payload}); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := relay.Receive(context.Background(), "p", Envelope{Kind: KindHeartbeat}); err != nil {
		t.Fatalf("heartbeat should be ignored: %v", err)
	}
}

func TestStartHeartbeatsStopsOnCancel(t *testing.T) {
	relay := NewRelay()
	ch, cancelSub := relay.Subscribe("p")
	defer cancelSub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.StartHeartbeats(ctx, 5*time.Millisecond)
		close(done)
	}()
	select {
	case env := <-ch:
		if env.Kind != KindHeartbeat {
			t.Fatalf("unexpected kind %d", env.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("heartbeats did not stop")
	}
}

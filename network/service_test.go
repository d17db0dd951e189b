package network

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"cvnchain/native/governance"
)

const bufTarget = "passthrough:///bufnet"

type appliedLog struct {
	mu     sync.Mutex
	hashes []governance.Hash
}

func (l *appliedLog) handle(_ context.Context, msg *governance.Message) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes = append(l.hashes, msg.IdentityHash())
	return true, nil
}

func (l *appliedLog) snapshot() []governance.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]governance.Hash(nil), l.hashes...)
}

func startServer(t *testing.T, relay *Relay, auth Authenticator) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewGRPCServer(NewService(relay, auth))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func bufDialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func containsPeer(relay *Relay, id string) bool {
	for _, p := range relay.Peers() {
		if p == id {
			return true
		}
	}
	return false
}

func TestGossipDeliversAcrossStream(t *testing.T) {
	server := NewRelay()
	lis := startServer(t, server, NewTokenAuthenticator("", "mesh-secret"))

	client := NewRelay()
	var applied appliedLog
	client.SetHandler(applied.handle)

	c, err := Dial(bufTarget, "node-b", client,
		bufDialer(lis),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(NewSharedSecretCredentials("", "mesh-secret")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx, 50*time.Millisecond) }()

	require.Eventually(t, func() bool { return containsPeer(server, "node-b") }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return containsPeer(client, bufTarget) }, 5*time.Second, 10*time.Millisecond)

	msg := testMessage(7)
	server.RelayGovernanceMessage(ctx, msg)

	require.Eventually(t, func() bool {
		got := applied.snapshot()
		return len(got) == 1 && got[0] == msg.IdentityHash()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestGossipRejectsWrongSecret(t *testing.T) {
	lis := startServer(t, NewRelay(), NewTokenAuthenticator("", "mesh-secret"))
	conn, err := grpc.NewClient(bufTarget,
		bufDialer(lis),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rlpCodec{})),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, peerIDHeader, "intruder", "authorization", "guess")
	stream, err := conn.NewStream(ctx, &relayServiceDesc.Streams[0], gossipMethod)
	require.NoError(t, err)
	var w wireEnvelope
	err = stream.RecvMsg(&w)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestGossipRequiresPeerID(t *testing.T) {
	lis := startServer(t, NewRelay(), nil)
	conn, err := grpc.NewClient(bufTarget,
		bufDialer(lis),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rlpCodec{})),
	)
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := conn.NewStream(ctx, &relayServiceDesc.Streams[0], gossipMethod)
	require.NoError(t, err)
	var w wireEnvelope
	require.Equal(t, codes.InvalidArgument, status.Code(stream.RecvMsg(&w)))
}

func TestWireEnvelopeRoundTrip(t *testing.T) {
	msg := testMessage(3)
	payload, err := msg.MarshalBinary()
	require.NoError(t, err)
	env := Envelope{Kind: KindGovernance, Hash: msg.IdentityHash(), Payload: payload, UnixMillis: 42}

	raw, err := rlpCodec{}.Marshal(toWire(env))
	require.NoError(t, err)
	var w wireEnvelope
	require.NoError(t, rlpCodec{}.Unmarshal(raw, &w))
	require.Equal(t, env, w.envelope())
}

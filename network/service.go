package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"cvnchain/observability/logging"
)

const (
	relayServiceName = "cvn.network.v1.Relay"
	gossipMethod     = "/" + relayServiceName + "/Gossip"
	peerIDHeader     = "x-cvn-peer"
)

type gossipServer interface {
	gossip(stream grpc.ServerStream) error
}

var relayServiceDesc = grpc.ServiceDesc{
	ServiceName: relayServiceName,
	HandlerType: (*gossipServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Gossip",
		Handler:       gossipHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "cvn/network/v1/relay",
}

func gossipHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(gossipServer).gossip(stream)
}

// Service accepts gossip streams from peers and attaches them to the relay.
type Service struct {
	relay *Relay
	auth  Authenticator
}

// NewService wraps relay for gRPC registration. A nil authenticator accepts
// every stream.
func NewService(relay *Relay, auth Authenticator) *Service {
	return &Service{relay: relay, auth: auth}
}

// NewGRPCServer builds a server speaking the relay codec with tracing
// enabled, and registers svc on it.
func NewGRPCServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ForceServerCodec(rlpCodec{}),
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	server := grpc.NewServer(opts...)
	server.RegisterService(&relayServiceDesc, svc)
	return server
}

func (s *Service) gossip(stream grpc.ServerStream) error {
	ctx := stream.Context()
	if s.auth != nil {
		if err := s.auth.Authorize(ctx); err != nil {
			return err
		}
	}
	peerID := peerIDFromContext(ctx)
	if peerID == "" {
		return status.Error(codes.InvalidArgument, "network: missing "+peerIDHeader+" header")
	}
	s.relay.logger.Info("peer attached", logging.MaskField("peer_id", peerID))
	defer s.relay.logger.Info("peer detached", logging.MaskField("peer_id", peerID))
	return s.relay.pump(ctx, stream, peerID)
}

func peerIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(peerIDHeader) {
		if id := strings.TrimSpace(v); id != "" {
			return id
		}
	}
	return ""
}

// envelopeStream is the part of grpc.ServerStream and grpc.ClientStream the
// relay needs.
type envelopeStream interface {
	SendMsg(m interface{}) error
	RecvMsg(m interface{}) error
}

// pump subscribes peerID to the relay, forwards its queue to the stream and
// feeds inbound envelopes to Receive until the stream ends.
func (r *Relay) pump(ctx context.Context, stream envelopeStream, peerID string) error {
	queue, unsubscribe := r.Subscribe(peerID)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	sent := make(chan struct{})
	defer func() {
		cancel()
		<-sent
	}()

	go func() {
		defer close(sent)
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-queue:
				if !ok {
					return
				}
				if err := stream.SendMsg(toWire(env)); err != nil {
					r.logger.Debug("peer send failed", logging.MaskField("peer_id", peerID), slog.String("error", err.Error()))
					cancel()
					return
				}
			}
		}
	}()

	for {
		var w wireEnvelope
		if err := stream.RecvMsg(&w); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := r.Receive(ctx, peerID, w.envelope()); err != nil {
			r.logger.Warn("peer envelope refused",
				logging.MaskField("peer_id", peerID),
				slog.String("hash", w.Hash.Hex()),
				slog.String("error", err.Error()))
		}
	}
}

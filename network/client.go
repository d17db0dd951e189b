package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"cvnchain/observability/logging"
)

const defaultReconnect = 5 * time.Second

// Client keeps an outbound gossip stream to one peer attached to the local
// relay.
type Client struct {
	conn   *grpc.ClientConn
	relay  *Relay
	target string
	selfID string
}

// Dial prepares a client for target. Without options the transport is
// insecure. The connection is established lazily by Run.
func Dial(target, selfID string, relay *Relay, opts ...grpc.DialOption) (*Client, error) {
	if relay == nil {
		return nil, fmt.Errorf("network: nil relay")
	}
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts,
		grpc.WithDefaultCallOptions(grpc.ForceCodec(rlpCodec{})),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("network: dial %s: %w", target, err)
	}
	return &Client{conn: conn, relay: relay, target: target, selfID: selfID}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Run keeps a gossip session open until ctx is cancelled, reconnecting after
// retry whenever the stream fails.
func (c *Client) Run(ctx context.Context, retry time.Duration) error {
	if retry <= 0 {
		retry = defaultReconnect
	}
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attrs := []any{logging.MaskField("peer_address", c.target)}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		c.relay.logger.Warn("peer session ended", attrs...)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, peerIDHeader, c.selfID)
	stream, err := c.conn.NewStream(ctx, &relayServiceDesc.Streams[0], gossipMethod)
	if err != nil {
		return err
	}
	return c.relay.pump(ctx, stream, c.target)
}

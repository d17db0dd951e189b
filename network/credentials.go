package network

import (
	"context"
	"strings"

	"google.golang.org/grpc/credentials"
)

type sharedSecretCredentials struct {
	header string
	secret string
}

// NewSharedSecretCredentials attaches the peer shared secret to every
// outbound gossip stream.
func NewSharedSecretCredentials(header, secret string) credentials.PerRPCCredentials {
	return sharedSecretCredentials{header: normalizeHeader(header), secret: strings.TrimSpace(secret)}
}

func (c sharedSecretCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if c.secret == "" {
		return map[string]string{}, nil
	}
	return map[string]string{c.header: c.secret}, nil
}

// RequireTransportSecurity is false so development meshes can run without
// TLS; config validation refuses that outside AllowInsecure.
func (c sharedSecretCredentials) RequireTransportSecurity() bool { return false }

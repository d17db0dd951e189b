package network

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Authenticator decides whether an inbound gossip stream may attach.
type Authenticator interface {
	Authorize(ctx context.Context) error
}

type authenticatorFunc func(context.Context) error

func (f authenticatorFunc) Authorize(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// ChainAuthenticators requires every non-nil authenticator to pass. With none
// supplied every stream is accepted.
func ChainAuthenticators(auths ...Authenticator) Authenticator {
	var active []Authenticator
	for _, auth := range auths {
		if auth != nil {
			active = append(active, auth)
		}
	}
	return authenticatorFunc(func(ctx context.Context) error {
		for _, auth := range active {
			if err := auth.Authorize(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// NewTokenAuthenticator accepts streams whose metadata header carries secret,
// either bare or as "Bearer <secret>". An empty secret yields nil.
func NewTokenAuthenticator(header, secret string) Authenticator {
	header = normalizeHeader(header)
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	return authenticatorFunc(func(ctx context.Context) error {
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return status.Error(codes.Unauthenticated, "network: missing metadata")
		}
		for _, value := range md.Get(header) {
			token := strings.TrimSpace(value)
			if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				return nil
			}
		}
		return status.Error(codes.Unauthenticated, "network: invalid or missing shared secret")
	})
}

// NewTLSAuthorizer requires a verified client certificate. A non-empty allow
// list further restricts the accepted common names and DNS names.
func NewTLSAuthorizer(allowed []string) Authenticator {
	names := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		if n := strings.ToLower(strings.TrimSpace(name)); n != "" {
			names[n] = struct{}{}
		}
	}
	return authenticatorFunc(func(ctx context.Context) error {
		p, ok := peer.FromContext(ctx)
		if !ok {
			return status.Error(codes.Unauthenticated, "network: missing peer info")
		}
		info, ok := p.AuthInfo.(credentials.TLSInfo)
		if !ok || len(info.State.PeerCertificates) == 0 {
			return status.Error(codes.Unauthenticated, "network: client certificate required")
		}
		if len(names) == 0 {
			return nil
		}
		for _, cert := range info.State.PeerCertificates {
			candidates := append([]string{cert.Subject.CommonName}, cert.DNSNames...)
			for _, c := range candidates {
				if _, ok := names[strings.ToLower(c)]; ok {
					return nil
				}
			}
		}
		return status.Error(codes.PermissionDenied, "network: client certificate not authorised")
	})
}

func normalizeHeader(header string) string {
	header = strings.ToLower(strings.TrimSpace(header))
	if header == "" {
		return "authorization"
	}
	return header
}

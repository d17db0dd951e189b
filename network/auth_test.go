package network

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func TestTokenAuthenticator(t *testing.T) {
	auth := NewTokenAuthenticator("x-cvn-token", "mesh-secret")
	require.NotNil(t, auth)

	direct := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-cvn-token", "mesh-secret"))
	require.NoError(t, auth.Authorize(direct))

	bearer := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-cvn-token", "Bearer mesh-secret"))
	require.NoError(t, auth.Authorize(bearer))

	wrong := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-cvn-token", "mesh-secret-2"))
	require.Equal(t, codes.Unauthenticated, status.Code(auth.Authorize(wrong)))

	require.Equal(t, codes.Unauthenticated, status.Code(auth.Authorize(context.Background())))
}

func TestTokenAuthenticatorEmptySecret(t *testing.T) {
	require.Nil(t, NewTokenAuthenticator("", "  "))
}

func TestSharedSecretCredentials(t *testing.T) {
	creds := NewSharedSecretCredentials("", "mesh-secret")
	md, err := creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"authorization": "mesh-secret"}, md)

	auth := NewTokenAuthenticator("", "mesh-secret")
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(md))
	require.NoError(t, auth.Authorize(ctx))
}

func tlsContext(certs ...*x509.Certificate) context.Context {
	return peer.NewContext(context.Background(), &peer.Peer{
		AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{PeerCertificates: certs}},
	})
}

func TestTLSAuthorizer(t *testing.T) {
	open := NewTLSAuthorizer(nil)
	require.Equal(t, codes.Unauthenticated, status.Code(open.Authorize(context.Background())))
	require.Equal(t, codes.Unauthenticated, status.Code(open.Authorize(tlsContext())))

	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "cvn-a"}, DNSNames: []string{"node-a.mesh"}}
	require.NoError(t, open.Authorize(tlsContext(cert)))

	restricted := NewTLSAuthorizer([]string{"NODE-A.mesh"})
	require.NoError(t, restricted.Authorize(tlsContext(cert)))

	other := &x509.Certificate{Subject: pkix.Name{CommonName: "cvn-b"}}
	require.Equal(t, codes.PermissionDenied, status.Code(restricted.Authorize(tlsContext(other))))
}

func TestChainAuthenticators(t *testing.T) {
	chain := ChainAuthenticators(nil, NewTokenAuthenticator("", "s1"))
	ok := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "s1"))
	require.NoError(t, chain.Authorize(ok))
	require.Error(t, chain.Authorize(context.Background()))

	require.NoError(t, ChainAuthenticators().Authorize(context.Background()))
}

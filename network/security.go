package network

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"cvnchain/config"
)

// ServerSecurity derives the gRPC server options and stream authenticator from
// the [network] section. Relative file paths resolve against the directory of configFile.
func ServerSecurity(cfg config.Network, configFile string, lookup func(string) (string, bool)) ([]grpc.ServerOption, Authenticator, error) {
	var auths []Authenticator
	if secret := cfg.ResolveSharedSecret(lookup); secret != "" {
		auths = append(auths, NewTokenAuthenticator(cfg.AuthHeader, secret))
	}

	tlsConfig, err := loadTLS(cfg, configFile)
	if err != nil {
		return nil, nil, err
	}
	if tlsConfig != nil && tlsConfig.RootCAs != nil {
		tlsConfig.ClientCAs = tlsConfig.RootCAs
		tlsConfig.RootCAs = nil
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		auths = append(auths, NewTLSAuthorizer(nil))
	}
	if len(auths) == 0 {
		return nil, nil, fmt.Errorf("network: shared secret or client CA required")
	}

	var creds credentials.TransportCredentials
	switch {
	case tlsConfig != nil:
		creds = credentials.NewTLS(tlsConfig)
	case cfg.AllowInsecure:
		creds = insecure.NewCredentials()
	default:
		return nil, nil, fmt.Errorf("network: TLS material missing and AllowInsecure is false")
	}
	return []grpc.ServerOption{grpc.Creds(creds)}, ChainAuthenticators(auths...), nil
}

// ClientSecurity derives the dial options used for outbound peer streams.
func ClientSecurity(cfg config.Network, configFile string, lookup func(string) (string, bool)) ([]grpc.DialOption, error) {
	tlsConfig, err := loadTLS(cfg, configFile)
	if err != nil {
		return nil, err
	}
	var opts []grpc.DialOption
	switch {
	case tlsConfig != nil:
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
	case cfg.AllowInsecure:
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	default:
		return nil, fmt.Errorf("network: TLS material missing and AllowInsecure is false")
	}
	if secret := cfg.ResolveSharedSecret(lookup); secret != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(NewSharedSecretCredentials(cfg.AuthHeader, secret)))
	}
	return opts, nil
}

// loadTLS returns nil when no certificate is configured. CAFile populates
// RootCAs; the server side moves it to ClientCAs.
func loadTLS(cfg config.Network, configFile string) (*tls.Config, error) {
	certPath := config.ResolvePath(configFile, cfg.TLSCertFile)
	keyPath := config.ResolvePath(configFile, cfg.TLSKeyFile)
	if certPath == "" && keyPath == "" {
		return nil, nil
	}
	if certPath == "" || keyPath == "" {
		return nil, fmt.Errorf("network: TLSCertFile and TLSKeyFile must be set together")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("network: load TLS keypair: %w", err)
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, Certificates: []tls.Certificate{cert}}
	if caPath := config.ResolvePath(configFile, cfg.CAFile); caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("network: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("network: no certificates in %s", caPath)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

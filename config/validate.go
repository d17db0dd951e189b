package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// ValidateConfig rejects settings the node cannot start with.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}
	if cfg.RPC.RateLimitPerSecond < 0 || cfg.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limit must not be negative")
	}
	if cfg.RPC.MaxRequestBytes < 1024 {
		return fmt.Errorf("rpc: MaxRequestBytes %d too small", cfg.RPC.MaxRequestBytes)
	}
	if err := validateNetwork(cfg.Network); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(cfg.Logging.Level))); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if cfg.Telemetry.Enabled && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when Enabled")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	return nil
}

func validateNetwork(n Network) error {
	if !n.Enabled() {
		return nil
	}
	if (n.TLSCertFile == "") != (n.TLSKeyFile == "") {
		return fmt.Errorf("TLSCertFile and TLSKeyFile must be set together")
	}
	if n.TLSCertFile == "" && !n.AllowInsecure {
		return fmt.Errorf("TLS material required; set AllowInsecure only for development")
	}
	if strings.TrimSpace(n.SharedSecretEnv) == "" && n.CAFile == "" {
		return fmt.Errorf("peers must authenticate with SharedSecretEnv or CAFile")
	}
	for _, peer := range n.Peers {
		if strings.TrimSpace(peer) == "" {
			return fmt.Errorf("empty peer address")
		}
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultRPCAddress      = "127.0.0.1:8545"
	defaultMaxRequestBytes = 1 << 20
	defaultRelayQueueSize  = 128
)

type Config struct {
	DataDir           string     `toml:"DataDir"`
	GenesisFile       string     `toml:"GenesisFile"`
	NetworkName       string     `toml:"NetworkName"`
	AdminKeystorePath string     `toml:"AdminKeystorePath,omitempty"`
	Governance        Governance `toml:"governance"`
	RPC               RPC        `toml:"rpc"`
	Network           Network    `toml:"network"`
	Logging           Logging    `toml:"logging"`
	Telemetry         Telemetry  `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a default file
// first when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "cvn-local"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./cvn-data"
	}
	if strings.TrimSpace(cfg.RPC.ListenAddress) == "" {
		cfg.RPC.ListenAddress = defaultRPCAddress
	}
	if cfg.RPC.MaxRequestBytes <= 0 {
		cfg.RPC.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = 5
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 10
	}
	if cfg.RPC.ReadTimeoutSecs == 0 {
		cfg.RPC.ReadTimeoutSecs = 15
	}
	if cfg.RPC.WriteTimeoutSecs == 0 {
		cfg.RPC.WriteTimeoutSecs = 15
	}
	if cfg.Governance.RelayQueueSize <= 0 {
		cfg.Governance.RelayQueueSize = defaultRelayQueueSize
	}
	if cfg.Governance.HeartbeatSeconds <= 0 {
		cfg.Governance.HeartbeatSeconds = 5
	}
	cfg.Network.ListenAddress = strings.TrimSpace(cfg.Network.ListenAddress)
	if strings.TrimSpace(cfg.Network.NodeID) == "" {
		cfg.Network.NodeID = cfg.NetworkName + "-node"
	}
	if strings.TrimSpace(cfg.Network.AuthHeader) == "" {
		cfg.Network.AuthHeader = "authorization"
	}
	if cfg.Network.ReconnectSeconds <= 0 {
		cfg.Network.ReconnectSeconds = 5
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Logging.Env) == "" {
		cfg.Logging.Env = "dev"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:     "./cvn-data",
		GenesisFile: "genesis.yaml",
		NetworkName: "cvn-local",
		RPC: RPC{
			ListenAddress: defaultRPCAddress,
			AuthTokenEnv:  "CVN_RPC_TOKEN",
		},
	}
	applyDefaults(cfg)
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// ResolvePath interprets p relative to the directory holding the config file.
func ResolvePath(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), p)
}

// ResolveAuthToken resolves the static RPC bearer token, preferring the environment
// variable named by AuthTokenEnv.
func (r RPC) ResolveAuthToken() string {
	if env := strings.TrimSpace(r.AuthTokenEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(r.AuthToken)
}

// ResolveJWTSecret reads the HS256 secret from the configured environment
// variable.
func (r RPC) ResolveJWTSecret() []byte {
	env := strings.TrimSpace(r.JWTSecretEnv)
	if env == "" {
		return nil
	}
	v := strings.TrimSpace(os.Getenv(env))
	if v == "" {
		return nil
	}
	return []byte(v)
}

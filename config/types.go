package config

// Governance controls how the node builds and relays governance messages.
type Governance struct {
	// StrictParams rejects unknown dynamic parameter keys instead of
	// ignoring them.
	StrictParams     bool `toml:"StrictParams"`
	RelayQueueSize   int  `toml:"RelayQueueSize"`
	HeartbeatSeconds int  `toml:"HeartbeatSeconds"`
}

// RPC configures the JSON-RPC listener.
type RPC struct {
	ListenAddress      string  `toml:"ListenAddress"`
	AuthToken          string  `toml:"AuthToken"`
	AuthTokenEnv       string  `toml:"AuthTokenEnv"`
	JWTSecretEnv       string  `toml:"JWTSecretEnv"`
	JWTIssuer          string  `toml:"JWTIssuer"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	MaxRequestBytes    int64   `toml:"MaxRequestBytes"`
	ReadTimeoutSecs    int     `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs   int     `toml:"WriteTimeoutSecs"`
	// TrustedProxies are the reverse proxies allowed to name the client
	// through X-Forwarded-For for rate limiting.
	TrustedProxies []string `toml:"TrustedProxies"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP trace and metric export.
type Telemetry struct {
	Enabled     bool              `toml:"Enabled"`
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
	Headers     map[string]string `toml:"Headers,omitempty"`
}

// Network configures the gRPC gossip transport that carries governance
// messages between nodes. An empty ListenAddress with no Peers keeps the
// relay local.
type Network struct {
	ListenAddress    string   `toml:"ListenAddress"`
	NodeID           string   `toml:"NodeID"`
	Peers            []string `toml:"Peers"`
	AuthHeader       string   `toml:"AuthHeader"`
	SharedSecretEnv  string   `toml:"SharedSecretEnv"`
	TLSCertFile      string   `toml:"TLSCertFile"`
	TLSKeyFile       string   `toml:"TLSKeyFile"`
	CAFile           string   `toml:"CAFile"`
	AllowInsecure    bool     `toml:"AllowInsecure"`
	ReconnectSeconds int      `toml:"ReconnectSeconds"`
}

// Enabled reports whether the node serves or dials peers.
func (n Network) Enabled() bool {
	return n.ListenAddress != "" || len(n.Peers) > 0
}

// ResolveSharedSecret reads the peer shared secret from the environment.
func (n Network) ResolveSharedSecret(lookup func(string) (string, bool)) string {
	if n.SharedSecretEnv == "" || lookup == nil {
		return ""
	}
	v, _ := lookup(n.SharedSecretEnv)
	return v
}

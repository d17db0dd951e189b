package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"cvnchain/config"
	"cvnchain/core"
	"cvnchain/core/events"
	"cvnchain/core/genesis"
	"cvnchain/core/registry"
	"cvnchain/native/governance"
	"cvnchain/network"
	"cvnchain/observability"
	"cvnchain/observability/logging"
	telemetry "cvnchain/observability/otel"
	"cvnchain/rpc"
	"cvnchain/storage"
)

const (
	serviceName    = "cvnd"
	genesisPathEnv = "CVN_GENESIS"
	eventRetention = 512
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis YAML file (overrides CVN_GENESIS and config GenesisFile)")
	catchingUp := flag.Bool("catching-up", false, "Start with governance submissions blocked until the node is synced")
	flag.Parse()

	if err := run(*configFile, *genesisFlag, *catchingUp); err != nil {
		fmt.Fprintf(os.Stderr, "cvnd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, genesisFlag string, catchingUp bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.Setup(logging.Options{
		Service:    serviceName,
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       config.ResolvePath(configFile, cfg.Logging.File),
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromNodeConfig(serviceName, cfg.Logging.Env, cfg.Telemetry))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	spec, err := genesis.LoadGenesisSpec(resolveGenesisPath(genesisFlag, configFile, cfg.GenesisFile, os.LookupEnv))
	if err != nil {
		return err
	}
	seed, err := spec.RegistryState()
	if err != nil {
		return err
	}
	genesisHash, err := spec.Hash()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	metrics := observability.Governance()
	reg, err := registry.Open(db, seed)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	reg.SetMetrics(metrics)

	chain, err := core.NewBlockchain(db, genesisHash)
	if err != nil {
		return fmt.Errorf("open chain: %w", err)
	}
	chain.SetCatchingUp(catchingUp)

	recorder := events.NewRecorder(eventRetention)
	emitter := events.Fanout{recorder, observability.Events()}
	verifier := core.NewKeyVerifier(reg)
	data := core.NewChainData(chain, reg, verifier, db)
	data.SetEmitter(emitter)
	data.SetLogger(logger)

	relay := network.NewRelay()
	relay.SetQueueSize(cfg.Governance.RelayQueueSize)
	relay.SetLogger(logger)
	relay.SetHandler(data.SubmitGovernanceMessage)

	engine := governance.NewEngine(reg, chain, verifier)
	engine.SetSubmitter(data)
	engine.SetRelayer(relay)
	engine.SetEmitter(emitter)
	engine.SetLogger(logger)
	engine.SetMetrics(metrics)
	engine.SetStrictParams(cfg.Governance.StrictParams)

	go relay.StartHeartbeats(ctx, time.Duration(cfg.Governance.HeartbeatSeconds)*time.Second)
	if cfg.Network.Enabled() {
		if err := startNetwork(ctx, cfg.Network, configFile, relay, logger); err != nil {
			return err
		}
	}

	server, err := rpc.NewServer(rpc.Backend{
		Engine:   engine,
		Registry: reg,
		Chain:    chain,
		Log:      data,
		Events:   recorder,
	}, rpc.ServerConfig{
		AuthToken:          cfg.RPC.ResolveAuthToken(),
		JWTSecret:          string(cfg.RPC.ResolveJWTSecret()),
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		MaxRequestBytes:    cfg.RPC.MaxRequestBytes,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSecs) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeoutSecs) * time.Second,
		TrustedProxies:     cfg.RPC.TrustedProxies,
	})
	if err != nil {
		return err
	}
	server.SetLogger(logger)
	server.SetMetrics(metrics)

	height, tip := chain.Tip()
	logger.Info("cvn node started",
		slog.String("network", spec.NetworkName),
		slog.Uint64("height", uint64(height)),
		slog.String("tip", tip.Hex()),
		slog.Int("validators", len(reg.Validators())),
		slog.Int("admins", len(reg.Admins())),
		slog.String("params", reg.Params().String()))

	if err := server.Start(ctx, cfg.RPC.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("cvn node stopped")
	return nil
}

// startNetwork serves inbound gossip streams and keeps one outbound stream
// per configured peer until ctx is cancelled.
func startNetwork(ctx context.Context, cfg config.Network, configFile string, relay *network.Relay, logger *slog.Logger) error {
	if cfg.ListenAddress != "" {
		opts, auth, err := network.ServerSecurity(cfg, configFile, os.LookupEnv)
		if err != nil {
			return err
		}
		lis, err := net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.ListenAddress, err)
		}
		srv := network.NewGRPCServer(network.NewService(relay, auth), opts...)
		go func() {
			if err := srv.Serve(lis); err != nil {
				logger.Error("gossip server stopped", slog.String("error", err.Error()))
			}
		}()
		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		logger.Info("gossip server listening", slog.String("addr", cfg.ListenAddress), slog.String("node", cfg.NodeID))
	}
	if len(cfg.Peers) == 0 {
		return nil
	}
	dialOpts, err := network.ClientSecurity(cfg, configFile, os.LookupEnv)
	if err != nil {
		return err
	}
	retry := time.Duration(cfg.ReconnectSeconds) * time.Second
	for _, target := range cfg.Peers {
		client, err := network.Dial(target, cfg.NodeID, relay, dialOpts...)
		if err != nil {
			return err
		}
		go func() {
			defer client.Close()
			_ = client.Run(ctx, retry)
		}()
	}
	return nil
}

// resolveGenesisPath prefers the flag, then the environment, then the config
// entry resolved against the config file directory.
func resolveGenesisPath(flagValue, configFile, configured string, lookup func(string) (string, bool)) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}
	if v, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return config.ResolvePath(configFile, configured)
}

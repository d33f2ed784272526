package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"safedeal/config"
	"safedeal/core"
	"safedeal/core/events"
	"safedeal/core/genesis"
	"safedeal/native/safedeal"
	"safedeal/native/token"
	"safedeal/observability/logging"
	telemetry "safedeal/observability/otel"
	"safedeal/rpc"
	"safedeal/storage"
)

const genesisPathEnv = "SAFEDEAL_GENESIS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis JSON file (overrides SAFEDEAL_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "safedeald",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	if err := run(cfg, *genesisFlag, logger); err != nil {
		logger.Error("safedeald exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, genesisFlag string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	var spec *genesis.GenesisSpec
	if path := resolveGenesisPath(genesisFlag, cfg.GenesisFile, os.LookupEnv); path != "" {
		spec, err = genesis.LoadGenesisSpec(path)
		if err != nil {
			return fmt.Errorf("load genesis spec: %w", err)
		}
		logger.Info("genesis spec loaded", slog.String("path", path), slog.Int("allocations", len(spec.Allocations())))
	}

	nodeCfg, err := nodeConfig(cfg, spec)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	journal, err := events.OpenBoltJournal(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}

	node, err := core.NewNode(db, journal, nodeCfg, logger)
	if err != nil {
		_ = journal.Close()
		return fmt.Errorf("create node: %w", err)
	}
	defer node.Close()

	secret := cfg.JWTSecret()
	devMethods := cfg.Chain.AllowFaucet && secret != ""
	if cfg.Chain.AllowFaucet && secret == "" {
		logger.Warn("dev methods disabled; admin secret not set", slog.String("env", cfg.RPC.JWTSecretEnv))
	}
	rpcServer := rpc.NewServer(node, rpcConfig(cfg, secret, devMethods), logger)

	listener, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.RPCAddress, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Serve(listener)
	}()

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		if err := node.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("slot producer stopped", slog.Any("error", err))
		}
	}()

	logger.Info("safedeald running",
		slog.String("network", node.Network()),
		slog.String("rpc", cfg.RPCAddress),
		slog.Bool("devMethods", devMethods),
		logging.MaskField("jwtSecret", secret))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-rpcErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("rpc server: %w", err)
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	<-producerDone
	return runErr
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath picks the genesis file from the CLI flag, then the
// environment, then the config. An empty result means the node starts from
// Chain.GenesisTime without allocations.
func resolveGenesisPath(cliPath string, cfgPath string, lookup envLookupFunc) string {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(cfgPath)
}

func nodeConfig(cfg *config.Config, spec *genesis.GenesisSpec) (core.Config, error) {
	genesisTime, err := cfg.GenesisTime()
	if err != nil {
		return core.Config{}, err
	}
	allowed, err := cfg.AllowedToken()
	if err != nil {
		return core.Config{}, err
	}
	return core.Config{
		Network:     cfg.NetworkName,
		Genesis:     spec,
		GenesisTime: genesisTime,
		T0:          cfg.T0(),
		Threads:     cfg.Chain.Threads,
		Scheduler: core.SchedulerConfig{
			BaseFee:           cfg.Scheduler.BaseFee,
			GasPrice:          cfg.Scheduler.GasPrice,
			ByteFee:           cfg.Scheduler.ByteFee,
			MaxGasPerSlot:     cfg.Scheduler.MaxGasPerSlot,
			MaxBookingPeriods: cfg.Scheduler.MaxBookingPeriods,
		},
		SafeDeal: safedeal.Params{
			AllowedToken:           allowed,
			ExecutionReserve:       cfg.SafeDeal.ExecutionReserve,
			MaxGasForExecution:     cfg.SafeDeal.MaxGasForExecution,
			ExecutionBufferPeriods: cfg.SafeDeal.ExecutionBufferPeriods,
			AutoExecution:          cfg.SafeDeal.AutoExecution,
		},
		Token: token.Metadata{
			Name:     cfg.Token.Name,
			Symbol:   cfg.Token.Symbol,
			Decimals: cfg.Token.Decimals,
		},
		AllowFaucet: cfg.Chain.AllowFaucet,
	}, nil
}

func rpcConfig(cfg *config.Config, secret string, devMethods bool) rpc.ServerConfig {
	return rpc.ServerConfig{
		ReadHeaderTimeout: time.Duration(cfg.RPC.ReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPC.IdleTimeout) * time.Second,
		CallsPerSecond:    cfg.RPC.CallsPerSecond,
		CallBurst:         cfg.RPC.CallBurst,
		TrustProxyHeaders: cfg.RPC.TrustProxyHeaders,
		DevMethods:        devMethods,
		JWTSecret:         secret,
		JWTIssuer:         cfg.RPC.JWTIssuer,
	}
}

func telemetryConfig(cfg *config.Config) telemetry.Config {
	return telemetry.FromEnv(telemetry.Config{
		ServiceName: "safedeald",
		Environment: cfg.Environment,
		Endpoint:    strings.TrimSpace(cfg.Telemetry.Endpoint),
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
}

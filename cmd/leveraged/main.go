package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/config"
	"lpleverage/core"
	"lpleverage/observability/logging"
	telemetry "lpleverage/observability/otel"
	"lpleverage/rpc"
	"lpleverage/rpc/middleware"
	"lpleverage/storage"
)

const serviceName = "leveraged"

func main() {
	configFile := flag.String("config", "./leveraged.toml", "Path to the configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides GenesisFile)")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})

	if err := run(cfg, *genesisFlag, logger); err != nil {
		logger.Error("leveraged stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, genesisOverride string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	addrs, err := nodeAddresses(cfg.Leverage)
	if err != nil {
		db.Close()
		return err
	}
	node, err := core.NewNode(db, addrs, logger, nil)
	if err != nil {
		db.Close()
		return err
	}
	defer node.Close()

	genesisPath := strings.TrimSpace(genesisOverride)
	if genesisPath == "" {
		genesisPath = strings.TrimSpace(cfg.GenesisFile)
	}
	if genesisPath != "" {
		g, err := config.LoadGenesis(genesisPath)
		if err != nil {
			return err
		}
		applied, err := node.ApplyGenesis(g)
		if err != nil {
			return fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis checked", slog.String("path", genesisPath), slog.Bool("applied", applied))
	}
	if err := node.ApplySettings(cfg.Leverage); err != nil {
		return fmt.Errorf("apply leverage settings: %w", err)
	}

	var secret []byte
	if env := strings.TrimSpace(cfg.Auth.SecretEnv); env != "" {
		secret = []byte(strings.TrimSpace(os.Getenv(env)))
		if len(secret) == 0 {
			return fmt.Errorf("auth secret env %s is empty", env)
		}
	}
	if secret == nil {
		logger.Warn("rpc authentication disabled; state-changing methods are open")
	}

	server := rpc.NewServer(node, rpc.ServerConfig{
		ServiceName: serviceName,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		AuthSecret: secret,
		AuthIssuer: cfg.Auth.Issuer,
		Logger:     logger,
	})
	logger.Info("leveraged starting",
		slog.String("rpc", cfg.RPCAddress),
		slog.String("engine", addrs.Engine.Hex()),
		slog.Bool("paused", node.Paused()))
	return server.Serve(ctx, cfg.RPCAddress)
}

type addressField struct {
	name  string
	value string
	dst   *common.Address
}

func nodeAddresses(cfg config.LeverageConfig) (core.Addresses, error) {
	var addrs core.Addresses
	fields := []addressField{
		{"EngineAddress", cfg.EngineAddress, &addrs.Engine},
		{"VaultAddress", cfg.VaultAddress, &addrs.Vault},
		{"PositionManagerAddress", cfg.PositionManagerAddress, &addrs.PositionManager},
		{"AggregatorAddress", cfg.AggregatorAddress, &addrs.Aggregator},
		{"Owner", cfg.Owner, &addrs.Owner},
	}
	for _, field := range fields {
		addr, err := config.ParseAddress(field.value)
		if err != nil {
			return core.Addresses{}, fmt.Errorf("leverage.%s: %w", field.name, err)
		}
		*field.dst = addr
	}
	return addrs, nil
}

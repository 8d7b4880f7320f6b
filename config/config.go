package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the leveraged daemon configuration.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	Environment string `toml:"Environment"`
	GenesisFile string `toml:"GenesisFile"`

	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Auth      AuthConfig      `toml:"auth"`
	Leverage  LeverageConfig  `toml:"leverage"`
}

type LoggingConfig struct {
	Level string `toml:"Level"`
	// File enables a rotated log file next to stdout.
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS format (k=v,k2=v2).
	Headers string `toml:"Headers"`
	Traces  bool   `toml:"Traces"`
	Metrics bool   `toml:"Metrics"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// AuthConfig guards state-changing RPC methods with HS256 bearer tokens. An
// empty SecretEnv leaves them open.
type AuthConfig struct {
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
}

type LeverageConfig struct {
	EngineAddress          string `toml:"EngineAddress"`
	VaultAddress           string `toml:"VaultAddress"`
	PositionManagerAddress string `toml:"PositionManagerAddress"`
	AggregatorAddress      string `toml:"AggregatorAddress"`
	Owner                  string `toml:"Owner"`
	DailyRateOperator      string `toml:"DailyRateOperator"`
	// Zero values keep the engine defaults.
	PlatformFeeBP             uint64             `toml:"PlatformFeeBP"`
	DefaultLiquidationBonusBP uint64             `toml:"DefaultLiquidationBonusBP"`
	LiquidationBonuses        []TokenLiquidation `toml:"liquidation_bonus"`
	SwapWhitelist             []SwapCall         `toml:"swap_whitelist"`
	Paused                    bool               `toml:"Paused"`
}

type TokenLiquidation struct {
	Token          string `toml:"Token"`
	BonusBP        uint64 `toml:"BonusBP"`
	MinBonusAmount string `toml:"MinBonusAmount"`
}

// SwapCall is a whitelisted (target, selector) pair. An empty selector means
// the aggregator's swapExactIn entry point.
type SwapCall struct {
	Target   string `toml:"Target"`
	Selector string `toml:"Selector"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		RPCAddress:  ":8645",
		DataDir:     "./leveraged-data",
		Environment: "dev",
		Logging:     LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5},
		Telemetry:   TelemetryConfig{Insecure: true},
		RateLimit:   RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Leverage: LeverageConfig{
			EngineAddress:          "0x00000000000000000000000000000000000000e1",
			VaultAddress:           "0x00000000000000000000000000000000000000e2",
			PositionManagerAddress: "0x00000000000000000000000000000000000000aa",
			AggregatorAddress:      "0x00000000000000000000000000000000000000ab",
			Owner:                  "0x000000000000000000000000000000000000000f",
		},
	}
}

// Load reads the configuration at path, creating a default file when it does
// not exist yet, and applies LEVERAGED_* environment overrides.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return finalize(cfg), nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return finalize(cfg), nil
}

func finalize(cfg *Config) *Config {
	applyEnv(cfg, os.LookupEnv)
	if strings.TrimSpace(cfg.Leverage.DailyRateOperator) == "" {
		cfg.Leverage.DailyRateOperator = cfg.Leverage.Owner
	}
	return cfg
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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const envPrefix = "LEVERAGED_"

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("RPC_ADDRESS", &cfg.RPCAddress)
	str("DATA_DIR", &cfg.DataDir)
	str("ENV", &cfg.Environment)
	str("GENESIS_FILE", &cfg.GenesisFile)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FILE", &cfg.Logging.File)
	str("OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("OTLP_HEADERS", &cfg.Telemetry.Headers)
	str("AUTH_SECRET_ENV", &cfg.Auth.SecretEnv)
	str("OWNER", &cfg.Leverage.Owner)
	str("DAILY_RATE_OPERATOR", &cfg.Leverage.DailyRateOperator)

	if v, ok := lookup(envPrefix + "RATE_LIMIT_RPM"); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.RateLimit.RequestsPerMinute = parsed
		}
	}
	if v, ok := lookup(envPrefix + "PAUSED"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Leverage.Paused = parsed
		}
	}
}

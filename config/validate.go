package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	maxPlatformFeeBP      = 2000
	maxLiquidationBonusBP = 100
)

// Validate checks the configuration before the node is assembled.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 || cfg.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit: RequestsPerMinute and Burst must be positive")
	}

	lev := cfg.Leverage
	addrs := map[string]string{
		"EngineAddress":          lev.EngineAddress,
		"VaultAddress":           lev.VaultAddress,
		"PositionManagerAddress": lev.PositionManagerAddress,
		"AggregatorAddress":      lev.AggregatorAddress,
		"Owner":                  lev.Owner,
		"DailyRateOperator":      lev.DailyRateOperator,
	}
	for name, value := range addrs {
		if _, err := ParseAddress(value); err != nil {
			return fmt.Errorf("leverage: %s: %w", name, err)
		}
	}
	if lev.PlatformFeeBP > maxPlatformFeeBP {
		return fmt.Errorf("leverage: PlatformFeeBP %d exceeds %d", lev.PlatformFeeBP, maxPlatformFeeBP)
	}
	if lev.DefaultLiquidationBonusBP > maxLiquidationBonusBP {
		return fmt.Errorf("leverage: DefaultLiquidationBonusBP %d exceeds %d", lev.DefaultLiquidationBonusBP, maxLiquidationBonusBP)
	}
	for i, liq := range lev.LiquidationBonuses {
		if _, err := ParseAddress(liq.Token); err != nil {
			return fmt.Errorf("leverage: liquidation_bonus[%d].Token: %w", i, err)
		}
		if liq.BonusBP > maxLiquidationBonusBP {
			return fmt.Errorf("leverage: liquidation_bonus[%d].BonusBP %d exceeds %d", i, liq.BonusBP, maxLiquidationBonusBP)
		}
		if _, err := ParseAmount(liq.MinBonusAmount); err != nil {
			return fmt.Errorf("leverage: liquidation_bonus[%d].MinBonusAmount: %w", i, err)
		}
	}
	for i, call := range lev.SwapWhitelist {
		if _, err := ParseAddress(call.Target); err != nil {
			return fmt.Errorf("leverage: swap_whitelist[%d].Target: %w", i, err)
		}
		if call.Selector != "" {
			if _, err := ParseSelector(call.Selector); err != nil {
				return fmt.Errorf("leverage: swap_whitelist[%d].Selector: %w", i, err)
			}
		}
	}
	return nil
}

// ParseAddress decodes a 0x-prefixed 20-byte hex address.
func ParseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) || !strings.HasPrefix(trimmed, "0x") {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseAmount decodes a non-negative base-10 integer. Empty means zero.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// ParseSelector decodes a 4-byte hex call selector.
func ParseSelector(value string) ([4]byte, error) {
	var selector [4]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	if err != nil || len(raw) != len(selector) {
		return selector, fmt.Errorf("invalid selector %q", value)
	}
	copy(selector[:], raw)
	return selector, nil
}

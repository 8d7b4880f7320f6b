package leverage

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
)

// UpdateSettings changes one owner-managed setting. Values per item:
// platform fees and default liquidation bonus take a single bp value, the
// daily rate operator an address, a token liquidation bonus the triple
// (token, bp, minimum bonus amount).
func (e *Engine) UpdateSettings(caller common.Address, item SettingItem, values []*big.Int) error {
	return e.transact("update_settings", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		for _, v := range values {
			if v == nil || v.Sign() < 0 {
				return ErrInvalidSettingsValue
			}
		}
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		switch item {
		case SettingPlatformFees:
			if len(values) != 1 || !values[0].IsUint64() || values[0].Uint64() > MaxPlatformFeeBP {
				return fmt.Errorf("%w: platform fees", ErrInvalidSettingsValue)
			}
			settings.PlatformFeesBP = values[0].Uint64()
		case SettingDefaultLiquidationBonus:
			if len(values) != 1 || !values[0].IsUint64() || values[0].Uint64() > MaxLiquidationBonusBP {
				return fmt.Errorf("%w: default liquidation bonus", ErrInvalidSettingsValue)
			}
			settings.DefaultLiquidationBonusBP = values[0].Uint64()
		case SettingDailyRateOperator:
			if len(values) != 1 || values[0].BitLen() > common.AddressLength*8 {
				return fmt.Errorf("%w: daily rate operator", ErrInvalidSettingsValue)
			}
			settings.DailyRateOperator = common.BigToAddress(values[0])
		case SettingLiquidationBonusForToken:
			if len(values) != 3 || values[0].BitLen() > common.AddressLength*8 || !values[1].IsUint64() || values[1].Uint64() > MaxLiquidationBonusBP {
				return fmt.Errorf("%w: token liquidation bonus", ErrInvalidSettingsValue)
			}
			token := common.BigToAddress(values[0])
			if err := e.storeLiquidation(token, &Liquidation{BonusBP: values[1].Uint64(), MinBonusAmount: new(big.Int).Set(values[2])}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown item %d", ErrInvalidSettingsValue, item)
		}
		if item != SettingLiquidationBonusForToken {
			if err := e.storeSettings(settings); err != nil {
				return err
			}
		}
		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = v.String()
		}
		e.emit(events.UpdateSettings{Item: item.String(), Values: rendered})
		return nil
	})
}

// SetSwapCallToWhitelist allows or forbids calls of selector on target
// during swaps. The engine, the vault and the position ledger can never be
// whitelisted.
func (e *Engine) SetSwapCallToWhitelist(caller, target common.Address, selector [4]byte, allowed bool) error {
	return e.transact("set_swap_call_to_whitelist", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		if target == (common.Address{}) || target == e.address || target == e.vault.Address() || target == e.positions.Address() {
			return ErrInvalidSwapTarget
		}
		if err := e.state.KVPut(whitelistStorageKey(target, selector), allowed); err != nil {
			return err
		}
		e.emit(events.SwapCallWhitelisted{Target: target, Selector: selector, Allowed: allowed})
		return nil
	})
}

// UpdateHoldTokenDailyRate sets the daily rate of a pair after accruing at
// the previous one. Only the daily rate operator may call it.
func (e *Engine) UpdateHoldTokenDailyRate(caller, saleToken, holdToken common.Address, value uint64) error {
	return e.transact("update_hold_token_daily_rate", func() error {
		settings, err := e.loadSettings()
		if err != nil {
			return err
		}
		if caller != settings.DailyRateOperator {
			return ErrInvalidCaller
		}
		if value < MinDailyRate || value > MaxDailyRate {
			return fmt.Errorf("%w: daily rate %d", ErrInvalidSettingsValue, value)
		}
		_, info, err := e.updateTokenRateInfo(saleToken, holdToken)
		if err != nil {
			return err
		}
		info.CurrentDailyRate = value
		if err := e.storeTokenInfo(saleToken, holdToken, info); err != nil {
			return err
		}
		e.emit(events.UpdateHoldTokenDailyRate{SaleToken: saleToken, HoldToken: holdToken, Value: value})
		return nil
	})
}

// CollectProtocol pays the whole-unit part of the platform fees of every
// token to recipient. Sub-unit remainders stay accrued.
func (e *Engine) CollectProtocol(caller, recipient common.Address, tokens []common.Address) ([]*big.Int, error) {
	amounts := make([]*big.Int, len(tokens))
	err := e.transact("collect_protocol", func() error {
		if err := e.requireOwner(caller); err != nil {
			return err
		}
		for i, token := range tokens {
			fees, err := e.loadPlatformFees(token)
			if err != nil {
				return err
			}
			amount := fromScaled(fees)
			amounts[i] = amount
			if amount.Sign() == 0 {
				continue
			}
			if err := e.storePlatformFees(token, fees.Sub(fees, toScaled(amount))); err != nil {
				return err
			}
			if err := e.vault.TransferToken(e.address, token, recipient, amount); err != nil {
				return err
			}
			e.telemetry.SetPlatformFees(token.Hex(), 0)
		}
		e.emit(events.CollectProtocol{Recipient: recipient, Tokens: append([]common.Address(nil), tokens...), Amounts: amounts})
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("leverage collect protocol", slog.String("recipient", recipient.Hex()), slog.Int("tokens", len(tokens)))
	return amounts, nil
}

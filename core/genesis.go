package core

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/config"
	"lpleverage/native/amm"
	"lpleverage/native/amm/v3math"
	"lpleverage/native/bank"
	"lpleverage/native/leverage"
)

var genesisMarkerKey = []byte("node/genesis-applied")

// ApplySettings brings the engine settings in line with cfg. It runs as a
// single owner transaction on every start.
func (n *Node) ApplySettings(cfg config.LeverageConfig) error {
	owner := n.addrs.Owner
	_, err := n.Execute(func(engine *leverage.Engine) error {
		if cfg.PlatformFeeBP != 0 {
			if err := engine.UpdateSettings(owner, leverage.SettingPlatformFees, []*big.Int{new(big.Int).SetUint64(cfg.PlatformFeeBP)}); err != nil {
				return err
			}
		}
		if cfg.DefaultLiquidationBonusBP != 0 {
			if err := engine.UpdateSettings(owner, leverage.SettingDefaultLiquidationBonus, []*big.Int{new(big.Int).SetUint64(cfg.DefaultLiquidationBonusBP)}); err != nil {
				return err
			}
		}
		if cfg.DailyRateOperator != "" {
			operator, err := config.ParseAddress(cfg.DailyRateOperator)
			if err != nil {
				return err
			}
			if err := engine.UpdateSettings(owner, leverage.SettingDailyRateOperator, []*big.Int{new(big.Int).SetBytes(operator.Bytes())}); err != nil {
				return err
			}
		}
		for _, liq := range cfg.LiquidationBonuses {
			token, err := config.ParseAddress(liq.Token)
			if err != nil {
				return err
			}
			minAmount, err := config.ParseAmount(liq.MinBonusAmount)
			if err != nil {
				return err
			}
			values := []*big.Int{new(big.Int).SetBytes(token.Bytes()), new(big.Int).SetUint64(liq.BonusBP), minAmount}
			if err := engine.UpdateSettings(owner, leverage.SettingLiquidationBonusForToken, values); err != nil {
				return err
			}
		}
		for _, call := range cfg.SwapWhitelist {
			target, err := config.ParseAddress(call.Target)
			if err != nil {
				return err
			}
			var selector [4]byte
			copy(selector[:], amm.SwapExactInSelector)
			if call.Selector != "" {
				if selector, err = config.ParseSelector(call.Selector); err != nil {
					return err
				}
			}
			if err := engine.SetSwapCallToWhitelist(owner, target, selector, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply settings: %w", err)
	}
	n.SetPaused(cfg.Paused)
	return nil
}

// ApplyGenesis seeds the ledger once. Later calls on the same database are
// no-ops and report false.
func (n *Node) ApplyGenesis(g *config.Genesis) (bool, error) {
	if g == nil {
		return false, nil
	}
	applied := false
	_, err := n.Execute(func(engine *leverage.Engine) error {
		var done bool
		if _, err := n.state.KVGet(genesisMarkerKey, &done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if err := n.seed(engine, g); err != nil {
			return err
		}
		applied = true
		return n.state.KVPut(genesisMarkerKey, true)
	})
	if err != nil {
		return false, fmt.Errorf("apply genesis: %w", err)
	}
	if applied {
		n.logger.Info("genesis applied",
			slog.Int("tokens", len(g.Tokens)),
			slog.Int("pools", len(g.Pools)),
			slog.Int("positions", len(g.Positions)))
	}
	return applied, nil
}

func (n *Node) seed(engine *leverage.Engine, g *config.Genesis) error {
	quirks := make(map[common.Address]bank.Token, len(g.Tokens))
	for _, t := range g.Tokens {
		addr, err := config.ParseAddress(t.Address)
		if err != nil {
			return err
		}
		token := bank.Token{
			Symbol:            t.Symbol,
			Decimals:          t.Decimals,
			RejectMaxApproval: t.RejectMaxApproval,
			RequireZeroFirst:  t.RequireZeroFirst,
		}
		if err := n.ledger.RegisterToken(addr, token); err != nil {
			return fmt.Errorf("token %s: %w", t.Symbol, err)
		}
		quirks[addr] = token
	}

	for _, b := range g.Balances {
		token, _ := config.ParseAddress(b.Token)
		owner, err := config.ParseAddress(b.Owner)
		if err != nil {
			return err
		}
		amount, err := config.ParseAmount(b.Amount)
		if err != nil {
			return err
		}
		if amount.Sign() > 0 {
			if err := n.ledger.Mint(token, owner, amount); err != nil {
				return fmt.Errorf("mint %s: %w", token.Hex(), err)
			}
		}
		if !b.ApproveProtocol {
			continue
		}
		allowance := bank.MaxAllowance
		if quirks[token].RejectMaxApproval {
			allowance = new(big.Int).Sub(bank.MaxAllowance, big.NewInt(1))
		}
		for _, spender := range []common.Address{n.addrs.Engine, n.addrs.PositionManager} {
			if err := n.ledger.Approve(token, owner, spender, allowance); err != nil {
				return fmt.Errorf("approve %s: %w", spender.Hex(), err)
			}
		}
	}

	for _, p := range g.Pools {
		tokenA, _ := config.ParseAddress(p.TokenA)
		tokenB, _ := config.ParseAddress(p.TokenB)
		sqrtPrice, err := v3math.GetSqrtRatioAtTick(p.Tick)
		if err != nil {
			return fmt.Errorf("pool tick %d: %w", p.Tick, err)
		}
		if _, err := n.exchange.CreatePool(tokenA, tokenB, p.Fee, sqrtPrice.ToBig()); err != nil {
			return fmt.Errorf("create pool: %w", err)
		}
	}

	for _, p := range g.Positions {
		owner, _ := config.ParseAddress(p.Owner)
		token0, _ := config.ParseAddress(p.Token0)
		token1, _ := config.ParseAddress(p.Token1)
		amount0, err := config.ParseAmount(p.Amount0)
		if err != nil {
			return err
		}
		amount1, err := config.ParseAmount(p.Amount1)
		if err != nil {
			return err
		}
		res, err := n.positions.Mint(owner, amm.MintParams{
			Token0:         token0,
			Token1:         token1,
			Fee:            p.Fee,
			TickLower:      p.TickLower,
			TickUpper:      p.TickUpper,
			Amount0Desired: amount0,
			Amount1Desired: amount1,
			Recipient:      owner,
		})
		if err != nil {
			return fmt.Errorf("mint position: %w", err)
		}
		if p.Lendable {
			if err := n.positions.Approve(owner, n.addrs.Engine, res.TokenID); err != nil {
				return fmt.Errorf("approve position %d: %w", res.TokenID, err)
			}
		}
	}

	if len(g.DailyRates) > 0 {
		settings, err := engine.Settings()
		if err != nil {
			return err
		}
		for _, r := range g.DailyRates {
			sale, _ := config.ParseAddress(r.SaleToken)
			hold, _ := config.ParseAddress(r.HoldToken)
			if err := engine.UpdateHoldTokenDailyRate(settings.DailyRateOperator, sale, hold, r.Rate); err != nil {
				return fmt.Errorf("daily rate: %w", err)
			}
		}
	}
	return nil
}

package leverage

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
)

func TestUpdateHoldTokenDailyRate(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.UpdateHoldTokenDailyRate(stranger, saleAddr, holdAddr, 20); !errors.Is(err, ErrInvalidCaller) {
		t.Fatalf("expected invalid caller, got %v", err)
	}
	for _, value := range []uint64{MinDailyRate - 1, MaxDailyRate + 1} {
		if err := env.engine.UpdateHoldTokenDailyRate(ownerAddr, saleAddr, holdAddr, value); !errors.Is(err, ErrInvalidSettingsValue) {
			t.Fatalf("rate %d: expected invalid value, got %v", value, err)
		}
	}
	if err := env.engine.UpdateHoldTokenDailyRate(ownerAddr, holdAddr, saleAddr, 20); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	rate, _, err := env.engine.GetHoldTokenDailyRateInfo(saleAddr, holdAddr)
	if err != nil {
		t.Fatalf("rate info: %v", err)
	}
	if rate != 20 {
		t.Fatalf("pair rate must be shared by both orderings, got %d", rate)
	}
	if evts := env.eventTypes(); len(evts) != 1 || evts[0] != events.TypeLeverageUpdateHoldTokenDailyRate {
		t.Fatalf("unexpected events: %v", evts)
	}
}

func TestDailyRateChangeAccruesAtOldRate(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	res := env.borrow(t, borrower, LoanInfo{Liquidity: half(liquidity), TokenID: id})

	env.advance(12 * time.Hour)
	if err := env.engine.UpdateHoldTokenDailyRate(ownerAddr, saleAddr, holdAddr, 100); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	_, info, _ := env.engine.GetHoldTokenDailyRateInfo(saleAddr, holdAddr)
	// Half a day at the default 10bp.
	if want := toScaled(big.NewInt(5)); info.AccLoanRatePerSeconds.Cmp(want) != 0 {
		t.Fatalf("accumulator: want %s got %s", want, info.AccLoanRatePerSeconds)
	}
	env.advance(12 * time.Hour)
	balance, _, err := env.engine.CheckDailyRateCollateral(res.BorrowingKey)
	if err != nil {
		t.Fatalf("check collateral: %v", err)
	}
	if balance.Sign() >= 0 {
		t.Fatalf("half a day at 100bp must exhaust a 10bp prepayment, got %s", balance)
	}
}

func TestUpdateSettings(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.UpdateSettings(stranger, SettingPlatformFees, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := env.engine.UpdateSettings(ownerAddr, SettingPlatformFees, []*big.Int{big.NewInt(MaxPlatformFeeBP + 1)}); !errors.Is(err, ErrInvalidSettingsValue) {
		t.Fatalf("expected capped platform fee, got %v", err)
	}
	if err := env.engine.UpdateSettings(ownerAddr, SettingDefaultLiquidationBonus, []*big.Int{big.NewInt(MaxLiquidationBonusBP + 1)}); !errors.Is(err, ErrInvalidSettingsValue) {
		t.Fatalf("expected capped liquidation bonus, got %v", err)
	}
	if err := env.engine.UpdateSettings(ownerAddr, SettingPlatformFees, []*big.Int{big.NewInt(500)}); err != nil {
		t.Fatalf("platform fees: %v", err)
	}
	if err := env.engine.UpdateSettings(ownerAddr, SettingDailyRateOperator, []*big.Int{new(big.Int).SetBytes(stranger.Bytes())}); err != nil {
		t.Fatalf("operator: %v", err)
	}
	settings, err := env.engine.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings.PlatformFeesBP != 500 || settings.DailyRateOperator != stranger {
		t.Fatalf("unexpected settings: %+v", settings)
	}
	if err := env.engine.UpdateHoldTokenDailyRate(stranger, saleAddr, holdAddr, 30); err != nil {
		t.Fatalf("new operator must set rates: %v", err)
	}
	if err := env.engine.UpdateHoldTokenDailyRate(ownerAddr, saleAddr, holdAddr, 30); !errors.Is(err, ErrInvalidCaller) {
		t.Fatalf("old operator must be rejected, got %v", err)
	}
}

func TestGetLiquidationBonus(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		borrowed int64
		times    uint64
		want     int64
	}{
		{1_000_000, 2, 6_900},
		{100_000, 3, 3_000},
	}
	for _, tc := range cases {
		got, err := env.engine.GetLiquidationBonus(holdAddr, big.NewInt(tc.borrowed), tc.times)
		if err != nil {
			t.Fatalf("bonus: %v", err)
		}
		if got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("bonus(%d, %d): want %d got %s", tc.borrowed, tc.times, tc.want, got)
		}
	}

	values := []*big.Int{new(big.Int).SetBytes(quirkyAddr.Bytes()), big.NewInt(50), big.NewInt(10)}
	if err := env.engine.UpdateSettings(ownerAddr, SettingLiquidationBonusForToken, values); err != nil {
		t.Fatalf("token bonus: %v", err)
	}
	if got, _ := env.engine.GetLiquidationBonus(quirkyAddr, big.NewInt(1_000_000), 1); got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("override bonus: want 5000 got %s", got)
	}
	if got, _ := env.engine.GetLiquidationBonus(quirkyAddr, big.NewInt(100), 2); got.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("override floor: want 20 got %s", got)
	}
}

func TestSetSwapCallToWhitelist(t *testing.T) {
	env := newTestEnv(t)
	selector := [4]byte{1, 2, 3, 4}
	if err := env.engine.SetSwapCallToWhitelist(stranger, aggAddr, selector, true); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	for _, target := range []common.Address{{}, engineAddr, vaultAddr, pmAddr} {
		if err := env.engine.SetSwapCallToWhitelist(ownerAddr, target, selector, true); !errors.Is(err, ErrInvalidSwapTarget) {
			t.Fatalf("target %s: expected invalid swap target, got %v", target.Hex(), err)
		}
	}
	if err := env.engine.SetSwapCallToWhitelist(ownerAddr, aggAddr, selector, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if ok, _ := env.engine.IsWhitelisted(aggAddr, selector); !ok {
		t.Fatalf("expected whitelisted call")
	}
	if err := env.engine.SetSwapCallToWhitelist(ownerAddr, aggAddr, selector, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ok, _ := env.engine.IsWhitelisted(aggAddr, selector); ok {
		t.Fatalf("expected call removed")
	}
}

func TestCollectProtocol(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	res := env.borrow(t, borrower, LoanInfo{Liquidity: half(liquidity), TokenID: id})
	if _, err := env.engine.Repay(borrower, RepayParams{InternalSwapPoolFee: testFee, BorrowingKey: res.BorrowingKey, SwapSlippageBP1000: 990}, env.deadline()); err != nil {
		t.Fatalf("repay: %v", err)
	}
	fees, err := env.engine.GetPlatformsFeesInfo([]common.Address{holdAddr, saleAddr})
	if err != nil {
		t.Fatalf("fees: %v", err)
	}
	// An immediate repay forfeits the prepayment; the platform keeps its share.
	want := mulDiv(res.DailyRateCollateral, big.NewInt(DefaultPlatformFeeBP), bp)
	if fees[0].Cmp(want) != 0 || fees[1].Sign() != 0 {
		t.Fatalf("platform fees: want %s/0 got %s/%s", want, fees[0], fees[1])
	}
	if _, err := env.engine.CollectProtocol(stranger, stranger, []common.Address{holdAddr}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	recipient := common.HexToAddress("0x0000000000000000000000000000000000000999")
	amounts, err := env.engine.CollectProtocol(ownerAddr, recipient, []common.Address{holdAddr, saleAddr})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if amounts[0].Cmp(want) != 0 || amounts[1].Sign() != 0 {
		t.Fatalf("collected %v", amounts)
	}
	if got := env.balance(t, holdAddr, recipient); got.Cmp(want) != 0 {
		t.Fatalf("recipient holds %s, want %s", got, want)
	}
	fees, _ = env.engine.GetPlatformsFeesInfo([]common.Address{holdAddr})
	if fees[0].Sign() != 0 {
		t.Fatalf("collected fees must be cleared, got %s", fees[0])
	}
}

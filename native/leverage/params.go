package leverage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const moduleName = "leverage"

const (
	// MaxNumLoansPerPosition caps the loans a single borrowing may hold.
	MaxNumLoansPerPosition = 7
	// MaxNumUserPositions caps the open borrowings per borrower.
	MaxNumUserPositions = 10

	DefaultDailyRate = 10
	MinDailyRate     = 5
	MaxDailyRate     = 100

	MaxPlatformFeeBP          = 2000
	DefaultPlatformFeeBP      = 1000
	MaxLiquidationBonusBP     = 100
	DefaultLiquidationBonusBP = 69

	secondsPerDay = 86_400
)

var (
	// bp is the basis point denominator. Daily rates and bonuses are in bp.
	bp = big.NewInt(10_000)
	// bps is the denominator of repay slippage tolerances.
	bps = big.NewInt(1_000)
	// CollateralBalancePrecision is the extra fixed-point scale carried by
	// collateral balances, fees owed and the accumulated loan rate.
	CollateralBalancePrecision = big.NewInt(1_000_000_000_000_000_000)
	// MinimumAmount floors the daily rate prepayment and liquidation bonus.
	MinimumAmount = big.NewInt(1_000)
	// MinimumBorrowedAmount must be strictly exceeded by every loan.
	MinimumBorrowedAmount = big.NewInt(100_000)

	secondsPerDayBig = big.NewInt(secondsPerDay)
)

// Settings are the owner-managed knobs of the engine.
type Settings struct {
	PlatformFeesBP            uint64
	DefaultLiquidationBonusBP uint64
	DailyRateOperator         common.Address
}

// SettingItem selects the setting changed by UpdateSettings.
type SettingItem uint8

const (
	SettingPlatformFees SettingItem = iota
	SettingDefaultLiquidationBonus
	SettingDailyRateOperator
	SettingLiquidationBonusForToken
)

func (s SettingItem) String() string {
	switch s {
	case SettingPlatformFees:
		return "platform_fees"
	case SettingDefaultLiquidationBonus:
		return "default_liquidation_bonus"
	case SettingDailyRateOperator:
		return "daily_rate_operator"
	case SettingLiquidationBonusForToken:
		return "liquidation_bonus_for_token"
	default:
		return "unknown"
	}
}

// ParseSettingItem maps the names returned by SettingItem.String back to items.
func ParseSettingItem(name string) (SettingItem, bool) {
	for item := SettingPlatformFees; item <= SettingLiquidationBonusForToken; item++ {
		if item.String() == name {
			return item, true
		}
	}
	return 0, false
}

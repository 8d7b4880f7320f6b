package leverage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// pickUpPlatformFees skims the platform share off scaled fees and returns the
// remainder owed to lenders.
func (e *Engine) pickUpPlatformFees(token common.Address, fees *big.Int) (*big.Int, error) {
	if fees.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	settings, err := e.loadSettings()
	if err != nil {
		return nil, err
	}
	platform := mulDiv(fees, new(big.Int).SetUint64(settings.PlatformFeesBP), bp)
	if platform.Sign() > 0 {
		current, err := e.loadPlatformFees(token)
		if err != nil {
			return nil, err
		}
		current.Add(current, platform)
		if err := e.storePlatformFees(token, current); err != nil {
			return nil, err
		}
		amount, _ := new(big.Float).SetInt(fromScaled(current)).Float64()
		e.telemetry.SetPlatformFees(token.Hex(), amount)
	}
	return new(big.Int).Sub(fees, platform), nil
}

// liquidationBonus reserves the bonus for a borrowing drawn from times loans.
func (e *Engine) liquidationBonus(token common.Address, borrowedAmount *big.Int, times uint64) (*big.Int, error) {
	liq, err := e.loadLiquidation(token)
	if err != nil {
		return nil, err
	}
	if liq.BonusBP == 0 {
		settings, err := e.loadSettings()
		if err != nil {
			return nil, err
		}
		liq.BonusBP = settings.DefaultLiquidationBonusBP
		liq.MinBonusAmount = new(big.Int).Set(MinimumAmount)
	}
	bonus := mulDiv(borrowedAmount, new(big.Int).SetUint64(liq.BonusBP), bp)
	floor := new(big.Int).Mul(liq.MinBonusAmount, new(big.Int).SetUint64(times))
	if bonus.Cmp(floor) < 0 {
		bonus = floor
	}
	return bonus, nil
}

package leverage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func dailyRateOrDefault(rate uint64) uint64 {
	if rate == 0 {
		return DefaultDailyRate
	}
	return rate
}

// accrue advances the pair accumulator to now. Interest only accrues while
// something is borrowed against the pair.
func accrue(info *TokenInfo, dailyRate, now uint64) {
	if now <= info.LatestUpTimestamp {
		return
	}
	if info.TotalBorrowed.Sign() > 0 {
		weighted := new(big.Int).SetUint64(now - info.LatestUpTimestamp)
		weighted.Mul(weighted, new(big.Int).SetUint64(dailyRate))
		info.AccLoanRatePerSeconds.Add(info.AccLoanRatePerSeconds, mulDiv(weighted, CollateralBalancePrecision, secondsPerDayBig))
	}
	info.LatestUpTimestamp = now
}

// rateInfo returns the pair ledger as it would look after an update at the
// current time, without persisting anything.
func (e *Engine) rateInfo(saleToken, holdToken common.Address) (uint64, *TokenInfo, error) {
	info, err := e.loadTokenInfo(saleToken, holdToken)
	if err != nil {
		return 0, nil, err
	}
	rate := dailyRateOrDefault(info.CurrentDailyRate)
	accrue(info, rate, e.timestamp())
	return rate, info, nil
}

// updateTokenRateInfo advances and persists the pair ledger. Callers that
// change the returned info must store it again.
func (e *Engine) updateTokenRateInfo(saleToken, holdToken common.Address) (uint64, *TokenInfo, error) {
	rate, info, err := e.rateInfo(saleToken, holdToken)
	if err != nil {
		return 0, nil, err
	}
	if err := e.storeTokenInfo(saleToken, holdToken, info); err != nil {
		return 0, nil, err
	}
	return rate, info, nil
}

func (e *Engine) adjustTotalBorrowed(saleToken, holdToken common.Address, info *TokenInfo, delta *big.Int) error {
	info.TotalBorrowed = new(big.Int).Add(info.TotalBorrowed, delta)
	if info.TotalBorrowed.Sign() < 0 {
		info.TotalBorrowed.SetInt64(0)
	}
	if err := e.storeTokenInfo(saleToken, holdToken, info); err != nil {
		return err
	}
	amount, _ := new(big.Float).SetInt(info.TotalBorrowed).Float64()
	e.telemetry.SetTotalBorrowed(PairKey(saleToken, holdToken).Hex(), amount)
	return nil
}

// CalculateCollateralBalance charges the interest accrued on principal between
// two accumulator readings against a scaled collateral balance. Fees are
// rounded up and scaled; the returned balance is negative once the
// collateral no longer covers them.
func CalculateCollateralBalance(principal, rateAtBorrow, collateralBalance, rateNow *big.Int) (*big.Int, *big.Int) {
	delta := new(big.Int).Sub(orZero(rateNow), orZero(rateAtBorrow))
	if delta.Sign() < 0 {
		delta.SetInt64(0)
	}
	fees := mulDivRoundingUp(orZero(principal), delta, bp)
	balance := new(big.Int).Sub(orZero(collateralBalance), fees)
	return balance, fees
}

// realizedFees is the amount credited to lenders when a borrowing is
// settled. A deficit left by an emergency closure was never realized, so it
// is added on top of the freshly accrued fees.
func realizedFees(collateralBalance, fees *big.Int) *big.Int {
	out := new(big.Int).Set(fees)
	if collateralBalance.Sign() < 0 {
		out.Sub(out, collateralBalance)
	}
	return out
}

// minimumPayment is the smallest native amount that clears a negative scaled
// balance: the deficit rounded up to whole units, plus one.
func minimumPayment(balance *big.Int) *big.Int {
	deficit := new(big.Int).Neg(balance)
	units, rem := new(big.Int).QuoRem(deficit, CollateralBalancePrecision, new(big.Int))
	if rem.Sign() > 0 {
		units.Add(units, big.NewInt(1))
	}
	return units.Add(units, big.NewInt(1))
}

// everySecondFee is the scaled interest one second costs the borrowing.
func everySecondFee(borrowedAmount *big.Int, dailyRate uint64) *big.Int {
	rate := new(big.Int).Mul(new(big.Int).SetUint64(dailyRate), CollateralBalancePrecision)
	return mulDivRoundingUp(borrowedAmount, rate, new(big.Int).Mul(secondsPerDayBig, bp))
}

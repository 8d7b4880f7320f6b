package leverage

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// GetLoansInfo returns the loans of the borrowing under key.
func (e *Engine) GetLoansInfo(key common.Hash) ([]LoanInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadLoans(key)
}

// GetBorrowingInfo returns the open borrowing under key.
func (e *Engine) GetBorrowingInfo(key common.Hash) (*BorrowingInfo, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.requireBorrowing(key)
}

func (e *Engine) GetBorrowingKeysForTokenID(tokenID uint64) ([]common.Hash, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.tokenKeys(tokenID).list()
}

func (e *Engine) GetBorrowingKeysForBorrower(borrower common.Address) ([]common.Hash, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.userKeys(borrower).list()
}

// debtInfo projects the borrowing's scaled collateral balance to now and
// estimates how many seconds it still covers.
func (e *Engine) debtInfo(borrowing *BorrowingInfo) (uint64, *big.Int, uint64, error) {
	dailyRate, info, err := e.rateInfo(borrowing.SaleToken, borrowing.HoldToken)
	if err != nil {
		return 0, nil, 0, err
	}
	balance, _ := CalculateCollateralBalance(borrowing.BorrowedAmount, borrowing.AccLoanRatePerSeconds, borrowing.DailyRateCollateralBalance, info.AccLoanRatePerSeconds)
	var lifetime uint64
	if balance.Sign() > 0 {
		perSecond := everySecondFee(borrowing.BorrowedAmount, dailyRate)
		if perSecond.Sign() > 0 {
			remaining := new(big.Int).Quo(balance, perSecond)
			if remaining.IsUint64() {
				lifetime = remaining.Uint64()
			} else {
				lifetime = ^uint64(0)
			}
		}
		if lifetime == 0 {
			lifetime = 1
		}
	}
	return dailyRate, balance, lifetime, nil
}

// CheckDailyRateCollateral returns the collateral balance of the borrowing in
// hold token units, negative once it is liquidatable, and its estimated
// remaining lifetime in seconds.
func (e *Engine) CheckDailyRateCollateral(key common.Hash) (*big.Int, uint64, error) {
	borrowing, err := e.GetBorrowingInfo(key)
	if err != nil {
		return nil, 0, err
	}
	_, balance, lifetime, err := e.debtInfo(borrowing)
	if err != nil {
		return nil, 0, err
	}
	return fromScaled(balance), lifetime, nil
}

// CalculateCollateralAmtForLifetime returns the collateral that keeps the
// borrowing alive for the given number of seconds at the current rate.
func (e *Engine) CalculateCollateralAmtForLifetime(key common.Hash, lifetimeSeconds uint64) (*big.Int, error) {
	borrowing, err := e.GetBorrowingInfo(key)
	if err != nil {
		return nil, err
	}
	dailyRate, _, err := e.rateInfo(borrowing.SaleToken, borrowing.HoldToken)
	if err != nil {
		return nil, err
	}
	perSecond := everySecondFee(borrowing.BorrowedAmount, dailyRate)
	amount := mulDivRoundingUp(perSecond, new(big.Int).SetUint64(lifetimeSeconds), CollateralBalancePrecision)
	if amount.Sign() == 0 {
		amount.SetInt64(1)
	}
	return amount, nil
}

func (e *Engine) debtsInfo(keys []common.Hash) ([]BorrowingInfoExt, error) {
	out := make([]BorrowingInfoExt, 0, len(keys))
	for _, key := range keys {
		borrowing, err := e.loadBorrowing(key)
		if err != nil {
			return nil, err
		}
		if borrowing == nil {
			continue
		}
		_, balance, lifetime, err := e.debtInfo(borrowing)
		if err != nil {
			return nil, err
		}
		out = append(out, BorrowingInfoExt{
			Key:               key,
			Info:              borrowing,
			CollateralBalance: fromScaled(balance),
			EstimatedLifeTime: lifetime,
		})
	}
	return out, nil
}

// GetLenderCreditsInfo lists every borrowing drawing from the position.
func (e *Engine) GetLenderCreditsInfo(tokenID uint64) ([]BorrowingInfoExt, error) {
	keys, err := e.GetBorrowingKeysForTokenID(tokenID)
	if err != nil {
		return nil, err
	}
	return e.debtsInfo(keys)
}

// GetBorrowerDebtsInfo lists every open borrowing of the borrower.
func (e *Engine) GetBorrowerDebtsInfo(borrower common.Address) ([]BorrowingInfoExt, error) {
	keys, err := e.GetBorrowingKeysForBorrower(borrower)
	if err != nil {
		return nil, err
	}
	return e.debtsInfo(keys)
}

// GetHoldTokenDailyRateInfo returns the pair's daily rate and its rate
// ledger projected to now.
func (e *Engine) GetHoldTokenDailyRateInfo(saleToken, holdToken common.Address) (uint64, *TokenInfo, error) {
	if e == nil || e.state == nil {
		return 0, nil, errNilState
	}
	return e.rateInfo(saleToken, holdToken)
}

// GetPlatformsFeesInfo returns the collectable platform fees per token in
// token units.
func (e *Engine) GetPlatformsFeesInfo(tokens []common.Address) ([]*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	out := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		fees, err := e.loadPlatformFees(token)
		if err != nil {
			return nil, err
		}
		out[i] = fromScaled(fees)
	}
	return out, nil
}

// GetLiquidationBonus returns the bonus reserved when borrowedAmount is
// drawn through times loans.
func (e *Engine) GetLiquidationBonus(token common.Address, borrowedAmount *big.Int, times uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.liquidationBonus(token, orZero(borrowedAmount), times)
}

// Settings returns the current owner-managed settings.
func (e *Engine) Settings() (*Settings, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadSettings()
}

// IsWhitelisted reports whether selector may be called on target.
func (e *Engine) IsWhitelisted(target common.Address, selector [4]byte) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.whitelisted(target, selector)
}

// PreviewRestore estimates, at current prices, the swap each loan of the
// borrowing would need on repay. fee selects the pool quoted for the swap.
func (e *Engine) PreviewRestore(key common.Hash, fee uint32) ([]RestorePreview, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	borrowing, err := e.requireBorrowing(key)
	if err != nil {
		return nil, err
	}
	loans, err := e.loadLoans(key)
	if err != nil {
		return nil, err
	}
	zeroForSaleToken := bytes.Compare(borrowing.SaleToken.Bytes(), borrowing.HoldToken.Bytes()) < 0
	out := make([]RestorePreview, 0, len(loans))
	for _, loan := range loans {
		cache, err := e.loadPositionCache(zeroForSaleToken, loan)
		if err != nil {
			return nil, err
		}
		price, err := e.currentSqrtPrice(cache.pool())
		if err != nil {
			return nil, err
		}
		amountIn, amount0, amount1, err := holdTokenAmountIn(zeroForSaleToken, price, cache)
		if err != nil {
			return nil, err
		}
		saleNeeded := amount1
		if zeroForSaleToken {
			saleNeeded = amount0
		}
		preview := RestorePreview{
			TokenID:           loan.TokenID,
			HoldTokenDebt:     cache.holdTokenDebt,
			SaleTokenNeeded:   saleNeeded,
			HoldTokenAmountIn: amountIn,
			QuotedSaleOut:     new(big.Int),
		}
		if amountIn.Sign() > 0 && e.quoter != nil {
			quoted, _, err := e.quoter.QuoteExactInputSingle(borrowing.HoldToken, borrowing.SaleToken, fee, amountIn)
			if err != nil {
				return nil, err
			}
			preview.QuotedSaleOut = quoted
		}
		out = append(out, preview)
	}
	return out, nil
}

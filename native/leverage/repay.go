package leverage

import (
	"bytes"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
)

// Repay closes the borrowing under params.BorrowingKey. The borrower may
// always repay; once the collateral balance is negative anyone may, and
// collects the liquidation bonus. With IsEmergency set a lender whose
// positions cannot be restored withdraws its share of an insolvent borrowing
// in the hold token instead.
func (e *Engine) Repay(caller common.Address, params RepayParams, deadline uint64) (*RepayResult, error) {
	var (
		result     *RepayResult
		borrower   common.Address
		liquidated bool
	)
	err := e.guarded("repay", func() error {
		if err := e.checkDeadline(deadline); err != nil {
			return err
		}
		var err error
		result, borrower, liquidated, err = e.repay(caller, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	msg := "leverage repay"
	switch {
	case params.IsEmergency:
		msg = "leverage emergency loan closure"
		e.telemetry.ObserveLiquidation("emergency")
	case liquidated:
		msg = "leverage liquidation"
		e.telemetry.ObserveLiquidation("repay")
	}
	e.logger.Info(msg,
		slog.String("borrowing_key", params.BorrowingKey.Hex()),
		slog.String("borrower", borrower.Hex()),
		slog.String("caller", caller.Hex()),
		slog.String("sale_out", result.SaleTokenOut.String()),
		slog.String("hold_out", result.HoldTokenOut.String()))
	return result, nil
}

func (e *Engine) repay(caller common.Address, params RepayParams) (*RepayResult, common.Address, bool, error) {
	key := params.BorrowingKey
	borrowing, err := e.requireBorrowing(key)
	if err != nil {
		return nil, common.Address{}, false, err
	}
	saleToken, holdToken := borrowing.SaleToken, borrowing.HoldToken
	zeroForSaleToken := bytes.Compare(saleToken.Bytes(), holdToken.Bytes()) < 0
	liquidationBonus := new(big.Int).Set(borrowing.LiquidationBonus)

	_, rateInfo, err := e.updateTokenRateInfo(saleToken, holdToken)
	if err != nil {
		return nil, borrowing.Borrower, false, err
	}
	acc := new(big.Int).Set(rateInfo.AccLoanRatePerSeconds)
	if err := e.adjustTotalBorrowed(saleToken, holdToken, rateInfo, new(big.Int).Neg(borrowing.BorrowedAmount)); err != nil {
		return nil, borrowing.Borrower, false, err
	}

	balance, fees := CalculateCollateralBalance(borrowing.BorrowedAmount, borrowing.AccLoanRatePerSeconds, borrowing.DailyRateCollateralBalance, acc)
	insolvent := balance.Sign() < 0
	if params.IsEmergency && !insolvent {
		return nil, borrowing.Borrower, false, ErrForbidden
	}
	if !insolvent && caller != borrowing.Borrower {
		return nil, borrowing.Borrower, false, ErrInvalidCaller
	}

	var realized *big.Int
	totalFees := new(big.Int).Add(fees, borrowing.FeesOwed)
	if balance.Sign() > 0 && fromScaled(totalFees).Cmp(MinimumAmount) > 0 {
		liquidationBonus.Add(liquidationBonus, fromScaled(balance))
		realized = realizedFees(borrowing.DailyRateCollateralBalance, fees)
	} else {
		// Early or insolvent closures forfeit the whole prepayment.
		realized = maxInt(borrowing.DailyRateCollateralBalance, new(big.Int))
	}
	owed, err := e.pickUpPlatformFees(holdToken, realized)
	if err != nil {
		return nil, borrowing.Borrower, false, err
	}
	borrowing.FeesOwed.Add(borrowing.FeesOwed, owed)

	if params.IsEmergency {
		result, err := e.emergencyClose(caller, key, borrowing, zeroForSaleToken, liquidationBonus, balance, acc, rateInfo)
		return result, borrowing.Borrower, true, err
	}

	loans, err := e.loadLoans(key)
	if err != nil {
		return nil, borrowing.Borrower, false, err
	}
	withdraw := new(big.Int).Add(borrowing.BorrowedAmount, liquidationBonus)
	if err := e.vault.TransferToken(e.address, holdToken, e.address, withdraw); err != nil {
		return nil, borrowing.Borrower, false, err
	}
	if err := e.restoreLiquidity(restoreParams{
		zeroForSaleToken:    zeroForSaleToken,
		fee:                 params.InternalSwapPoolFee,
		slippageBP1000:      params.SwapSlippageBP1000,
		totalFeesOwed:       borrowing.FeesOwed,
		totalBorrowedAmount: borrowing.BorrowedAmount,
	}, params.ExternalSwap, loans); err != nil {
		return nil, borrowing.Borrower, false, err
	}
	if err := e.removeKeysAndClearStorage(borrowing.Borrower, key, loans); err != nil {
		return nil, borrowing.Borrower, false, err
	}
	saleOut, holdOut, err := e.pairBalance(saleToken, holdToken)
	if err != nil {
		return nil, borrowing.Borrower, false, err
	}
	if err := e.pay(holdToken, e.address, caller, holdOut); err != nil {
		return nil, borrowing.Borrower, false, err
	}
	if err := e.pay(saleToken, e.address, caller, saleOut); err != nil {
		return nil, borrowing.Borrower, false, err
	}
	e.emit(events.Repay{Borrower: borrowing.Borrower, Liquidator: caller, BorrowingKey: key})
	return &RepayResult{SaleTokenOut: saleOut, HoldTokenOut: holdOut}, borrowing.Borrower, insolvent, nil
}

// emergencyClose releases the caller's loans from an insolvent borrowing and
// pays the caller their hold token debt and fee share from the vault. The
// borrowing stays open with the remaining loans, carrying its deficit.
func (e *Engine) emergencyClose(caller common.Address, key common.Hash, borrowing *BorrowingInfo, zeroForSaleToken bool, liquidationBonus, balance, acc *big.Int, rateInfo *TokenInfo) (*RepayResult, error) {
	removedAmt, feesAmt, complete, err := e.calculateEmergencyLoanClosure(zeroForSaleToken, caller, key, borrowing.FeesOwed, borrowing.BorrowedAmount)
	if err != nil {
		return nil, err
	}
	if removedAmt.Sign() == 0 {
		return nil, ErrLiquidityIsZero
	}
	if removedAmt.Cmp(borrowing.BorrowedAmount) > 0 {
		removedAmt = new(big.Int).Set(borrowing.BorrowedAmount)
	}
	borrowing.BorrowedAmount.Sub(borrowing.BorrowedAmount, removedAmt)
	borrowing.FeesOwed.Sub(borrowing.FeesOwed, feesAmt)
	payout := new(big.Int).Add(removedAmt, fromScaled(feesAmt))

	if complete || borrowing.BorrowedAmount.Sign() == 0 {
		if err := e.removeKeysAndClearStorage(borrowing.Borrower, key, nil); err != nil {
			return nil, err
		}
		payout.Add(payout, liquidationBonus)
	} else {
		borrowing.DailyRateCollateralBalance = new(big.Int).Set(balance)
		borrowing.AccLoanRatePerSeconds = new(big.Int).Set(acc)
		if err := e.storeBorrowing(key, borrowing); err != nil {
			return nil, err
		}
		if err := e.adjustTotalBorrowed(borrowing.SaleToken, borrowing.HoldToken, rateInfo, borrowing.BorrowedAmount); err != nil {
			return nil, err
		}
	}
	if err := e.vault.TransferToken(e.address, borrowing.HoldToken, caller, payout); err != nil {
		return nil, err
	}
	e.emit(events.EmergencyLoanClosure{Borrower: borrowing.Borrower, Lender: caller, BorrowingKey: key})
	return &RepayResult{SaleTokenOut: new(big.Int), HoldTokenOut: payout}, nil
}

// calculateEmergencyLoanClosure removes every loan drawn from a position the
// caller owns and returns their combined hold token debt and the matching
// share of feesOwed.
func (e *Engine) calculateEmergencyLoanClosure(zeroForSaleToken bool, caller common.Address, key common.Hash, feesOwed, borrowedAmount *big.Int) (*big.Int, *big.Int, bool, error) {
	loans, err := e.loadLoans(key)
	if err != nil {
		return nil, nil, false, err
	}
	removedAmt := new(big.Int)
	for i := 0; i < len(loans); {
		loan := loans[i]
		creditor, err := e.positions.OwnerOf(loan.TokenID)
		if err != nil {
			return nil, nil, false, err
		}
		if creditor != caller {
			i++
			continue
		}
		cache, err := e.loadPositionCache(zeroForSaleToken, loan)
		if err != nil {
			return nil, nil, false, err
		}
		removedAmt.Add(removedAmt, cache.holdTokenDebt)
		if err := e.tokenKeys(loan.TokenID).remove(key); err != nil {
			return nil, nil, false, err
		}
		last := len(loans) - 1
		loans[i] = loans[last]
		loans = loans[:last]
	}
	if err := e.storeLoans(key, loans); err != nil {
		return nil, nil, false, err
	}
	feesAmt := new(big.Int)
	if borrowedAmount.Sign() > 0 {
		feesAmt = mulDiv(feesOwed, removedAmt, borrowedAmount)
	}
	return removedAmt, feesAmt, len(loans) == 0, nil
}

package leverage

import (
	"bytes"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
	"lpleverage/native/amm"
	nativecommon "lpleverage/native/common"
)

// Borrow extracts the requested loans, converts the sale token proceeds to
// the hold token and opens or extends the caller's borrowing on the pair.
// The caller pays the collateral and prepayments into the vault and must
// have approved the engine for the hold token.
func (e *Engine) Borrow(caller common.Address, params BorrowParams, deadline uint64) (*BorrowResult, error) {
	var result *BorrowResult
	err := e.guarded("borrow", func() error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		if err := e.checkDeadline(deadline); err != nil {
			return err
		}
		var err error
		result, err = e.borrow(caller, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("leverage borrow",
		slog.String("borrowing_key", result.BorrowingKey.Hex()),
		slog.String("borrower", caller.Hex()),
		slog.String("borrowed", result.BorrowedAmount.String()),
		slog.String("collateral", result.BorrowingCollateral.String()),
		slog.Int("loans", len(params.Loans)))
	return result, nil
}

func (e *Engine) borrow(caller common.Address, params BorrowParams) (*BorrowResult, error) {
	saleToken, holdToken := params.SaleToken, params.HoldToken
	if saleToken == holdToken {
		return nil, ErrIdenticalTokens
	}
	if len(params.Loans) == 0 {
		return nil, ErrNoLoans
	}
	if len(params.Loans) > MaxNumLoansPerPosition {
		return nil, ErrTooManyLoansPerPosition
	}
	zeroForSaleToken := bytes.Compare(saleToken.Bytes(), holdToken.Bytes()) < 0
	token0, token1 := amm.SortTokens(saleToken, holdToken)

	dailyRate, rateInfo, err := e.updateTokenRateInfo(saleToken, holdToken)
	if err != nil {
		return nil, err
	}
	borrowedAmount, err := e.extractLiquidity(zeroForSaleToken, token0, token1, params.Loans)
	if err != nil {
		return nil, err
	}

	saleBalance, holdBalance, err := e.pairBalance(saleToken, holdToken)
	if err != nil {
		return nil, err
	}
	if saleBalance.Sign() > 0 {
		if params.ExternalSwap.external() {
			_, err = e.patchAmountsAndCallSwap(saleToken, holdToken, params.ExternalSwap, saleBalance, big.NewInt(0))
		} else {
			_, err = e.swapExactInput(saleToken, holdToken, params.InternalSwapPoolFee, saleBalance, big.NewInt(0))
		}
		if err != nil {
			return nil, err
		}
		if holdBalance, err = e.balanceOf(holdToken); err != nil {
			return nil, err
		}
	}
	if minOut := orZero(params.MinHoldTokenOut); holdBalance.Cmp(minOut) < 0 {
		return nil, &TooLittleReceivedError{Min: minOut, Got: holdBalance}
	}
	if holdBalance.Cmp(borrowedAmount) > 0 {
		return nil, ErrHoldBalanceExceedsBorrowed
	}

	borrowingCollateral := new(big.Int).Sub(borrowedAmount, holdBalance)
	if borrowingCollateral.Cmp(orZero(params.MaxCollateral)) > 0 {
		return nil, ErrTooBigCollateral
	}
	dailyRateCollateral := mulDivRoundingUp(borrowedAmount, new(big.Int).SetUint64(dailyRate), bp)
	if dailyRateCollateral.Cmp(MinimumAmount) < 0 {
		dailyRateCollateral = new(big.Int).Set(MinimumAmount)
	}
	bonus, err := e.liquidationBonus(holdToken, borrowedAmount, uint64(len(params.Loans)))
	if err != nil {
		return nil, err
	}

	key, borrowing, existed, feesDebt, err := e.initOrUpdateBorrowing(caller, saleToken, holdToken, rateInfo.AccLoanRatePerSeconds)
	if err != nil {
		return nil, err
	}
	borrowing.BorrowedAmount.Add(borrowing.BorrowedAmount, borrowedAmount)
	borrowing.LiquidationBonus.Add(borrowing.LiquidationBonus, bonus)
	borrowing.DailyRateCollateralBalance.Add(borrowing.DailyRateCollateralBalance, toScaled(dailyRateCollateral))
	if err := e.storeBorrowing(key, borrowing); err != nil {
		return nil, err
	}
	if err := e.addKeysAndLoansInfo(existed, caller, key, params.Loans); err != nil {
		return nil, err
	}
	if err := e.adjustTotalBorrowed(saleToken, holdToken, rateInfo, borrowedAmount); err != nil {
		return nil, err
	}

	amountToPay := new(big.Int).Add(borrowingCollateral, bonus)
	amountToPay.Add(amountToPay, dailyRateCollateral)
	amountToPay.Add(amountToPay, feesDebt)
	if err := e.pay(holdToken, caller, e.vault.Address(), amountToPay); err != nil {
		return nil, err
	}
	if err := e.pay(holdToken, e.address, e.vault.Address(), holdBalance); err != nil {
		return nil, err
	}

	e.emit(events.Borrow{
		Borrower:            caller,
		BorrowingKey:        key,
		BorrowedAmount:      new(big.Int).Set(borrowedAmount),
		BorrowingCollateral: new(big.Int).Set(borrowingCollateral),
		LiquidationBonus:    new(big.Int).Set(bonus),
		DailyRatePrepayment: new(big.Int).Set(dailyRateCollateral),
	})
	return &BorrowResult{
		BorrowingKey:        key,
		BorrowedAmount:      borrowedAmount,
		BorrowingCollateral: borrowingCollateral,
		LiquidationBonus:    bonus,
		DailyRateCollateral: dailyRateCollateral,
		FeesDebt:            feesDebt,
	}, nil
}

// initOrUpdateBorrowing loads the borrower's open borrowing on the pair and
// settles the fees it accrued up to acc, or starts a new one. The returned
// feesDebt is what the borrower owes to clear a deficit.
func (e *Engine) initOrUpdateBorrowing(borrower, saleToken, holdToken common.Address, acc *big.Int) (common.Hash, *BorrowingInfo, bool, *big.Int, error) {
	key := BorrowingKey(borrower, saleToken, holdToken)
	borrowing, err := e.loadBorrowing(key)
	if err != nil {
		return common.Hash{}, nil, false, nil, err
	}
	feesDebt := new(big.Int)
	existed := borrowing != nil
	if existed {
		balance, fees := CalculateCollateralBalance(borrowing.BorrowedAmount, borrowing.AccLoanRatePerSeconds, borrowing.DailyRateCollateralBalance, acc)
		realized := realizedFees(borrowing.DailyRateCollateralBalance, fees)
		if balance.Sign() < 0 {
			feesDebt = minimumPayment(balance)
			borrowing.DailyRateCollateralBalance = new(big.Int)
		} else {
			borrowing.DailyRateCollateralBalance = balance
		}
		owed, err := e.pickUpPlatformFees(holdToken, realized)
		if err != nil {
			return common.Hash{}, nil, false, nil, err
		}
		borrowing.FeesOwed.Add(borrowing.FeesOwed, owed)
	} else {
		borrowing = &BorrowingInfo{
			Borrower:                   borrower,
			SaleToken:                  saleToken,
			HoldToken:                  holdToken,
			FeesOwed:                   new(big.Int),
			BorrowedAmount:             new(big.Int),
			LiquidationBonus:           new(big.Int),
			DailyRateCollateralBalance: new(big.Int),
		}
	}
	borrowing.AccLoanRatePerSeconds = new(big.Int).Set(acc)
	return key, borrowing, existed, feesDebt, nil
}

// addKeysAndLoansInfo appends loans to the borrowing under key and indexes
// it by position and, for a new borrowing, by borrower.
func (e *Engine) addKeysAndLoansInfo(update bool, borrower common.Address, key common.Hash, source []LoanInfo) error {
	loans, err := e.loadLoans(key)
	if err != nil {
		return err
	}
	for _, loan := range source {
		loans = append(loans, LoanInfo{Liquidity: new(big.Int).Set(loan.Liquidity), TokenID: loan.TokenID})
		if _, err := e.tokenKeys(loan.TokenID).add(key); err != nil {
			return err
		}
	}
	if len(loans) > MaxNumLoansPerPosition {
		return ErrTooManyLoansPerPosition
	}
	if err := e.storeLoans(key, loans); err != nil {
		return err
	}
	if update {
		return nil
	}
	count, err := e.userKeys(borrower).add(key)
	if err != nil {
		return err
	}
	if count > MaxNumUserPositions {
		return ErrTooManyUserPositions
	}
	return nil
}

// removeKeysAndClearStorage drops the borrowing under key together with its
// loans and every index entry pointing at it.
func (e *Engine) removeKeysAndClearStorage(borrower common.Address, key common.Hash, loans []LoanInfo) error {
	for _, loan := range loans {
		if err := e.tokenKeys(loan.TokenID).remove(key); err != nil {
			return err
		}
	}
	if err := e.userKeys(borrower).remove(key); err != nil {
		return err
	}
	if err := e.state.KVDelete(borrowingStorageKey(key)); err != nil {
		return err
	}
	return e.storeLoans(key, nil)
}

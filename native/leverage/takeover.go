package leverage

import (
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
	nativecommon "lpleverage/native/common"
)

// TakeOverDebt moves an insolvent borrowing and all of its loans to the
// caller. collateralAmt must exceed the payment that clears the deficit; the
// excess becomes the caller's collateral balance.
func (e *Engine) TakeOverDebt(caller common.Address, key common.Hash, collateralAmt *big.Int) (common.Hash, error) {
	var (
		newKey      common.Hash
		oldBorrower common.Address
	)
	err := e.guarded("take_over_debt", func() error {
		if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
			return err
		}
		var err error
		newKey, oldBorrower, err = e.takeOverDebt(caller, key, collateralAmt)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}
	e.telemetry.ObserveLiquidation("takeover")
	e.logger.Info("leverage take over debt",
		slog.String("old_borrowing_key", key.Hex()),
		slog.String("new_borrowing_key", newKey.Hex()),
		slog.String("old_borrower", oldBorrower.Hex()),
		slog.String("new_borrower", caller.Hex()),
		slog.String("collateral", collateralAmt.String()))
	return newKey, nil
}

func (e *Engine) takeOverDebt(caller common.Address, key common.Hash, collateralAmt *big.Int) (common.Hash, common.Address, error) {
	if collateralAmt == nil || collateralAmt.Sign() <= 0 {
		return common.Hash{}, common.Address{}, ErrCollateralAmountNotEnough
	}
	old, err := e.requireBorrowing(key)
	if err != nil {
		return common.Hash{}, common.Address{}, err
	}
	_, rateInfo, err := e.updateTokenRateInfo(old.SaleToken, old.HoldToken)
	if err != nil {
		return common.Hash{}, old.Borrower, err
	}
	acc := rateInfo.AccLoanRatePerSeconds
	balance, fees := CalculateCollateralBalance(old.BorrowedAmount, old.AccLoanRatePerSeconds, old.DailyRateCollateralBalance, acc)
	if balance.Sign() >= 0 {
		return common.Hash{}, old.Borrower, ErrForbidden
	}
	minPayment := minimumPayment(balance)
	if collateralAmt.Cmp(minPayment) <= 0 {
		return common.Hash{}, old.Borrower, ErrCollateralAmountNotEnough
	}
	owed, err := e.pickUpPlatformFees(old.HoldToken, realizedFees(old.DailyRateCollateralBalance, fees))
	if err != nil {
		return common.Hash{}, old.Borrower, err
	}
	old.FeesOwed.Add(old.FeesOwed, owed)

	loans, err := e.loadLoans(key)
	if err != nil {
		return common.Hash{}, old.Borrower, err
	}
	// The old record must be gone before the caller's record is loaded, or a
	// self take over would merge the borrowing into itself.
	if err := e.removeKeysAndClearStorage(old.Borrower, key, loans); err != nil {
		return common.Hash{}, old.Borrower, err
	}

	newKey, borrowing, existed, feesDebt, err := e.initOrUpdateBorrowing(caller, old.SaleToken, old.HoldToken, acc)
	if err != nil {
		return common.Hash{}, old.Borrower, err
	}
	borrowing.BorrowedAmount.Add(borrowing.BorrowedAmount, old.BorrowedAmount)
	borrowing.LiquidationBonus.Add(borrowing.LiquidationBonus, old.LiquidationBonus)
	borrowing.FeesOwed.Add(borrowing.FeesOwed, old.FeesOwed)
	excess := new(big.Int).Sub(collateralAmt, minPayment)
	borrowing.DailyRateCollateralBalance.Add(borrowing.DailyRateCollateralBalance, toScaled(excess))
	if err := e.storeBorrowing(newKey, borrowing); err != nil {
		return common.Hash{}, old.Borrower, err
	}
	if err := e.addKeysAndLoansInfo(existed, caller, newKey, loans); err != nil {
		return common.Hash{}, old.Borrower, err
	}
	if err := e.pay(old.HoldToken, caller, e.vault.Address(), new(big.Int).Add(collateralAmt, feesDebt)); err != nil {
		return common.Hash{}, old.Borrower, err
	}
	e.emit(events.TakeOverDebt{
		OldBorrower:     old.Borrower,
		NewBorrower:     caller,
		OldBorrowingKey: key,
		NewBorrowingKey: newKey,
	})
	return newKey, old.Borrower, nil
}

// IncreaseCollateralBalance tops up the collateral balance of the caller's
// borrowing.
func (e *Engine) IncreaseCollateralBalance(caller common.Address, key common.Hash, amount *big.Int) error {
	err := e.guarded("increase_collateral_balance", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return ErrInvalidAmount
		}
		borrowing, err := e.requireBorrowing(key)
		if err != nil {
			return err
		}
		if borrowing.Borrower != caller {
			return ErrInvalidCaller
		}
		borrowing.DailyRateCollateralBalance.Add(borrowing.DailyRateCollateralBalance, toScaled(amount))
		if err := e.storeBorrowing(key, borrowing); err != nil {
			return err
		}
		if err := e.pay(borrowing.HoldToken, caller, e.vault.Address(), amount); err != nil {
			return err
		}
		e.emit(events.IncreaseCollateralBalance{Borrower: caller, BorrowingKey: key, CollateralAmt: new(big.Int).Set(amount)})
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Info("leverage increase collateral",
		slog.String("borrowing_key", key.Hex()),
		slog.String("borrower", caller.Hex()),
		slog.String("amount", amount.String()))
	return nil
}

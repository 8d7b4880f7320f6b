package leverage

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState = errors.New("leverage: state not configured")

	ErrTooOldTransaction          = errors.New("leverage: transaction too old")
	ErrInvalidBorrowingKey        = errors.New("leverage: invalid borrowing key")
	ErrInvalidCaller              = errors.New("leverage: invalid caller")
	ErrUnauthorized               = errors.New("leverage: caller is not the owner")
	ErrForbidden                  = errors.New("leverage: forbidden")
	ErrTooManyLoansPerPosition    = errors.New("leverage: too many loans per position")
	ErrTooManyUserPositions       = errors.New("leverage: too many user positions")
	ErrCollateralAmountNotEnough  = errors.New("leverage: collateral amount not enough")
	ErrTooBigCollateral           = errors.New("leverage: too big collateral")
	ErrLiquidityIsZero            = errors.New("leverage: liquidity is zero")
	ErrNoLoans                    = errors.New("leverage: no loans supplied")
	ErrIdenticalTokens            = errors.New("leverage: sale and hold token must differ")
	ErrInvalidSettingsValue       = errors.New("leverage: invalid settings value")
	ErrInvalidSwapTarget          = errors.New("leverage: swap target cannot be whitelisted")
	ErrSwapTargetNotApproved      = errors.New("leverage: swap target not approved")
	ErrSwapTargetUnavailable      = errors.New("leverage: swap target unavailable")
	ErrInvalidSwap                = errors.New("leverage: invalid swap")
	ErrInvalidCallbackCaller      = errors.New("leverage: invalid swap callback caller")
	ErrApproveDidNotSucceed       = errors.New("leverage: approve did not succeed")
	ErrHoldTokenDebtUnderflow     = errors.New("leverage: hold token debt below position amount")
	ErrHoldBalanceExceedsBorrowed = errors.New("leverage: hold token balance exceeds borrowed amount")
	ErrInvalidAmount              = errors.New("leverage: amount must be positive")

	ErrInvalidBorrowedLiquidity   = errors.New("leverage: invalid borrowed liquidity")
	ErrInvalidTokens              = errors.New("leverage: invalid tokens")
	ErrNotApproved                = errors.New("leverage: position not approved")
	ErrInvalidRestoredLiquidity   = errors.New("leverage: invalid restored liquidity")
	ErrTooLittleBorrowedLiquidity = errors.New("leverage: too little borrowed liquidity")
	ErrTooLittleReceived          = errors.New("leverage: too little received")
	ErrSwapSlippage               = errors.New("leverage: swap slippage")
)

// InvalidBorrowedLiquidityError reports a loan whose liquidity is zero or
// exceeds the position's liquidity.
type InvalidBorrowedLiquidityError struct {
	TokenID uint64
}

func (e *InvalidBorrowedLiquidityError) Error() string {
	return fmt.Sprintf("%s: token %d", ErrInvalidBorrowedLiquidity, e.TokenID)
}

func (e *InvalidBorrowedLiquidityError) Unwrap() error { return ErrInvalidBorrowedLiquidity }

// InvalidTokensError reports a position whose pair differs from the borrowing.
type InvalidTokensError struct {
	TokenID uint64
}

func (e *InvalidTokensError) Error() string {
	return fmt.Sprintf("%s: token %d", ErrInvalidTokens, e.TokenID)
}

func (e *InvalidTokensError) Unwrap() error { return ErrInvalidTokens }

// NotApprovedError reports a position the engine may not operate.
type NotApprovedError struct {
	TokenID uint64
}

func (e *NotApprovedError) Error() string {
	return fmt.Sprintf("%s: token %d", ErrNotApproved, e.TokenID)
}

func (e *NotApprovedError) Unwrap() error { return ErrNotApproved }

// InvalidRestoredLiquidityError reports a repay that could not give back all
// of the borrowed liquidity.
type InvalidRestoredLiquidityError struct {
	TokenID           uint64
	BorrowedLiquidity *big.Int
	RestoredLiquidity *big.Int
	Amount0           *big.Int
	Amount1           *big.Int
}

func (e *InvalidRestoredLiquidityError) Error() string {
	return fmt.Sprintf("%s: token %d borrowed %s restored %s (amounts %s/%s)",
		ErrInvalidRestoredLiquidity, e.TokenID, e.BorrowedLiquidity, e.RestoredLiquidity, e.Amount0, e.Amount1)
}

func (e *InvalidRestoredLiquidityError) Unwrap() error { return ErrInvalidRestoredLiquidity }

// TooLittleBorrowedLiquidityError reports a loan worth no more than
// MinimumBorrowedAmount.
type TooLittleBorrowedLiquidityError struct {
	Liquidity *big.Int
}

func (e *TooLittleBorrowedLiquidityError) Error() string {
	return fmt.Sprintf("%s: liquidity %s", ErrTooLittleBorrowedLiquidity, e.Liquidity)
}

func (e *TooLittleBorrowedLiquidityError) Unwrap() error { return ErrTooLittleBorrowedLiquidity }

// TooLittleReceivedError reports a borrow whose hold token proceeds fell
// below the caller's minimum.
type TooLittleReceivedError struct {
	Min *big.Int
	Got *big.Int
}

func (e *TooLittleReceivedError) Error() string {
	return fmt.Sprintf("%s: min %s got %s", ErrTooLittleReceived, e.Min, e.Got)
}

func (e *TooLittleReceivedError) Unwrap() error { return ErrTooLittleReceived }

// SwapSlippageError reports a swap that returned nothing or less than the
// minimum output.
type SwapSlippageError struct {
	Min *big.Int
	Got *big.Int
}

func (e *SwapSlippageError) Error() string {
	return fmt.Sprintf("%s: min %s got %s", ErrSwapSlippage, e.Min, e.Got)
}

func (e *SwapSlippageError) Unwrap() error { return ErrSwapSlippage }

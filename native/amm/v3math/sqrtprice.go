package v3math

import "github.com/holiman/uint256"

func sortRatios(a, b *uint256.Int) (*uint256.Int, *uint256.Int) {
	if a.Gt(b) {
		return b, a
	}
	return a, b
}

// GetAmount0Delta returns the token0 amount between two prices for the given
// liquidity.
func GetAmount0Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, ErrPriceOutOfRange
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	numerator2 := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		inner, err := MulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return DivRoundingUp(inner, sqrtA)
	}
	inner, err := MulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return inner.Div(inner, sqrtA), nil
}

// GetAmount1Delta returns the token1 amount between two prices for the given
// liquidity.
func GetAmount1Delta(sqrtA, sqrtB, liquidity *uint256.Int, roundUp bool) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	diff := new(uint256.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, diff, Q96)
	}
	return MulDiv(liquidity, diff, Q96)
}

func nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if amount.IsZero() {
		return sqrtP.Clone(), nil
	}
	numerator1 := new(uint256.Int).Lsh(liquidity, 96)
	product, overflow := new(uint256.Int).MulOverflow(amount, sqrtP)
	if add {
		if !overflow {
			denominator, carry := new(uint256.Int).AddOverflow(numerator1, product)
			if !carry {
				return MulDivRoundingUp(numerator1, sqrtP, denominator)
			}
		}
		if sqrtP.IsZero() {
			return nil, ErrPriceOutOfRange
		}
		denominator := new(uint256.Int).Div(numerator1, sqrtP)
		denominator.Add(denominator, amount)
		return DivRoundingUp(numerator1, denominator)
	}
	if overflow || !numerator1.Gt(product) {
		return nil, ErrPriceUnderflow
	}
	denominator := new(uint256.Int).Sub(numerator1, product)
	return MulDivRoundingUp(numerator1, sqrtP, denominator)
}

func nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amount *uint256.Int, add bool) (*uint256.Int, error) {
	if liquidity.IsZero() {
		return nil, ErrDivisionByZero
	}
	if add {
		var quotient *uint256.Int
		if !amount.Gt(MaxUint160) {
			quotient = new(uint256.Int).Lsh(amount, 96)
			quotient.Div(quotient, liquidity)
		} else {
			var err error
			if quotient, err = MulDiv(amount, Q96, liquidity); err != nil {
				return nil, err
			}
		}
		next, overflow := new(uint256.Int).AddOverflow(sqrtP, quotient)
		if overflow || next.Gt(MaxUint160) {
			return nil, ErrPriceOutOfRange
		}
		return next, nil
	}
	var (
		quotient *uint256.Int
		err      error
	)
	if !amount.Gt(MaxUint160) {
		quotient, err = DivRoundingUp(new(uint256.Int).Lsh(amount, 96), liquidity)
	} else {
		quotient, err = MulDivRoundingUp(amount, Q96, liquidity)
	}
	if err != nil {
		return nil, err
	}
	if !sqrtP.Gt(quotient) {
		return nil, ErrPriceUnderflow
	}
	return new(uint256.Int).Sub(sqrtP, quotient), nil
}

// GetNextSqrtPriceFromInput returns the price after adding amountIn of the
// input token to a range with the given liquidity.
func GetNextSqrtPriceFromInput(sqrtP, liquidity, amountIn *uint256.Int, zeroForOne bool) (*uint256.Int, error) {
	if sqrtP.IsZero() || liquidity.IsZero() {
		return nil, ErrPriceOutOfRange
	}
	if zeroForOne {
		return nextSqrtPriceFromAmount0RoundingUp(sqrtP, liquidity, amountIn, true)
	}
	return nextSqrtPriceFromAmount1RoundingDown(sqrtP, liquidity, amountIn, true)
}

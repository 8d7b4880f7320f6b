package v3math

import "github.com/holiman/uint256"

// GetAmount0ForLiquidity returns the token0 amount held by liquidity between
// two prices, rounded down.
func GetAmount0ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	if sqrtA.IsZero() {
		return nil, ErrPriceOutOfRange
	}
	shifted := new(uint256.Int).Lsh(liquidity, 96)
	amount, err := MulDiv(shifted, new(uint256.Int).Sub(sqrtB, sqrtA), sqrtB)
	if err != nil {
		return nil, err
	}
	return amount.Div(amount, sqrtA), nil
}

// GetAmount1ForLiquidity returns the token1 amount held by liquidity between
// two prices, rounded down.
func GetAmount1ForLiquidity(sqrtA, sqrtB, liquidity *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	return MulDiv(liquidity, new(uint256.Int).Sub(sqrtB, sqrtA), Q96)
}

// GetAmountsForLiquidity returns both token amounts held by liquidity in the
// range [sqrtA, sqrtB] at the current price sqrtP.
func GetAmountsForLiquidity(sqrtP, sqrtA, sqrtB, liquidity *uint256.Int) (amount0, amount1 *uint256.Int, err error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	amount0, amount1 = new(uint256.Int), new(uint256.Int)
	switch {
	case !sqrtP.Gt(sqrtA):
		amount0, err = GetAmount0ForLiquidity(sqrtA, sqrtB, liquidity)
	case sqrtP.Lt(sqrtB):
		if amount0, err = GetAmount0ForLiquidity(sqrtP, sqrtB, liquidity); err != nil {
			return nil, nil, err
		}
		amount1, err = GetAmount1ForLiquidity(sqrtA, sqrtP, liquidity)
	default:
		amount1, err = GetAmount1ForLiquidity(sqrtA, sqrtB, liquidity)
	}
	if err != nil {
		return nil, nil, err
	}
	return amount0, amount1, nil
}

func toUint128(v *uint256.Int) (*uint256.Int, error) {
	if v.Gt(MaxUint128) {
		return nil, ErrLiquidityRange
	}
	return v, nil
}

// GetLiquidityForAmount0 returns the liquidity minted by amount0 of token0 in
// the given range.
func GetLiquidityForAmount0(sqrtA, sqrtB, amount0 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	intermediate, err := MulDiv(sqrtA, sqrtB, Q96)
	if err != nil {
		return nil, err
	}
	liquidity, err := MulDiv(amount0, intermediate, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	return toUint128(liquidity)
}

// GetLiquidityForAmount1 returns the liquidity minted by amount1 of token1 in
// the given range.
func GetLiquidityForAmount1(sqrtA, sqrtB, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	liquidity, err := MulDiv(amount1, Q96, new(uint256.Int).Sub(sqrtB, sqrtA))
	if err != nil {
		return nil, err
	}
	return toUint128(liquidity)
}

// GetLiquidityForAmounts returns the maximum liquidity that the two amounts
// can mint in the range at the current price.
func GetLiquidityForAmounts(sqrtP, sqrtA, sqrtB, amount0, amount1 *uint256.Int) (*uint256.Int, error) {
	sqrtA, sqrtB = sortRatios(sqrtA, sqrtB)
	switch {
	case !sqrtP.Gt(sqrtA):
		return GetLiquidityForAmount0(sqrtA, sqrtB, amount0)
	case sqrtP.Lt(sqrtB):
		liquidity0, err := GetLiquidityForAmount0(sqrtP, sqrtB, amount0)
		if err != nil {
			return nil, err
		}
		liquidity1, err := GetLiquidityForAmount1(sqrtA, sqrtP, amount1)
		if err != nil {
			return nil, err
		}
		if liquidity0.Lt(liquidity1) {
			return liquidity0, nil
		}
		return liquidity1, nil
	default:
		return GetLiquidityForAmount1(sqrtA, sqrtB, amount1)
	}
}

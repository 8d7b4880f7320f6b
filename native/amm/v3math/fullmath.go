// Package v3math implements the fixed-point arithmetic of concentrated
// liquidity pools: Q64.96 square-root prices, tick conversions, liquidity to
// token amount conversions and single-step swap computation. All quantities
// are unsigned 256-bit integers.
package v3math

import (
	"errors"

	"github.com/holiman/uint256"
)

var (
	ErrDivisionByZero  = errors.New("v3math: division by zero")
	ErrMulDivOverflow  = errors.New("v3math: mulDiv overflow")
	ErrTickOutOfRange  = errors.New("v3math: tick out of range")
	ErrPriceOutOfRange = errors.New("v3math: sqrt price out of range")
	ErrLiquidityRange  = errors.New("v3math: liquidity exceeds uint128")
	ErrPriceUnderflow  = errors.New("v3math: next sqrt price underflow")
)

var (
	// Q96 is 2^96, the scale of sqrt prices.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	// MaxUint128 bounds position liquidity.
	MaxUint128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)
	// MaxUint160 bounds sqrt prices.
	MaxUint160 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 160), 1)
	maxUint256 = new(uint256.Int).SetAllOne()
)

// MulDiv computes floor(a*b/denominator) with a 512-bit intermediate product.
func MulDiv(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	if denominator.IsZero() {
		return nil, ErrDivisionByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(a, b, denominator)
	if overflow {
		return nil, ErrMulDivOverflow
	}
	return z, nil
}

// MulDivRoundingUp computes ceil(a*b/denominator).
func MulDivRoundingUp(a, b, denominator *uint256.Int) (*uint256.Int, error) {
	z, err := MulDiv(a, b, denominator)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(a, b, denominator).IsZero() {
		if z.Eq(maxUint256) {
			return nil, ErrMulDivOverflow
		}
		z.AddUint64(z, 1)
	}
	return z, nil
}

// DivRoundingUp computes ceil(x/y).
func DivRoundingUp(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, ErrDivisionByZero
	}
	z := new(uint256.Int).Div(x, y)
	if !new(uint256.Int).Mod(x, y).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}

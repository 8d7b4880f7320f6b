package v3math

import "github.com/holiman/uint256"

// FeeDenominator is the scale of pool fee tiers (3000 = 0.3%).
const FeeDenominator = 1_000_000

// SwapStep is the outcome of swapping within a single liquidity range.
type SwapStep struct {
	SqrtPriceNext *uint256.Int
	AmountIn      *uint256.Int
	AmountOut     *uint256.Int
	FeeAmount     *uint256.Int
}

// ComputeSwapStep swaps an exact input amount from sqrtP towards sqrtTarget,
// stopping at the target when the input suffices to reach it.
func ComputeSwapStep(sqrtP, sqrtTarget, liquidity, amountRemaining *uint256.Int, fee uint32) (*SwapStep, error) {
	if fee >= FeeDenominator {
		return nil, ErrMulDivOverflow
	}
	zeroForOne := !sqrtP.Lt(sqrtTarget)
	feeComplement := uint256.NewInt(uint64(FeeDenominator - fee))
	denominator := uint256.NewInt(FeeDenominator)

	remainingLessFee, err := MulDiv(amountRemaining, feeComplement, denominator)
	if err != nil {
		return nil, err
	}
	var amountIn *uint256.Int
	if zeroForOne {
		amountIn, err = GetAmount0Delta(sqrtTarget, sqrtP, liquidity, true)
	} else {
		amountIn, err = GetAmount1Delta(sqrtP, sqrtTarget, liquidity, true)
	}
	if err != nil {
		return nil, err
	}

	step := &SwapStep{}
	if !remainingLessFee.Lt(amountIn) {
		step.SqrtPriceNext = sqrtTarget.Clone()
	} else {
		step.SqrtPriceNext, err = GetNextSqrtPriceFromInput(sqrtP, liquidity, remainingLessFee, zeroForOne)
		if err != nil {
			return nil, err
		}
	}
	reachedTarget := step.SqrtPriceNext.Eq(sqrtTarget)

	if !reachedTarget {
		if zeroForOne {
			amountIn, err = GetAmount0Delta(step.SqrtPriceNext, sqrtP, liquidity, true)
		} else {
			amountIn, err = GetAmount1Delta(sqrtP, step.SqrtPriceNext, liquidity, true)
		}
		if err != nil {
			return nil, err
		}
	}
	step.AmountIn = amountIn
	if zeroForOne {
		step.AmountOut, err = GetAmount1Delta(step.SqrtPriceNext, sqrtP, liquidity, false)
	} else {
		step.AmountOut, err = GetAmount0Delta(sqrtP, step.SqrtPriceNext, liquidity, false)
	}
	if err != nil {
		return nil, err
	}

	if !reachedTarget {
		step.FeeAmount = new(uint256.Int).Sub(amountRemaining, step.AmountIn)
	} else {
		step.FeeAmount, err = MulDivRoundingUp(step.AmountIn, uint256.NewInt(uint64(fee)), feeComplement)
		if err != nil {
			return nil, err
		}
	}
	return step, nil
}

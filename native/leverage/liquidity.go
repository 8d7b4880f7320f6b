package leverage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpleverage/native/amm"
	"lpleverage/native/amm/v3math"
)

// positionCache is a position read together with its tick range prices and
// the hold token debt of a loan drawn from it.
type positionCache struct {
	pos           *amm.Position
	sqrtLower     *uint256.Int
	sqrtUpper     *uint256.Int
	liquidity     *uint256.Int
	holdTokenDebt *big.Int
}

func (c *positionCache) tokens(zeroForSaleToken bool) (common.Address, common.Address) {
	if zeroForSaleToken {
		return c.pos.Token0, c.pos.Token1
	}
	return c.pos.Token1, c.pos.Token0
}

func (c *positionCache) pool() common.Address {
	return amm.ComputePoolAddress(c.pos.Token0, c.pos.Token1, c.pos.Fee)
}

func toUint128(v *big.Int) (*uint256.Int, bool) {
	if v == nil || v.Sign() <= 0 {
		return nil, false
	}
	out, overflow := uint256.FromBig(v)
	if overflow || out.Gt(v3math.MaxUint128) {
		return nil, false
	}
	return out, true
}

func (e *Engine) loadPositionCache(zeroForSaleToken bool, loan LoanInfo) (*positionCache, error) {
	liquidity, ok := toUint128(loan.Liquidity)
	if !ok {
		return nil, &InvalidBorrowedLiquidityError{TokenID: loan.TokenID}
	}
	pos, err := e.positions.Positions(loan.TokenID)
	if err != nil {
		return nil, fmt.Errorf("leverage: position %d: %w", loan.TokenID, err)
	}
	sqrtLower, err := v3math.GetSqrtRatioAtTick(pos.TickLower)
	if err != nil {
		return nil, err
	}
	sqrtUpper, err := v3math.GetSqrtRatioAtTick(pos.TickUpper)
	if err != nil {
		return nil, err
	}
	debt, err := singleSideRoundUpBorrowedAmount(zeroForSaleToken, sqrtLower, sqrtUpper, liquidity)
	if err != nil {
		return nil, err
	}
	return &positionCache{pos: pos, sqrtLower: sqrtLower, sqrtUpper: sqrtUpper, liquidity: liquidity, holdTokenDebt: debt}, nil
}

// singleSideRoundUpBorrowedAmount is the hold token value of liquidity over
// the whole tick range, plus one unit of rounding.
func singleSideRoundUpBorrowedAmount(zeroForSaleToken bool, sqrtLower, sqrtUpper, liquidity *uint256.Int) (*big.Int, error) {
	var (
		amount *uint256.Int
		err    error
	)
	if zeroForSaleToken {
		amount, err = v3math.GetAmount1ForLiquidity(sqrtLower, sqrtUpper, liquidity)
	} else {
		amount, err = v3math.GetAmount0ForLiquidity(sqrtLower, sqrtUpper, liquidity)
	}
	if err != nil {
		return nil, err
	}
	borrowed := amount.ToBig()
	if borrowed.Cmp(MinimumBorrowedAmount) <= 0 {
		return nil, &TooLittleBorrowedLiquidityError{Liquidity: liquidity.ToBig()}
	}
	return borrowed.Add(borrowed, big.NewInt(1)), nil
}

// extractLiquidity pulls every loan's liquidity out of its position into the
// engine's account and returns the total hold token debt.
func (e *Engine) extractLiquidity(zeroForSaleToken bool, token0, token1 common.Address, loans []LoanInfo) (*big.Int, error) {
	borrowedAmount := new(big.Int)
	for _, loan := range loans {
		if loan.Liquidity == nil || loan.Liquidity.Sign() <= 0 {
			return nil, &InvalidBorrowedLiquidityError{TokenID: loan.TokenID}
		}
		cache, err := e.loadPositionCache(zeroForSaleToken, loan)
		if err != nil {
			return nil, err
		}
		if cache.pos.Operator != e.address {
			return nil, &NotApprovedError{TokenID: loan.TokenID}
		}
		if cache.pos.Token0 != token0 || cache.pos.Token1 != token1 {
			return nil, &InvalidTokensError{TokenID: loan.TokenID}
		}
		if cache.pos.Liquidity.Cmp(loan.Liquidity) < 0 {
			return nil, &InvalidBorrowedLiquidityError{TokenID: loan.TokenID}
		}
		borrowedAmount.Add(borrowedAmount, cache.holdTokenDebt)

		amount0, amount1, err := e.positions.DecreaseLiquidity(e.address, amm.DecreaseLiquidityParams{
			TokenID:   loan.TokenID,
			Liquidity: new(big.Int).Set(loan.Liquidity),
		})
		if err != nil {
			return nil, fmt.Errorf("leverage: decrease position %d: %w", loan.TokenID, err)
		}
		if _, _, err := e.positions.Collect(e.address, amm.CollectParams{
			TokenID:    loan.TokenID,
			Recipient:  e.address,
			Amount0Max: amount0,
			Amount1Max: amount1,
		}); err != nil {
			return nil, fmt.Errorf("leverage: collect position %d: %w", loan.TokenID, err)
		}
	}
	return borrowedAmount, nil
}

// holdTokenAmountIn returns how much of the hold token debt must be sold for
// the sale token so that liquidity can be restored at sqrtPrice, together
// with the token amounts the liquidity is worth at that price.
func holdTokenAmountIn(zeroForSaleToken bool, sqrtPrice *uint256.Int, cache *positionCache) (*big.Int, *big.Int, *big.Int, error) {
	a0, a1, err := v3math.GetAmountsForLiquidity(sqrtPrice, cache.sqrtLower, cache.sqrtUpper, cache.liquidity)
	if err != nil {
		return nil, nil, nil, err
	}
	amount0, amount1 := a0.ToBig(), a1.ToBig()
	saleNeeded, holdNeeded := amount1, amount0
	if zeroForSaleToken {
		saleNeeded, holdNeeded = amount0, amount1
	}
	if saleNeeded.Sign() == 0 {
		return new(big.Int), amount0, amount1, nil
	}
	if holdNeeded.Cmp(cache.holdTokenDebt) > 0 {
		return nil, nil, nil, fmt.Errorf("%w: position %d needs %s, debt %s", ErrHoldTokenDebtUnderflow, cache.pos.TokenID, holdNeeded, cache.holdTokenDebt)
	}
	return new(big.Int).Sub(cache.holdTokenDebt, holdNeeded), amount0, amount1, nil
}

func (e *Engine) currentSqrtPrice(pool common.Address) (*uint256.Int, error) {
	price, err := e.pools.SqrtPriceX96(pool)
	if err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(price)
	if overflow {
		return nil, fmt.Errorf("leverage: pool %s price overflow", pool.Hex())
	}
	return out, nil
}

type restoreParams struct {
	zeroForSaleToken    bool
	fee                 uint32
	slippageBP1000      uint64
	totalFeesOwed       *big.Int
	totalBorrowedAmount *big.Int
}

// restoreLiquidity gives every loan's liquidity back to its position, buying
// the sale token share first, and pays each position owner its share of the
// fees owed from the vault.
func (e *Engine) restoreLiquidity(params restoreParams, swap SwapParams, loans []LoanInfo) error {
	for _, loan := range loans {
		cache, err := e.loadPositionCache(params.zeroForSaleToken, loan)
		if err != nil {
			return err
		}
		saleToken, holdToken := cache.tokens(params.zeroForSaleToken)
		creditor, err := e.positions.OwnerOf(loan.TokenID)
		if err != nil {
			return err
		}
		price, err := e.currentSqrtPrice(cache.pool())
		if err != nil {
			return err
		}
		amountIn, amount0, amount1, err := holdTokenAmountIn(params.zeroForSaleToken, price, cache)
		if err != nil {
			return err
		}
		if amountIn.Sign() > 0 {
			saleNeeded := amount1
			if params.zeroForSaleToken {
				saleNeeded = amount0
			}
			minOut := mulDiv(saleNeeded, new(big.Int).SetUint64(params.slippageBP1000), bps)
			if swap.external() {
				_, err = e.patchAmountsAndCallSwap(holdToken, saleToken, swap, amountIn, minOut)
			} else {
				_, err = e.swapExactInput(holdToken, saleToken, params.fee, amountIn, minOut)
			}
			if err != nil {
				return err
			}
			// The swap may have moved the position's pool.
			if price, err = e.currentSqrtPrice(cache.pool()); err != nil {
				return err
			}
			a0, a1, err := v3math.GetAmountsForLiquidity(price, cache.sqrtLower, cache.sqrtUpper, cache.liquidity)
			if err != nil {
				return err
			}
			amount0, amount1 = a0.ToBig(), a1.ToBig()
		}
		if err := e.increaseLiquidity(cache, loan, amount0, amount1); err != nil {
			return err
		}
		reward := mulDiv(params.totalFeesOwed, cache.holdTokenDebt, params.totalBorrowedAmount)
		reward = fromScaled(reward)
		if err := e.vault.TransferToken(e.address, holdToken, creditor, reward); err != nil {
			return err
		}
	}
	return nil
}

func roundUpAmount(amount *big.Int) *big.Int {
	if amount.Sign() == 0 {
		return new(big.Int)
	}
	return new(big.Int).Add(amount, big.NewInt(1))
}

func (e *Engine) increaseLiquidity(cache *positionCache, loan LoanInfo, amount0, amount1 *big.Int) error {
	amount0 = roundUpAmount(amount0)
	amount1 = roundUpAmount(amount1)
	manager := e.positions.Address()
	if err := e.maxApproveIfNecessary(cache.pos.Token0, manager, amount0); err != nil {
		return err
	}
	if err := e.maxApproveIfNecessary(cache.pos.Token1, manager, amount1); err != nil {
		return err
	}
	restored, _, _, err := e.positions.IncreaseLiquidity(e.address, amm.IncreaseLiquidityParams{
		TokenID:        loan.TokenID,
		Amount0Desired: amount0,
		Amount1Desired: amount1,
	})
	if errors.Is(err, amm.ErrZeroLiquidity) {
		restored, err = new(big.Int), nil
	}
	if err != nil {
		return fmt.Errorf("leverage: increase position %d: %w", loan.TokenID, err)
	}
	if restored.Cmp(loan.Liquidity) < 0 {
		balance0, balance1, err := e.pairBalance(cache.pos.Token0, cache.pos.Token1)
		if err != nil {
			return err
		}
		return &InvalidRestoredLiquidityError{
			TokenID:           loan.TokenID,
			BorrowedLiquidity: new(big.Int).Set(loan.Liquidity),
			RestoredLiquidity: restored,
			Amount0:           balance0,
			Amount1:           balance1,
		}
	}
	return nil
}

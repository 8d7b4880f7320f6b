package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpleverage/native/amm/v3math"
)

// Quoter simulates exact-input swaps without changing pool state.
type Quoter struct {
	exchange *Exchange
}

func NewQuoter(exchange *Exchange) *Quoter {
	return &Quoter{exchange: exchange}
}

// QuoteExactInputSingle returns the output of swapping amountIn of tokenIn
// for tokenOut in the given fee tier and the sqrt price after the swap.
func (q *Quoter) QuoteExactInputSingle(tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, *big.Int, error) {
	pool, err := q.exchange.PoolFor(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, nil, err
	}
	zeroForOne := tokenIn == pool.Token0
	step, err := simulateSwap(pool, zeroForOne, amountIn, PriceLimit(zeroForOne))
	if err != nil {
		return nil, nil, err
	}
	return step.AmountOut.ToBig(), step.SqrtPriceNext.ToBig(), nil
}

// PriceLimit returns the most extreme sqrt price a swap in the given
// direction may reach.
func PriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(uint256.Int).AddUint64(v3math.MinSqrtRatio, 1).ToBig()
	}
	return new(uint256.Int).SubUint64(v3math.MaxSqrtRatio, 1).ToBig()
}

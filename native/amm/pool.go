// Package amm provides the in-ledger concentrated liquidity collaborators:
// pools with an exact-input swap and payment callback, a position ledger, a
// quoter and a whitelisted swap aggregator.
package amm

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpleverage/native/amm/v3math"
)

var (
	ErrPoolExists          = errors.New("amm: pool already exists")
	ErrPoolNotFound        = errors.New("amm: pool not found")
	ErrIdenticalTokens     = errors.New("amm: identical tokens")
	ErrInvalidFee          = errors.New("amm: invalid fee tier")
	ErrAmountSpecified     = errors.New("amm: amount specified must be positive")
	ErrPriceLimit          = errors.New("amm: invalid sqrt price limit")
	ErrInsufficientPayment = errors.New("amm: swap callback paid too little")
)

// Storage abstracts the subset of state manager functionality used by the
// AMM collaborators.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// TokenLedger moves the pool's token balances.
type TokenLedger interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
}

// SwapCallback is invoked by a pool during Swap so the caller can pay the
// input side. Positive deltas are owed to the pool.
type SwapCallback interface {
	SwapCallback(pool common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error
}

// Pool is a snapshot of a pool's state.
type Pool struct {
	Address      common.Address
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	SqrtPriceX96 *big.Int
	// Liquidity is the liquidity active at the current price.
	Liquidity *big.Int
}

type storedPool struct {
	Token0       common.Address
	Token1       common.Address
	Fee          uint32
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
}

// Exchange owns every pool in the ledger. Pools hold one active liquidity
// range: swaps move the price but never cross position boundaries.
type Exchange struct {
	store  Storage
	tokens TokenLedger
}

func NewExchange(store Storage, tokens TokenLedger) *Exchange {
	return &Exchange{store: store, tokens: tokens}
}

// CreatePool registers a pool at its derived address with an initial price.
func (e *Exchange) CreatePool(tokenA, tokenB common.Address, fee uint32, sqrtPriceX96 *big.Int) (common.Address, error) {
	if tokenA == tokenB {
		return common.Address{}, ErrIdenticalTokens
	}
	if fee == 0 || fee >= v3math.FeeDenominator {
		return common.Address{}, ErrInvalidFee
	}
	if sqrtPriceX96 == nil || sqrtPriceX96.Sign() <= 0 {
		return common.Address{}, fmt.Errorf("amm: initial %w", v3math.ErrPriceOutOfRange)
	}
	price, overflow := uint256.FromBig(sqrtPriceX96)
	if overflow || price.Lt(v3math.MinSqrtRatio) || !price.Lt(v3math.MaxSqrtRatio) {
		return common.Address{}, fmt.Errorf("amm: initial %w", v3math.ErrPriceOutOfRange)
	}
	addr := ComputePoolAddress(tokenA, tokenB, fee)
	ok, err := e.store.KVGet(poolKey(addr), nil)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		return common.Address{}, ErrPoolExists
	}
	token0, token1 := SortTokens(tokenA, tokenB)
	record := storedPool{
		Token0:       token0,
		Token1:       token1,
		Fee:          fee,
		SqrtPriceX96: new(big.Int).Set(sqrtPriceX96),
		Liquidity:    big.NewInt(0),
	}
	if err := e.store.KVPut(poolKey(addr), record); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// Pool returns the state of the pool at addr.
func (e *Exchange) Pool(addr common.Address) (*Pool, error) {
	var record storedPool
	ok, err := e.store.KVGet(poolKey(addr), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, addr.Hex())
	}
	return &Pool{
		Address:      addr,
		Token0:       record.Token0,
		Token1:       record.Token1,
		Fee:          record.Fee,
		SqrtPriceX96: record.SqrtPriceX96,
		Liquidity:    record.Liquidity,
	}, nil
}

// PoolFor returns the pool for a token pair and fee tier.
func (e *Exchange) PoolFor(tokenA, tokenB common.Address, fee uint32) (*Pool, error) {
	return e.Pool(ComputePoolAddress(tokenA, tokenB, fee))
}

// SqrtPriceX96 returns the current sqrt price of the pool at addr.
func (e *Exchange) SqrtPriceX96(addr common.Address) (*big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, err
	}
	return pool.SqrtPriceX96, nil
}

func (e *Exchange) writePool(pool *Pool) error {
	return e.store.KVPut(poolKey(pool.Address), storedPool{
		Token0:       pool.Token0,
		Token1:       pool.Token1,
		Fee:          pool.Fee,
		SqrtPriceX96: pool.SqrtPriceX96,
		Liquidity:    pool.Liquidity,
	})
}

// updateActiveLiquidity applies delta to the pool's active liquidity when the
// current price lies inside [sqrtLower, sqrtUpper).
func (e *Exchange) updateActiveLiquidity(addr common.Address, sqrtLower, sqrtUpper *uint256.Int, delta *big.Int) error {
	pool, err := e.Pool(addr)
	if err != nil {
		return err
	}
	price := uint256.MustFromBig(pool.SqrtPriceX96)
	if price.Lt(sqrtLower) || !price.Lt(sqrtUpper) {
		return nil
	}
	next := new(big.Int).Add(pool.Liquidity, delta)
	if next.Sign() < 0 {
		return fmt.Errorf("amm: active liquidity underflow")
	}
	pool.Liquidity = next
	return e.writePool(pool)
}

// simulateSwap computes the exact-input swap without touching state.
func simulateSwap(pool *Pool, zeroForOne bool, amountSpecified, sqrtPriceLimit *big.Int) (*v3math.SwapStep, error) {
	if amountSpecified == nil || amountSpecified.Sign() <= 0 {
		return nil, ErrAmountSpecified
	}
	if sqrtPriceLimit == nil || sqrtPriceLimit.Sign() < 0 {
		return nil, ErrPriceLimit
	}
	price := uint256.MustFromBig(pool.SqrtPriceX96)
	limit, overflow := uint256.FromBig(sqrtPriceLimit)
	if overflow {
		return nil, ErrPriceLimit
	}
	if zeroForOne {
		if !limit.Lt(price) || !limit.Gt(v3math.MinSqrtRatio) {
			return nil, ErrPriceLimit
		}
	} else if !limit.Gt(price) || !limit.Lt(v3math.MaxSqrtRatio) {
		return nil, ErrPriceLimit
	}
	amount, overflow := uint256.FromBig(amountSpecified)
	if overflow {
		return nil, ErrAmountSpecified
	}
	return v3math.ComputeSwapStep(price, limit, uint256.MustFromBig(pool.Liquidity), amount, pool.Fee)
}

// Swap trades an exact input amount in the pool at addr. The output is sent to
// recipient before the callback is asked to pay the input owed. The returned
// deltas are from the pool's perspective: positive is received, negative is
// paid out.
func (e *Exchange) Swap(callback SwapCallback, recipient, addr common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimit *big.Int, data []byte) (*big.Int, *big.Int, error) {
	pool, err := e.Pool(addr)
	if err != nil {
		return nil, nil, err
	}
	step, err := simulateSwap(pool, zeroForOne, amountSpecified, sqrtPriceLimit)
	if err != nil {
		return nil, nil, err
	}
	amountInTotal := new(big.Int).Add(step.AmountIn.ToBig(), step.FeeAmount.ToBig())
	amountOut := step.AmountOut.ToBig()

	pool.SqrtPriceX96 = step.SqrtPriceNext.ToBig()
	if err := e.writePool(pool); err != nil {
		return nil, nil, err
	}

	tokenIn, tokenOut := pool.Token0, pool.Token1
	amount0, amount1 := amountInTotal, new(big.Int).Neg(amountOut)
	if !zeroForOne {
		tokenIn, tokenOut = pool.Token1, pool.Token0
		amount0, amount1 = new(big.Int).Neg(amountOut), amountInTotal
	}
	if amountOut.Sign() > 0 {
		if err := e.tokens.Transfer(tokenOut, addr, recipient, amountOut); err != nil {
			return nil, nil, fmt.Errorf("amm: pay swap output: %w", err)
		}
	}
	before, err := e.tokens.BalanceOf(tokenIn, addr)
	if err != nil {
		return nil, nil, err
	}
	if err := callback.SwapCallback(addr, amount0, amount1, data); err != nil {
		return nil, nil, err
	}
	after, err := e.tokens.BalanceOf(tokenIn, addr)
	if err != nil {
		return nil, nil, err
	}
	if new(big.Int).Sub(after, before).Cmp(amountInTotal) < 0 {
		return nil, nil, ErrInsufficientPayment
	}
	return amount0, amount1, nil
}

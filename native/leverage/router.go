package leverage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"lpleverage/native/amm"
)

const callbackDataLength = 4 + common.AddressLength*2

var (
	maxApproval       = new(big.Int).Set(math.MaxBig256)
	almostMaxApproval = new(big.Int).Sub(math.MaxBig256, big.NewInt(1))
)

func selectorOf(data []byte) [4]byte {
	var selector [4]byte
	copy(selector[:], data)
	return selector
}

// patchAmountsAndCallSwap routes amountIn of tokenIn through a whitelisted
// external call and returns the tokenOut received, measured as the change in
// the engine's balance.
func (e *Engine) patchAmountsAndCallSwap(tokenIn, tokenOut common.Address, swap SwapParams, amountIn, amountOutMin *big.Int) (*big.Int, error) {
	if len(swap.SwapData) < 4 {
		return nil, fmt.Errorf("%w: call data too short", ErrInvalidSwap)
	}
	selector := selectorOf(swap.SwapData)
	allowed, err := e.whitelisted(swap.SwapTarget, selector)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s %x", ErrSwapTargetNotApproved, swap.SwapTarget.Hex(), selector)
	}
	if e.targets == nil {
		return nil, ErrSwapTargetUnavailable
	}
	target, ok := e.targets.SwapTarget(swap.SwapTarget)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSwapTargetUnavailable, swap.SwapTarget.Hex())
	}

	data, err := patchAmount(swap.SwapData, swap.SwapAmountInDataIndex, amountIn)
	if err != nil {
		return nil, err
	}
	if err := e.maxApproveIfNecessary(tokenIn, swap.SwapTarget, amountIn); err != nil {
		return nil, err
	}
	before, err := e.balanceOf(tokenOut)
	if err != nil {
		return nil, err
	}
	if err := target.Call(e.address, data, swap.MaxGasForCall); err != nil {
		return nil, fmt.Errorf("leverage: swap target %s: %w", swap.SwapTarget.Hex(), err)
	}
	after, err := e.balanceOf(tokenOut)
	if err != nil {
		return nil, err
	}
	amountOut := new(big.Int).Sub(after, before)
	if amountOut.Sign() <= 0 || amountOut.Cmp(amountOutMin) < 0 {
		return nil, &SwapSlippageError{Min: new(big.Int).Set(amountOutMin), Got: amountOut}
	}
	return amountOut, nil
}

// patchAmount writes amount into the 32-byte word at index of a copy of the
// call data. The selector is not counted.
func patchAmount(data []byte, index uint64, amount *big.Int) ([]byte, error) {
	out := append([]byte(nil), data...)
	if amount.Sign() == 0 {
		return out, nil
	}
	if index > uint64(len(data)) {
		return nil, fmt.Errorf("%w: amount index %d out of range", ErrInvalidSwap, index)
	}
	offset := 4 + index*32
	if offset+32 > uint64(len(out)) {
		return nil, fmt.Errorf("%w: amount index %d out of range", ErrInvalidSwap, index)
	}
	copy(out[offset:offset+32], common.LeftPadBytes(amount.Bytes(), 32))
	return out, nil
}

func (e *Engine) tryApprove(token, spender common.Address, amount *big.Int) bool {
	ok := e.tokens.Approve(token, e.address, spender, amount) == nil
	e.telemetry.ObserveApproveAttempt(ok)
	return ok
}

// maxApproveIfNecessary grants spender an effectively unlimited allowance.
// Tokens that refuse the maximum or require a reset to zero are handled by
// the fallback sequence max, max-1, zero, max, max-1.
func (e *Engine) maxApproveIfNecessary(token, spender common.Address, amount *big.Int) error {
	allowance, err := e.tokens.Allowance(token, e.address, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	if e.tryApprove(token, spender, maxApproval) || e.tryApprove(token, spender, almostMaxApproval) {
		return nil
	}
	if !e.tryApprove(token, spender, new(big.Int)) {
		return fmt.Errorf("%w: %s", ErrApproveDidNotSucceed, token.Hex())
	}
	if e.tryApprove(token, spender, maxApproval) || e.tryApprove(token, spender, almostMaxApproval) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrApproveDidNotSucceed, token.Hex())
}

func encodeCallbackData(fee uint32, tokenIn, tokenOut common.Address) []byte {
	data := make([]byte, 4, callbackDataLength)
	binary.BigEndian.PutUint32(data, fee)
	data = append(data, tokenIn.Bytes()...)
	return append(data, tokenOut.Bytes()...)
}

func decodeCallbackData(data []byte) (uint32, common.Address, common.Address, bool) {
	if len(data) != callbackDataLength {
		return 0, common.Address{}, common.Address{}, false
	}
	fee := binary.BigEndian.Uint32(data[:4])
	tokenIn := common.BytesToAddress(data[4 : 4+common.AddressLength])
	tokenOut := common.BytesToAddress(data[4+common.AddressLength:])
	return fee, tokenIn, tokenOut, true
}

// swapExactInput sells amountIn of tokenIn in the internal pool of the given
// fee tier.
func (e *Engine) swapExactInput(tokenIn, tokenOut common.Address, fee uint32, amountIn, amountOutMin *big.Int) (*big.Int, error) {
	zeroForOne := bytes.Compare(tokenIn.Bytes(), tokenOut.Bytes()) < 0
	pool := amm.ComputePoolAddress(tokenIn, tokenOut, fee)

	prev := e.expectedPool
	e.expectedPool = &pool
	amount0, amount1, err := e.pools.Swap(e, e.address, pool, zeroForOne, amountIn, amm.PriceLimit(zeroForOne), encodeCallbackData(fee, tokenIn, tokenOut))
	e.expectedPool = prev
	if err != nil {
		return nil, err
	}
	amountOut := new(big.Int).Neg(amount1)
	if !zeroForOne {
		amountOut = new(big.Int).Neg(amount0)
	}
	if amountOut.Cmp(amountOutMin) < 0 {
		return nil, &SwapSlippageError{Min: new(big.Int).Set(amountOutMin), Got: amountOut}
	}
	return amountOut, nil
}

// SwapCallback pays a pool for a swap started by the engine. Only the pool
// derived from the callback data of the swap in flight is paid.
func (e *Engine) SwapCallback(pool common.Address, amount0Delta, amount1Delta *big.Int, data []byte) error {
	if amount0Delta.Sign() <= 0 && amount1Delta.Sign() <= 0 {
		return ErrInvalidSwap
	}
	fee, tokenIn, tokenOut, ok := decodeCallbackData(data)
	if !ok {
		return ErrInvalidCallbackCaller
	}
	if e.expectedPool == nil || *e.expectedPool != pool || amm.ComputePoolAddress(tokenIn, tokenOut, fee) != pool {
		return ErrInvalidCallbackCaller
	}
	amountToPay := amount0Delta
	if amountToPay.Sign() <= 0 {
		amountToPay = amount1Delta
	}
	return e.pay(tokenIn, e.address, pool, amountToPay)
}

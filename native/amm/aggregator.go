package amm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AggregatorGasCost is the gas an aggregator swap consumes. A non-zero gas cap
// below it aborts the call.
const AggregatorGasCost = 150_000

// AggregatorAmountInIndex is the payload word holding the input amount.
const AggregatorAmountInIndex = 3

// SwapExactInSelector identifies the aggregator's only entry point.
var SwapExactInSelector = ethcrypto.Keccak256([]byte("swapExactIn(address,address,uint24,uint256,uint256)"))[:4]

var (
	ErrUnknownSelector = errors.New("aggregator: unknown selector")
	ErrMalformedCall   = errors.New("aggregator: malformed call data")
	ErrOutOfGas        = errors.New("aggregator: out of gas")
	ErrTooLittleOut    = errors.New("aggregator: too little received")
	ErrUnknownPool     = errors.New("aggregator: callback from unknown pool")
)

// Aggregator is an external swap target. It pulls the input token from the
// caller, routes it through a pool and sends the output back to the caller.
type Aggregator struct {
	address  common.Address
	exchange *Exchange
	tokens   TokenLedger
}

func NewAggregator(address common.Address, exchange *Exchange, tokens TokenLedger) *Aggregator {
	return &Aggregator{address: address, exchange: exchange, tokens: tokens}
}

func (a *Aggregator) Address() common.Address { return a.address }

// EncodeSwapExactIn builds aggregator call data.
func EncodeSwapExactIn(tokenIn, tokenOut common.Address, fee uint32, amountIn, minOut *big.Int) []byte {
	data := make([]byte, 0, 4+5*32)
	data = append(data, SwapExactInSelector...)
	data = append(data, common.LeftPadBytes(tokenIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(tokenOut.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(new(big.Int).SetUint64(uint64(fee)).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(orZero(amountIn).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(orZero(minOut).Bytes(), 32)...)
	return data
}

func word(data []byte, index int) []byte {
	offset := 4 + index*32
	return data[offset : offset+32]
}

// Call executes the call data on behalf of caller.
func (a *Aggregator) Call(caller common.Address, data []byte, gas uint64) error {
	if len(data) < 4 || !bytes.Equal(data[:4], SwapExactInSelector) {
		return ErrUnknownSelector
	}
	if len(data) != 4+5*32 {
		return ErrMalformedCall
	}
	if gas != 0 && gas < AggregatorGasCost {
		return ErrOutOfGas
	}
	tokenIn := common.BytesToAddress(word(data, 0))
	tokenOut := common.BytesToAddress(word(data, 1))
	feeWord := new(big.Int).SetBytes(word(data, 2))
	amountIn := new(big.Int).SetBytes(word(data, AggregatorAmountInIndex))
	minOut := new(big.Int).SetBytes(word(data, 4))
	if !feeWord.IsUint64() || feeWord.Uint64() > 0xffffff {
		return ErrMalformedCall
	}

	pool, err := a.exchange.PoolFor(tokenIn, tokenOut, uint32(feeWord.Uint64()))
	if err != nil {
		return err
	}
	if err := a.tokens.TransferFrom(tokenIn, a.address, caller, a.address, amountIn); err != nil {
		return fmt.Errorf("aggregator: pull input: %w", err)
	}
	zeroForOne := tokenIn == pool.Token0
	amount0, amount1, err := a.exchange.Swap(a, caller, pool.Address, zeroForOne, amountIn, PriceLimit(zeroForOne), nil)
	if err != nil {
		return err
	}
	out := new(big.Int).Neg(amount1)
	if !zeroForOne {
		out = new(big.Int).Neg(amount0)
	}
	if out.Cmp(minOut) < 0 {
		return ErrTooLittleOut
	}
	return nil
}

// SwapCallback pays the pool from the aggregator's own balance.
func (a *Aggregator) SwapCallback(poolAddr common.Address, amount0Delta, amount1Delta *big.Int, _ []byte) error {
	pool, err := a.exchange.Pool(poolAddr)
	if err != nil {
		return ErrUnknownPool
	}
	if amount0Delta.Sign() > 0 {
		return a.tokens.Transfer(pool.Token0, a.address, poolAddr, amount0Delta)
	}
	if amount1Delta.Sign() > 0 {
		return a.tokens.Transfer(pool.Token1, a.address, poolAddr, amount1Delta)
	}
	return nil
}

package leverage

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/native/amm"
	nativecommon "lpleverage/native/common"
)

func aggregatorSwap(tokenIn, tokenOut common.Address, gas uint64) SwapParams {
	return SwapParams{
		SwapTarget:            aggAddr,
		SwapAmountInDataIndex: amm.AggregatorAmountInIndex,
		MaxGasForCall:         gas,
		SwapData:              amm.EncodeSwapExactIn(tokenIn, tokenOut, testFee, nil, nil),
	}
}

func (env *testEnv) whitelistAggregator(t *testing.T) {
	t.Helper()
	if err := env.engine.SetSwapCallToWhitelist(ownerAddr, aggAddr, selectorOf(amm.SwapExactInSelector), true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
}

func TestBorrowThroughAggregator(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, inLower, inUpper)
	params := env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id})
	params.ExternalSwap = aggregatorSwap(saleAddr, holdAddr, 0)

	_, err := env.engine.Borrow(borrower, params, env.deadline())
	if !errors.Is(err, ErrSwapTargetNotApproved) {
		t.Fatalf("expected swap target not approved, got %v", err)
	}
	if got := env.positionLiquidity(t, id); got.Cmp(liquidity) != 0 {
		t.Fatalf("failed borrow must not touch the position, got %s", got)
	}

	env.whitelistAggregator(t)
	params.ExternalSwap = aggregatorSwap(saleAddr, holdAddr, 1)
	if _, err := env.engine.Borrow(borrower, params, env.deadline()); !errors.Is(err, amm.ErrOutOfGas) {
		t.Fatalf("expected the gas cap to abort the call, got %v", err)
	}

	params.ExternalSwap = aggregatorSwap(saleAddr, holdAddr, amm.AggregatorGasCost)
	res, err := env.engine.Borrow(borrower, params, env.deadline())
	if err != nil {
		t.Fatalf("borrow through aggregator: %v", err)
	}
	if res.BorrowingCollateral.Sign() <= 0 {
		t.Fatalf("expected collateral, got %s", res.BorrowingCollateral)
	}
	if env.balance(t, saleAddr, engineAddr).Sign() != 0 || env.balance(t, holdAddr, engineAddr).Sign() != 0 {
		t.Fatalf("engine must not keep balances after an aggregator swap")
	}
}

func TestPatchAmount(t *testing.T) {
	data := amm.EncodeSwapExactIn(saleAddr, holdAddr, testFee, nil, big.NewInt(7))
	patched, err := patchAmount(data, amm.AggregatorAmountInIndex, big.NewInt(12345))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	offset := 4 + amm.AggregatorAmountInIndex*32
	if got := new(big.Int).SetBytes(patched[offset : offset+32]); got.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("amount not patched: %s", got)
	}
	if new(big.Int).SetBytes(data[offset:offset+32]).Sign() != 0 {
		t.Fatalf("patching must not modify the caller's payload")
	}
	if got := new(big.Int).SetBytes(patched[len(patched)-32:]); got.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("other words must be kept, got %s", got)
	}
	if _, err := patchAmount(data, 5, big.NewInt(1)); !errors.Is(err, ErrInvalidSwap) {
		t.Fatalf("expected out of range index to fail, got %v", err)
	}
	unchanged, err := patchAmount(data, 99, big.NewInt(0))
	if err != nil || len(unchanged) != len(data) {
		t.Fatalf("zero amount leaves the payload alone: %v", err)
	}
}

func TestMaxApproveFallbackSequence(t *testing.T) {
	env := newTestEnv(t)
	spender := aggAddr

	if err := env.engine.maxApproveIfNecessary(quirkyAddr, spender, big.NewInt(1)); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	allowance, _ := env.ledger.Allowance(quirkyAddr, engineAddr, spender)
	if allowance.Cmp(almostMaxApproval) != 0 {
		t.Fatalf("a token refusing max must get max-1, got %s", allowance)
	}

	// A small live allowance forces the reset to zero.
	if err := env.ledger.Approve(quirkyAddr, engineAddr, spender, big.NewInt(0)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := env.ledger.Approve(quirkyAddr, engineAddr, spender, big.NewInt(5)); err != nil {
		t.Fatalf("seed allowance: %v", err)
	}
	if err := env.engine.maxApproveIfNecessary(quirkyAddr, spender, big.NewInt(10)); err != nil {
		t.Fatalf("approve after reset: %v", err)
	}
	allowance, _ = env.ledger.Allowance(quirkyAddr, engineAddr, spender)
	if allowance.Cmp(almostMaxApproval) != 0 {
		t.Fatalf("expected max-1 after reset, got %s", allowance)
	}

	if err := env.engine.maxApproveIfNecessary(holdAddr, spender, big.NewInt(10)); err != nil {
		t.Fatalf("plain approve: %v", err)
	}
	allowance, _ = env.ledger.Allowance(holdAddr, engineAddr, spender)
	if allowance.Cmp(maxApproval) != 0 {
		t.Fatalf("a plain token takes max, got %s", allowance)
	}

	unknown := common.HexToAddress("0x4000000000000000000000000000000000000000")
	if err := env.engine.maxApproveIfNecessary(unknown, spender, big.NewInt(1)); err == nil {
		t.Fatalf("unknown token must fail")
	}
}

func TestSwapCallbackValidation(t *testing.T) {
	env := newTestEnv(t)
	pool := amm.ComputePoolAddress(saleAddr, holdAddr, testFee)
	data := encodeCallbackData(testFee, saleAddr, holdAddr)

	if err := env.engine.SwapCallback(pool, big.NewInt(0), big.NewInt(0), data); !errors.Is(err, ErrInvalidSwap) {
		t.Fatalf("zero deltas must be rejected, got %v", err)
	}
	if err := env.engine.SwapCallback(pool, big.NewInt(1), big.NewInt(-1), data); !errors.Is(err, ErrInvalidCallbackCaller) {
		t.Fatalf("callback without a swap in flight must be rejected, got %v", err)
	}
	env.engine.expectedPool = &pool
	defer func() { env.engine.expectedPool = nil }()
	if err := env.engine.SwapCallback(stranger, big.NewInt(1), big.NewInt(-1), data); !errors.Is(err, ErrInvalidCallbackCaller) {
		t.Fatalf("callback from another address must be rejected, got %v", err)
	}
	if err := env.engine.SwapCallback(pool, big.NewInt(1), big.NewInt(-1), data[:10]); !errors.Is(err, ErrInvalidCallbackCaller) {
		t.Fatalf("malformed callback data must be rejected, got %v", err)
	}
}

// reentrantTarget calls back into the engine from inside a swap.
type reentrantTarget struct {
	engine *Engine
	key    common.Hash
}

func (r *reentrantTarget) Call(caller common.Address, data []byte, gas uint64) error {
	_, err := r.engine.Repay(caller, RepayParams{BorrowingKey: r.key}, ^uint64(0))
	return err
}

func TestReentrantSwapTargetIsRejected(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, inLower, inUpper)
	evil := common.HexToAddress("0x00000000000000000000000000000000000000ac")
	env.targets[evil] = &reentrantTarget{engine: env.engine, key: BorrowingKey(borrower, saleAddr, holdAddr)}
	selector := [4]byte{0xde, 0xad, 0xbe, 0xef}
	if err := env.engine.SetSwapCallToWhitelist(ownerAddr, evil, selector, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}

	params := env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id})
	params.ExternalSwap = SwapParams{SwapTarget: evil, SwapData: append(selector[:], make([]byte, 32)...)}
	if _, err := env.engine.Borrow(borrower, params, env.deadline()); !errors.Is(err, nativecommon.ErrReentrancy) {
		t.Fatalf("expected reentrancy to be rejected, got %v", err)
	}
	if got := env.positionLiquidity(t, id); got.Cmp(liquidity) != 0 {
		t.Fatalf("rejected borrow must be reverted, got %s", got)
	}

	// The lock is released on the error path.
	env.borrow(t, borrower, LoanInfo{Liquidity: half(liquidity), TokenID: id})
}

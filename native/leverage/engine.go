package leverage

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
	"lpleverage/native/amm"
	nativecommon "lpleverage/native/common"
	"lpleverage/observability/metrics"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	KVGetList(key []byte, out interface{}) error
	Snapshot() int
	RevertToSnapshot(id int) error
}

// TokenLedger moves fungible tokens between accounts.
type TokenLedger interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Allowance(token, owner, spender common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to common.Address, amount *big.Int) error
	Approve(token, owner, spender common.Address, amount *big.Int) error
}

// Vault custodies every balance owned by the engine.
type Vault interface {
	Address() common.Address
	TransferToken(caller, token, to common.Address, amount *big.Int) error
	GetBalances(tokens []common.Address) ([]*big.Int, error)
}

// PositionLedger exposes the liquidity positions loans are drawn from.
type PositionLedger interface {
	Address() common.Address
	Positions(id uint64) (*amm.Position, error)
	OwnerOf(id uint64) (common.Address, error)
	DecreaseLiquidity(caller common.Address, params amm.DecreaseLiquidityParams) (*big.Int, *big.Int, error)
	IncreaseLiquidity(caller common.Address, params amm.IncreaseLiquidityParams) (*big.Int, *big.Int, *big.Int, error)
	Collect(caller common.Address, params amm.CollectParams) (*big.Int, *big.Int, error)
}

// Pools executes swaps against the internal pools.
type Pools interface {
	SqrtPriceX96(pool common.Address) (*big.Int, error)
	Swap(callback amm.SwapCallback, recipient, pool common.Address, zeroForOne bool, amountSpecified, sqrtPriceLimit *big.Int, data []byte) (*big.Int, *big.Int, error)
}

// Quoter simulates exact-input swaps.
type Quoter interface {
	QuoteExactInputSingle(tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, *big.Int, error)
}

// SwapTarget is an external aggregator reachable through whitelisted calls.
type SwapTarget interface {
	Call(caller common.Address, data []byte, gas uint64) error
}

// SwapTargets resolves swap target addresses.
type SwapTargets interface {
	SwapTarget(addr common.Address) (SwapTarget, bool)
}

// Engine owns every borrowing, loan and rate record and drives the borrowing
// lifecycle. Calls are expected to be serialised by the host.
type Engine struct {
	address   common.Address
	owner     common.Address
	state     engineState
	tokens    TokenLedger
	vault     Vault
	positions PositionLedger
	pools     Pools
	quoter    Quoter
	targets   SwapTargets
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	logger    *slog.Logger
	telemetry *metrics.LeverageMetrics
	now       func() time.Time

	lock    nativecommon.NonReentrant
	pending events.Buffer
	depth   int
	// expectedPool is the pool of the swap in flight.
	expectedPool *common.Address
}

// NewEngine constructs an engine operating from the address account and
// administered by owner.
func NewEngine(address, owner common.Address) *Engine {
	return &Engine{
		address:   address,
		owner:     owner,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		telemetry: metrics.Leverage(),
		now:       time.Now,
	}
}

// Address returns the engine's account address.
func (e *Engine) Address() common.Address { return e.address }

// Owner returns the administrator address.
func (e *Engine) Owner() common.Address { return e.owner }

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetTokens(tokens TokenLedger) {
	if e == nil {
		return
	}
	e.tokens = tokens
}

func (e *Engine) SetVault(v Vault) {
	if e == nil {
		return
	}
	e.vault = v
}

func (e *Engine) SetPositions(p PositionLedger) {
	if e == nil {
		return
	}
	e.positions = p
}

func (e *Engine) SetPools(p Pools) {
	if e == nil {
		return
	}
	e.pools = p
}

func (e *Engine) SetQuoter(q Quoter) {
	if e == nil {
		return
	}
	e.quoter = q
}

func (e *Engine) SetSwapTargets(t SwapTargets) {
	if e == nil {
		return
	}
	e.targets = t
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the sink for events of successful calls.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetClock overrides the time source used for deadlines and accrual.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	e.now = now
}

func (e *Engine) timestamp() uint64 {
	return uint64(e.now().Unix())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil || e.vault == nil || e.positions == nil || e.pools == nil {
		return fmt.Errorf("leverage: collaborators not configured")
	}
	return nil
}

func (e *Engine) checkDeadline(deadline uint64) error {
	if deadline < e.timestamp() {
		return ErrTooOldTransaction
	}
	return nil
}

func (e *Engine) emit(evt events.Event) {
	e.pending.Emit(evt)
}

// transact runs fn against a state snapshot. On error every write made by fn
// is reverted and its events dropped; events reach the emitter only once the
// outermost call succeeds.
func (e *Engine) transact(operation string, fn func() error) (err error) {
	if err := e.ready(); err != nil {
		return err
	}
	snap := e.state.Snapshot()
	mark := e.pending.Len()
	e.depth++
	defer func() {
		e.depth--
		if e.depth == 0 {
			e.telemetry.ObserveOperation(operation, err)
		}
	}()
	if err = fn(); err != nil {
		e.pending.Truncate(mark)
		if rerr := e.state.RevertToSnapshot(snap); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	if e.depth == 1 {
		e.pending.FlushTo(e.emitter)
	}
	return nil
}

// guarded wraps transact with the shared non-reentrancy lock.
func (e *Engine) guarded(operation string, fn func() error) error {
	if e == nil {
		return errNilState
	}
	release, err := e.lock.Enter()
	if err != nil {
		return fmt.Errorf("leverage: %s: %w", operation, err)
	}
	defer release()
	return e.transact(operation, fn)
}

func (e *Engine) requireOwner(caller common.Address) error {
	if caller != e.owner {
		return ErrUnauthorized
	}
	return nil
}

// pay moves amount of token from the engine's account, or pulls it from
// payer using the engine's allowance.
func (e *Engine) pay(token, payer, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if payer == e.address {
		return e.tokens.Transfer(token, e.address, to, amount)
	}
	return e.tokens.TransferFrom(token, e.address, payer, to, amount)
}

func (e *Engine) balanceOf(token common.Address) (*big.Int, error) {
	return e.tokens.BalanceOf(token, e.address)
}

func (e *Engine) pairBalance(tokenA, tokenB common.Address) (*big.Int, *big.Int, error) {
	a, err := e.balanceOf(tokenA)
	if err != nil {
		return nil, nil, err
	}
	b, err := e.balanceOf(tokenB)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

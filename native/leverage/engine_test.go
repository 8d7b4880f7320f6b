package leverage

import (
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lpleverage/core/events"
	"lpleverage/core/state"
	"lpleverage/native/amm"
	"lpleverage/native/amm/v3math"
	"lpleverage/native/bank"
	"lpleverage/native/vault"
	"lpleverage/storage"
)

var (
	saleAddr   = common.HexToAddress("0x1000000000000000000000000000000000000000")
	holdAddr   = common.HexToAddress("0x2000000000000000000000000000000000000000")
	quirkyAddr = common.HexToAddress("0x3000000000000000000000000000000000000000")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	vaultAddr  = common.HexToAddress("0x00000000000000000000000000000000000000e2")
	pmAddr     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	aggAddr    = common.HexToAddress("0x00000000000000000000000000000000000000ab")
	ownerAddr  = common.HexToAddress("0x000000000000000000000000000000000000000f")
	lender     = common.HexToAddress("0x0000000000000000000000000000000000000101")
	lender2    = common.HexToAddress("0x0000000000000000000000000000000000000102")
	borrower   = common.HexToAddress("0x0000000000000000000000000000000000000201")
	borrower2  = common.HexToAddress("0x0000000000000000000000000000000000000202")
	stranger   = common.HexToAddress("0x0000000000000000000000000000000000000301")
)

const (
	testFee = 3000
	// Positions below the starting price of 1 hold only the hold token.
	belowLower = -6000
	belowUpper = -60
	inLower    = -6000
	inUpper    = 6000
)

type targetSet map[common.Address]SwapTarget

func (s targetSet) SwapTarget(addr common.Address) (SwapTarget, bool) {
	target, ok := s[addr]
	return target, ok
}

type testEnv struct {
	state    *state.Manager
	ledger   *bank.Ledger
	exchange *amm.Exchange
	pm       *amm.PositionManager
	vault    *vault.Vault
	agg      *amm.Aggregator
	targets  targetSet
	engine   *Engine
	recorder *events.Recorder
	now      time.Time
}

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(mgr)
	tokens := map[common.Address]bank.Token{
		saleAddr:   {Symbol: "SALE", Decimals: 18},
		holdAddr:   {Symbol: "HOLD", Decimals: 18},
		quirkyAddr: {Symbol: "USDT", Decimals: 6, RejectMaxApproval: true, RequireZeroFirst: true},
	}
	for addr, token := range tokens {
		if err := ledger.RegisterToken(addr, token); err != nil {
			t.Fatalf("register %s: %v", token.Symbol, err)
		}
	}
	for _, holder := range []common.Address{lender, lender2, borrower, borrower2, stranger} {
		for _, token := range []common.Address{saleAddr, holdAddr} {
			if err := ledger.Mint(token, holder, e18(1000)); err != nil {
				t.Fatalf("mint: %v", err)
			}
			if err := ledger.Approve(token, holder, pmAddr, bank.MaxAllowance); err != nil {
				t.Fatalf("approve position manager: %v", err)
			}
			if err := ledger.Approve(token, holder, engineAddr, bank.MaxAllowance); err != nil {
				t.Fatalf("approve engine: %v", err)
			}
		}
	}

	exchange := amm.NewExchange(mgr, ledger)
	if _, err := exchange.CreatePool(saleAddr, holdAddr, testFee, v3math.Q96.ToBig()); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	env := &testEnv{
		state:    mgr,
		ledger:   ledger,
		exchange: exchange,
		pm:       amm.NewPositionManager(pmAddr, exchange, mgr, ledger),
		vault:    vault.New(ledger, vaultAddr, engineAddr),
		agg:      amm.NewAggregator(aggAddr, exchange, ledger),
		recorder: &events.Recorder{},
		now:      time.Unix(1_700_000_000, 0),
	}
	env.targets = targetSet{aggAddr: env.agg}

	engine := NewEngine(engineAddr, ownerAddr)
	engine.SetState(mgr)
	engine.SetTokens(ledger)
	engine.SetVault(env.vault)
	engine.SetPositions(env.pm)
	engine.SetPools(exchange)
	engine.SetQuoter(amm.NewQuoter(exchange))
	engine.SetSwapTargets(env.targets)
	engine.SetEmitter(env.recorder)
	engine.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	engine.SetClock(func() time.Time { return env.now })
	env.engine = engine
	return env
}

func (env *testEnv) deadline() uint64 {
	return uint64(env.now.Unix()) + 60
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

// mintPosition opens a position for owner and approves the engine as its
// operator.
func (env *testEnv) mintPosition(t *testing.T, owner common.Address, tickLower, tickUpper int) (uint64, *big.Int) {
	t.Helper()
	res, err := env.pm.Mint(owner, amm.MintParams{
		Token0:         saleAddr,
		Token1:         holdAddr,
		Fee:            testFee,
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		Amount0Desired: e18(100),
		Amount1Desired: e18(100),
		Recipient:      owner,
	})
	if err != nil {
		t.Fatalf("mint position: %v", err)
	}
	if err := env.pm.Approve(owner, engineAddr, res.TokenID); err != nil {
		t.Fatalf("approve engine operator: %v", err)
	}
	return res.TokenID, res.Liquidity
}

func (env *testEnv) positionLiquidity(t *testing.T, id uint64) *big.Int {
	t.Helper()
	pos, err := env.pm.Positions(id)
	if err != nil {
		t.Fatalf("position %d: %v", id, err)
	}
	return pos.Liquidity
}

func (env *testEnv) balance(t *testing.T, token, owner common.Address) *big.Int {
	t.Helper()
	balance, err := env.ledger.BalanceOf(token, owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (env *testEnv) borrowParams(loans ...LoanInfo) BorrowParams {
	return BorrowParams{
		InternalSwapPoolFee: testFee,
		SaleToken:           saleAddr,
		HoldToken:           holdAddr,
		MinHoldTokenOut:     big.NewInt(0),
		MaxCollateral:       e18(100),
		Loans:               loans,
	}
}

func (env *testEnv) borrow(t *testing.T, caller common.Address, loans ...LoanInfo) *BorrowResult {
	t.Helper()
	res, err := env.engine.Borrow(caller, env.borrowParams(loans...), env.deadline())
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	return res
}

func (env *testEnv) eventTypes() []string {
	var out []string
	for _, evt := range env.recorder.Drain() {
		out = append(out, evt.Type)
	}
	return out
}

func half(v *big.Int) *big.Int { return new(big.Int).Quo(v, big.NewInt(2)) }

// expectedDebt is the hold token debt of liquidity drawn from a position
// over [tickLower, tickUpper].
func expectedDebt(t *testing.T, tickLower, tickUpper int, liquidity *big.Int) *big.Int {
	t.Helper()
	sqrtLower, _ := v3math.GetSqrtRatioAtTick(tickLower)
	sqrtUpper, _ := v3math.GetSqrtRatioAtTick(tickUpper)
	amount, err := v3math.GetAmount1ForLiquidity(sqrtLower, sqrtUpper, uint256.MustFromBig(liquidity))
	if err != nil {
		t.Fatalf("amount1: %v", err)
	}
	return new(big.Int).Add(amount.ToBig(), big.NewInt(1))
}

func containsType(events []string, want string) bool {
	for _, evt := range events {
		if evt == want {
			return true
		}
	}
	return false
}

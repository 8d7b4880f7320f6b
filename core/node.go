package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
	"lpleverage/core/state"
	"lpleverage/native/amm"
	"lpleverage/native/bank"
	nativecommon "lpleverage/native/common"
	"lpleverage/native/leverage"
	"lpleverage/native/vault"
	"lpleverage/storage"
)

// LeverageModule is the pause guard name of the leverage engine.
const LeverageModule = "leverage"

var ErrNodeClosed = errors.New("node: closed")

// Addresses are the fixed protocol accounts of the ledger.
type Addresses struct {
	Engine          common.Address
	Vault           common.Address
	PositionManager common.Address
	Aggregator      common.Address
	Owner           common.Address
}

// Node is the central controller, wiring all components together. It is the
// single executor of the ledger: every transaction runs under one mutex and
// its writes are committed or discarded as a whole.
type Node struct {
	mu     sync.Mutex
	closed bool

	db        storage.Database
	state     *state.Manager
	addrs     Addresses
	ledger    *bank.Ledger
	exchange  *amm.Exchange
	positions *amm.PositionManager
	quoter    *amm.Quoter
	agg       *amm.Aggregator
	vault     *vault.Vault
	engine    *leverage.Engine
	pauses    *nativecommon.PauseSet
	recorder  *events.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// swapTargets exposes the in-ledger aggregator as the only reachable swap
// target. Whether a call is allowed is still decided by the engine whitelist.
type swapTargets map[common.Address]leverage.SwapTarget

func (s swapTargets) SwapTarget(addr common.Address) (leverage.SwapTarget, bool) {
	target, ok := s[addr]
	return target, ok
}

// NewNode assembles the ledger on db. A nil clock uses time.Now.
func NewNode(db storage.Database, addrs Addresses, logger *slog.Logger, clock func() time.Time) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if addrs.Engine == (common.Address{}) || addrs.Vault == (common.Address{}) || addrs.PositionManager == (common.Address{}) || addrs.Owner == (common.Address{}) {
		return nil, fmt.Errorf("node: engine, vault, position manager and owner addresses required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = time.Now
	}
	mgr := state.NewManager(db)
	ledger := bank.NewLedger(mgr)
	exchange := amm.NewExchange(mgr, ledger)
	n := &Node{
		db:        db,
		state:     mgr,
		addrs:     addrs,
		ledger:    ledger,
		exchange:  exchange,
		positions: amm.NewPositionManager(addrs.PositionManager, exchange, mgr, ledger),
		quoter:    amm.NewQuoter(exchange),
		vault:     vault.New(ledger, addrs.Vault, addrs.Engine),
		pauses:    nativecommon.NewPauseSet(),
		recorder:  &events.Recorder{},
		logger:    logger,
		now:       clock,
	}
	targets := swapTargets{}
	if addrs.Aggregator != (common.Address{}) {
		n.agg = amm.NewAggregator(addrs.Aggregator, exchange, ledger)
		targets[addrs.Aggregator] = n.agg
	}

	engine := leverage.NewEngine(addrs.Engine, addrs.Owner)
	engine.SetState(mgr)
	engine.SetTokens(ledger)
	engine.SetVault(n.vault)
	engine.SetPositions(n.positions)
	engine.SetPools(exchange)
	engine.SetQuoter(n.quoter)
	engine.SetSwapTargets(targets)
	engine.SetPauses(n.pauses)
	engine.SetEmitter(n.recorder)
	engine.SetLogger(logger.With(slog.String("component", "leverage")))
	engine.SetClock(n.Now)
	n.engine = engine
	return n, nil
}

// Now returns the ledger clock.
func (n *Node) Now() time.Time {
	return n.now()
}

func (n *Node) Addresses() Addresses { return n.addrs }

// Execute runs fn as one transaction. Its writes are committed to the
// database when fn succeeds and dropped otherwise. The events it emitted are
// returned on success.
func (n *Node) Execute(fn func(*leverage.Engine) error) ([]*events.Record, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	n.recorder.Drain()
	if err := fn(n.engine); err != nil {
		n.state.Discard()
		n.recorder.Drain()
		return nil, err
	}
	if err := n.state.Commit(); err != nil {
		n.state.Discard()
		n.recorder.Drain()
		return nil, err
	}
	return n.recorder.Drain(), nil
}

// View runs a read-only fn against the committed state.
func (n *Node) View(fn func(*leverage.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	defer n.state.Discard()
	return fn(n.engine)
}

// SetPaused toggles the leverage module pause guard. Repayments stay open
// while paused.
func (n *Node) SetPaused(paused bool) {
	n.pauses.SetPaused(LeverageModule, paused)
	n.logger.Info("leverage pause updated", slog.Bool("paused", paused))
}

func (n *Node) Paused() bool {
	return n.pauses.IsPaused(LeverageModule)
}

// BalanceOf reads a committed token balance.
func (n *Node) BalanceOf(token, owner common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(token, owner)
}

// Position reads a committed liquidity position.
func (n *Node) Position(id uint64) (*amm.Position, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.positions.Positions(id)
}

// TokenDecimals reports the registered decimals of token.
func (n *Node) TokenDecimals(token common.Address) (uint8, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	meta, err := n.ledger.Token(token)
	if err != nil || meta == nil {
		return 0, false
	}
	return meta.Decimals, true
}

// Close stops accepting transactions and closes the database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.state.Discard()
	n.db.Close()
}

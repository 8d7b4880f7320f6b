package core

import (
	"errors"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"lpleverage/config"
	"lpleverage/core/events"
	"lpleverage/native/amm"
	nativecommon "lpleverage/native/common"
	"lpleverage/native/leverage"
	"lpleverage/storage"
)

var (
	saleToken = common.HexToAddress("0x1000000000000000000000000000000000000000")
	holdToken = common.HexToAddress("0x2000000000000000000000000000000000000000")
	lender    = common.HexToAddress("0x0000000000000000000000000000000000000101")
	borrower  = common.HexToAddress("0x0000000000000000000000000000000000000201")
)

func testAddresses() Addresses {
	return Addresses{
		Engine:          common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		Vault:           common.HexToAddress("0x00000000000000000000000000000000000000e2"),
		PositionManager: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Aggregator:      common.HexToAddress("0x00000000000000000000000000000000000000ab"),
		Owner:           common.HexToAddress("0x000000000000000000000000000000000000000f"),
	}
}

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node, err := NewNode(db, testAddresses(), logger, func() time.Time { return now })
	require.NoError(t, err)
	return node
}

func seededNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	node := newTestNode(t, db)
	g, err := config.LoadGenesis(filepath.Join("..", "config", "testdata", "genesis.yaml"))
	require.NoError(t, err)
	applied, err := node.ApplyGenesis(g)
	require.NoError(t, err)
	require.True(t, applied)
	return node
}

func borrowHalf(t *testing.T, node *Node) (*leverage.BorrowResult, error) {
	t.Helper()
	pos, err := node.Position(1)
	require.NoError(t, err)
	var res *leverage.BorrowResult
	evts, err := node.Execute(func(engine *leverage.Engine) error {
		var berr error
		res, berr = engine.Borrow(borrower, leverage.BorrowParams{
			InternalSwapPoolFee: 3000,
			SaleToken:           saleToken,
			HoldToken:           holdToken,
			MinHoldTokenOut:     big.NewInt(0),
			MaxCollateral:       new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil),
			Loans:               []leverage.LoanInfo{{Liquidity: new(big.Int).Quo(pos.Liquidity, big.NewInt(2)), TokenID: 1}},
		}, uint64(node.Now().Unix())+60)
		return berr
	})
	if err == nil {
		require.Equal(t, events.TypeLeverageBorrow, evts[len(evts)-1].Type)
	}
	return res, err
}

func TestNewNodeRequiresAddresses(t *testing.T) {
	_, err := NewNode(storage.NewMemDB(), Addresses{}, nil, nil)
	require.Error(t, err)
	_, err = NewNode(nil, testAddresses(), nil, nil)
	require.Error(t, err)
}

func TestApplyGenesisOnce(t *testing.T) {
	db := storage.NewMemDB()
	node := seededNode(t, db)

	balance, err := node.BalanceOf(saleToken, borrower)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", balance.String())

	pos, err := node.Position(1)
	require.NoError(t, err)
	require.Equal(t, lender, pos.Owner)
	require.Equal(t, testAddresses().Engine, pos.Operator)

	require.NoError(t, node.View(func(engine *leverage.Engine) error {
		rate, _, err := engine.GetHoldTokenDailyRateInfo(saleToken, holdToken)
		require.Equal(t, uint64(20), rate)
		return err
	}))

	g, err := config.LoadGenesis(filepath.Join("..", "config", "testdata", "genesis.yaml"))
	require.NoError(t, err)
	again, err := node.ApplyGenesis(g)
	require.NoError(t, err)
	require.False(t, again)

	// A fresh node on the same database sees the committed seed.
	reopened := newTestNode(t, db)
	again, err = reopened.ApplyGenesis(g)
	require.NoError(t, err)
	require.False(t, again)
	pos, err = reopened.Position(1)
	require.NoError(t, err)
	require.Equal(t, lender, pos.Owner)
}

func TestExecuteDiscardsFailedTransaction(t *testing.T) {
	node := seededNode(t, storage.NewMemDB())
	boom := errors.New("boom")

	_, err := node.Execute(func(*leverage.Engine) error {
		require.NoError(t, node.ledger.Mint(saleToken, lender, big.NewInt(5)))
		return boom
	})
	require.ErrorIs(t, err, boom)
	balance, err := node.BalanceOf(saleToken, lender)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000000", balance.String())

	_, err = node.Execute(func(*leverage.Engine) error {
		return node.ledger.Mint(saleToken, lender, big.NewInt(5))
	})
	require.NoError(t, err)
	balance, err = node.BalanceOf(saleToken, lender)
	require.NoError(t, err)
	require.Equal(t, "1000000000000000000005", balance.String())
}

func TestBorrowThroughNode(t *testing.T) {
	db := storage.NewMemDB()
	node := seededNode(t, db)

	res, err := borrowHalf(t, node)
	require.NoError(t, err)
	require.Equal(t, 1, res.BorrowedAmount.Cmp(leverage.MinimumBorrowedAmount))

	reopened := newTestNode(t, db)
	require.NoError(t, reopened.View(func(engine *leverage.Engine) error {
		keys, err := engine.GetBorrowingKeysForBorrower(borrower)
		require.Equal(t, []common.Hash{res.BorrowingKey}, keys)
		return err
	}))
}

func TestPausedNodeRejectsBorrow(t *testing.T) {
	node := seededNode(t, storage.NewMemDB())
	node.SetPaused(true)
	require.True(t, node.Paused())
	_, err := borrowHalf(t, node)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	node.SetPaused(false)
	_, err = borrowHalf(t, node)
	require.NoError(t, err)
}

func TestApplySettings(t *testing.T) {
	node := seededNode(t, storage.NewMemDB())
	operator := "0x0000000000000000000000000000000000000abc"
	err := node.ApplySettings(config.LeverageConfig{
		PlatformFeeBP:             1500,
		DefaultLiquidationBonusBP: 50,
		DailyRateOperator:         operator,
		LiquidationBonuses: []config.TokenLiquidation{{
			Token:          holdToken.Hex(),
			BonusBP:        80,
			MinBonusAmount: "1000",
		}},
		SwapWhitelist: []config.SwapCall{{Target: testAddresses().Aggregator.Hex()}},
	})
	require.NoError(t, err)

	require.NoError(t, node.View(func(engine *leverage.Engine) error {
		settings, err := engine.Settings()
		require.NoError(t, err)
		require.Equal(t, uint64(1500), settings.PlatformFeesBP)
		require.Equal(t, uint64(50), settings.DefaultLiquidationBonusBP)
		require.Equal(t, common.HexToAddress(operator), settings.DailyRateOperator)

		var selector [4]byte
		copy(selector[:], amm.SwapExactInSelector)
		ok, err := engine.IsWhitelisted(testAddresses().Aggregator, selector)
		require.NoError(t, err)
		require.True(t, ok)

		bonus, err := engine.GetLiquidationBonus(holdToken, big.NewInt(1_000_000), 1)
		require.NoError(t, err)
		require.Equal(t, "8000", bonus.String())
		return nil
	}))

	// The engine refuses to whitelist its own vault.
	err = node.ApplySettings(config.LeverageConfig{
		SwapWhitelist: []config.SwapCall{{Target: testAddresses().Vault.Hex()}},
	})
	require.ErrorIs(t, err, leverage.ErrInvalidSwapTarget)
}

func TestClosedNode(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	node.Close()
	node.Close()
	_, err := node.Execute(func(*leverage.Engine) error { return nil })
	require.ErrorIs(t, err, ErrNodeClosed)
	require.ErrorIs(t, node.View(func(*leverage.Engine) error { return nil }), ErrNodeClosed)
}

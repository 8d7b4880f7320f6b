package leverage

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/events"
	"lpleverage/native/amm"
	"lpleverage/native/amm/v3math"
	"lpleverage/native/bank"
	nativecommon "lpleverage/native/common"
)

func TestBorrowOpensBorrowing(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	loan := LoanInfo{Liquidity: half(liquidity), TokenID: id}

	borrowerBefore := env.balance(t, holdAddr, borrower)
	res := env.borrow(t, borrower, loan)

	debt := expectedDebt(t, belowLower, belowUpper, loan.Liquidity)
	if res.BorrowedAmount.Cmp(debt) != 0 {
		t.Fatalf("borrowed: want %s got %s", debt, res.BorrowedAmount)
	}
	// The position holds only the hold token, so the collateral is the
	// rounding unit.
	if res.BorrowingCollateral.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("collateral: want 1 got %s", res.BorrowingCollateral)
	}
	wantPrepay := mulDivRoundingUp(debt, big.NewInt(DefaultDailyRate), bp)
	if res.DailyRateCollateral.Cmp(wantPrepay) != 0 {
		t.Fatalf("daily rate collateral: want %s got %s", wantPrepay, res.DailyRateCollateral)
	}
	wantBonus := mulDiv(debt, big.NewInt(DefaultLiquidationBonusBP), bp)
	if res.LiquidationBonus.Cmp(wantBonus) != 0 {
		t.Fatalf("bonus: want %s got %s", wantBonus, res.LiquidationBonus)
	}

	if got := env.positionLiquidity(t, id); got.Cmp(new(big.Int).Sub(liquidity, loan.Liquidity)) != 0 {
		t.Fatalf("position liquidity not reduced: %s", got)
	}
	paid := new(big.Int).Sub(borrowerBefore, env.balance(t, holdAddr, borrower))
	wantPaid := new(big.Int).Add(res.BorrowingCollateral, res.LiquidationBonus)
	wantPaid.Add(wantPaid, res.DailyRateCollateral)
	if paid.Cmp(wantPaid) != 0 {
		t.Fatalf("borrower paid %s, want %s", paid, wantPaid)
	}
	wantVault := new(big.Int).Add(debt, res.LiquidationBonus)
	wantVault.Add(wantVault, res.DailyRateCollateral)
	if got := env.balance(t, holdAddr, vaultAddr); got.Cmp(wantVault) != 0 {
		t.Fatalf("vault holds %s, want %s", got, wantVault)
	}
	if env.balance(t, holdAddr, engineAddr).Sign() != 0 || env.balance(t, saleAddr, engineAddr).Sign() != 0 {
		t.Fatalf("engine must not keep balances after borrow")
	}

	info, err := env.engine.GetBorrowingInfo(res.BorrowingKey)
	if err != nil {
		t.Fatalf("borrowing info: %v", err)
	}
	if info.Borrower != borrower || info.BorrowedAmount.Cmp(debt) != 0 {
		t.Fatalf("unexpected borrowing: %+v", info)
	}
	if info.DailyRateCollateralBalance.Cmp(toScaled(wantPrepay)) != 0 {
		t.Fatalf("collateral balance must be scaled prepayment, got %s", info.DailyRateCollateralBalance)
	}
	userKeys, _ := env.engine.GetBorrowingKeysForBorrower(borrower)
	tokenKeys, _ := env.engine.GetBorrowingKeysForTokenID(id)
	if len(userKeys) != 1 || userKeys[0] != res.BorrowingKey || len(tokenKeys) != 1 || tokenKeys[0] != res.BorrowingKey {
		t.Fatalf("indices not updated: user %v token %v", userKeys, tokenKeys)
	}
	_, rate, err := env.engine.GetHoldTokenDailyRateInfo(saleAddr, holdAddr)
	if err != nil {
		t.Fatalf("rate info: %v", err)
	}
	if rate.TotalBorrowed.Cmp(debt) != 0 {
		t.Fatalf("total borrowed: want %s got %s", debt, rate.TotalBorrowed)
	}

	balance, lifetime, err := env.engine.CheckDailyRateCollateral(res.BorrowingKey)
	if err != nil {
		t.Fatalf("check collateral: %v", err)
	}
	if balance.Cmp(wantPrepay) != 0 {
		t.Fatalf("balance: want %s got %s", wantPrepay, balance)
	}
	if lifetime < secondsPerDay-1 || lifetime > secondsPerDay {
		t.Fatalf("prepayment should last about a day, got %d", lifetime)
	}
	if evts := env.eventTypes(); len(evts) != 1 || evts[0] != events.TypeLeverageBorrow {
		t.Fatalf("unexpected events: %v", evts)
	}
}

func TestBorrowMergesIntoOpenBorrowing(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	quarter := new(big.Int).Quo(liquidity, big.NewInt(4))
	first := env.borrow(t, borrower, LoanInfo{Liquidity: quarter, TokenID: id})

	env.advance(12 * time.Hour)
	second := env.borrow(t, borrower, LoanInfo{Liquidity: quarter, TokenID: id})
	if first.BorrowingKey != second.BorrowingKey {
		t.Fatalf("same pair must reuse the borrowing key")
	}
	if second.FeesDebt.Sign() != 0 {
		t.Fatalf("solvent borrowing owes no fee debt, got %s", second.FeesDebt)
	}
	info, err := env.engine.GetBorrowingInfo(first.BorrowingKey)
	if err != nil {
		t.Fatalf("borrowing info: %v", err)
	}
	total := new(big.Int).Add(first.BorrowedAmount, second.BorrowedAmount)
	if info.BorrowedAmount.Cmp(total) != 0 {
		t.Fatalf("principal: want %s got %s", total, info.BorrowedAmount)
	}
	if info.FeesOwed.Sign() <= 0 {
		t.Fatalf("accrued fees must be realised on merge")
	}
	loans, _ := env.engine.GetLoansInfo(first.BorrowingKey)
	if len(loans) != 2 {
		t.Fatalf("expected two loans, got %d", len(loans))
	}
	tokenKeys, _ := env.engine.GetBorrowingKeysForTokenID(id)
	userKeys, _ := env.engine.GetBorrowingKeysForBorrower(borrower)
	if len(tokenKeys) != 1 || len(userKeys) != 1 {
		t.Fatalf("indices must hold the key once: token %v user %v", tokenKeys, userKeys)
	}
	fees, err := env.engine.GetPlatformsFeesInfo([]common.Address{holdAddr})
	if err != nil {
		t.Fatalf("platform fees: %v", err)
	}
	if fees[0].Sign() <= 0 {
		t.Fatalf("platform share must be skimmed on merge")
	}
}

func TestBorrowValidation(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)

	tooMuch := new(big.Int).Add(liquidity, big.NewInt(1))
	_, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: tooMuch, TokenID: id}), env.deadline())
	var liqErr *InvalidBorrowedLiquidityError
	if !errors.As(err, &liqErr) || liqErr.TokenID != id {
		t.Fatalf("expected invalid borrowed liquidity, got %v", err)
	}
	if _, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: big.NewInt(0), TokenID: id}), env.deadline()); !errors.Is(err, ErrInvalidBorrowedLiquidity) {
		t.Fatalf("expected invalid borrowed liquidity for zero, got %v", err)
	}
	if _, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: big.NewInt(10), TokenID: id}), env.deadline()); !errors.Is(err, ErrTooLittleBorrowedLiquidity) {
		t.Fatalf("expected too little borrowed liquidity, got %v", err)
	}

	unapproved, unapprovedLiq := env.mintPosition(t, lender2, belowLower, belowUpper)
	if err := env.pm.Approve(lender2, common.Address{}, unapproved); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: half(unapprovedLiq), TokenID: unapproved}), env.deadline()); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected not approved, got %v", err)
	}

	foreign, foreignLiq := env.mintForeignPosition(t)
	if _, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: half(foreignLiq), TokenID: foreign}), env.deadline()); !errors.Is(err, ErrInvalidTokens) {
		t.Fatalf("expected invalid tokens, got %v", err)
	}

	params := env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id})
	params.MaxCollateral = big.NewInt(0)
	if _, err := env.engine.Borrow(borrower, params, env.deadline()); !errors.Is(err, ErrTooBigCollateral) {
		t.Fatalf("expected too big collateral, got %v", err)
	}

	params = env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id})
	params.MinHoldTokenOut = liquidity
	if _, err := env.engine.Borrow(borrower, params, env.deadline()); !errors.Is(err, ErrTooLittleReceived) {
		t.Fatalf("expected too little received, got %v", err)
	}

	loans := make([]LoanInfo, MaxNumLoansPerPosition+1)
	for i := range loans {
		loans[i] = LoanInfo{Liquidity: big.NewInt(1), TokenID: id}
	}
	if _, err := env.engine.Borrow(borrower, env.borrowParams(loans...), env.deadline()); !errors.Is(err, ErrTooManyLoansPerPosition) {
		t.Fatalf("expected too many loans, got %v", err)
	}

	if _, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id}), uint64(env.now.Unix())-1); !errors.Is(err, ErrTooOldTransaction) {
		t.Fatalf("expected too old transaction, got %v", err)
	}

	// Every failure above must leave the ledger untouched.
	if got := env.positionLiquidity(t, id); got.Cmp(liquidity) != 0 {
		t.Fatalf("failed borrows changed the position: %s", got)
	}
	if keys, _ := env.engine.GetBorrowingKeysForBorrower(borrower); len(keys) != 0 {
		t.Fatalf("failed borrows left keys: %v", keys)
	}
	if evts := env.eventTypes(); len(evts) != 0 {
		t.Fatalf("failed borrows emitted events: %v", evts)
	}
}

func TestBorrowLoanCapAcrossMerges(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	slice := new(big.Int).Quo(liquidity, big.NewInt(20))
	loans := make([]LoanInfo, MaxNumLoansPerPosition)
	for i := range loans {
		loans[i] = LoanInfo{Liquidity: slice, TokenID: id}
	}
	env.borrow(t, borrower, loans...)
	_, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: slice, TokenID: id}), env.deadline())
	if !errors.Is(err, ErrTooManyLoansPerPosition) {
		t.Fatalf("expected loan cap on merge, got %v", err)
	}
	key := BorrowingKey(borrower, saleAddr, holdAddr)
	if loans, _ := env.engine.GetLoansInfo(key); len(loans) != MaxNumLoansPerPosition {
		t.Fatalf("rejected merge must keep %d loans, got %d", MaxNumLoansPerPosition, len(loans))
	}
}

func TestBorrowPaused(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, belowLower, belowUpper)
	pauses := nativecommon.NewPauseSet()
	pauses.SetPaused(moduleName, true)
	env.engine.SetPauses(pauses)
	_, err := env.engine.Borrow(borrower, env.borrowParams(LoanInfo{Liquidity: half(liquidity), TokenID: id}), env.deadline())
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused module, got %v", err)
	}
}

func TestBorrowSwapsSaleTokenInternally(t *testing.T) {
	env := newTestEnv(t)
	id, liquidity := env.mintPosition(t, lender, inLower, inUpper)
	res := env.borrow(t, borrower, LoanInfo{Liquidity: half(liquidity), TokenID: id})
	if res.BorrowingCollateral.Sign() <= 0 {
		t.Fatalf("an in-range loan needs collateral, got %s", res.BorrowingCollateral)
	}
	if res.BorrowingCollateral.Cmp(res.BorrowedAmount) >= 0 {
		t.Fatalf("collateral %s must stay below the borrowed amount %s", res.BorrowingCollateral, res.BorrowedAmount)
	}
	if env.balance(t, saleAddr, engineAddr).Sign() != 0 {
		t.Fatalf("sale token proceeds must be swapped away")
	}
	pool, err := env.exchange.PoolFor(saleAddr, holdAddr, testFee)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.SqrtPriceX96.Cmp(v3math.Q96.ToBig()) >= 0 {
		t.Fatalf("selling the sale token must lower the price, got %s", pool.SqrtPriceX96)
	}
}

// mintForeignPosition opens a position on the sale/USDT pair, approved for
// the engine.
func (env *testEnv) mintForeignPosition(t *testing.T) (uint64, *big.Int) {
	t.Helper()
	if err := env.ledger.Mint(quirkyAddr, lender, e18(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(quirkyAddr, lender, pmAddr, e18(1000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.exchange.CreatePool(saleAddr, quirkyAddr, testFee, v3math.Q96.ToBig()); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	res, err := env.pm.Mint(lender, amm.MintParams{
		Token0:         saleAddr,
		Token1:         quirkyAddr,
		Fee:            testFee,
		TickLower:      belowLower,
		TickUpper:      belowUpper,
		Amount0Desired: e18(100),
		Amount1Desired: e18(100),
		Recipient:      lender,
	})
	if err != nil {
		t.Fatalf("mint position: %v", err)
	}
	if err := env.pm.Approve(lender, engineAddr, res.TokenID); err != nil {
		t.Fatalf("approve operator: %v", err)
	}
	return res.TokenID, res.Liquidity
}

func TestBorrowUserPositionCap(t *testing.T) {
	env := newTestEnv(t)
	var ids []uint64
	var liquidities []*big.Int
	for i := 0; i <= MaxNumUserPositions; i++ {
		sale := common.BigToAddress(new(big.Int).Add(saleAddr.Big(), big.NewInt(int64(i+1))))
		id, liquidity := env.mintPairPosition(t, sale)
		ids = append(ids, id)
		liquidities = append(liquidities, liquidity)
	}
	for i := 0; i < MaxNumUserPositions; i++ {
		params := env.borrowParams(LoanInfo{Liquidity: half(liquidities[i]), TokenID: ids[i]})
		params.SaleToken = common.BigToAddress(new(big.Int).Add(saleAddr.Big(), big.NewInt(int64(i+1))))
		if _, err := env.engine.Borrow(borrower, params, env.deadline()); err != nil {
			t.Fatalf("borrow %d: %v", i, err)
		}
	}
	env.eventTypes()

	last := MaxNumUserPositions
	params := env.borrowParams(LoanInfo{Liquidity: half(liquidities[last]), TokenID: ids[last]})
	params.SaleToken = common.BigToAddress(new(big.Int).Add(saleAddr.Big(), big.NewInt(int64(last+1))))
	if _, err := env.engine.Borrow(borrower, params, env.deadline()); !errors.Is(err, ErrTooManyUserPositions) {
		t.Fatalf("expected too many user positions, got %v", err)
	}
	if keys, _ := env.engine.GetBorrowingKeysForBorrower(borrower); len(keys) != MaxNumUserPositions {
		t.Fatalf("rejected borrow must keep %d keys, got %d", MaxNumUserPositions, len(keys))
	}
	if keys, _ := env.engine.GetBorrowingKeysForTokenID(ids[last]); len(keys) != 0 {
		t.Fatalf("rejected borrow must not index the position, got %v", keys)
	}
	if got := env.positionLiquidity(t, ids[last]); got.Cmp(liquidities[last]) != 0 {
		t.Fatalf("rejected borrow changed the position: %s", got)
	}
	if evts := env.eventTypes(); len(evts) != 0 {
		t.Fatalf("rejected borrow emitted events: %v", evts)
	}

	// Another borrower is not affected by the cap.
	if _, err := env.engine.Borrow(borrower2, params, env.deadline()); err != nil {
		t.Fatalf("borrow by another borrower: %v", err)
	}
}

// mintPairPosition registers sale, opens its pool against the hold token and
// mints a hold-only position for the lender, approved for the engine.
func (env *testEnv) mintPairPosition(t *testing.T, sale common.Address) (uint64, *big.Int) {
	t.Helper()
	if err := env.ledger.RegisterToken(sale, bank.Token{Symbol: "S" + sale.Hex()[38:], Decimals: 18}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := env.ledger.Mint(sale, lender, e18(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(sale, lender, pmAddr, bank.MaxAllowance); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.exchange.CreatePool(sale, holdAddr, testFee, v3math.Q96.ToBig()); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	res, err := env.pm.Mint(lender, amm.MintParams{
		Token0:         sale,
		Token1:         holdAddr,
		Fee:            testFee,
		TickLower:      belowLower,
		TickUpper:      belowUpper,
		Amount0Desired: e18(10),
		Amount1Desired: e18(10),
		Recipient:      lender,
	})
	if err != nil {
		t.Fatalf("mint position: %v", err)
	}
	if err := env.pm.Approve(lender, engineAddr, res.TokenID); err != nil {
		t.Fatalf("approve operator: %v", err)
	}
	return res.TokenID, res.Liquidity
}

package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"lpleverage/core/state"
	"lpleverage/storage"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	quirky = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	alice  = common.HexToAddress("0x0000000000000000000000000000000000001111")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000002222")
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	if err := ledger.RegisterToken(tokenA, Token{Symbol: "tka", Decimals: 18}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := ledger.RegisterToken(quirky, Token{Symbol: "usdt", Decimals: 6, RejectMaxApproval: true, RequireZeroFirst: true}); err != nil {
		t.Fatalf("register quirky: %v", err)
	}
	return ledger
}

func TestTransferAndBalances(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Mint(tokenA, alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(tokenA, alice, bob, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	a, _ := ledger.BalanceOf(tokenA, alice)
	b, _ := ledger.BalanceOf(tokenA, bob)
	if a.Int64() != 60 || b.Int64() != 40 {
		t.Fatalf("unexpected balances alice=%s bob=%s", a, b)
	}
	if err := ledger.Transfer(tokenA, bob, alice, big.NewInt(41)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if _, err := ledger.BalanceOf(common.HexToAddress("0xdead"), alice); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if err := ledger.RegisterToken(tokenA, Token{Symbol: "dup"}); !errors.Is(err, ErrTokenExists) {
		t.Fatalf("expected duplicate registration error, got %v", err)
	}
}

func TestTransferFromAllowance(t *testing.T) {
	ledger := newTestLedger(t)
	_ = ledger.Mint(tokenA, alice, big.NewInt(100))
	if err := ledger.TransferFrom(tokenA, bob, alice, bob, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := ledger.Approve(tokenA, alice, bob, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(tokenA, bob, alice, bob, big.NewInt(20)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance(tokenA, alice, bob)
	if remaining.Int64() != 10 {
		t.Fatalf("expected allowance 10, got %s", remaining)
	}

	if err := ledger.Approve(tokenA, alice, bob, MaxAllowance); err != nil {
		t.Fatalf("approve max: %v", err)
	}
	if err := ledger.TransferFrom(tokenA, bob, alice, bob, big.NewInt(50)); err != nil {
		t.Fatalf("transferFrom max: %v", err)
	}
	remaining, _ = ledger.Allowance(tokenA, alice, bob)
	if remaining.Cmp(MaxAllowance) != 0 {
		t.Fatalf("max allowance must not be decremented, got %s", remaining)
	}
}

func TestApproveQuirks(t *testing.T) {
	ledger := newTestLedger(t)
	if err := ledger.Approve(quirky, alice, bob, MaxAllowance); !errors.Is(err, ErrApproveRejected) {
		t.Fatalf("expected max approval rejected, got %v", err)
	}
	almostMax := new(big.Int).Sub(MaxAllowance, big.NewInt(1))
	if err := ledger.Approve(quirky, alice, bob, almostMax); err != nil {
		t.Fatalf("approve max-1: %v", err)
	}
	if err := ledger.Approve(quirky, alice, bob, big.NewInt(5)); !errors.Is(err, ErrApproveRejected) {
		t.Fatalf("expected zero-first rejection, got %v", err)
	}
	if err := ledger.Approve(quirky, alice, bob, big.NewInt(0)); err != nil {
		t.Fatalf("reset to zero: %v", err)
	}
	if err := ledger.Approve(quirky, alice, bob, big.NewInt(5)); err != nil {
		t.Fatalf("approve after reset: %v", err)
	}
}

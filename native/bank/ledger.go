package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// Storage abstracts the subset of state manager functionality required by the
// token ledger.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

var (
	ErrUnknownToken          = errors.New("bank: unknown token")
	ErrTokenExists           = errors.New("bank: token already registered")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrApproveRejected       = errors.New("bank: approve rejected")
	ErrInvalidAmount         = errors.New("bank: invalid amount")
)

// MaxAllowance is the allowance value treated as unlimited by TransferFrom.
var MaxAllowance = new(big.Int).Set(math.MaxBig256)

var (
	tokenPrefix     = []byte("bank/token/")
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

// Token describes a fungible token held in the ledger. The quirk flags mimic
// tokens whose approve implementation deviates from the usual behaviour.
type Token struct {
	Symbol   string
	Decimals uint8
	// RejectMaxApproval makes approve fail for the maximum uint256 amount.
	RejectMaxApproval bool
	// RequireZeroFirst makes approve fail when replacing a non-zero allowance
	// with another non-zero allowance.
	RequireZeroFirst bool
}

func tokenKey(token common.Address) []byte {
	return append(append([]byte{}, tokenPrefix...), token.Bytes()...)
}

func balanceKey(token, owner common.Address) []byte {
	buf := append(append([]byte{}, balancePrefix...), token.Bytes()...)
	return append(buf, owner.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	buf := append(append([]byte{}, allowancePrefix...), token.Bytes()...)
	buf = append(buf, owner.Bytes()...)
	return append(buf, spender.Bytes()...)
}

// Ledger tracks balances and allowances for every registered token.
type Ledger struct {
	store Storage
}

// NewLedger constructs a token ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// RegisterToken records the metadata of a new token.
func (l *Ledger) RegisterToken(addr common.Address, token Token) error {
	if addr == (common.Address{}) {
		return fmt.Errorf("bank: token address required")
	}
	if strings.TrimSpace(token.Symbol) == "" {
		return fmt.Errorf("bank: token symbol required")
	}
	ok, err := l.store.KVGet(tokenKey(addr), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrTokenExists
	}
	token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
	return l.store.KVPut(tokenKey(addr), token)
}

// Token returns the metadata of a registered token.
func (l *Ledger) Token(addr common.Address) (*Token, error) {
	var token Token
	ok, err := l.store.KVGet(tokenKey(addr), &token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return &token, nil
}

func (l *Ledger) requireToken(addr common.Address) (*Token, error) {
	return l.Token(addr)
}

func (l *Ledger) readAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := l.store.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// BalanceOf returns the balance of owner in token.
func (l *Ledger) BalanceOf(token, owner common.Address) (*big.Int, error) {
	if _, err := l.requireToken(token); err != nil {
		return nil, err
	}
	return l.readAmount(balanceKey(token, owner))
}

// Allowance returns how much spender may move on behalf of owner.
func (l *Ledger) Allowance(token, owner, spender common.Address) (*big.Int, error) {
	if _, err := l.requireToken(token); err != nil {
		return nil, err
	}
	return l.readAmount(allowanceKey(token, owner, spender))
}

// Mint credits amount of token to the recipient.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	balance, err := l.BalanceOf(token, to)
	if err != nil {
		return err
	}
	return l.store.KVPut(balanceKey(token, to), balance.Add(balance, amount))
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	fromBalance, err := l.BalanceOf(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance, amount)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	toBalance, err := l.readAmount(balanceKey(token, to))
	if err != nil {
		return err
	}
	if err := l.store.KVPut(balanceKey(token, from), fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.store.KVPut(balanceKey(token, to), toBalance.Add(toBalance, amount))
}

// Approve sets the allowance of spender over the owner's tokens, honouring the
// token's approve quirks.
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	meta, err := l.requireToken(token)
	if err != nil {
		return err
	}
	if meta.RejectMaxApproval && amount.Cmp(MaxAllowance) == 0 {
		return fmt.Errorf("%w: %s refuses max approval", ErrApproveRejected, meta.Symbol)
	}
	if meta.RequireZeroFirst && amount.Sign() > 0 {
		current, err := l.readAmount(allowanceKey(token, owner, spender))
		if err != nil {
			return err
		}
		if current.Sign() > 0 {
			return fmt.Errorf("%w: %s requires resetting allowance to zero", ErrApproveRejected, meta.Symbol)
		}
	}
	return l.store.KVPut(allowanceKey(token, owner, spender), new(big.Int).Set(amount))
}

// TransferFrom moves tokens on behalf of from using the spender's allowance.
// A maximal allowance is never decremented.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	allowance, err := l.Allowance(token, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s, needs %s", ErrInsufficientAllowance, spender.Hex(), allowance, amount)
	}
	if err := l.Transfer(token, from, to, amount); err != nil {
		return err
	}
	if allowance.Cmp(MaxAllowance) == 0 {
		return nil
	}
	return l.store.KVPut(allowanceKey(token, from, spender), allowance.Sub(allowance, amount))
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

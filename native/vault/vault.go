package vault

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("vault: caller is not the owner")

// TokenLedger is the token custody primitive the vault keeps its funds in.
type TokenLedger interface {
	BalanceOf(token, owner common.Address) (*big.Int, error)
	Transfer(token, from, to common.Address, amount *big.Int) error
}

// Vault holds protocol funds under its own address. Only the owner may move
// them.
type Vault struct {
	ledger  TokenLedger
	address common.Address
	owner   common.Address
}

func New(ledger TokenLedger, address, owner common.Address) *Vault {
	return &Vault{ledger: ledger, address: address, owner: owner}
}

// Address returns the account the vault's balances are held under.
func (v *Vault) Address() common.Address {
	if v == nil {
		return common.Address{}
	}
	return v.address
}

// TransferToken pays amount of token out of the vault. Zero amounts are a
// no-op.
func (v *Vault) TransferToken(caller, token, to common.Address, amount *big.Int) error {
	if v == nil {
		return fmt.Errorf("vault: not configured")
	}
	if caller != v.owner {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := v.ledger.Transfer(token, v.address, to, amount); err != nil {
		return fmt.Errorf("vault: transfer %s: %w", token.Hex(), err)
	}
	return nil
}

// GetBalances returns the vault's balance of every requested token.
func (v *Vault) GetBalances(tokens []common.Address) ([]*big.Int, error) {
	if v == nil {
		return nil, fmt.Errorf("vault: not configured")
	}
	balances := make([]*big.Int, len(tokens))
	for i, token := range tokens {
		balance, err := v.ledger.BalanceOf(token, v.address)
		if err != nil {
			return nil, err
		}
		balances[i] = balance
	}
	return balances, nil
}

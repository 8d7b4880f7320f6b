package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Genesis seeds a development ledger: tokens, balances, pools, positions and
// pair daily rates.
type Genesis struct {
	Tokens     []GenesisToken     `yaml:"tokens"`
	Balances   []GenesisBalance   `yaml:"balances"`
	Pools      []GenesisPool      `yaml:"pools"`
	Positions  []GenesisPosition  `yaml:"positions"`
	DailyRates []GenesisDailyRate `yaml:"dailyRates"`
}

type GenesisToken struct {
	Address           string `yaml:"address"`
	Symbol            string `yaml:"symbol"`
	Decimals          uint8  `yaml:"decimals"`
	RejectMaxApproval bool   `yaml:"rejectMaxApproval"`
	RequireZeroFirst  bool   `yaml:"requireZeroFirst"`
}

// GenesisBalance mints Amount to Owner. ApproveProtocol grants the engine
// and the position ledger unlimited allowances.
type GenesisBalance struct {
	Token           string `yaml:"token"`
	Owner           string `yaml:"owner"`
	Amount          string `yaml:"amount"`
	ApproveProtocol bool   `yaml:"approveProtocol"`
}

// GenesisPool starts at the price of Tick.
type GenesisPool struct {
	TokenA string `yaml:"tokenA"`
	TokenB string `yaml:"tokenB"`
	Fee    uint32 `yaml:"fee"`
	Tick   int    `yaml:"tick"`
}

// GenesisPosition mints a position for Owner. Lendable positions approve the
// engine as operator.
type GenesisPosition struct {
	Owner     string `yaml:"owner"`
	Token0    string `yaml:"token0"`
	Token1    string `yaml:"token1"`
	Fee       uint32 `yaml:"fee"`
	TickLower int    `yaml:"tickLower"`
	TickUpper int    `yaml:"tickUpper"`
	Amount0   string `yaml:"amount0"`
	Amount1   string `yaml:"amount1"`
	Lendable  bool   `yaml:"lendable"`
}

type GenesisDailyRate struct {
	SaleToken string `yaml:"saleToken"`
	HoldToken string `yaml:"holdToken"`
	Rate      uint64 `yaml:"rate"`
}

// LoadGenesis decodes and validates the YAML genesis at path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

func (g *Genesis) Validate() error {
	known := make(map[string]struct{}, len(g.Tokens))
	for i, token := range g.Tokens {
		addr, err := ParseAddress(token.Address)
		if err != nil {
			return fmt.Errorf("genesis: tokens[%d]: %w", i, err)
		}
		if _, dup := known[addr.Hex()]; dup {
			return fmt.Errorf("genesis: tokens[%d]: duplicate %s", i, addr.Hex())
		}
		known[addr.Hex()] = struct{}{}
	}
	token := func(field, value string) error {
		addr, err := ParseAddress(value)
		if err != nil {
			return fmt.Errorf("genesis: %s: %w", field, err)
		}
		if _, ok := known[addr.Hex()]; !ok {
			return fmt.Errorf("genesis: %s: unknown token %s", field, addr.Hex())
		}
		return nil
	}
	for i, b := range g.Balances {
		if err := token(fmt.Sprintf("balances[%d].token", i), b.Token); err != nil {
			return err
		}
		if _, err := ParseAddress(b.Owner); err != nil {
			return fmt.Errorf("genesis: balances[%d].owner: %w", i, err)
		}
		if _, err := ParseAmount(b.Amount); err != nil {
			return fmt.Errorf("genesis: balances[%d].amount: %w", i, err)
		}
	}
	for i, p := range g.Pools {
		if err := token(fmt.Sprintf("pools[%d].tokenA", i), p.TokenA); err != nil {
			return err
		}
		if err := token(fmt.Sprintf("pools[%d].tokenB", i), p.TokenB); err != nil {
			return err
		}
	}
	for i, p := range g.Positions {
		if _, err := ParseAddress(p.Owner); err != nil {
			return fmt.Errorf("genesis: positions[%d].owner: %w", i, err)
		}
		if err := token(fmt.Sprintf("positions[%d].token0", i), p.Token0); err != nil {
			return err
		}
		if err := token(fmt.Sprintf("positions[%d].token1", i), p.Token1); err != nil {
			return err
		}
		if p.TickLower >= p.TickUpper {
			return fmt.Errorf("genesis: positions[%d]: tickLower must be below tickUpper", i)
		}
		for _, amount := range []string{p.Amount0, p.Amount1} {
			if _, err := ParseAmount(amount); err != nil {
				return fmt.Errorf("genesis: positions[%d]: %w", i, err)
			}
		}
	}
	for i, r := range g.DailyRates {
		if err := token(fmt.Sprintf("dailyRates[%d].saleToken", i), r.SaleToken); err != nil {
			return err
		}
		if err := token(fmt.Sprintf("dailyRates[%d].holdToken", i), r.HoldToken); err != nil {
			return err
		}
	}
	return nil
}

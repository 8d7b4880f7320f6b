package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	TypeLeverageBorrow                    = "leverage.borrow"
	TypeLeverageRepay                     = "leverage.repay"
	TypeLeverageEmergencyLoanClosure      = "leverage.emergency_loan_closure"
	TypeLeverageTakeOverDebt              = "leverage.take_over_debt"
	TypeLeverageIncreaseCollateralBalance = "leverage.increase_collateral_balance"
	TypeLeverageUpdateHoldTokenDailyRate  = "leverage.update_hold_token_daily_rate"
	TypeLeverageCollectProtocol           = "leverage.collect_protocol"
	TypeLeverageUpdateSettings            = "leverage.update_settings"
	TypeLeverageSwapCallWhitelisted       = "leverage.swap_call_whitelisted"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Borrow is emitted when liquidity is borrowed against positions.
type Borrow struct {
	Borrower            common.Address
	BorrowingKey        common.Hash
	BorrowedAmount      *big.Int
	BorrowingCollateral *big.Int
	LiquidationBonus    *big.Int
	DailyRatePrepayment *big.Int
}

func (Borrow) EventType() string { return TypeLeverageBorrow }

func (e Borrow) Event() *Record {
	return &Record{
		Type: TypeLeverageBorrow,
		Attributes: map[string]string{
			"borrower":            e.Borrower.Hex(),
			"borrowingKey":        e.BorrowingKey.Hex(),
			"borrowedAmount":      amountString(e.BorrowedAmount),
			"borrowingCollateral": amountString(e.BorrowingCollateral),
			"liquidationBonus":    amountString(e.LiquidationBonus),
			"dailyRatePrepayment": amountString(e.DailyRatePrepayment),
		},
	}
}

// Repay is emitted when a borrowing is closed by restoring its liquidity.
type Repay struct {
	Borrower     common.Address
	Liquidator   common.Address
	BorrowingKey common.Hash
}

func (Repay) EventType() string { return TypeLeverageRepay }

func (e Repay) Event() *Record {
	return &Record{
		Type: TypeLeverageRepay,
		Attributes: map[string]string{
			"borrower":     e.Borrower.Hex(),
			"liquidator":   e.Liquidator.Hex(),
			"borrowingKey": e.BorrowingKey.Hex(),
		},
	}
}

// EmergencyLoanClosure is emitted when a lender unwinds its loans out of an
// insolvent borrowing.
type EmergencyLoanClosure struct {
	Borrower     common.Address
	Lender       common.Address
	BorrowingKey common.Hash
}

func (EmergencyLoanClosure) EventType() string { return TypeLeverageEmergencyLoanClosure }

func (e EmergencyLoanClosure) Event() *Record {
	return &Record{
		Type: TypeLeverageEmergencyLoanClosure,
		Attributes: map[string]string{
			"borrower":     e.Borrower.Hex(),
			"lender":       e.Lender.Hex(),
			"borrowingKey": e.BorrowingKey.Hex(),
		},
	}
}

// TakeOverDebt is emitted when an insolvent borrowing moves to a new borrower.
type TakeOverDebt struct {
	OldBorrower     common.Address
	NewBorrower     common.Address
	OldBorrowingKey common.Hash
	NewBorrowingKey common.Hash
}

func (TakeOverDebt) EventType() string { return TypeLeverageTakeOverDebt }

func (e TakeOverDebt) Event() *Record {
	return &Record{
		Type: TypeLeverageTakeOverDebt,
		Attributes: map[string]string{
			"oldBorrower":     e.OldBorrower.Hex(),
			"newBorrower":     e.NewBorrower.Hex(),
			"oldBorrowingKey": e.OldBorrowingKey.Hex(),
			"newBorrowingKey": e.NewBorrowingKey.Hex(),
		},
	}
}

type IncreaseCollateralBalance struct {
	Borrower      common.Address
	BorrowingKey  common.Hash
	CollateralAmt *big.Int
}

func (IncreaseCollateralBalance) EventType() string { return TypeLeverageIncreaseCollateralBalance }

func (e IncreaseCollateralBalance) Event() *Record {
	return &Record{
		Type: TypeLeverageIncreaseCollateralBalance,
		Attributes: map[string]string{
			"borrower":      e.Borrower.Hex(),
			"borrowingKey":  e.BorrowingKey.Hex(),
			"collateralAmt": amountString(e.CollateralAmt),
		},
	}
}

type UpdateHoldTokenDailyRate struct {
	SaleToken common.Address
	HoldToken common.Address
	Value     uint64
}

func (UpdateHoldTokenDailyRate) EventType() string { return TypeLeverageUpdateHoldTokenDailyRate }

func (e UpdateHoldTokenDailyRate) Event() *Record {
	return &Record{
		Type: TypeLeverageUpdateHoldTokenDailyRate,
		Attributes: map[string]string{
			"saleToken": e.SaleToken.Hex(),
			"holdToken": e.HoldToken.Hex(),
			"value":     strconv.FormatUint(e.Value, 10),
		},
	}
}

// CollectProtocol is emitted when accumulated platform fees are withdrawn.
type CollectProtocol struct {
	Recipient common.Address
	Tokens    []common.Address
	Amounts   []*big.Int
}

func (CollectProtocol) EventType() string { return TypeLeverageCollectProtocol }

func (e CollectProtocol) Event() *Record {
	tokens := make([]string, len(e.Tokens))
	for i, token := range e.Tokens {
		tokens[i] = token.Hex()
	}
	amounts := make([]string, len(e.Amounts))
	for i, amount := range e.Amounts {
		amounts[i] = amountString(amount)
	}
	return &Record{
		Type: TypeLeverageCollectProtocol,
		Attributes: map[string]string{
			"recipient": e.Recipient.Hex(),
			"tokens":    strings.Join(tokens, ","),
			"amounts":   strings.Join(amounts, ","),
		},
	}
}

type UpdateSettings struct {
	Item   string
	Values []string
}

func (UpdateSettings) EventType() string { return TypeLeverageUpdateSettings }

func (e UpdateSettings) Event() *Record {
	return &Record{
		Type: TypeLeverageUpdateSettings,
		Attributes: map[string]string{
			"item":   e.Item,
			"values": strings.Join(e.Values, ","),
		},
	}
}

type SwapCallWhitelisted struct {
	Target   common.Address
	Selector [4]byte
	Allowed  bool
}

func (SwapCallWhitelisted) EventType() string { return TypeLeverageSwapCallWhitelisted }

func (e SwapCallWhitelisted) Event() *Record {
	return &Record{
		Type: TypeLeverageSwapCallWhitelisted,
		Attributes: map[string]string{
			"target":   e.Target.Hex(),
			"selector": "0x" + hex.EncodeToString(e.Selector[:]),
			"allowed":  strconv.FormatBool(e.Allowed),
		},
	}
}

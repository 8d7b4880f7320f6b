package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"lpleverage/config"
	"lpleverage/core/events"
	"lpleverage/native/leverage"
)

// decodeParams decodes the single parameter object of req into dst.
// Unknown fields are rejected.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams("expected a single parameter object", nil)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params[0]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseAddress(field, value string) (common.Address, *RPCError) {
	addr, err := config.ParseAddress(value)
	if err != nil {
		return common.Address{}, invalidParams(fmt.Sprintf("%s: invalid address", field), value)
	}
	return addr, nil
}

func parseAddresses(field string, values []string) ([]common.Address, *RPCError) {
	out := make([]common.Address, len(values))
	for i, value := range values {
		addr, rpcErr := parseAddress(fmt.Sprintf("%s[%d]", field, i), value)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out[i] = addr
	}
	return out, nil
}

func parseHash(field, value string) (common.Hash, *RPCError) {
	raw, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, invalidParams(fmt.Sprintf("%s: expected 32-byte hex", field), value)
	}
	return common.BytesToHash(raw), nil
}

// parseAmount accepts base-10 or 0x-prefixed hex integers. An empty value is
// zero unless required.
func parseAmount(field, value string, required bool) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return nil, invalidParams(fmt.Sprintf("%s required", field), nil)
		}
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(trimmed, "0x") {
		amount, err := hexutil.DecodeBig(trimmed)
		if err != nil {
			return nil, invalidParams(fmt.Sprintf("%s: invalid hex amount", field), value)
		}
		return amount, nil
	}
	amount, err := config.ParseAmount(trimmed)
	if err != nil {
		return nil, invalidParams(fmt.Sprintf("%s: invalid amount", field), value)
	}
	return amount, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// displayAmount renders v in whole token units.
func displayAmount(v *big.Int, decimals uint8) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}

// dailyRatePercent renders a daily rate in basis points as a percentage.
func dailyRatePercent(rate uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -2).String()
}

type swapParamsJSON struct {
	Target            string `json:"target"`
	AmountInDataIndex uint64 `json:"amountInDataIndex"`
	MaxGasForCall     uint64 `json:"maxGasForCall"`
	Data              string `json:"data"`
}

func (p *swapParamsJSON) toParams() (leverage.SwapParams, *RPCError) {
	if p == nil || strings.TrimSpace(p.Target) == "" {
		return leverage.SwapParams{}, nil
	}
	target, rpcErr := parseAddress("externalSwap.target", p.Target)
	if rpcErr != nil {
		return leverage.SwapParams{}, rpcErr
	}
	data, err := hexutil.Decode(strings.TrimSpace(p.Data))
	if err != nil {
		return leverage.SwapParams{}, invalidParams("externalSwap.data: invalid hex", p.Data)
	}
	return leverage.SwapParams{
		SwapTarget:            target,
		SwapAmountInDataIndex: p.AmountInDataIndex,
		MaxGasForCall:         p.MaxGasForCall,
		SwapData:              data,
	}, nil
}

type loanJSON struct {
	TokenID   uint64 `json:"tokenId"`
	Liquidity string `json:"liquidity"`
}

type borrowParamsJSON struct {
	From                string          `json:"from"`
	SaleToken           string          `json:"saleToken"`
	HoldToken           string          `json:"holdToken"`
	InternalSwapPoolFee uint32          `json:"internalSwapPoolFee"`
	MinHoldTokenOut     string          `json:"minHoldTokenOut"`
	MaxCollateral       string          `json:"maxCollateral"`
	ExternalSwap        *swapParamsJSON `json:"externalSwap,omitempty"`
	Loans               []loanJSON      `json:"loans"`
	Deadline            uint64          `json:"deadline"`
}

type repayParamsJSON struct {
	From                string          `json:"from"`
	BorrowingKey        string          `json:"borrowingKey"`
	IsEmergency         bool            `json:"isEmergency"`
	InternalSwapPoolFee uint32          `json:"internalSwapPoolFee"`
	SwapSlippageBP1000  uint64          `json:"swapSlippageBP1000"`
	ExternalSwap        *swapParamsJSON `json:"externalSwap,omitempty"`
	Deadline            uint64          `json:"deadline"`
}

type keyAmountParamsJSON struct {
	From         string `json:"from"`
	BorrowingKey string `json:"borrowingKey"`
	Amount       string `json:"amount"`
}

type dailyRateParamsJSON struct {
	From      string `json:"from"`
	SaleToken string `json:"saleToken"`
	HoldToken string `json:"holdToken"`
	Value     uint64 `json:"value"`
}

type whitelistParamsJSON struct {
	From     string `json:"from"`
	Target   string `json:"target"`
	Selector string `json:"selector"`
	Allowed  bool   `json:"allowed"`
}

type collectParamsJSON struct {
	From      string   `json:"from"`
	Recipient string   `json:"recipient"`
	Tokens    []string `json:"tokens"`
}

type updateSettingsParamsJSON struct {
	From   string   `json:"from"`
	Item   string   `json:"item"`
	Values []string `json:"values"`
}

type keyParamsJSON struct {
	BorrowingKey    string `json:"borrowingKey"`
	LifetimeSeconds uint64 `json:"lifetimeSeconds,omitempty"`
	Fee             uint32 `json:"fee,omitempty"`
}

type tokenIDParamsJSON struct {
	TokenID uint64 `json:"tokenId"`
}

type borrowerParamsJSON struct {
	Borrower string `json:"borrower"`
}

type pairParamsJSON struct {
	SaleToken string `json:"saleToken"`
	HoldToken string `json:"holdToken"`
}

type tokensParamsJSON struct {
	Tokens []string `json:"tokens"`
}

type liquidationBonusParamsJSON struct {
	Token          string `json:"token"`
	BorrowedAmount string `json:"borrowedAmount"`
	Times          uint64 `json:"times"`
}

type txResult struct {
	Events []*events.Record `json:"events"`
}

type borrowResult struct {
	BorrowingKey        string         `json:"borrowingKey"`
	BorrowedAmount      string         `json:"borrowedAmount"`
	BorrowingCollateral string         `json:"borrowingCollateral"`
	LiquidationBonus    string         `json:"liquidationBonus"`
	DailyRateCollateral string         `json:"dailyRateCollateral"`
	FeesDebt            string         `json:"feesDebt"`
	Events              []*events.Record `json:"events"`
}

type repayResult struct {
	SaleTokenOut string         `json:"saleTokenOut"`
	HoldTokenOut string         `json:"holdTokenOut"`
	Events       []*events.Record `json:"events"`
}

type takeOverResult struct {
	BorrowingKey string         `json:"borrowingKey"`
	Events       []*events.Record `json:"events"`
}

type collectResult struct {
	Amounts []string       `json:"amounts"`
	Events  []*events.Record `json:"events"`
}

type loanResult struct {
	TokenID   uint64 `json:"tokenId"`
	Liquidity string `json:"liquidity"`
}

type borrowingResult struct {
	Borrower                   string `json:"borrower"`
	SaleToken                  string `json:"saleToken"`
	HoldToken                  string `json:"holdToken"`
	FeesOwed                   string `json:"feesOwed"`
	BorrowedAmount             string `json:"borrowedAmount"`
	BorrowedAmountDisplay      string `json:"borrowedAmountDisplay"`
	LiquidationBonus           string `json:"liquidationBonus"`
	AccLoanRatePerSeconds      string `json:"accLoanRatePerSeconds"`
	DailyRateCollateralBalance string `json:"dailyRateCollateralBalance"`
}

type debtResult struct {
	BorrowingKey             string          `json:"borrowingKey"`
	Borrowing                borrowingResult `json:"borrowing"`
	CollateralBalance        string          `json:"collateralBalance"`
	CollateralBalanceDisplay string          `json:"collateralBalanceDisplay"`
	EstimatedLifeTime        uint64          `json:"estimatedLifeTime"`
}

type collateralResult struct {
	Balance           string `json:"balance"`
	EstimatedLifeTime uint64 `json:"estimatedLifeTime"`
}

type rateInfoResult struct {
	CurrentDailyRate      uint64 `json:"currentDailyRate"`
	DailyRatePercent      string `json:"dailyRatePercent"`
	LatestUpTimestamp     uint64 `json:"latestUpTimestamp"`
	AccLoanRatePerSeconds string `json:"accLoanRatePerSeconds"`
	TotalBorrowed         string `json:"totalBorrowed"`
}

type feeResult struct {
	Token   string `json:"token"`
	Amount  string `json:"amount"`
	Display string `json:"display,omitempty"`
}

type previewResult struct {
	TokenID           uint64 `json:"tokenId"`
	HoldTokenDebt     string `json:"holdTokenDebt"`
	SaleTokenNeeded   string `json:"saleTokenNeeded"`
	HoldTokenAmountIn string `json:"holdTokenAmountIn"`
	QuotedSaleOut     string `json:"quotedSaleOut"`
}

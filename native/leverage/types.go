package leverage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LoanInfo is liquidity drawn from a single position.
type LoanInfo struct {
	Liquidity *big.Int
	TokenID   uint64
}

// BorrowingInfo is the open borrowing of a (borrower, sale token, hold token)
// triple. Amounts suffixed "scaled" carry CollateralBalancePrecision on top of
// the hold token's native precision.
type BorrowingInfo struct {
	Borrower  common.Address
	SaleToken common.Address
	HoldToken common.Address
	// FeesOwed is scaled.
	FeesOwed *big.Int
	// BorrowedAmount is the principal in hold token units.
	BorrowedAmount   *big.Int
	LiquidationBonus *big.Int
	// AccLoanRatePerSeconds is the pair accumulator at the last update, scaled.
	AccLoanRatePerSeconds *big.Int
	// DailyRateCollateralBalance is signed and scaled. It is negative only
	// after a partial emergency closure left the borrowing in deficit.
	DailyRateCollateralBalance *big.Int
}

// Clone returns a deep copy of the borrowing.
func (b *BorrowingInfo) Clone() *BorrowingInfo {
	if b == nil {
		return nil
	}
	clone := *b
	clone.FeesOwed = cloneInt(b.FeesOwed)
	clone.BorrowedAmount = cloneInt(b.BorrowedAmount)
	clone.LiquidationBonus = cloneInt(b.LiquidationBonus)
	clone.AccLoanRatePerSeconds = cloneInt(b.AccLoanRatePerSeconds)
	clone.DailyRateCollateralBalance = cloneInt(b.DailyRateCollateralBalance)
	return &clone
}

// TokenInfo is the interest accrual ledger of an unordered token pair.
type TokenInfo struct {
	LatestUpTimestamp uint64
	// AccLoanRatePerSeconds only ever increases. Scaled.
	AccLoanRatePerSeconds *big.Int
	CurrentDailyRate      uint64
	TotalBorrowed         *big.Int
}

// Liquidation is a per-token liquidation bonus override.
type Liquidation struct {
	BonusBP        uint64
	MinBonusAmount *big.Int
}

// SwapParams describes an external aggregator call. The input amount is
// written into the 32-byte word at SwapAmountInDataIndex of SwapData, counted
// after the 4-byte selector.
type SwapParams struct {
	SwapTarget            common.Address
	SwapAmountInDataIndex uint64
	MaxGasForCall         uint64
	SwapData              []byte
}

func (p SwapParams) external() bool {
	return p.SwapTarget != (common.Address{})
}

type BorrowParams struct {
	// InternalSwapPoolFee is the fee tier used when no external swap is set.
	InternalSwapPoolFee uint32
	SaleToken           common.Address
	HoldToken           common.Address
	MinHoldTokenOut     *big.Int
	MaxCollateral       *big.Int
	ExternalSwap        SwapParams
	Loans               []LoanInfo
}

type BorrowResult struct {
	BorrowingKey        common.Hash
	BorrowedAmount      *big.Int
	BorrowingCollateral *big.Int
	LiquidationBonus    *big.Int
	DailyRateCollateral *big.Int
	FeesDebt            *big.Int
}

type RepayParams struct {
	IsEmergency         bool
	InternalSwapPoolFee uint32
	ExternalSwap        SwapParams
	BorrowingKey        common.Hash
	// SwapSlippageBP1000 is the share of the needed sale token the restore
	// swap must at least return, out of 1000.
	SwapSlippageBP1000 uint64
}

type RepayResult struct {
	SaleTokenOut *big.Int
	HoldTokenOut *big.Int
}

// BorrowingInfoExt is a borrowing together with its live solvency figures.
type BorrowingInfoExt struct {
	Key  common.Hash
	Info *BorrowingInfo
	// CollateralBalance is in hold token units and may be negative.
	CollateralBalance *big.Int
	EstimatedLifeTime uint64
}

// RestorePreview describes what repaying a single loan would require at the
// current prices.
type RestorePreview struct {
	TokenID           uint64
	HoldTokenDebt     *big.Int
	SaleTokenNeeded   *big.Int
	HoldTokenAmountIn *big.Int
	QuotedSaleOut     *big.Int
}

// storedBorrowing mirrors BorrowingInfo for RLP, which cannot encode signed
// integers.
type storedBorrowing struct {
	Borrower                   common.Address
	SaleToken                  common.Address
	HoldToken                  common.Address
	FeesOwed                   *big.Int
	BorrowedAmount             *big.Int
	LiquidationBonus           *big.Int
	AccLoanRatePerSeconds      *big.Int
	DailyRateCollateralBalance string
}

func newStoredBorrowing(b *BorrowingInfo) storedBorrowing {
	return storedBorrowing{
		Borrower:                   b.Borrower,
		SaleToken:                  b.SaleToken,
		HoldToken:                  b.HoldToken,
		FeesOwed:                   orZero(b.FeesOwed),
		BorrowedAmount:             orZero(b.BorrowedAmount),
		LiquidationBonus:           orZero(b.LiquidationBonus),
		AccLoanRatePerSeconds:      orZero(b.AccLoanRatePerSeconds),
		DailyRateCollateralBalance: orZero(b.DailyRateCollateralBalance).String(),
	}
}

func (s storedBorrowing) toBorrowing() (*BorrowingInfo, error) {
	collateral, ok := new(big.Int).SetString(s.DailyRateCollateralBalance, 10)
	if !ok {
		return nil, fmt.Errorf("leverage: corrupt collateral balance %q", s.DailyRateCollateralBalance)
	}
	return &BorrowingInfo{
		Borrower:                   s.Borrower,
		SaleToken:                  s.SaleToken,
		HoldToken:                  s.HoldToken,
		FeesOwed:                   orZero(s.FeesOwed),
		BorrowedAmount:             orZero(s.BorrowedAmount),
		LiquidationBonus:           orZero(s.LiquidationBonus),
		AccLoanRatePerSeconds:      orZero(s.AccLoanRatePerSeconds),
		DailyRateCollateralBalance: collateral,
	}, nil
}

type storedTokenInfo struct {
	LatestUpTimestamp     uint64
	AccLoanRatePerSeconds *big.Int
	CurrentDailyRate      uint64
	TotalBorrowed         *big.Int
}

type storedLiquidation struct {
	BonusBP        uint64
	MinBonusAmount *big.Int
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

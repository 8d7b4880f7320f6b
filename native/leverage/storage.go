package leverage

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func (e *Engine) userKeys(borrower common.Address) keyIndex {
	return keyIndex{store: e.state, key: userKeysStorageKey(borrower)}
}

func (e *Engine) tokenKeys(tokenID uint64) keyIndex {
	return keyIndex{store: e.state, key: tokenKeysStorageKey(tokenID)}
}

// loadBorrowing returns the borrowing under key or nil when none is open.
func (e *Engine) loadBorrowing(key common.Hash) (*BorrowingInfo, error) {
	var record storedBorrowing
	ok, err := e.state.KVGet(borrowingStorageKey(key), &record)
	if err != nil || !ok {
		return nil, err
	}
	borrowing, err := record.toBorrowing()
	if err != nil {
		return nil, err
	}
	if borrowing.BorrowedAmount.Sign() == 0 {
		return nil, nil
	}
	return borrowing, nil
}

func (e *Engine) requireBorrowing(key common.Hash) (*BorrowingInfo, error) {
	borrowing, err := e.loadBorrowing(key)
	if err != nil {
		return nil, err
	}
	if borrowing == nil {
		return nil, ErrInvalidBorrowingKey
	}
	return borrowing, nil
}

func (e *Engine) storeBorrowing(key common.Hash, borrowing *BorrowingInfo) error {
	return e.state.KVPut(borrowingStorageKey(key), newStoredBorrowing(borrowing))
}

func (e *Engine) loadLoans(key common.Hash) ([]LoanInfo, error) {
	var loans []LoanInfo
	if err := e.state.KVGetList(loansStorageKey(key), &loans); err != nil {
		return nil, err
	}
	return loans, nil
}

func (e *Engine) storeLoans(key common.Hash, loans []LoanInfo) error {
	if len(loans) == 0 {
		return e.state.KVDelete(loansStorageKey(key))
	}
	return e.state.KVPut(loansStorageKey(key), loans)
}

func (e *Engine) loadTokenInfo(saleToken, holdToken common.Address) (*TokenInfo, error) {
	var record storedTokenInfo
	ok, err := e.state.KVGet(rateInfoStorageKey(saleToken, holdToken), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &TokenInfo{AccLoanRatePerSeconds: big.NewInt(0), TotalBorrowed: big.NewInt(0)}, nil
	}
	return &TokenInfo{
		LatestUpTimestamp:     record.LatestUpTimestamp,
		AccLoanRatePerSeconds: orZero(record.AccLoanRatePerSeconds),
		CurrentDailyRate:      record.CurrentDailyRate,
		TotalBorrowed:         orZero(record.TotalBorrowed),
	}, nil
}

func (e *Engine) storeTokenInfo(saleToken, holdToken common.Address, info *TokenInfo) error {
	return e.state.KVPut(rateInfoStorageKey(saleToken, holdToken), storedTokenInfo{
		LatestUpTimestamp:     info.LatestUpTimestamp,
		AccLoanRatePerSeconds: orZero(info.AccLoanRatePerSeconds),
		CurrentDailyRate:      info.CurrentDailyRate,
		TotalBorrowed:         orZero(info.TotalBorrowed),
	})
}

func (e *Engine) loadSettings() (*Settings, error) {
	settings := &Settings{
		PlatformFeesBP:            DefaultPlatformFeeBP,
		DefaultLiquidationBonusBP: DefaultLiquidationBonusBP,
		DailyRateOperator:         e.owner,
	}
	if _, err := e.state.KVGet(settingsKey, settings); err != nil {
		return nil, err
	}
	return settings, nil
}

func (e *Engine) storeSettings(settings *Settings) error {
	return e.state.KVPut(settingsKey, settings)
}

func (e *Engine) loadLiquidation(token common.Address) (*Liquidation, error) {
	var record storedLiquidation
	ok, err := e.state.KVGet(liquidationStorageKey(token), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Liquidation{MinBonusAmount: big.NewInt(0)}, nil
	}
	return &Liquidation{BonusBP: record.BonusBP, MinBonusAmount: orZero(record.MinBonusAmount)}, nil
}

func (e *Engine) storeLiquidation(token common.Address, liq *Liquidation) error {
	return e.state.KVPut(liquidationStorageKey(token), storedLiquidation{
		BonusBP:        liq.BonusBP,
		MinBonusAmount: orZero(liq.MinBonusAmount),
	})
}

func (e *Engine) loadPlatformFees(token common.Address) (*big.Int, error) {
	fees := new(big.Int)
	ok, err := e.state.KVGet(platformFeesStorageKey(token), fees)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return fees, nil
}

func (e *Engine) storePlatformFees(token common.Address, fees *big.Int) error {
	return e.state.KVPut(platformFeesStorageKey(token), fees)
}

func (e *Engine) whitelisted(target common.Address, selector [4]byte) (bool, error) {
	var allowed bool
	ok, err := e.state.KVGet(whitelistStorageKey(target, selector), &allowed)
	if err != nil || !ok {
		return false, err
	}
	return allowed, nil
}

package leverage

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	borrowingPrefix    = []byte("leverage/borrowing/")
	loansPrefix        = []byte("leverage/loans/")
	userKeysPrefix     = []byte("leverage/user-keys/")
	tokenKeysPrefix    = []byte("leverage/token-keys/")
	rateInfoPrefix     = []byte("leverage/rate/")
	platformFeesPrefix = []byte("leverage/platform-fees/")
	liquidationPrefix  = []byte("leverage/liquidation/")
	whitelistPrefix    = []byte("leverage/whitelist/")
	settingsKey        = []byte("leverage/settings")
)

// BorrowingKey derives the identifier of the borrowing of borrower on the
// given sale and hold tokens.
func BorrowingKey(borrower, saleToken, holdToken common.Address) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(borrower.Bytes(), saleToken.Bytes(), holdToken.Bytes()))
}

// PairKey derives the rate ledger key of a token pair. Both orderings yield
// the same key.
func PairKey(tokenA, tokenB common.Address) common.Hash {
	if bytes.Compare(tokenA.Bytes(), tokenB.Bytes()) > 0 {
		tokenA, tokenB = tokenB, tokenA
	}
	return common.BytesToHash(ethcrypto.Keccak256(tokenA.Bytes(), tokenB.Bytes()))
}

func prefixed(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte{}, prefix...)
	for _, part := range parts {
		buf = append(buf, part...)
	}
	return buf
}

func borrowingStorageKey(key common.Hash) []byte { return prefixed(borrowingPrefix, key.Bytes()) }

func loansStorageKey(key common.Hash) []byte { return prefixed(loansPrefix, key.Bytes()) }

func userKeysStorageKey(borrower common.Address) []byte {
	return prefixed(userKeysPrefix, borrower.Bytes())
}

func tokenKeysStorageKey(tokenID uint64) []byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], tokenID)
	return prefixed(tokenKeysPrefix, id[:])
}

func rateInfoStorageKey(saleToken, holdToken common.Address) []byte {
	return prefixed(rateInfoPrefix, PairKey(saleToken, holdToken).Bytes())
}

func platformFeesStorageKey(token common.Address) []byte {
	return prefixed(platformFeesPrefix, token.Bytes())
}

func liquidationStorageKey(token common.Address) []byte {
	return prefixed(liquidationPrefix, token.Bytes())
}

func whitelistStorageKey(target common.Address, selector [4]byte) []byte {
	return prefixed(whitelistPrefix, target.Bytes(), selector[:])
}

// AddKeyIfAbsent appends key unless it is already present. The bool reports
// whether the key was added.
func AddKeyIfAbsent(keys []common.Hash, key common.Hash) ([]common.Hash, bool) {
	for _, existing := range keys {
		if existing == key {
			return keys, false
		}
	}
	return append(keys, key), true
}

// RemoveKey deletes key by moving the last element into its slot. Order is
// not preserved.
func RemoveKey(keys []common.Hash, key common.Hash) ([]common.Hash, bool) {
	for i, existing := range keys {
		if existing == key {
			last := len(keys) - 1
			keys[i] = keys[last]
			return keys[:last], true
		}
	}
	return keys, false
}

// keyIndex is a persisted unordered set of borrowing keys.
type keyIndex struct {
	store engineState
	key   []byte
}

func (k keyIndex) list() ([]common.Hash, error) {
	var keys []common.Hash
	if err := k.store.KVGetList(k.key, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (k keyIndex) write(keys []common.Hash) error {
	if len(keys) == 0 {
		return k.store.KVDelete(k.key)
	}
	return k.store.KVPut(k.key, keys)
}

// add inserts key if absent and returns the resulting set size.
func (k keyIndex) add(key common.Hash) (int, error) {
	keys, err := k.list()
	if err != nil {
		return 0, err
	}
	keys, added := AddKeyIfAbsent(keys, key)
	if !added {
		return len(keys), nil
	}
	return len(keys), k.write(keys)
}

func (k keyIndex) remove(key common.Hash) error {
	keys, err := k.list()
	if err != nil {
		return err
	}
	keys, removed := RemoveKey(keys, key)
	if !removed {
		return nil
	}
	return k.write(keys)
}

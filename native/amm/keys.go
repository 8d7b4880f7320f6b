package amm

import (
	"bytes"
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	poolPrefix         = []byte("amm/pool/")
	positionPrefix     = []byte("amm/position/")
	positionCounterKey = []byte("amm/position/next")
	poolAddressSalt    = []byte("amm/pool-address")
)

// SortTokens orders a token pair the way pools store it.
func SortTokens(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		return b, a
	}
	return a, b
}

// ComputePoolAddress derives the address of the pool for a token pair and fee
// tier. The result does not depend on the order of the tokens.
func ComputePoolAddress(tokenA, tokenB common.Address, fee uint32) common.Address {
	token0, token1 := SortTokens(tokenA, tokenB)
	var feeBytes [4]byte
	binary.BigEndian.PutUint32(feeBytes[:], fee)
	hash := ethcrypto.Keccak256(poolAddressSalt, token0.Bytes(), token1.Bytes(), feeBytes[:])
	return common.BytesToAddress(hash[12:])
}

func poolKey(addr common.Address) []byte {
	return append(append([]byte{}, poolPrefix...), addr.Bytes()...)
}

func positionKey(id uint64) []byte {
	buf := make([]byte, len(positionPrefix)+8)
	copy(buf, positionPrefix)
	binary.BigEndian.PutUint64(buf[len(positionPrefix):], id)
	return buf
}

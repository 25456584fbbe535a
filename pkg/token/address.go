package token

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// DeriveAddress computes a deterministic token address from the deployer and
// symbol: last 20 bytes of keccak256(deployer || symbol). This stands in for
// the chain's contract-address derivation and keeps the zero address (the
// native-currency sentinel) unreachable for real tokens.
func DeriveAddress(deployer common.Address, symbol string) common.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(deployer.Bytes())
	h.Write([]byte(symbol))
	sum := h.Sum(nil)

	var addr common.Address
	copy(addr[:], sum[12:])
	if addr == (common.Address{}) {
		// keccak never realistically lands on zero, but the sentinel must
		// stay reserved.
		addr[19] = 0x01
	}
	return addr
}

package exchange

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
// Prefix-based so related entries can be range-scanned: all balances for an
// asset, all orders in id sequence, recent trades in time sequence.
const (
	prefixBalance = "bal:"   // bal:{asset}:{user} -> big.Int decimal string
	prefixOrder   = "ord:"   // ord:{id, 20 digits} -> JSON order
	prefixTrade   = "trade:" // trade:{ts, 20 digits}:{uuid} -> JSON trade
	keyOrderCount = "meta:order_count"
	keyVault      = "meta:vault"
)

// balanceKey returns the key for a custodial balance entry.
// Format: "bal:{asset}:{user}"
func balanceKey(asset, user common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), user.Hex()))
}

// balanceKeyParse is the inverse of balanceKey, used when replaying the
// balance table from an iterator.
func balanceKeyParse(key []byte) (asset, user common.Address, err error) {
	parts := strings.Split(strings.TrimPrefix(string(key), prefixBalance), ":")
	if len(parts) != 2 || !common.IsHexAddress(parts[0]) || !common.IsHexAddress(parts[1]) {
		return common.Address{}, common.Address{}, fmt.Errorf("malformed balance key: %q", key)
	}
	return common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), nil
}

// orderKey returns the key for an order. Ids are zero-padded to 20 digits so
// lexicographic order matches numeric order.
func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

// tradeKey returns the key for a trade. Timestamp first for time-ordered
// scans, uuid last for uniqueness.
func tradeKey(timestamp int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTrade, timestamp, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func encodeBig(v *big.Int) []byte {
	return []byte(v.String())
}

func decodeBig(b []byte) (*big.Int, error) {
	v, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, fmt.Errorf("malformed big.Int value: %q", b)
	}
	return v, nil
}

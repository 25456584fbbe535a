package api

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amounts cross the API as decimal strings in whole-token units ("1.5" =
// 1.5 ETH/LEEP) and are carried internally as base units (wei, 10^-18).

const tokenDecimals = 18

// ParseAmount converts a decimal string in whole units to base units.
// Rejects negatives, zero and anything finer than 18 decimal places.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %q", s)
	}
	shifted := d.Shift(tokenDecimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, tokenDecimals)
	}
	return shifted.BigInt(), nil
}

// FormatAmount converts base units back to a whole-unit decimal string.
func FormatAmount(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -tokenDecimals).String()
}

// utils/amount.go
package utils

import (
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

// DefaultUnitDecimals is the number of smallest units in one coin, as a power of ten.
const DefaultUnitDecimals = 8

// toUnits converts a coin amount to smallest units. Fractions below one unit
// and negative amounts are rejected rather than rounded.
func toUnits(coins decimal.Decimal, decimals int32) (uint64, error) {
	if coins.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %s", coins)
	}
	units := coins.Mul(decimal.New(1, decimals))
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimals", coins, decimals)
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s out of range", coins)
	}
	return uint64(units.IntPart()), nil
}

// ParseUnits parses a decimal coin string such as "0.5" into smallest units.
func ParseUnits(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return toUnits(d, decimals)
}

// FormatUnits renders smallest units as a coin amount.
func FormatUnits(units uint64, decimals int32) string {
	var d decimal.Decimal
	if units > math.MaxInt64 {
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(units), -decimals)
	} else {
		d = decimal.New(int64(units), -decimals)
	}
	return d.String()
}

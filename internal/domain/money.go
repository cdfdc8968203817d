package domain

import (
	"fmt"
	"math/big"
	"strings"
)

// Precision is the number of micro-units per whole unit. Every monetary and
// share quantity in the engine is an int64 counted in micro-units; floating
// point never touches a stored balance.
const Precision int64 = 1_000_000

// MaxQuantityDecimals is the maximum number of fractional digits accepted
// when parsing a human-entered quantity.
const MaxQuantityDecimals = 6

// BpsDenominator is the divisor for basis-point fee math.
const BpsDenominator int64 = 10_000

// ParseQuantity converts a decimal string such as "1.5" or "0.000001" into
// micro-units. It rejects empty input, negative values, and values with more
// than six fractional digits.
func ParseQuantity(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty quantity", ErrInvalidArgument)
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("%w: quantity %q is negative", ErrInvalidArgument, s)
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > MaxQuantityDecimals {
		return 0, fmt.Errorf("%w: quantity %q exceeds %d decimal places",
			ErrInvalidArgument, s, MaxQuantityDecimals)
	}

	// Right-pad the fraction to exactly six digits so "1.5" becomes 1500000.
	frac += strings.Repeat("0", MaxQuantityDecimals-len(frac))

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return 0, fmt.Errorf("%w: quantity %q is not a number", ErrInvalidArgument, s)
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("%w: quantity %q out of range", ErrInvalidArgument, s)
	}
	return n.Int64(), nil
}

// FormatQuantity renders micro-units as a decimal string with trailing zeros
// trimmed, the inverse of ParseQuantity.
func FormatQuantity(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	whole := micros / Precision
	frac := micros % Precision
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	s := strings.TrimRight(fmt.Sprintf("%06d", frac), "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, s)
}

// MulDivFloor computes floor(a*b/den) exactly, without intermediate int64
// overflow. den must be positive and a, b non-negative.
func MulDivFloor(a, b, den int64) int64 {
	if den <= 0 {
		panic("domain: MulDivFloor requires positive denominator")
	}
	if a == 0 || b == 0 {
		return 0
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	num.Quo(num, big.NewInt(den))
	return num.Int64()
}

// BpsOf returns floor(amount*bps/10000).
func BpsOf(amount, bps int64) int64 {
	if amount <= 0 || bps <= 0 {
		return 0
	}
	return MulDivFloor(amount, bps, BpsDenominator)
}

// AveragePrice returns the per-unit price in micro-units for a total value
// paid over a quantity of micro-unit shares, floored.
func AveragePrice(totalValue, quantity int64) int64 {
	if quantity <= 0 {
		return 0
	}
	return MulDivFloor(totalValue, Precision, quantity)
}

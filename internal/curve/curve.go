// Package curve prices creator keys as a function of cumulative issued
// supply. A Curve is a pure pricing strategy: the unit price must be
// monotonically non-decreasing in supply, and buy/sell amounts are the
// definite integral of the price over the supply interval the trade covers,
// floored to whole micro-units.
package curve

import (
	"fmt"
	"math/big"

	"github.com/hypemarket/engine/internal/domain"
)

// Curve is an injectable pricing strategy. All arguments and results are
// int64 micro-units. Implementations must satisfy:
//
//   - Price(s) is non-decreasing in s and never negative.
//   - BuyCost(s, d) equals the integral of Price from s to s+d, floored.
//   - SellPayout(s, d) equals the integral of Price from s-d to s, floored.
type Curve interface {
	Price(supply int64) int64
	BuyCost(supply, delta int64) (int64, error)
	SellPayout(supply, delta int64) (int64, error)
}

// Quadratic is the reference curve: price(s) = s^2 / A for a whole-unit
// supply s, so steeper curves come from smaller A. The closed-form integral
// over [s1, s2] is (s2^3 - s1^3) / 3A.
type Quadratic struct {
	// A is the steepness divisor in whole units. friend.tech-style markets
	// use values in the low tens of thousands.
	A int64
}

// NewQuadratic validates the steepness divisor.
func NewQuadratic(a int64) (Quadratic, error) {
	if a <= 0 {
		return Quadratic{}, fmt.Errorf("%w: curve divisor %d must be positive", domain.ErrInvalidArgument, a)
	}
	return Quadratic{A: a}, nil
}

// priceDen is the scaling divisor that keeps micro-unit inputs dimensionally
// consistent: with s in micro-units, price_micros = s^2 / (A * Precision).
func (q Quadratic) priceDen() *big.Int {
	return new(big.Int).Mul(big.NewInt(q.A), big.NewInt(domain.Precision))
}

// costDen is the integral's divisor: cost_micros = (s2^3 - s1^3) / (3A * Precision^2).
func (q Quadratic) costDen() *big.Int {
	den := new(big.Int).Mul(big.NewInt(3*q.A), big.NewInt(domain.Precision))
	return den.Mul(den, big.NewInt(domain.Precision))
}

// Price returns the instantaneous unit price at the given supply, floored.
func (q Quadratic) Price(supply int64) int64 {
	if supply <= 0 || q.A <= 0 {
		return 0
	}
	s := big.NewInt(supply)
	num := new(big.Int).Mul(s, s)
	num.Quo(num, q.priceDen())
	return num.Int64()
}

// BuyCost returns the cost of moving supply from s to s+delta.
func (q Quadratic) BuyCost(supply, delta int64) (int64, error) {
	if err := q.check(supply, delta); err != nil {
		return 0, err
	}
	return q.integral(supply, supply+delta), nil
}

// SellPayout returns the payout of moving supply from s down to s-delta.
func (q Quadratic) SellPayout(supply, delta int64) (int64, error) {
	if err := q.check(supply, delta); err != nil {
		return 0, err
	}
	if delta > supply {
		return 0, domain.NewShortfall(domain.ErrInsufficientSupply, "supply", delta, supply)
	}
	return q.integral(supply-delta, supply), nil
}

func (q Quadratic) check(supply, delta int64) error {
	if q.A <= 0 {
		return fmt.Errorf("%w: curve divisor %d must be positive", domain.ErrInvalidArgument, q.A)
	}
	if supply < 0 {
		return fmt.Errorf("%w: negative supply %d", domain.ErrInvalidArgument, supply)
	}
	if delta <= 0 {
		return fmt.Errorf("%w: quantity %d must be positive", domain.ErrInvalidArgument, delta)
	}
	return nil
}

// integral computes floor((hi^3 - lo^3) / (3A * Precision^2)) exactly.
// Cubes of micro-unit supplies overflow int64 well before one thousand whole
// units, so the whole computation stays in big.Int.
func (q Quadratic) integral(lo, hi int64) int64 {
	cube := func(v int64) *big.Int {
		b := big.NewInt(v)
		c := new(big.Int).Mul(b, b)
		return c.Mul(c, b)
	}
	num := new(big.Int).Sub(cube(hi), cube(lo))
	if num.Sign() <= 0 {
		return 0
	}
	num.Quo(num, q.costDen())
	return num.Int64()
}

var _ Curve = Quadratic{}

// Package lmsr implements the Logarithmic Market Scoring Rule for two-sided
// YES/NO option markets.
//
// The transcendental math runs in float64 internally, but every value that
// can reach a stored balance is floored to int64 micro-units on the way out.
// The cost function uses the reformulation
//
//	C(y, n, b) = max(y, n) + b*ln(1 + exp(-|y-n|/b))
//
// which is algebraically equal to b*ln(exp(y/b) + exp(n/b)) and does not
// overflow for large outstanding quantities.
//
// Reference: "Logarithmic Market Scoring Rules for Modular Combinatorial
// Information Aggregation", Robin Hanson, 2003.
package lmsr

import (
	"fmt"
	"math"

	"github.com/hypemarket/engine/internal/domain"
)

// FairValueMid is the scaled fair value of an empty market ($0.50).
const FairValueMid int64 = 500_000

// BandHalfWidth is the half-width of the allowed trading band around fair
// value, in the same 10^6 scale (a fixed ±$0.10).
const BandHalfWidth int64 = 100_000

// Maker prices trades for one option given its liquidity parameter.
type Maker struct {
	b float64
}

// New builds a Maker from a liquidity parameter in micro-units.
func New(liquidityParameter int64) (Maker, error) {
	if liquidityParameter <= 0 {
		return Maker{}, fmt.Errorf("%w: b=%d must be positive", domain.ErrInvalidLiquidity, liquidityParameter)
	}
	return Maker{b: float64(liquidityParameter)}, nil
}

// Cost evaluates the stable cost function at the given outstanding
// quantities. A non-finite result means the trade is too large and surfaces
// as ErrCostOverflow, not a crash.
func (m Maker) Cost(yes, no int64) (float64, error) {
	y, n := float64(yes), float64(no)
	c := math.Max(y, n) + m.b*math.Log1p(math.Exp(-math.Abs(y-n)/m.b))
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return 0, fmt.Errorf("%w: C(%d, %d) is not finite", domain.ErrCostOverflow, yes, no)
	}
	return c, nil
}

// PriceYes returns the instantaneous YES probability. An untouched market
// (y = n = 0) prices both sides at exactly 0.5 by definition.
func (m Maker) PriceYes(yes, no int64) float64 {
	if yes == 0 && no == 0 {
		return 0.5
	}
	// Softmax with the max subtracted, so the larger exponent is exp(0).
	y, n := float64(yes), float64(no)
	maxQ := math.Max(y, n)
	expYes := math.Exp((y - maxQ) / m.b)
	expNo := math.Exp((n - maxQ) / m.b)
	return expYes / (expYes + expNo)
}

// PriceNo returns the instantaneous NO probability.
func (m Maker) PriceNo(yes, no int64) float64 {
	return 1.0 - m.PriceYes(yes, no)
}

// BuyCost returns floor(C(y+dy, n+dn) - C(y, n)) in micro-units, never
// negative.
func (m Maker) BuyCost(yes, no, buyYes, buyNo int64) (int64, error) {
	if err := checkDeltas(buyYes, buyNo); err != nil {
		return 0, err
	}
	before, err := m.Cost(yes, no)
	if err != nil {
		return 0, err
	}
	after, err := m.Cost(yes+buyYes, no+buyNo)
	if err != nil {
		return 0, err
	}
	return floorNonNegative(after - before), nil
}

// SellPayout returns floor(C(y, n) - C(y-dy, n-dn)) in micro-units, never
// negative. Selling more than the outstanding quantity of either side fails
// with the pool shortfall.
func (m Maker) SellPayout(yes, no, sellYes, sellNo int64) (int64, error) {
	if err := checkDeltas(sellYes, sellNo); err != nil {
		return 0, err
	}
	if sellYes > yes {
		return 0, domain.NewShortfall(domain.ErrInsufficientPool, "yes shares", sellYes, yes)
	}
	if sellNo > no {
		return 0, domain.NewShortfall(domain.ErrInsufficientPool, "no shares", sellNo, no)
	}
	before, err := m.Cost(yes, no)
	if err != nil {
		return 0, err
	}
	after, err := m.Cost(yes-sellYes, no-sellNo)
	if err != nil {
		return 0, err
	}
	return floorNonNegative(before - after), nil
}

func checkDeltas(dYes, dNo int64) error {
	if dYes < 0 || dNo < 0 {
		return fmt.Errorf("%w: negative share delta (%d, %d)", domain.ErrInvalidArgument, dYes, dNo)
	}
	if dYes == 0 && dNo == 0 {
		return fmt.Errorf("%w: zero share delta", domain.ErrInvalidArgument)
	}
	return nil
}

func floorNonNegative(v float64) int64 {
	f := math.Floor(v)
	if f <= 0 {
		return 0
	}
	return int64(f)
}

// FairValue returns the outstanding-quantity-weighted fair value of the YES
// side, scaled by 10^6: floor(y*10^6 / (y+n)), or exactly $0.50 for an empty
// market.
func FairValue(yes, no int64) int64 {
	if yes+no == 0 {
		return FairValueMid
	}
	return domain.MulDivFloor(yes, domain.Precision, yes+no)
}

// ValidateBand checks an externally supplied scaled price against the
// fair-value spread guard and reports the violated bound on rejection.
func ValidateBand(yes, no, price int64) error {
	fv := FairValue(yes, no)
	lower, upper := fv-BandHalfWidth, fv+BandHalfWidth
	if price < lower || price > upper {
		return &domain.BandError{Price: price, Lower: lower, Upper: upper}
	}
	return nil
}

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine's failure taxonomy. Conflict-class errors
// (insufficient balance/supply/holding, self-trade, resolution gating) carry
// the offending values via the typed errors below so callers can report
// required vs. available.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrNotFound            = errors.New("not found")
	ErrSelfTrade           = errors.New("cannot trade own keys")
	ErrFounderReserve      = errors.New("founder reserve violation")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientSupply  = errors.New("insufficient supply")
	ErrInsufficientHolding = errors.New("insufficient holding")
	ErrInsufficientPool    = errors.New("insufficient pool quantity")
	ErrInvalidLiquidity    = errors.New("invalid liquidity parameter")
	ErrSlippageExceeded    = errors.New("slippage exceeded")
	ErrPriceOutOfBand      = errors.New("price outside fair-value band")
	ErrMarketResolved      = errors.New("market already resolved")
	ErrMarketNotResolved   = errors.New("market not resolved")
	ErrDepositTooSmall     = errors.New("deposit too small")
	ErrCostOverflow        = errors.New("cost function overflow")
	ErrLockHeld            = errors.New("lock already held")
)

// ShortfallError reports a conflict where an operation needed more of some
// resource than was available. It wraps one of the ErrInsufficient* sentinels.
type ShortfallError struct {
	Sentinel  error
	Resource  string
	Required  int64
	Available int64
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%s: %s required %d, available %d",
		e.Sentinel.Error(), e.Resource, e.Required, e.Available)
}

func (e *ShortfallError) Unwrap() error { return e.Sentinel }

// NewShortfall builds a ShortfallError around the given sentinel.
func NewShortfall(sentinel error, resource string, required, available int64) error {
	return &ShortfallError{Sentinel: sentinel, Resource: resource, Required: required, Available: available}
}

// SlippageError reports a bound violated between quote and submit.
type SlippageError struct {
	// Bound is the caller's limit: max cost on buys, min payout on sells.
	Bound  int64
	Actual int64
	Buy    bool
}

func (e *SlippageError) Error() string {
	if e.Buy {
		return fmt.Sprintf("slippage exceeded: cost %d above max %d", e.Actual, e.Bound)
	}
	return fmt.Sprintf("slippage exceeded: payout %d below min %d", e.Actual, e.Bound)
}

func (e *SlippageError) Unwrap() error { return ErrSlippageExceeded }

// BandError reports an externally supplied price rejected by the fair-value
// spread guard, including the violated bound.
type BandError struct {
	Price int64
	Lower int64
	Upper int64
}

func (e *BandError) Error() string {
	bound := e.Lower
	if e.Price > e.Upper {
		bound = e.Upper
	}
	return fmt.Sprintf("price %d outside band [%d, %d], violates bound %d",
		e.Price, e.Lower, e.Upper, bound)
}

func (e *BandError) Unwrap() error { return ErrPriceOutOfBand }

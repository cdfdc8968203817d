// Package pool implements the liquidity pool share accounting: converting
// deposits and withdrawals of capital into proportional ownership shares.
// All functions are pure integer math; the ledger applies the results.
package pool

import (
	"fmt"

	"github.com/hypemarket/engine/internal/domain"
)

// MintShares returns the shares minted for a deposit against the pre-deposit
// pool state. The first deposit to an empty pool mints 1:1; later deposits
// mint floor(deposit * totalShares / (poolLiquidity + accumulatedFees)).
// Minting against the full pool value, fees included, keeps value-per-share
// from dropping: pricing a deposit off liquidity alone would hand new
// depositors a slice of the fees existing holders already earned. A computed
// share count of zero is rejected outright — minting nothing for real money
// is the dust deposit exploit surface.
func MintShares(deposit, poolLiquidity, accumulatedFees, totalShares int64) (int64, error) {
	if deposit <= 0 {
		return 0, fmt.Errorf("%w: deposit %d must be positive", domain.ErrInvalidArgument, deposit)
	}
	if totalShares == 0 {
		return deposit, nil
	}
	poolValue := poolLiquidity + accumulatedFees
	if poolValue <= 0 {
		return 0, fmt.Errorf("%w: pool has shares but no value", domain.ErrInvalidArgument)
	}
	shares := domain.MulDivFloor(deposit, totalShares, poolValue)
	if shares == 0 {
		return 0, fmt.Errorf("%w: deposit %d mints zero shares against pool %d / %d",
			domain.ErrDepositTooSmall, deposit, poolValue, totalShares)
	}
	return shares, nil
}

// ValuePerShare returns floor((poolLiquidity + accumulatedFees) * 10^6 /
// totalShares). Absent withdrawals this is monotonically non-decreasing:
// deposits mint at the pre-deposit ratio and fee accrual only adds value.
func ValuePerShare(poolLiquidity, accumulatedFees, totalShares int64) int64 {
	if totalShares <= 0 {
		return 0
	}
	return domain.MulDivFloor(poolLiquidity+accumulatedFees, domain.Precision, totalShares)
}

// WithdrawalPayout computes the liquidity and fee components paid out for
// burning shares, each floored separately against the pre-burn totals.
func WithdrawalPayout(sharesBurned, poolLiquidity, accumulatedFees, totalShares int64) (liquidityOut, feesOut int64, err error) {
	if sharesBurned <= 0 {
		return 0, 0, fmt.Errorf("%w: shares %d must be positive", domain.ErrInvalidArgument, sharesBurned)
	}
	if sharesBurned > totalShares {
		return 0, 0, domain.NewShortfall(domain.ErrInsufficientHolding, "pool shares", sharesBurned, totalShares)
	}
	liquidityOut = domain.MulDivFloor(poolLiquidity, sharesBurned, totalShares)
	feesOut = domain.MulDivFloor(accumulatedFees, sharesBurned, totalShares)
	return liquidityOut, feesOut, nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/pool"
)

// LiquidityService handles pool deposits and post-resolution withdrawals for
// option markets.
type LiquidityService struct {
	ledger domain.Ledger
	logger *slog.Logger
}

// NewLiquidityService creates a LiquidityService.
func NewLiquidityService(ledger domain.Ledger, logger *slog.Logger) *LiquidityService {
	return &LiquidityService{ledger: ledger, logger: logger}
}

// AddLiquidityResult reports a completed deposit.
type AddLiquidityResult struct {
	SharesMinted     int64
	TotalShares      int64
	NewPoolLiquidity int64
}

// RemoveLiquidityResult reports a completed withdrawal.
type RemoveLiquidityResult struct {
	SharesBurned    int64
	LiquidityOut    int64
	FeesOut         int64
	AmountReturned  int64
	RemainingShares int64
}

// AddLiquidity deposits amount into an open option's pool and mints shares at
// the pre-deposit value-per-share ratio.
func (s *LiquidityService) AddLiquidity(ctx context.Context, optionID, providerID string, amount int64) (AddLiquidityResult, error) {
	if amount <= 0 {
		return AddLiquidityResult{}, fmt.Errorf("liquidity_service: %w: amount %d", domain.ErrInvalidArgument, amount)
	}

	var result AddLiquidityResult
	err := s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		o, err := tx.LockOption(ctx, optionID)
		if err != nil {
			return err
		}
		if o.Resolved {
			return fmt.Errorf("option %s: %w", o.ID, domain.ErrMarketResolved)
		}

		minted, err := pool.MintShares(amount, o.PoolLiquidity, o.AccumulatedLPFees, o.TotalLPShares)
		if err != nil {
			return err
		}

		current, err := tx.LockLiquidityPosition(ctx, optionID, providerID)
		if err != nil {
			return err
		}
		balances, err := tx.LockWallets(ctx, providerID)
		if err != nil {
			return err
		}
		if balances[providerID] < amount {
			return domain.NewShortfall(domain.ErrInsufficientBalance, "provider balance", amount, balances[providerID])
		}

		if err := tx.AdjustWallet(ctx, providerID, -amount); err != nil {
			return err
		}
		if err := tx.ApplyLiquidityChange(ctx, optionID, amount, 0, minted); err != nil {
			return err
		}
		if err := tx.SetLiquidityPosition(ctx, optionID, providerID, current+minted); err != nil {
			return err
		}

		result = AddLiquidityResult{
			SharesMinted:     minted,
			TotalShares:      o.TotalLPShares + minted,
			NewPoolLiquidity: o.PoolLiquidity + amount,
		}
		return tx.InsertAudit(ctx, "liquidity_add", map[string]any{
			"option":   optionID,
			"provider": providerID,
			"amount":   amount,
			"shares":   minted,
		})
	})
	if err != nil {
		return AddLiquidityResult{}, err
	}

	s.logger.InfoContext(ctx, "liquidity_service: deposit settled",
		slog.String("option", optionID),
		slog.String("provider", providerID),
		slog.Int64("amount", amount),
		slog.Int64("shares_minted", result.SharesMinted),
	)
	return result, nil
}

// RemoveLiquidity burns shares of a resolved option's pool and pays out the
// provider's proportional slice of remaining liquidity plus accrued fees.
// Withdrawals are gated on resolution: pulling capital from a live pool would
// undercut open positions.
func (s *LiquidityService) RemoveLiquidity(ctx context.Context, optionID, providerID string, shares int64) (RemoveLiquidityResult, error) {
	if shares <= 0 {
		return RemoveLiquidityResult{}, fmt.Errorf("liquidity_service: %w: shares %d", domain.ErrInvalidArgument, shares)
	}

	var result RemoveLiquidityResult
	err := s.ledger.WithinTx(ctx, func(tx domain.LedgerTx) error {
		o, err := tx.LockOption(ctx, optionID)
		if err != nil {
			return err
		}
		if !o.Resolved {
			return fmt.Errorf("option %s: %w", o.ID, domain.ErrMarketNotResolved)
		}

		current, err := tx.LockLiquidityPosition(ctx, optionID, providerID)
		if err != nil {
			return err
		}
		if current < shares {
			return domain.NewShortfall(domain.ErrInsufficientHolding, "pool shares", shares, current)
		}

		liquidityOut, feesOut, err := pool.WithdrawalPayout(shares, o.PoolLiquidity, o.AccumulatedLPFees, o.TotalLPShares)
		if err != nil {
			return err
		}
		payout := liquidityOut + feesOut

		if _, err := tx.LockWallets(ctx, providerID); err != nil {
			return err
		}
		if err := tx.ApplyLiquidityChange(ctx, optionID, -liquidityOut, -feesOut, -shares); err != nil {
			return err
		}
		if err := tx.SetLiquidityPosition(ctx, optionID, providerID, current-shares); err != nil {
			return err
		}
		if payout > 0 {
			if err := tx.AdjustWallet(ctx, providerID, payout); err != nil {
				return err
			}
		}

		result = RemoveLiquidityResult{
			SharesBurned:    shares,
			LiquidityOut:    liquidityOut,
			FeesOut:         feesOut,
			AmountReturned:  payout,
			RemainingShares: current - shares,
		}
		return tx.InsertAudit(ctx, "liquidity_remove", map[string]any{
			"option":   optionID,
			"provider": providerID,
			"shares":   shares,
			"payout":   payout,
		})
	})
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	s.logger.InfoContext(ctx, "liquidity_service: withdrawal settled",
		slog.String("option", optionID),
		slog.String("provider", providerID),
		slog.Int64("shares_burned", shares),
		slog.Int64("amount_returned", result.AmountReturned),
	)
	return result, nil
}

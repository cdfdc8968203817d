package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/store/memory"
)

// Fixture: one open option with an empty pool, provider "lp1" funded with
// fifty whole units.
func newLiquidityFixture(t *testing.T) (*memory.Store, *LiquidityService) {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.CreateMarket(ctx, domain.Market{
		ID:          "m1",
		CreatorID:   "carol",
		Status:      domain.MarketStatusOpen,
		Initialized: true,
	}))
	require.NoError(t, store.CreateOption(ctx, domain.MarketOption{
		ID:                 "o1",
		MarketID:           "m1",
		LiquidityParameter: testLiquidityB,
	}))
	require.NoError(t, store.EnsureWallet(ctx, "lp1", 50_000_000))

	return store, NewLiquidityService(store, testLogger())
}

func TestAddLiquidity(t *testing.T) {
	ctx := context.Background()

	t.Run("first deposit mints one to one", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)

		res, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000_000), res.SharesMinted)
		assert.Equal(t, int64(10_000_000), res.TotalShares)
		assert.Equal(t, int64(10_000_000), res.NewPoolLiquidity)

		assert.Equal(t, int64(40_000_000), walletBalance(t, store, "lp1"))
		pos, err := store.GetLiquidityPosition(ctx, "o1", "lp1")
		require.NoError(t, err)
		assert.Equal(t, int64(10_000_000), pos.Shares)
	})

	t.Run("later deposits mint at the grown pool ratio", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)

		// Trading inflows doubled the pool; the next deposit mints at 2.0.
		require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.ApplyOptionTrade(ctx, "o1", 0, 0, 10_000_000, 0)
		}))
		require.NoError(t, store.EnsureWallet(ctx, "lp2", 5_000_000))

		res, err := svc.AddLiquidity(ctx, "o1", "lp2", 5_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(2_500_000), res.SharesMinted)
		assert.Equal(t, int64(12_500_000), res.TotalShares)
		assert.Equal(t, int64(25_000_000), res.NewPoolLiquidity)
	})

	t.Run("accrued fees price into later deposits", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)

		// One whole unit of LP fees accrued: 1.1 per share.
		require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.ApplyOptionTrade(ctx, "o1", 0, 0, 0, 1_000_000)
		}))
		require.NoError(t, store.EnsureWallet(ctx, "lp2", 11_000_000))

		res, err := svc.AddLiquidity(ctx, "o1", "lp2", 11_000_000)
		require.NoError(t, err)
		// 11M buys exactly 10M shares at 1.1, leaving lp1's slice of the
		// accrued fees intact: 22M pool value over 20M shares is still 1.1.
		assert.Equal(t, int64(10_000_000), res.SharesMinted)
		assert.Equal(t, int64(20_000_000), res.TotalShares)
		assert.Equal(t, int64(21_000_000), res.NewPoolLiquidity)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("rejects deposit into resolved option", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		require.NoError(t, store.ResolveOption(ctx, "o1", domain.SideYes))

		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		assert.ErrorIs(t, err, domain.ErrMarketResolved)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		_, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 60_000_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientBalance)
	})
}

func TestRemoveLiquidity(t *testing.T) {
	ctx := context.Background()

	t.Run("withdrawal blocked until resolution", func(t *testing.T) {
		_, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)

		_, err = svc.RemoveLiquidity(ctx, "o1", "lp1", 10_000_000)
		assert.ErrorIs(t, err, domain.ErrMarketNotResolved)
	})

	t.Run("pays the proportional slice plus fees", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)

		// One whole unit of LP fees accrued before resolution.
		require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.ApplyOptionTrade(ctx, "o1", 0, 0, 0, 1_000_000)
		}))
		require.NoError(t, store.ResolveOption(ctx, "o1", domain.SideYes))

		res, err := svc.RemoveLiquidity(ctx, "o1", "lp1", 4_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(4_000_000), res.SharesBurned)
		assert.Equal(t, int64(4_000_000), res.LiquidityOut)
		assert.Equal(t, int64(400_000), res.FeesOut)
		assert.Equal(t, int64(4_400_000), res.AmountReturned)
		assert.Equal(t, int64(6_000_000), res.RemainingShares)

		assert.Equal(t, int64(44_400_000), walletBalance(t, store, "lp1"))
		o, err := store.GetOption(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, int64(6_000_000), o.PoolLiquidity)
		assert.Equal(t, int64(600_000), o.AccumulatedLPFees)
		assert.Equal(t, int64(6_000_000), o.TotalLPShares)
	})

	t.Run("full exit drains the position", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)
		require.NoError(t, store.ResolveOption(ctx, "o1", domain.SideYes))

		res, err := svc.RemoveLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(10_000_000), res.AmountReturned)
		assert.Zero(t, res.RemainingShares)
		assert.Equal(t, int64(50_000_000), walletBalance(t, store, "lp1"))

		pos, err := store.GetLiquidityPosition(ctx, "o1", "lp1")
		require.NoError(t, err)
		assert.Zero(t, pos.Shares)
	})

	t.Run("cannot burn more than held", func(t *testing.T) {
		store, svc := newLiquidityFixture(t)
		_, err := svc.AddLiquidity(ctx, "o1", "lp1", 10_000_000)
		require.NoError(t, err)
		require.NoError(t, store.ResolveOption(ctx, "o1", domain.SideYes))

		_, err = svc.RemoveLiquidity(ctx, "o1", "lp1", 11_000_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
	})
}

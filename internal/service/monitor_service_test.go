package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/store/memory"
)

func newMonitorFixture(t *testing.T) (*memory.Store, *MonitorService) {
	t.Helper()
	store := memory.NewStore()
	return store, NewMonitorService(store, store, nil, DefaultMonitorConfig(), testLogger())
}

func addMarket(t *testing.T, store *memory.Store, id string, options ...domain.MarketOption) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateMarket(ctx, domain.Market{
		ID:          id,
		CreatorID:   "carol",
		Status:      domain.MarketStatusOpen,
		Initialized: true,
	}))
	for _, o := range options {
		o.MarketID = id
		if o.LiquidityParameter == 0 {
			o.LiquidityParameter = testLiquidityB
		}
		require.NoError(t, store.CreateOption(ctx, o))
	}
}

func TestCheckMarket(t *testing.T) {
	ctx := context.Background()

	t.Run("undercollateralized market raises a critical alert", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		// Worst case owes 10M against a 5M pool: ratio 0.5.
		addMarket(t, store, "m1", domain.MarketOption{
			ID:            "o1",
			YesQuantity:   10_000_000,
			NoQuantity:    2_000_000,
			PoolLiquidity: 5_000_000,
		})

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, int64(10_000_000), report.RequiredLiquidity)
		assert.Equal(t, int64(5_000_000), report.CurrentLiquidity)
		assert.InDelta(t, 0.5, report.Ratio, 1e-9)

		require.NotNil(t, report.Alert)
		assert.Equal(t, domain.AlertInsolvencyRisk, report.Alert.Type)
		assert.Equal(t, domain.SeverityCritical, report.Alert.Severity)
	})

	t.Run("repeated breaches update the same alert", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		addMarket(t, store, "m1", domain.MarketOption{
			ID:            "o1",
			YesQuantity:   10_000_000,
			PoolLiquidity: 5_000_000,
		})

		first, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, first.Alert)

		// The pool recovered a little but is still below critical.
		require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.ApplyOptionTrade(ctx, "o1", 0, 0, 1_000_000, 0)
		}))

		second, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, second.Alert)
		assert.Equal(t, first.Alert.ID, second.Alert.ID)
		assert.InDelta(t, 0.6, second.Alert.ObservedRatio, 1e-9)

		open, err := store.ListUnresolved(ctx, "m1")
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("raised alert fans out to channel and stream", func(t *testing.T) {
		store := memory.NewStore()
		bus := newRecordingBus()
		svc := NewMonitorService(store, store, bus, DefaultMonitorConfig(), testLogger())
		addMarket(t, store, "m1", domain.MarketOption{
			ID:            "o1",
			YesQuantity:   10_000_000,
			PoolLiquidity: 5_000_000,
		})

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, report.Alert)

		require.Len(t, bus.published[alertChannel], 1)
		require.Len(t, bus.appended[alertStream], 1)
		assert.Equal(t, bus.published[alertChannel][0], bus.appended[alertStream][0])
	})

	t.Run("thin coverage raises a warning", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		// Ratio 1.15: above critical, below the 1.20 warning line.
		addMarket(t, store, "m1", domain.MarketOption{
			ID:            "o1",
			YesQuantity:   10_000_000,
			PoolLiquidity: 11_500_000,
		})

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		require.NotNil(t, report.Alert)
		assert.Equal(t, domain.AlertLowLiquidity, report.Alert.Type)
		assert.Equal(t, domain.SeverityWarning, report.Alert.Severity)
	})

	t.Run("healthy market raises nothing", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		addMarket(t, store, "m1", domain.MarketOption{
			ID:            "o1",
			YesQuantity:   10_000_000,
			PoolLiquidity: 20_000_000,
		})

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Nil(t, report.Alert)

		open, err := store.ListUnresolved(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, open)
	})

	t.Run("market with no obligations reports unleveraged", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		addMarket(t, store, "m1")

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, UnleveragedRatio, report.Ratio)
		assert.Nil(t, report.Alert)
	})

	t.Run("resolved options owe the winning side", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		resolved := domain.MarketOption{
			ID:            "o1",
			YesQuantity:   8_000_000,
			NoQuantity:    20_000_000,
			PoolLiquidity: 4_000_000,
			Resolved:      true,
			WinningSide:   domain.SideYes,
		}
		addMarket(t, store, "m1", resolved)

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		// Only the winning side is owed; the losing 20M is void.
		assert.Equal(t, int64(8_000_000), report.RequiredLiquidity)
		assert.InDelta(t, 0.5, report.Ratio, 1e-9)
		require.NotNil(t, report.Alert)
	})

	t.Run("uninitialized market is skipped", func(t *testing.T) {
		store, svc := newMonitorFixture(t)
		require.NoError(t, store.CreateMarket(ctx, domain.Market{
			ID:     "m1",
			Status: domain.MarketStatusOpen,
		}))

		report, err := svc.CheckMarket(ctx, "m1")
		require.NoError(t, err)
		assert.Equal(t, UnleveragedRatio, report.Ratio)
		assert.Nil(t, report.Alert)
	})
}

func TestCheckAll(t *testing.T) {
	ctx := context.Background()
	store, svc := newMonitorFixture(t)

	addMarket(t, store, "m1", domain.MarketOption{
		ID:            "o1",
		YesQuantity:   10_000_000,
		PoolLiquidity: 5_000_000,
	})
	addMarket(t, store, "m2", domain.MarketOption{
		ID:            "o2",
		YesQuantity:   10_000_000,
		PoolLiquidity: 11_500_000,
	})
	addMarket(t, store, "m3", domain.MarketOption{
		ID:            "o3",
		YesQuantity:   10_000_000,
		PoolLiquidity: 20_000_000,
	})

	raised, err := svc.CheckAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, raised)

	open, err := store.ListUnresolved(ctx, "")
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestResolveAlert(t *testing.T) {
	ctx := context.Background()
	store, svc := newMonitorFixture(t)
	addMarket(t, store, "m1", domain.MarketOption{
		ID:            "o1",
		YesQuantity:   10_000_000,
		PoolLiquidity: 5_000_000,
	})

	report, err := svc.CheckMarket(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, report.Alert)

	require.NoError(t, svc.ResolveAlert(ctx, report.Alert.ID, "ops"))

	resolved, err := store.GetAlert(ctx, report.Alert.ID)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved)
	assert.Equal(t, "ops", resolved.ResolvedBy)

	open, err := store.ListUnresolved(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, open)

	// A second resolution of the same alert fails.
	assert.ErrorIs(t, svc.ResolveAlert(ctx, report.Alert.ID, "ops"), domain.ErrNotFound)
}

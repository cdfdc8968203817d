package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/curve"
	"github.com/hypemarket/engine/internal/domain"
	"github.com/hypemarket/engine/internal/fees"
	"github.com/hypemarket/engine/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus captures every publish and stream append by target name.
type recordingBus struct {
	published map[string][][]byte
	appended  map[string][][]byte
}

func newRecordingBus() *recordingBus {
	return &recordingBus{
		published: map[string][][]byte{},
		appended:  map[string][][]byte{},
	}
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *recordingBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.appended[stream] = append(b.appended[stream], payload)
	return nil
}

// Fixture: amplitude 16000, trader "alice" at the founder unit, "bob" funded
// with one whole unit of currency. Key fees are 250 bps protocol + 250 bps
// creator, no LP component.
func newKeysFixture(t *testing.T) (*memory.Store, *KeysService) {
	t.Helper()
	ctx := context.Background()

	store := memory.NewStore()
	require.NoError(t, store.CreateTrader(ctx, domain.Trader{ID: "alice", KeysSupply: domain.Precision}))
	require.NoError(t, store.EnsureWallet(ctx, "bob", 1_000_000))

	q, err := curve.NewQuadratic(16_000)
	require.NoError(t, err)
	schedule := fees.Schedule{ProtocolBps: 250, CreatorBps: 250}
	return store, NewKeysService(store, q, schedule, nil, testLogger())
}

func walletBalance(t *testing.T, store *memory.Store, ownerID string) int64 {
	t.Helper()
	w, err := store.GetWallet(context.Background(), ownerID)
	if err != nil {
		return 0
	}
	return w.Balance
}

func TestBuyKey(t *testing.T) {
	ctx := context.Background()

	t.Run("settles and conserves money", func(t *testing.T) {
		store, svc := newKeysFixture(t)

		res, err := svc.BuyKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		// Base cost over [1, 2] whole units is 145; each fee floors to 3.
		assert.Equal(t, int64(151), res.TotalCost)
		assert.Equal(t, int64(145), res.AveragePrice)
		assert.Equal(t, int64(2_000_000), res.NewSupply)
		assert.Equal(t, int64(999_849), res.NewBuyerBalance)

		assert.Equal(t, int64(999_849), walletBalance(t, store, "bob"))
		assert.Equal(t, int64(145), walletBalance(t, store, domain.CurveReserveOwner("alice")))
		assert.Equal(t, int64(3), walletBalance(t, store, "alice"))
		assert.Equal(t, int64(3), walletBalance(t, store, domain.TreasuryOwner))

		holding, err := store.GetHolding(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.Equal(t, domain.Precision, holding.Quantity)

		txns := store.KeyTransactions()
		require.Len(t, txns, 1)
		assert.Equal(t, domain.DirectionBuy, txns[0].Direction)
		assert.Equal(t, int64(1_000_000), txns[0].SupplyBefore)
		assert.Equal(t, int64(2_000_000), txns[0].SupplyAfter)
		assert.Equal(t, int64(151), txns[0].TotalValue)
	})

	t.Run("fans the settled trade out to channel and stream", func(t *testing.T) {
		store := memory.NewStore()
		require.NoError(t, store.CreateTrader(ctx, domain.Trader{ID: "alice", KeysSupply: domain.Precision}))
		require.NoError(t, store.EnsureWallet(ctx, "bob", 1_000_000))
		q, err := curve.NewQuadratic(16_000)
		require.NoError(t, err)
		bus := newRecordingBus()
		svc := NewKeysService(store, q, fees.Schedule{ProtocolBps: 250, CreatorBps: 250}, bus, testLogger())

		_, err = svc.BuyKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		require.Len(t, bus.published[tradeChannel], 1)
		require.Len(t, bus.appended[tradeStream], 1)
		assert.Equal(t, bus.published[tradeChannel][0], bus.appended[tradeStream][0])

		var event map[string]any
		require.NoError(t, json.Unmarshal(bus.appended[tradeStream][0], &event))
		assert.Equal(t, "key_buy", event["event"])
		assert.Equal(t, "alice", event["trader"])
		assert.Equal(t, "bob", event["counterparty"])
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "bob", 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("rejects buying own keys", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "alice", domain.Precision)
		assert.ErrorIs(t, err, domain.ErrSelfTrade)
	})

	t.Run("unknown trader", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "nobody", "bob", domain.Precision)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("insufficient balance rolls back cleanly", func(t *testing.T) {
		store, svc := newKeysFixture(t)
		require.NoError(t, store.EnsureWallet(ctx, "carol", 100))

		_, err := svc.BuyKey(ctx, "alice", "carol", domain.Precision)
		require.ErrorIs(t, err, domain.ErrInsufficientBalance)

		var shortfall *domain.ShortfallError
		require.ErrorAs(t, err, &shortfall)
		assert.Equal(t, int64(151), shortfall.Required)
		assert.Equal(t, int64(100), shortfall.Available)

		// Nothing moved: no supply change, no wallet change, no audit row.
		tr, err := store.GetTrader(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.Precision, tr.KeysSupply)
		assert.Equal(t, int64(100), walletBalance(t, store, "carol"))
		assert.Empty(t, store.KeyTransactions())
	})
}

func TestSellKey(t *testing.T) {
	ctx := context.Background()

	t.Run("third party round trip", func(t *testing.T) {
		store, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		res, err := svc.SellKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		// Gross payout mirrors the buy base (145); fees of 3+3 come out.
		assert.Equal(t, int64(139), res.TotalPayout)
		assert.Equal(t, int64(1_000_000), res.NewSupply)
		assert.Equal(t, int64(999_988), res.NewSellerBalance)

		assert.Equal(t, int64(999_988), walletBalance(t, store, "bob"))
		assert.Equal(t, int64(0), walletBalance(t, store, domain.CurveReserveOwner("alice")))
		assert.Equal(t, int64(6), walletBalance(t, store, "alice"))
		assert.Equal(t, int64(6), walletBalance(t, store, domain.TreasuryOwner))

		holding, err := store.GetHolding(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.Zero(t, holding.Quantity)

		txns := store.KeyTransactions()
		require.Len(t, txns, 2)
		assert.Equal(t, domain.DirectionSell, txns[1].Direction)
	})

	t.Run("founder sells implicit stake and keeps the fee", func(t *testing.T) {
		store, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		res, err := svc.SellKey(ctx, "alice", "alice", 500_000)
		require.NoError(t, err)

		// Gross over [1.5, 2.0] whole units is 96; fees 2+2, net 92, and the
		// creator fee cycles back to alice herself.
		assert.Equal(t, int64(92), res.TotalPayout)
		assert.Equal(t, int64(1_500_000), res.NewSupply)
		assert.Equal(t, int64(97), res.NewSellerBalance)

		assert.Equal(t, int64(97), walletBalance(t, store, "alice"))
		assert.Equal(t, int64(49), walletBalance(t, store, domain.CurveReserveOwner("alice")))
		assert.Equal(t, int64(5), walletBalance(t, store, domain.TreasuryOwner))
	})

	t.Run("founder unit is unsellable", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.SellKey(ctx, "alice", "alice", 1)
		assert.ErrorIs(t, err, domain.ErrFounderReserve)
	})

	t.Run("founder cannot sell tracked holdings", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "bob", 1_500_000)
		require.NoError(t, err)

		// Supply 2.5, tracked 1.5, implicit 1.0: selling 1.4 passes the
		// founder-reserve check but exceeds the implicit stake.
		_, err = svc.SellKey(ctx, "alice", "alice", 1_400_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
	})

	t.Run("third party cannot oversell", func(t *testing.T) {
		_, svc := newKeysFixture(t)
		_, err := svc.BuyKey(ctx, "alice", "bob", domain.Precision)
		require.NoError(t, err)

		_, err = svc.SellKey(ctx, "alice", "bob", 2_000_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
	})

	t.Run("money is conserved across a trade sequence", func(t *testing.T) {
		store, svc := newKeysFixture(t)
		require.NoError(t, store.EnsureWallet(ctx, "carol", 1_000_000))

		total := func() int64 {
			var sum int64
			for _, owner := range []string{
				"alice", "bob", "carol",
				domain.CurveReserveOwner("alice"), domain.TreasuryOwner,
			} {
				sum += walletBalance(t, store, owner)
			}
			return sum
		}
		before := total()

		_, err := svc.BuyKey(ctx, "alice", "bob", 2_000_000)
		require.NoError(t, err)
		_, err = svc.BuyKey(ctx, "alice", "carol", 700_000)
		require.NoError(t, err)
		_, err = svc.SellKey(ctx, "alice", "bob", 1_250_000)
		require.NoError(t, err)
		_, err = svc.SellKey(ctx, "alice", "carol", 700_000)
		require.NoError(t, err)

		assert.Equal(t, before, total())
	})
}

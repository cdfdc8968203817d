package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/domain"
)

func seedHolding(t *testing.T, store *Store, traderID, holderID string, quantity int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
		return tx.AdjustHolding(ctx, traderID, holderID, quantity)
	}))
}

// The holding adjustment contract shared with the SQL ledger: selling down to
// exactly zero clears the row, selling past zero fails loudly and leaves the
// row untouched.
func TestAdjustHolding(t *testing.T) {
	ctx := context.Background()

	t.Run("over-sell fails and preserves the holding", func(t *testing.T) {
		store := NewStore()
		seedHolding(t, store, "alice", "bob", 5)

		err := store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.AdjustHolding(ctx, "alice", "bob", -6)
		})
		require.ErrorIs(t, err, domain.ErrInsufficientHolding)
		var shortfall *domain.ShortfallError
		require.True(t, errors.As(err, &shortfall))
		assert.Equal(t, int64(6), shortfall.Required)
		assert.Equal(t, int64(5), shortfall.Available)

		h, err := store.GetHolding(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(5), h.Quantity)
	})

	t.Run("selling to exactly zero clears the row", func(t *testing.T) {
		store := NewStore()
		seedHolding(t, store, "alice", "bob", 5)

		require.NoError(t, store.WithinTx(ctx, func(tx domain.LedgerTx) error {
			return tx.AdjustHolding(ctx, "alice", "bob", -5)
		}))

		h, err := store.GetHolding(ctx, "alice", "bob")
		require.NoError(t, err)
		assert.Zero(t, h.Quantity)
	})
}

package curve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/domain"
)

const testA = 16_000

func mustCurve(t *testing.T) Quadratic {
	t.Helper()
	q, err := NewQuadratic(testA)
	require.NoError(t, err)
	return q
}

func TestNewQuadratic(t *testing.T) {
	_, err := NewQuadratic(0)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = NewQuadratic(-5)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestQuadraticPrice(t *testing.T) {
	q := mustCurve(t)

	// price(s) = s^2 / (A * 1e6) with s in micro-units.
	// At one whole unit: 1e12 / 1.6e10 = 62.
	assert.Equal(t, int64(62), q.Price(1_000_000))
	// At two whole units: 4e12 / 1.6e10 = 250.
	assert.Equal(t, int64(250), q.Price(2_000_000))
	assert.Equal(t, int64(0), q.Price(0))
}

func TestQuadraticBuyCost(t *testing.T) {
	q := mustCurve(t)

	t.Run("one unit from founder supply", func(t *testing.T) {
		// ((2e6)^3 - (1e6)^3) / (3 * 16000 * 1e12) = 7e18 / 4.8e16 = 145.
		cost, err := q.BuyCost(1_000_000, 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, int64(145), cost)
	})

	t.Run("cost grows with supply", func(t *testing.T) {
		low, err := q.BuyCost(1_000_000, 1_000_000)
		require.NoError(t, err)
		high, err := q.BuyCost(10_000_000, 1_000_000)
		require.NoError(t, err)
		assert.Greater(t, high, low)
	})

	t.Run("split purchases never exceed one purchase", func(t *testing.T) {
		whole, err := q.BuyCost(1_000_000, 2_000_000)
		require.NoError(t, err)
		first, err := q.BuyCost(1_000_000, 1_000_000)
		require.NoError(t, err)
		second, err := q.BuyCost(2_000_000, 1_000_000)
		require.NoError(t, err)
		// Each leg floors independently, so the sum can only lose dust.
		assert.LessOrEqual(t, first+second, whole)
		assert.GreaterOrEqual(t, first+second, whole-2)
	})

	t.Run("rejects non-positive quantity", func(t *testing.T) {
		_, err := q.BuyCost(1_000_000, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("large supply does not overflow", func(t *testing.T) {
		// A million whole units cubed is ~1e54; must still be exact.
		cost, err := q.BuyCost(1_000_000_000_000, 1_000_000)
		require.NoError(t, err)
		assert.Positive(t, cost)
	})
}

func TestQuadraticSellPayout(t *testing.T) {
	q := mustCurve(t)

	t.Run("mirrors buy over the same interval", func(t *testing.T) {
		buy, err := q.BuyCost(1_000_000, 1_000_000)
		require.NoError(t, err)
		sell, err := q.SellPayout(2_000_000, 1_000_000)
		require.NoError(t, err)
		assert.Equal(t, buy, sell)
	})

	t.Run("rejects selling beyond supply", func(t *testing.T) {
		_, err := q.SellPayout(1_000_000, 2_000_000)
		assert.ErrorIs(t, err, domain.ErrInsufficientSupply)

		var shortfall *domain.ShortfallError
		require.ErrorAs(t, err, &shortfall)
		assert.Equal(t, int64(2_000_000), shortfall.Required)
		assert.Equal(t, int64(1_000_000), shortfall.Available)
	})
}

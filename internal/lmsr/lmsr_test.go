package lmsr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hypemarket/engine/internal/domain"
)

// testB is 100 whole units of liquidity.
const testB int64 = 100_000_000

func mustMaker(t *testing.T) Maker {
	t.Helper()
	m, err := New(testB)
	require.NoError(t, err)
	return m
}

func TestNew(t *testing.T) {
	_, err := New(0)
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidity)

	_, err = New(-1)
	assert.ErrorIs(t, err, domain.ErrInvalidLiquidity)
}

func TestCost(t *testing.T) {
	m := mustMaker(t)

	t.Run("empty market", func(t *testing.T) {
		c, err := m.Cost(0, 0)
		require.NoError(t, err)
		assert.InDelta(t, float64(testB)*math.Ln2, c, 1)
	})

	t.Run("matches naive formula in safe range", func(t *testing.T) {
		c, err := m.Cost(50_000_000, 20_000_000)
		require.NoError(t, err)
		b := float64(testB)
		naive := b * math.Log(math.Exp(50_000_000/b)+math.Exp(20_000_000/b))
		assert.InDelta(t, naive, c, 1e-3)
	})

	t.Run("stable at quantities that overflow exp", func(t *testing.T) {
		// exp(1e12 / 1e8) = exp(10000) is +Inf; the reformulation is not.
		c, err := m.Cost(1_000_000_000_000, 0)
		require.NoError(t, err)
		assert.InDelta(t, float64(1_000_000_000_000), c, 1)
	})
}

func TestPriceYes(t *testing.T) {
	m := mustMaker(t)

	t.Run("empty market is exactly even", func(t *testing.T) {
		assert.Equal(t, 0.5, m.PriceYes(0, 0))
		assert.Equal(t, 0.5, m.PriceNo(0, 0))
	})

	t.Run("yes demand raises yes price", func(t *testing.T) {
		p := m.PriceYes(500_000, 0)
		assert.Greater(t, p, 0.5)
		assert.InDelta(t, 1.0, p+m.PriceNo(500_000, 0), 1e-12)
	})

	t.Run("balanced books price even", func(t *testing.T) {
		assert.InDelta(t, 0.5, m.PriceYes(30_000_000, 30_000_000), 1e-12)
	})

	t.Run("extreme imbalance saturates without NaN", func(t *testing.T) {
		p := m.PriceYes(1_000_000_000_000, 0)
		assert.False(t, math.IsNaN(p))
		assert.Greater(t, p, 0.999)
	})
}

func TestBuyCost(t *testing.T) {
	m := mustMaker(t)

	t.Run("first buy into empty market", func(t *testing.T) {
		cost, err := m.BuyCost(0, 0, 500_000, 0)
		require.NoError(t, err)
		// Near-even market: cost is close to half the quantity.
		assert.Greater(t, cost, int64(240_000))
		assert.Less(t, cost, int64(260_000))
	})

	t.Run("deeper books cost more per share", func(t *testing.T) {
		cheap, err := m.BuyCost(0, 0, 1_000_000, 0)
		require.NoError(t, err)
		dear, err := m.BuyCost(80_000_000, 0, 1_000_000, 0)
		require.NoError(t, err)
		assert.Greater(t, dear, cheap)
	})

	t.Run("rejects zero delta", func(t *testing.T) {
		_, err := m.BuyCost(0, 0, 0, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("rejects negative delta", func(t *testing.T) {
		_, err := m.BuyCost(0, 0, -1, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestSellPayout(t *testing.T) {
	m := mustMaker(t)

	t.Run("round trip returns at most the cost", func(t *testing.T) {
		cost, err := m.BuyCost(0, 0, 10_000_000, 0)
		require.NoError(t, err)
		payout, err := m.SellPayout(10_000_000, 0, 10_000_000, 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, payout, cost)
		assert.GreaterOrEqual(t, payout, cost-2)
	})

	t.Run("rejects selling more than outstanding", func(t *testing.T) {
		_, err := m.SellPayout(1_000_000, 0, 2_000_000, 0)
		assert.ErrorIs(t, err, domain.ErrInsufficientPool)
	})
}

func TestFairValue(t *testing.T) {
	assert.Equal(t, FairValueMid, FairValue(0, 0))
	// 3 yes vs 1 no: 750000.
	assert.Equal(t, int64(750_000), FairValue(3_000_000, 1_000_000))
	assert.Equal(t, int64(0), FairValue(0, 5_000_000))
	assert.Equal(t, domain.Precision, FairValue(5_000_000, 0))
}

func TestValidateBand(t *testing.T) {
	t.Run("inside band", func(t *testing.T) {
		// Fair value 500000; band [400000, 600000].
		assert.NoError(t, ValidateBand(0, 0, 450_000))
		assert.NoError(t, ValidateBand(0, 0, 400_000))
		assert.NoError(t, ValidateBand(0, 0, 600_000))
	})

	t.Run("outside band", func(t *testing.T) {
		err := ValidateBand(0, 0, 399_999)
		assert.ErrorIs(t, err, domain.ErrPriceOutOfBand)

		var band *domain.BandError
		require.ErrorAs(t, err, &band)
		assert.Equal(t, int64(400_000), band.Lower)
		assert.Equal(t, int64(600_000), band.Upper)
	})

	t.Run("band follows fair value", func(t *testing.T) {
		// Fair value 750000; 600000 is below the lower bound now.
		err := ValidateBand(3_000_000, 1_000_000, 600_000)
		assert.ErrorIs(t, err, domain.ErrPriceOutOfBand)
		assert.NoError(t, ValidateBand(3_000_000, 1_000_000, 700_000))
	})
}

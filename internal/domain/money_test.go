package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuantity(t *testing.T) {
	t.Run("whole units", func(t *testing.T) {
		v, err := ParseQuantity("1")
		require.NoError(t, err)
		assert.Equal(t, int64(1_000_000), v)
	})

	t.Run("fractional", func(t *testing.T) {
		v, err := ParseQuantity("1.5")
		require.NoError(t, err)
		assert.Equal(t, int64(1_500_000), v)
	})

	t.Run("smallest unit", func(t *testing.T) {
		v, err := ParseQuantity("0.000001")
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("leading dot", func(t *testing.T) {
		v, err := ParseQuantity(".25")
		require.NoError(t, err)
		assert.Equal(t, int64(250_000), v)
	})

	t.Run("too many decimals", func(t *testing.T) {
		_, err := ParseQuantity("0.0000001")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("negative", func(t *testing.T) {
		_, err := ParseQuantity("-1")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseQuantity("")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseQuantity("abc")
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "1", FormatQuantity(1_000_000))
	assert.Equal(t, "1.5", FormatQuantity(1_500_000))
	assert.Equal(t, "0.000001", FormatQuantity(1))
	assert.Equal(t, "0", FormatQuantity(0))
	assert.Equal(t, "-2.25", FormatQuantity(-2_250_000))
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000001", "1", "1.5", "123456.654321"} {
		v, err := ParseQuantity(s)
		require.NoError(t, err)
		assert.Equal(t, s, FormatQuantity(v))
	}
}

func TestMulDivFloor(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		assert.Equal(t, int64(50), MulDivFloor(10, 10, 2))
	})

	t.Run("floors", func(t *testing.T) {
		assert.Equal(t, int64(33), MulDivFloor(10, 10, 3))
	})

	t.Run("no intermediate overflow", func(t *testing.T) {
		// a*b overflows int64; the exact result does not.
		got := MulDivFloor(1_000_000_000_000, 1_000_000_000_000, 1_000_000_000_000)
		assert.Equal(t, int64(1_000_000_000_000), got)
	})

	t.Run("zero operand", func(t *testing.T) {
		assert.Equal(t, int64(0), MulDivFloor(0, 100, 7))
	})
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, int64(250), BpsOf(100_000, 25))
	// 145 * 250 / 10000 = 3.625, floored.
	assert.Equal(t, int64(3), BpsOf(145, 250))
	assert.Equal(t, int64(0), BpsOf(0, 250))
	assert.Equal(t, int64(0), BpsOf(100, 0))
}

func TestAveragePrice(t *testing.T) {
	// 150 micro-units paid for 1 whole unit: 150 per unit.
	assert.Equal(t, int64(150), AveragePrice(150, 1_000_000))
	// Half a unit doubles the per-unit price.
	assert.Equal(t, int64(300), AveragePrice(150, 500_000))
	assert.Equal(t, int64(0), AveragePrice(100, 0))
}

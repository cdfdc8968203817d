package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hypemarket/engine/internal/domain"
)

func TestScheduleValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, Schedule{LPBps: 100, ProtocolBps: 100, CreatorBps: 50}.Validate())
		assert.NoError(t, Schedule{}.Validate())
	})

	t.Run("negative component", func(t *testing.T) {
		err := Schedule{LPBps: -1}.Validate()
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})

	t.Run("consumes whole trade", func(t *testing.T) {
		err := Schedule{LPBps: 5000, ProtocolBps: 3000, CreatorBps: 2000}.Validate()
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestScheduleApply(t *testing.T) {
	s := Schedule{LPBps: 100, ProtocolBps: 100, CreatorBps: 50}

	t.Run("exact", func(t *testing.T) {
		split := s.Apply(1_000_000)
		assert.Equal(t, int64(10_000), split.LP)
		assert.Equal(t, int64(10_000), split.Protocol)
		assert.Equal(t, int64(5_000), split.Creator)
		assert.Equal(t, int64(25_000), split.Total())
	})

	t.Run("each component floors independently", func(t *testing.T) {
		// 999 * 100/10000 = 9.99 -> 9; 999 * 50/10000 = 4.995 -> 4.
		split := s.Apply(999)
		assert.Equal(t, int64(9), split.LP)
		assert.Equal(t, int64(9), split.Protocol)
		assert.Equal(t, int64(4), split.Creator)
	})

	t.Run("tiny amounts round to zero fees", func(t *testing.T) {
		split := s.Apply(5)
		assert.Equal(t, int64(0), split.Total())
	})

	t.Run("fees never exceed the amount", func(t *testing.T) {
		for _, amount := range []int64{1, 99, 145, 10_001, 999_999_999} {
			assert.Less(t, s.Apply(amount).Total(), amount)
		}
	})
}

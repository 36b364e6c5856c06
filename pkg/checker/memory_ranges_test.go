package checker

import (
	"testing"

	"github.com/orneryd/nornicdb-consistency/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRanges(t *testing.T) {
	t.Run("single range", func(t *testing.T) {
		m, err := NewMemoryRanges(100, 100, 250, 1, 40)
		require.NoError(t, err)
		assert.Equal(t, 1, m.NumberOfRanges())
		require.True(t, m.HasNext())
		assert.Equal(t, pool.Range(0, 40), m.Next())
		assert.False(t, m.HasNext())
	})

	t.Run("last range shorter", func(t *testing.T) {
		m, err := NewMemoryRanges(100, 100, 1000, 10, 200)
		require.NoError(t, err)
		var got []pool.LongRange
		for m.HasNext() {
			got = append(got, m.Next())
		}
		assert.Equal(t, []pool.LongRange{pool.Range(0, 80), pool.Range(80, 160), pool.Range(160, 200)}, got)
		assert.EqualValues(t, 80, m.NodesPerRange())

		m.Reset()
		assert.Equal(t, pool.Range(0, 80), m.Next())
		assert.Equal(t, got, m.Ranges())
	})

	t.Run("ten ranges", func(t *testing.T) {
		m, err := NewMemoryRanges(10, 20, 40, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, 10, m.NumberOfRanges())
		ranges := m.Ranges()
		for i, r := range ranges {
			assert.EqualValues(t, i*10, r.From)
			assert.EqualValues(t, (i+1)*10, r.To)
		}
	})

	t.Run("empty store", func(t *testing.T) {
		m, err := NewMemoryRanges(0, 0, 10, 1, 0)
		require.NoError(t, err)
		assert.False(t, m.HasNext())
		assert.Panics(t, func() { m.Next() })
	})

	t.Run("insufficient memory", func(t *testing.T) {
		_, err := NewMemoryRanges(100, 100, 150, 1, 40)
		assert.ErrorIs(t, err, ErrInsufficientMemory)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)

		_, err = NewMemoryRanges(100, 100, 205, 10, 40)
		assert.ErrorIs(t, err, ErrInsufficientMemory)

		_, err = NewMemoryRanges(0, 0, 100, 0, 40)
		assert.ErrorIs(t, err, ErrInvalidConfiguration)
	})
}

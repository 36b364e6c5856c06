package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeLabels(t *testing.T) {
	sets := NewLabelSetCache(256)
	defer sets.Close()
	nl, err := NewNodeLabels(10, sets)
	require.NoError(t, err)
	defer nl.Close()

	require.NoError(t, nl.Reset(20, 30))
	from, to := nl.Range()
	assert.EqualValues(t, 20, from)
	assert.EqualValues(t, 30, to)

	require.NoError(t, nl.Set(21, []int64{1, 4}))
	require.NoError(t, nl.Set(29, nil))
	assert.ErrorIs(t, nl.Set(30, []int64{1}), ErrNodeOutOfRange)

	got, err := nl.Labels(21, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 4}, got)

	got, err = nl.Labels(29, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Unset and out of range nodes have no labels.
	got, err = nl.Labels(22, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = nl.Labels(5, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, nl.Reset(30, 35))
	got, err = nl.Labels(21, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = nl.Labels(31, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, nl.Reset(0, 11), ErrNodeOutOfRange)
}

func TestNodeLabels_ConcurrentSet(t *testing.T) {
	sets := NewLabelSetCache(1024)
	defer sets.Close()
	nl, err := NewNodeLabels(1000, sets)
	require.NoError(t, err)
	defer nl.Close()
	require.NoError(t, nl.Reset(0, 1000))

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := int64(w); id < 1000; id += 4 {
				assert.NoError(t, nl.Set(id, []int64{id % 7, id}))
			}
		}()
	}
	wg.Wait()

	for id := range int64(1000) {
		got, err := nl.Labels(id, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{id % 7, id}, got)
	}
}

package cache

import (
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomLabelSet(rng *rand.Rand) []int64 {
	n := rng.Intn(12)
	set := make([]int64, 0, n)
	next := int64(rng.Intn(5))
	for range n {
		set = append(set, next)
		next += int64(1 + rng.Intn(1<<rng.Intn(20)))
	}
	return set
}

func TestLabelSetCache_RandomSets(t *testing.T) {
	c := NewLabelSetCache(1024)
	defer c.Close()

	rng := rand.New(rand.NewSource(42))
	sets := make([][]int64, 1000)
	handles := make([]LabelHandle, len(sets))
	for i := range sets {
		sets[i] = randomLabelSet(rng)
		h, err := c.Put(sets[i])
		require.NoError(t, err)
		handles[i] = h
	}

	var buf []int64
	for i, h := range handles {
		n, err := c.Len(h)
		require.NoError(t, err)
		assert.Equal(t, len(sets[i]), n)

		got, err := c.Get(h, buf)
		require.NoError(t, err)
		assert.Equal(t, len(sets[i]), len(got))
		assert.True(t, slices.Equal(sets[i], got), "set %d: want %v got %v", i, sets[i], got)
		buf = got
	}
	assert.Greater(t, c.MemoryUsage(), int64(1024))
}

func TestLabelSetCache_NegativeAndLargeIDs(t *testing.T) {
	c := NewLabelSetCache(0)
	defer c.Close()

	want := []int64{-3, 0, 7, 1 << 40}
	h, err := c.Put(want)
	require.NoError(t, err)
	got, err := c.Get(h, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	h, err = c.Put(nil)
	require.NoError(t, err)
	got, err = c.Get(h, make([]int64, 5))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLabelSetCache_RecordLargerThanChunk(t *testing.T) {
	c := NewLabelSetCache(16)
	defer c.Close()

	want := make([]int64, 40)
	for i := range want {
		want[i] = int64(i * 1000)
	}
	h, err := c.Put(want)
	require.NoError(t, err)
	got, err := c.Get(h, nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLabelSetCache_ConcurrentPutGet(t *testing.T) {
	c := NewLabelSetCache(4096)
	defer c.Close()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w)))
			var buf []int64
			for range 500 {
				set := randomLabelSet(rng)
				h, err := c.Put(set)
				if err != nil {
					errs <- err
					return
				}
				buf, err = c.Get(h, buf)
				if err != nil {
					errs <- err
					return
				}
				if !slices.Equal(set, buf) {
					errs <- assert.AnError
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestLabelSetCache_ResetReusesChunks(t *testing.T) {
	c := NewLabelSetCache(64)
	defer c.Close()

	for i := range 100 {
		_, err := c.Put([]int64{int64(i), int64(i + 1)})
		require.NoError(t, err)
	}
	usage := c.MemoryUsage()

	c.Reset()
	h, err := c.Put([]int64{9})
	require.NoError(t, err)
	assert.Equal(t, LabelHandle(0), h)
	assert.Equal(t, usage, c.MemoryUsage())

	got, err := c.Get(h, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, got)
}

func TestLabelSetCache_InvalidHandleAndClose(t *testing.T) {
	c := NewLabelSetCache(64)
	_, err := c.Put([]int64{1})
	require.NoError(t, err)

	_, err = c.Get(LabelHandle(5<<32), nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.Len(LabelHandle(-1))
	assert.ErrorIs(t, err, ErrInvalidHandle)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Put([]int64{1})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = c.Get(0, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

package storage

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePagedStore struct {
	rpp    int64
	highID int64

	mu      sync.Mutex
	touched []int64
	seeks   []int64
}

func (s *fakePagedStore) RecordsPerPage() int64 { return s.rpp }
func (s *fakePagedStore) HighID() int64         { return s.highID }
func (s *fakePagedStore) OpenPageCursor(start int64) (PageCursor, error) {
	return &fakeCursor{store: s, page: start}, nil
}

func (s *fakePagedStore) touchedPages() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.touched...)
}

type fakeCursor struct {
	store *fakePagedStore
	page  int64
}

func (c *fakeCursor) touch() error {
	c.store.mu.Lock()
	c.store.touched = append(c.store.touched, c.page)
	c.store.mu.Unlock()
	return nil
}

func (c *fakeCursor) Next() error { c.page++; return c.touch() }
func (c *fakeCursor) Prev() error { c.page--; return c.touch() }
func (c *fakeCursor) Seek(page int64) error {
	c.store.mu.Lock()
	c.store.seeks = append(c.store.seeks, page)
	c.store.mu.Unlock()
	c.page = page
	return c.touch()
}
func (c *fakeCursor) Page() int64  { return c.page }
func (c *fakeCursor) Close() error { return nil }

func TestPagePrefetcher_ForwardBlocksAheadOfReader(t *testing.T) {
	store := &fakePagedStore{rpp: 10, highID: 1000} // 100 pages
	const window = 4

	var reader atomic.Int64
	blocked := make(chan int64, 100)
	p := NewPagePrefetcher(store, window, nil, WithMonitor(func(page, readerPage int64) {
		blocked <- page
	}))

	done := make(chan error, 1)
	go func() { done <- p.Prefetch(reader.Load, true) }()

	select {
	case page := <-blocked:
		assert.EqualValues(t, 2*window, page)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetcher never blocked")
	}
	assert.Len(t, store.touchedPages(), 2*window, "pages touched before blocking")

	// Reader advances one window: prefetcher may move one more window.
	reader.Store(window * 10)
	p.Wake()
	select {
	case page := <-blocked:
		assert.EqualValues(t, 3*window, page)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetcher did not block again")
	}

	reader.Store(store.highID)
	p.Wake()
	require.NoError(t, <-done)

	touched := store.touchedPages()
	require.Len(t, touched, 100)
	for i, page := range touched {
		assert.EqualValues(t, i, page, "forward scan must be monotonic")
	}
}

func TestPagePrefetcher_Backward(t *testing.T) {
	store := &fakePagedStore{rpp: 10, highID: 95} // pages 0..9
	p := NewPagePrefetcher(store, 3, nil)

	// Reader already at the bottom: never more than a window behind.
	require.NoError(t, p.Prefetch(func() int64 { return 0 }, false))

	assert.Equal(t, []int64{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, store.touchedPages())
	assert.Equal(t, []int64{9, 6, 3, 0}, store.seeks, "explicit jump at start and every window boundary")
}

func TestPagePrefetcher_RangeStartsAtFirstPage(t *testing.T) {
	store := &fakePagedStore{rpp: 10, highID: 10_000} // pages 0..999
	const window = 4

	var reader atomic.Int64
	reader.Store(5000) // stalled at the start of the range
	blocked := make(chan int64, 100)
	p := NewPagePrefetcher(store, window, nil, WithMonitor(func(page, readerPage int64) {
		blocked <- page
	}))

	done := make(chan error, 1)
	go func() { done <- p.PrefetchRange(5000, 6000, reader.Load, true) }()

	select {
	case page := <-blocked:
		assert.EqualValues(t, 500+2*window, page)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetcher never blocked")
	}
	touched := store.touchedPages()
	require.Len(t, touched, 2*window)
	assert.EqualValues(t, 500, touched[0], "no page before the range is read")

	reader.Store(6000)
	p.Wake()
	require.NoError(t, <-done)

	touched = store.touchedPages()
	require.Len(t, touched, 100)
	for i, page := range touched {
		assert.EqualValues(t, 500+i, page)
	}
	assert.Equal(t, []int64{500}, store.seeks)
}

func TestPagePrefetcher_BackwardRange(t *testing.T) {
	store := &fakePagedStore{rpp: 10, highID: 1000}
	p := NewPagePrefetcher(store, 3, nil)

	require.NoError(t, p.PrefetchRange(205, 265, func() int64 { return 205 }, false))

	assert.Equal(t, []int64{26, 25, 24, 23, 22, 21, 20}, store.touchedPages())
	assert.Equal(t, []int64{26, 23, 20}, store.seeks)
}

func TestPagePrefetcher_RangeBeyondHighID(t *testing.T) {
	store := &fakePagedStore{rpp: 10, highID: 35}
	p := NewPagePrefetcher(store, 8, nil)

	require.NoError(t, p.PrefetchRange(20, 500, func() int64 { return 500 }, true))
	assert.Equal(t, []int64{2, 3}, store.touchedPages())
	require.NoError(t, p.PrefetchRange(40, 500, func() int64 { return 500 }, true))
	assert.Equal(t, []int64{2, 3}, store.touchedPages())
}

func TestPagePrefetcher_CancelWakesBlockedPrefetcher(t *testing.T) {
	store := &fakePagedStore{rpp: 1, highID: 10_000}
	const window = 8

	p := NewPagePrefetcher(store, window, nil)
	done := make(chan error, 1)
	go func() { done <- p.Prefetch(func() int64 { return 0 }, true) }()

	require.Eventually(t, func() bool { return len(store.touchedPages()) == 2*window }, 5*time.Second, time.Millisecond)
	p.Cancel() // no Wake

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetcher stayed blocked after Cancel")
	}
	assert.Len(t, store.touchedPages(), 2*window)
}

func TestPagePrefetcher_Cancellation(t *testing.T) {
	store := &fakePagedStore{rpp: 1, highID: 10_000}
	var cancelled atomic.Bool
	const window = 8

	p := NewPagePrefetcher(store, window, cancelled.Load, WithMonitor(func(int64, int64) {}))
	done := make(chan error, 1)
	go func() { done <- p.Prefetch(func() int64 { return 0 }, true) }()

	// Wait until it blocks ahead of the stalled reader, then cancel.
	require.Eventually(t, func() bool { return len(store.touchedPages()) == 2*window }, 5*time.Second, time.Millisecond)
	cancelled.Store(true)
	p.Wake()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("prefetcher ignored cancellation")
	}
	assert.LessOrEqual(t, len(store.touchedPages()), 3*window)
}

func TestPagePrefetcher_CancelledBeforeStart(t *testing.T) {
	store := &fakePagedStore{rpp: 1, highID: 100}
	p := NewPagePrefetcher(store, 4, func() bool { return true })
	require.NoError(t, p.Prefetch(func() int64 { return 100 }, true))
	assert.Empty(t, store.touchedPages())
}

func TestPagePrefetcher_EmptyStore(t *testing.T) {
	store := &fakePagedStore{rpp: 10}
	p := NewPagePrefetcher(store, 4, nil)
	require.NoError(t, p.Prefetch(func() int64 { return 0 }, true))
	require.NoError(t, p.Prefetch(func() int64 { return 0 }, false))
	assert.Empty(t, store.touchedPages())
}

func TestPagePrefetcher_BadgerStore(t *testing.T) {
	s := createTestStore(t)
	recs := make([]RelationshipRecord, 0, 64)
	for i := int64(0); i < 64; i++ {
		recs = append(recs, RelationshipRecord{ID: i, InUse: true, StartNode: i, EndNode: i + 1, Type: 1})
	}
	require.NoError(t, s.Relationships.WriteAll(recs))

	var monitored atomic.Int32
	p := NewPagePrefetcher(s.Relationships, 2, nil, WithMonitor(func(int64, int64) { monitored.Add(1) }))
	require.NoError(t, p.Prefetch(func() int64 { return s.Relationships.HighID() }, true))
	require.NoError(t, p.Prefetch(func() int64 { return 0 }, false))
	assert.Zero(t, monitored.Load())
}

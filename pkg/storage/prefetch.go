package storage

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PagedStore is a store of fixed-size records laid out in pages.
type PagedStore interface {
	RecordsPerPage() int64
	HighID() int64
	OpenPageCursor(startPage int64) (PageCursor, error)
}

// PageCursor touches one page at a time.
type PageCursor interface {
	// Next moves to the following page.
	Next() error
	// Prev moves to the preceding page.
	Prev() error
	// Seek jumps explicitly to page.
	Seek(page int64) error
	// Page is the page the cursor is on.
	Page() int64
	Close() error
}

// PagePrefetcher reads pages ahead of a scanning reader so they are cached by
// the time the reader gets there. It never runs more than one window ahead of
// the reader: when it does it waits until the reader calls Wake.
//
// A blocked prefetcher notices Cancel immediately. A raised cancelled flag is
// only seen at the next page or the next Wake.
type PagePrefetcher struct {
	store     PagedStore
	window    int64
	cancelled func() bool
	stopped   atomic.Bool
	monitor   func(page, readerPage int64)

	mu   sync.Mutex
	cond *sync.Cond
}

// PrefetchOption configures a PagePrefetcher.
type PrefetchOption func(*PagePrefetcher)

// WithMonitor sets a callback invoked every time the prefetcher blocks because
// it is too far ahead of the reader.
func WithMonitor(fn func(page, readerPage int64)) PrefetchOption {
	return func(p *PagePrefetcher) { p.monitor = fn }
}

// NewPagePrefetcher creates a prefetcher reading window pages ahead.
// cancelled is polled before every page; nil means never cancelled.
func NewPagePrefetcher(store PagedStore, window int64, cancelled func() bool, opts ...PrefetchOption) *PagePrefetcher {
	if window <= 0 {
		window = 1
	}
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	p := &PagePrefetcher{store: store, window: window, cancelled: cancelled}
	p.cond = sync.NewCond(&p.mu)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wake tells a blocked prefetcher that the reader moved or the run was cancelled.
func (p *PagePrefetcher) Wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Cancel stops the prefetcher, waking it if it is blocked.
func (p *PagePrefetcher) Cancel() {
	p.stopped.Store(true)
	p.Wake()
}

func (p *PagePrefetcher) isCancelled() bool {
	return p.stopped.Load() || p.cancelled()
}

// Prefetch walks every page of the store in scan direction.
// See PrefetchRange.
func (p *PagePrefetcher) Prefetch(reader func() int64, forward bool) error {
	return p.PrefetchRange(0, p.store.HighID(), reader, forward)
}

// PrefetchRange walks the pages holding record ids [from, to) in scan
// direction, blocking the calling goroutine whenever it gets more than one
// window ahead of reader. reader returns the id of the record the reader is
// currently at. Ids at or above the store's high id are ignored.
//
// A forward walk starts at the first page of the range. A backward walk jumps
// to the last page and steps down one page at a time, jumping explicitly to
// the top of each lower window, until the first page.
func (p *PagePrefetcher) PrefetchRange(from, to int64, reader func() int64, forward bool) error {
	from = max(from, 0)
	to = min(to, p.store.HighID())
	if to <= from {
		return nil
	}
	rpp := p.store.RecordsPerPage()
	firstPage, lastPage := from/rpp, (to-1)/rpp

	start := firstPage
	if !forward {
		start = lastPage
	}
	cursor, err := p.store.OpenPageCursor(start)
	if err != nil {
		return fmt.Errorf("failed to open page cursor: %w", err)
	}
	defer cursor.Close()

	if forward {
		for page, stepped := firstPage, int64(0); page <= lastPage; page, stepped = page+1, stepped+1 {
			if p.isCancelled() {
				return nil
			}
			if stepped > 0 && stepped%p.window == 0 {
				p.pause(page, reader, rpp, true)
				if p.isCancelled() {
					return nil
				}
			}
			if stepped == 0 {
				err = cursor.Seek(page)
			} else {
				err = cursor.Next()
			}
			if err != nil {
				return fmt.Errorf("failed to prefetch page %d: %w", page, err)
			}
		}
		return nil
	}

	for page, stepped := lastPage, int64(0); page >= firstPage; page, stepped = page-1, stepped+1 {
		if p.isCancelled() {
			return nil
		}
		if stepped > 0 && stepped%p.window == 0 {
			p.pause(page, reader, rpp, false)
			if p.isCancelled() {
				return nil
			}
			err = cursor.Seek(page)
		} else if stepped == 0 {
			err = cursor.Seek(page)
		} else {
			err = cursor.Prev()
		}
		if err != nil {
			return fmt.Errorf("failed to prefetch page %d: %w", page, err)
		}
	}
	return nil
}

// pause blocks while page is more than one window ahead of the reader.
func (p *PagePrefetcher) pause(page int64, reader func() int64, rpp int64, forward bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.isCancelled() {
		readerPage := reader() / rpp
		ahead := page - readerPage
		if !forward {
			ahead = readerPage - page
		}
		if ahead <= p.window {
			return
		}
		if p.monitor != nil {
			p.monitor(page, readerPage)
		}
		p.cond.Wait()
	}
}

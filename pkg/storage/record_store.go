package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// RecordStore keeps fixed-width records of one kind, grouped into pages.
//
// Key structure:
//   - Page:    kind + pageID(8, big-endian) -> recordsPerPage * codec.Size bytes
//   - High id: prefixHighID + kind -> int64 (big-endian)
//
// Ids that were never written read back as records that are not in use.
type RecordStore[T any] struct {
	owner          *BadgerStore
	kind           byte
	codec          Codec[T]
	recordsPerPage int64
	highID         atomic.Int64
}

func newRecordStore[T any](owner *BadgerStore, kind byte, codec Codec[T], recordsPerPage int64) (*RecordStore[T], error) {
	rs := &RecordStore[T]{owner: owner, kind: kind, codec: codec, recordsPerPage: recordsPerPage}
	err := owner.view(func(txn *badger.Txn) error {
		item, err := txn.Get(highIDKey(kind))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("%w: high id value of %d bytes", ErrCorruptPage, len(v))
			}
			rs.highID.Store(int64(binary.BigEndian.Uint64(v)))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load high id for kind %#x: %w", kind, err)
	}
	return rs, nil
}

func pageKey(kind byte, page int64) []byte {
	key := make([]byte, 9)
	key[0] = kind
	binary.BigEndian.PutUint64(key[1:], uint64(page))
	return key
}

func highIDKey(kind byte) []byte {
	return []byte{prefixHighID, kind}
}

// RecordsPerPage implements PagedStore.
func (rs *RecordStore[T]) RecordsPerPage() int64 { return rs.recordsPerPage }

// HighID implements PagedStore: one more than the highest id ever written.
func (rs *RecordStore[T]) HighID() int64 { return rs.highID.Load() }

// RecordSize is the width of one record slot in bytes.
func (rs *RecordStore[T]) RecordSize() int { return rs.codec.Size }

func (rs *RecordStore[T]) pageSize() int {
	return int(rs.recordsPerPage) * rs.codec.Size
}

func (rs *RecordStore[T]) bumpHighID(id int64) {
	for {
		cur := rs.highID.Load()
		if id < cur || rs.highID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Write stores one record, creating its page when needed.
func (rs *RecordStore[T]) Write(rec T) error {
	return rs.WriteAll([]T{rec})
}

// WriteAll stores records grouped by page through a badger WriteBatch.
func (rs *RecordStore[T]) WriteAll(recs []T) error {
	if len(recs) == 0 {
		return nil
	}
	byPage := make(map[int64][]T)
	maxID := int64(-1)
	for _, rec := range recs {
		id := rs.codec.ID(rec)
		if id < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidID, id)
		}
		byPage[id/rs.recordsPerPage] = append(byPage[id/rs.recordsPerPage], rec)
		maxID = max(maxID, id)
	}

	pages := make(map[int64][]byte, len(byPage))
	err := rs.owner.view(func(txn *badger.Txn) error {
		for page := range byPage {
			buf := make([]byte, rs.pageSize())
			item, err := txn.Get(pageKey(rs.kind, page))
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(v []byte) error {
					if len(v) != len(buf) {
						return fmt.Errorf("%w: page %d has %d bytes, want %d", ErrCorruptPage, page, len(v), len(buf))
					}
					copy(buf, v)
					return nil
				}); err != nil {
					return err
				}
			}
			pages[page] = buf
		}
		return nil
	})
	if err != nil {
		return err
	}

	for page, pageRecs := range byPage {
		buf := pages[page]
		for _, rec := range pageRecs {
			slot := int(rs.codec.ID(rec)%rs.recordsPerPage) * rs.codec.Size
			if err := rs.codec.Encode(rec, buf[slot:slot+rs.codec.Size]); err != nil {
				return fmt.Errorf("failed to encode record %d: %w", rs.codec.ID(rec), err)
			}
		}
	}

	wb := rs.owner.db.NewWriteBatch()
	defer wb.Cancel()
	ids := make([]int64, 0, len(pages))
	for page := range pages {
		ids = append(ids, page)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, page := range ids {
		if err := wb.Set(pageKey(rs.kind, page), pages[page]); err != nil {
			return err
		}
	}
	newHigh := maxID + 1
	if newHigh > rs.HighID() {
		hv := make([]byte, 8)
		binary.BigEndian.PutUint64(hv, uint64(newHigh))
		if err := wb.Set(highIDKey(rs.kind), hv); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to flush record pages: %w", err)
	}
	rs.bumpHighID(newHigh)
	return nil
}

// Read returns the record with the given id.
func (rs *RecordStore[T]) Read(id int64) (T, error) {
	var rec T
	if id < 0 {
		return rec, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	slot := int(id%rs.recordsPerPage) * rs.codec.Size
	err := rs.owner.view(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(rs.kind, id/rs.recordsPerPage))
		if errors.Is(err, badger.ErrKeyNotFound) {
			rec, err = rs.codec.Decode(id, make([]byte, rs.codec.Size))
			return err
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			if len(v) != rs.pageSize() {
				return fmt.Errorf("%w: page of %d bytes", ErrCorruptPage, len(v))
			}
			rec, err = rs.codec.Decode(id, v[slot:slot+rs.codec.Size])
			return err
		})
	})
	return rec, err
}

// Scan calls fn for every stored record with id in [from, to), in id order.
// Records on pages that were never written are skipped.
func (rs *RecordStore[T]) Scan(from, to int64, fn func(T) error) error {
	if from < 0 {
		from = 0
	}
	if to <= from {
		return nil
	}
	return rs.owner.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsPrefetchValues([]byte{rs.kind}, 16))
		defer it.Close()

		for it.Seek(pageKey(rs.kind, from/rs.recordsPerPage)); it.Valid(); it.Next() {
			item := it.Item()
			page := int64(binary.BigEndian.Uint64(item.Key()[1:]))
			base := page * rs.recordsPerPage
			if base >= to {
				return nil
			}
			err := item.Value(func(v []byte) error {
				if len(v) != rs.pageSize() {
					return fmt.Errorf("%w: page %d has %d bytes", ErrCorruptPage, page, len(v))
				}
				for i := int64(0); i < rs.recordsPerPage; i++ {
					id := base + i
					if id < from {
						continue
					}
					if id >= to {
						return nil
					}
					off := int(i) * rs.codec.Size
					rec, err := rs.codec.Decode(id, v[off:off+rs.codec.Size])
					if err != nil {
						return err
					}
					if err := fn(rec); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// OpenPageCursor implements PagedStore.
func (rs *RecordStore[T]) OpenPageCursor(startPage int64) (PageCursor, error) {
	if err := rs.owner.checkOpen(); err != nil {
		return nil, err
	}
	return &badgerPageCursor{owner: rs.owner, kind: rs.kind, page: startPage}, nil
}

// badgerPageCursor touches pages so their blocks are warm in badger's cache
// before the scanning reader gets there.
type badgerPageCursor struct {
	owner *BadgerStore
	kind  byte
	page  int64
}

func (c *badgerPageCursor) Seek(page int64) error {
	c.page = page
	return c.touch()
}

func (c *badgerPageCursor) Next() error {
	c.page++
	return c.touch()
}

func (c *badgerPageCursor) Prev() error {
	c.page--
	return c.touch()
}

func (c *badgerPageCursor) Page() int64 { return c.page }

func (c *badgerPageCursor) Close() error { return nil }

func (c *badgerPageCursor) touch() error {
	if c.page < 0 {
		return nil
	}
	return c.owner.view(func(txn *badger.Txn) error {
		item, err := txn.Get(pageKey(c.kind, c.page))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func([]byte) error { return nil })
	})
}

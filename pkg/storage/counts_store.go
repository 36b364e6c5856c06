package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// CountsStore is the persisted table of node and relationship counts used for
// cardinality estimation.
//
// Key structure:
//   - Node count:         0x20 0x00 label(8)              -> int64
//   - Relationship count: 0x20 0x01 start(8) type(8) end(8) -> int64
//
// Signed ids are stored with the sign bit flipped so keys sort numerically.
type CountsStore struct {
	owner *BadgerStore
}

const (
	countsKindNode = byte(0x00)
	countsKindRel  = byte(0x01)
)

// CountsVisitor receives every persisted count.
type CountsVisitor interface {
	VisitNodeCount(label, count int64)
	VisitRelationshipCount(start, typ, end, count int64)
}

func putOrdered(b []byte, v int64) {
	binary.BigEndian.PutUint64(b, uint64(v)^(1<<63))
}

func getOrdered(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func nodeCountKey(label int64) []byte {
	key := make([]byte, 10)
	key[0], key[1] = prefixCounts, countsKindNode
	putOrdered(key[2:], label)
	return key
}

func relCountKey(start, typ, end int64) []byte {
	key := make([]byte, 26)
	key[0], key[1] = prefixCounts, countsKindRel
	putOrdered(key[2:], start)
	putOrdered(key[10:], typ)
	putOrdered(key[18:], end)
	return key
}

func encodeCount(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// SetNodeCount persists the count for a label.
func (c *CountsStore) SetNodeCount(label, count int64) error {
	return c.owner.update(func(txn *badger.Txn) error {
		return txn.Set(nodeCountKey(label), encodeCount(count))
	})
}

// SetRelationshipCount persists the count for a (start, type, end) combination.
func (c *CountsStore) SetRelationshipCount(start, typ, end, count int64) error {
	return c.owner.update(func(txn *badger.Txn) error {
		return txn.Set(relCountKey(start, typ, end), encodeCount(count))
	})
}

// DeleteNodeCount removes a label's entry.
func (c *CountsStore) DeleteNodeCount(label int64) error {
	return c.owner.update(func(txn *badger.Txn) error {
		return txn.Delete(nodeCountKey(label))
	})
}

// NodeCount returns the persisted count of a label, and whether it exists.
func (c *CountsStore) NodeCount(label int64) (int64, bool, error) {
	return c.get(nodeCountKey(label))
}

// RelationshipCount returns the persisted count of a combination, and whether it exists.
func (c *CountsStore) RelationshipCount(start, typ, end int64) (int64, bool, error) {
	return c.get(relCountKey(start, typ, end))
}

func (c *CountsStore) get(key []byte) (int64, bool, error) {
	var count int64
	var found bool
	err := c.owner.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(v []byte) error {
			if len(v) != 8 {
				return fmt.Errorf("%w: count value of %d bytes", ErrCorruptPage, len(v))
			}
			count = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	return count, found, err
}

// Accept feeds every persisted count to v in key order, node counts first.
func (c *CountsStore) Accept(v CountsVisitor) error {
	return c.owner.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsPrefetchValues([]byte{prefixCounts}, 100))
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			var count int64
			if err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("%w: count value of %d bytes", ErrCorruptPage, len(val))
				}
				count = int64(binary.BigEndian.Uint64(val))
				return nil
			}); err != nil {
				return err
			}
			switch {
			case len(key) == 10 && key[1] == countsKindNode:
				v.VisitNodeCount(getOrdered(key[2:]), count)
			case len(key) == 26 && key[1] == countsKindRel:
				v.VisitRelationshipCount(getOrdered(key[2:]), getOrdered(key[10:]), getOrdered(key[18:]), count)
			default:
				return fmt.Errorf("%w: unexpected counts key %x", ErrCorruptPage, key)
			}
		}
		return nil
	})
}

// KeyCounts returns the number of persisted node and relationship count entries.
func (c *CountsStore) KeyCounts() (nodeKeys, relKeys int64, err error) {
	err = c.owner.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsKeyOnly([]byte{prefixCounts}))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if it.Item().Key()[1] == countsKindNode {
				nodeKeys++
			} else {
				relKeys++
			}
		}
		return nil
	})
	return nodeKeys, relKeys, err
}

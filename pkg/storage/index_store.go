package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// IndexDescriptor describes one schema index.
type IndexDescriptor struct {
	ID         uint32     `json:"id"`
	Name       string     `json:"name"`
	Entity     EntityType `json:"entity"`
	Tokens     []int64    `json:"tokens"`
	Properties []int64    `json:"properties"`
	// ValueCapable is false for indexes whose entries cannot be read back as
	// values, such as fulltext indexes.
	ValueCapable bool `json:"value_capable"`
	Online       bool `json:"online"`
}

// IndexStore keeps index descriptors and their entries.
//
// Key structure:
//   - Descriptor: 0x31 + indexID(4) -> JSON(IndexDescriptor)
//   - Entry:      0x30 + indexID(4) + entityID(8) -> []byte{}
type IndexStore struct {
	owner *BadgerStore
}

func indexDescriptorKey(id uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixIndexDescrip
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}

func indexEntryPrefix(id uint32) []byte {
	key := make([]byte, 5)
	key[0] = prefixIndexEntry
	binary.BigEndian.PutUint32(key[1:], id)
	return key
}

func indexEntryKey(id uint32, entityID int64) []byte {
	key := make([]byte, 13)
	copy(key, indexEntryPrefix(id))
	binary.BigEndian.PutUint64(key[5:], uint64(entityID))
	return key
}

// CreateIndex stores a descriptor, replacing any with the same id.
func (s *IndexStore) CreateIndex(desc IndexDescriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("failed to encode index descriptor: %w", err)
	}
	return s.owner.update(func(txn *badger.Txn) error {
		return txn.Set(indexDescriptorKey(desc.ID), data)
	})
}

// AddEntries adds entity ids to an index.
func (s *IndexStore) AddEntries(indexID uint32, entityIDs ...int64) error {
	wb := s.owner.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range entityIDs {
		if err := wb.Set(indexEntryKey(indexID, id), []byte{}); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// Descriptor returns the descriptor with the given id.
func (s *IndexStore) Descriptor(id uint32) (IndexDescriptor, error) {
	var desc IndexDescriptor
	err := s.owner.view(func(txn *badger.Txn) error {
		item, err := txn.Get(indexDescriptorKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %d", ErrUnknownIndex, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &desc) })
	})
	return desc, err
}

// OnlineRules returns the online indexes of an entity type, ordered by id.
func (s *IndexStore) OnlineRules(entity EntityType) ([]IndexDescriptor, error) {
	var out []IndexDescriptor
	err := s.owner.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsPrefetchValues([]byte{prefixIndexDescrip}, 0))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var desc IndexDescriptor
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &desc) }); err != nil {
				return fmt.Errorf("failed to decode index descriptor: %w", err)
			}
			if desc.Online && desc.Entity == entity {
				out = append(out, desc)
			}
		}
		return nil
	})
	return out, err
}

// EstimateNumberOfEntries counts the entries of an index with a key-only scan.
func (s *IndexStore) EstimateNumberOfEntries(ctx context.Context, desc IndexDescriptor) (int64, error) {
	var n int64
	err := s.owner.view(func(txn *badger.Txn) error {
		it := txn.NewIterator(badgerIterOptsKeyOnly(indexEntryPrefix(desc.ID)))
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
			if n%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return n, err
}

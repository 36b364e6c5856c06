// Package storage provides the record-oriented graph store the consistency checker reads.
//
// BadgerStore keeps fixed-width node, relationship and relationship-group records in
// pages on top of BadgerDB, together with the persisted counts store and the schema
// index entries. The checker never writes to it; the write paths exist so stores can
// be built by the importer and by tests.
package storage

import (
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/nornicdb-consistency/pkg/logging"
)

// Key prefixes for BadgerDB storage organization.
const (
	prefixHighID       = byte(0x10) // highid:kind -> int64
	prefixNodePage     = byte(0x11) // node pages
	prefixRelPage      = byte(0x12) // relationship pages
	prefixGroupPage    = byte(0x13) // relationship group pages
	prefixCounts       = byte(0x20) // counts store entries
	prefixIndexEntry   = byte(0x30) // index:entity:indexID:entityID -> []byte{}
	prefixIndexDescrip = byte(0x31) // indexdesc:indexID -> descriptor
)

// DefaultRecordsPerPage is the page size, in records, used when none is configured.
const DefaultRecordsPerPage int64 = 128

// BadgerStore is the persistent record store.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type BadgerStore struct {
	db       *badger.DB
	mu       sync.RWMutex
	closed   bool
	inMemory bool
	dataDir  string

	Nodes         *RecordStore[NodeRecord]
	Relationships *RecordStore[RelationshipRecord]
	Groups        *RecordStore[RelationshipGroupRecord]

	counts  *CountsStore
	indexes *IndexStore
}

// Options configures the BadgerDB-backed store.
type Options struct {
	// DataDir is the directory holding the store. Required unless InMemory.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Used by tests.
	InMemory bool

	// ReadOnly opens the store without write access, the normal mode for a check.
	ReadOnly bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil keeps badger quiet.
	Logger logging.Logger

	// LowMemory reduces memtable and cache sizes.
	LowMemory bool

	// BlockCacheSize overrides the block cache size in bytes (0 = default).
	// Page prefetching warms this cache.
	BlockCacheSize int64

	// EncryptionKey is the 16, 24, or 32 byte AES key of an encrypted store.
	EncryptionKey []byte

	// RecordsPerPage is the number of records per page (0 = DefaultRecordsPerPage).
	// It must match the value the store was written with.
	RecordsPerPage int64
}

// Open opens (or creates) a store.
func Open(opts Options) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.ReadOnly && !opts.InMemory {
		badgerOpts = badgerOpts.WithReadOnly(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(NewBadgerLogger(opts.Logger))
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if len(opts.EncryptionKey) > 0 {
		keyLen := len(opts.EncryptionKey)
		if keyLen != 16 && keyLen != 24 && keyLen != 32 {
			return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes (got %d bytes)", keyLen)
		}
		badgerOpts = badgerOpts.WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(32 << 20) // badger requires an index cache with encryption
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(8 << 20).
			WithValueLogFileSize(32 << 20).
			WithNumMemtables(1).
			WithNumLevelZeroTables(1).
			WithNumLevelZeroTablesStall(2).
			WithBlockCacheSize(8 << 20).
			WithIndexCacheSize(4 << 20)
	} else {
		badgerOpts = badgerOpts.
			WithMemTableSize(64 << 20).
			WithValueLogFileSize(128 << 20).
			WithNumMemtables(3).
			WithBlockCacheSize(64 << 20).
			WithIndexCacheSize(32 << 20)
	}
	if opts.BlockCacheSize > 0 {
		badgerOpts = badgerOpts.WithBlockCacheSize(opts.BlockCacheSize)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	rpp := opts.RecordsPerPage
	if rpp <= 0 {
		rpp = DefaultRecordsPerPage
	}
	s := &BadgerStore{db: db, inMemory: opts.InMemory, dataDir: opts.DataDir}

	if s.Nodes, err = newRecordStore(s, prefixNodePage, NodeCodec, rpp); err != nil {
		db.Close()
		return nil, err
	}
	if s.Relationships, err = newRecordStore(s, prefixRelPage, RelationshipCodec, rpp); err != nil {
		db.Close()
		return nil, err
	}
	if s.Groups, err = newRecordStore(s, prefixGroupPage, GroupCodec, rpp); err != nil {
		db.Close()
		return nil, err
	}
	s.counts = &CountsStore{owner: s}
	s.indexes = &IndexStore{owner: s}
	return s, nil
}

// OpenInMemory opens an empty in-memory store.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Options{InMemory: true})
}

// Counts returns the persisted counts store.
func (s *BadgerStore) Counts() *CountsStore { return s.counts }

// Indexes returns the schema index store.
func (s *BadgerStore) Indexes() *IndexStore { return s.indexes }

// IsInMemory reports whether the store runs in memory-only mode.
func (s *BadgerStore) IsInMemory() bool { return s.inMemory }

// Close closes the underlying database. Later operations return ErrStorageClosed.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// checkOpen returns ErrStorageClosed once Close was called.
func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: data dir %q", ErrStorageClosed, s.dataDir)
	}
	return nil
}

// view runs fn in a read-only transaction. Close waits for running views.
func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: data dir %q", ErrStorageClosed, s.dataDir)
	}
	return s.db.View(fn)
}

// update runs fn in a read-write transaction.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: data dir %q", ErrStorageClosed, s.dataDir)
	}
	return s.db.Update(fn)
}

func badgerIterOptsKeyOnly(prefix []byte) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	return opts
}

func badgerIterOptsPrefetchValues(prefix []byte, prefetchSize int) badger.IteratorOptions {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	if prefetchSize > 0 {
		opts.PrefetchSize = prefetchSize
	}
	opts.Prefix = prefix
	return opts
}

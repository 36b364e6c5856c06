package checker

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/orneryd/nornicdb-consistency/pkg/pool"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

// DefaultLargeIndexCapacity is how many indexes per entity type are checked as large.
const DefaultLargeIndexCapacity = 5

// IndexAccessor lists online indexes and estimates their sizes.
type IndexAccessor interface {
	OnlineRules(entity storage.EntityType) ([]storage.IndexDescriptor, error)
	EstimateNumberOfEntries(ctx context.Context, desc storage.IndexDescriptor) (int64, error)
}

// IndexSizes splits the online indexes of each entity type into the
// largeCapacity largest ones and the rest. Indexes whose values cannot be
// read back are always small.
type IndexSizes struct {
	exec          *pool.Execution
	accessor      IndexAccessor
	largeCapacity int

	mu    sync.RWMutex
	sizes map[uint32]int64
	large map[storage.EntityType][]storage.IndexDescriptor
	small map[storage.EntityType][]storage.IndexDescriptor
}

// NewIndexSizes creates an unclassified IndexSizes. Negative largeCapacity
// uses DefaultLargeIndexCapacity.
func NewIndexSizes(exec *pool.Execution, accessor IndexAccessor, largeCapacity int) *IndexSizes {
	if largeCapacity < 0 {
		largeCapacity = DefaultLargeIndexCapacity
	}
	return &IndexSizes{
		exec:          exec,
		accessor:      accessor,
		largeCapacity: largeCapacity,
		sizes:         make(map[uint32]int64),
		large:         make(map[storage.EntityType][]storage.IndexDescriptor),
		small:         make(map[storage.EntityType][]storage.IndexDescriptor),
	}
}

// Initialize estimates every index and classifies it.
func (s *IndexSizes) Initialize(ctx context.Context) error {
	for _, entity := range storage.EntityTypes {
		if err := s.classify(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *IndexSizes) classify(ctx context.Context, entity storage.EntityType) error {
	rules, err := s.accessor.OnlineRules(entity)
	if err != nil {
		return fmt.Errorf("online %s indexes: %w", entity, err)
	}

	var small, sized []storage.IndexDescriptor
	for _, desc := range rules {
		if desc.ValueCapable {
			sized = append(sized, desc)
		} else {
			small = append(small, desc)
		}
	}

	estimates := make([]int64, len(sized))
	tasks := make([]pool.Task, len(sized))
	for i, desc := range sized {
		tasks[i] = func(context.Context) error {
			n, err := s.accessor.EstimateNumberOfEntries(ctx, desc)
			if err != nil {
				return fmt.Errorf("estimate index %q: %w", desc.Name, err)
			}
			estimates[i] = n
			return nil
		}
	}
	if err := s.exec.Run("estimate "+entity.String()+" index sizes", tasks...); err != nil {
		return err
	}

	order := make([]int, len(sized))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(estimates[b], estimates[a])
	})

	var large []storage.IndexDescriptor
	for rank, i := range order {
		if rank < s.largeCapacity {
			large = append(large, sized[i])
		} else {
			small = append(small, sized[i])
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, desc := range sized {
		s.sizes[desc.ID] = estimates[i]
	}
	s.large[entity] = large
	s.small[entity] = small
	return nil
}

// LargeIndexes returns the large indexes of entity, largest first.
func (s *IndexSizes) LargeIndexes(entity storage.EntityType) []storage.IndexDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.large[entity])
}

// SmallIndexes returns the small indexes of entity.
func (s *IndexSizes) SmallIndexes(entity storage.EntityType) []storage.IndexDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.small[entity])
}

// EstimatedSize returns the estimate recorded for desc, or -1 when it was not estimated.
func (s *IndexSizes) EstimatedSize(desc storage.IndexDescriptor) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.sizes[desc.ID]; ok {
		return n
	}
	return -1
}

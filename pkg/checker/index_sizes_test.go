package checker

import (
	"context"
	"errors"
	"testing"

	"github.com/orneryd/nornicdb-consistency/pkg/pool"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndexes struct {
	rules map[storage.EntityType][]storage.IndexDescriptor
	sizes map[uint32]int64
	fail  error
}

func (f *fakeIndexes) OnlineRules(entity storage.EntityType) ([]storage.IndexDescriptor, error) {
	return f.rules[entity], nil
}

func (f *fakeIndexes) EstimateNumberOfEntries(_ context.Context, desc storage.IndexDescriptor) (int64, error) {
	if f.fail != nil {
		return 0, f.fail
	}
	return f.sizes[desc.ID], nil
}

func ids(descs []storage.IndexDescriptor) []uint32 {
	out := make([]uint32, 0, len(descs))
	for _, d := range descs {
		out = append(out, d.ID)
	}
	return out
}

func TestIndexSizes_Classify(t *testing.T) {
	var nodeRules []storage.IndexDescriptor
	sizes := map[uint32]int64{}
	for i := uint32(1); i <= 6; i++ {
		nodeRules = append(nodeRules, storage.IndexDescriptor{ID: i, Entity: storage.EntityNode, ValueCapable: true, Online: true})
		sizes[i] = int64(i) * 100
	}
	// A fulltext index, largest of all.
	nodeRules = append(nodeRules, storage.IndexDescriptor{ID: 7, Entity: storage.EntityNode, ValueCapable: false, Online: true})
	sizes[7] = 1_000_000

	relRules := []storage.IndexDescriptor{
		{ID: 20, Entity: storage.EntityRelationship, ValueCapable: true, Online: true},
	}
	sizes[20] = 5

	acc := &fakeIndexes{
		rules: map[storage.EntityType][]storage.IndexDescriptor{
			storage.EntityNode:         nodeRules,
			storage.EntityRelationship: relRules,
		},
		sizes: sizes,
	}
	s := NewIndexSizes(pool.New(3, 0), acc, 2)
	require.NoError(t, s.Initialize(context.Background()))

	assert.Equal(t, []uint32{6, 5}, ids(s.LargeIndexes(storage.EntityNode)))
	assert.ElementsMatch(t, []uint32{1, 2, 3, 4, 7}, ids(s.SmallIndexes(storage.EntityNode)))
	assert.Equal(t, []uint32{20}, ids(s.LargeIndexes(storage.EntityRelationship)))
	assert.Empty(t, s.SmallIndexes(storage.EntityRelationship))

	assert.EqualValues(t, 600, s.EstimatedSize(nodeRules[5]))
	assert.EqualValues(t, -1, s.EstimatedSize(nodeRules[6]))
}

func TestIndexSizes_EstimateFailure(t *testing.T) {
	boom := errors.New("boom")
	acc := &fakeIndexes{
		rules: map[storage.EntityType][]storage.IndexDescriptor{
			storage.EntityNode: {
				{ID: 1, Name: "a", ValueCapable: true},
				{ID: 2, Name: "b", ValueCapable: true},
			},
		},
		fail: boom,
	}
	s := NewIndexSizes(pool.New(2, 0), acc, 1)
	err := s.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var taskErr *pool.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Len(t, taskErr.Suppressed, 1)
}

func TestIndexSizes_BadgerStore(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	idx := store.Indexes()
	for id, n := range map[uint32]int{1: 10, 2: 300, 3: 50} {
		require.NoError(t, idx.CreateIndex(storage.IndexDescriptor{
			ID: id, Entity: storage.EntityNode, ValueCapable: true, Online: true,
		}))
		entries := make([]int64, n)
		for i := range entries {
			entries[i] = int64(i)
		}
		require.NoError(t, idx.AddEntries(id, entries...))
	}

	s := NewIndexSizes(pool.New(2, 0), idx, 1)
	require.NoError(t, s.Initialize(context.Background()))
	assert.Equal(t, []uint32{2}, ids(s.LargeIndexes(storage.EntityNode)))
	assert.ElementsMatch(t, []uint32{1, 3}, ids(s.SmallIndexes(storage.EntityNode)))
}

package report

import (
	"sync"
	"testing"

	"github.com/orneryd/nornicdb-consistency/pkg/counts"
	"github.com/orneryd/nornicdb-consistency/pkg/logging"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
	"github.com/stretchr/testify/assert"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []map[string]any
	levels  []string
}

func (c *captureLogger) Log(level, msg string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = append(c.levels, level)
	c.entries = append(c.entries, fields)
}

func TestSummary_Tallies(t *testing.T) {
	logger := &captureLogger{}
	s := NewSummary("run-1", logger)
	assert.Zero(t, s.Count())

	var r counts.Reporter = s
	r.ForCounts(counts.NodeKey(3)).InconsistentNodeCount(4, 5)
	r.ForCounts(counts.RelationshipKey(1, 2, counts.AnyLabel)).InconsistentRelationshipCount(1, 0)
	r.ForCounts(counts.NodeKey(counts.AnyLabel)).InconsistentNumberOfNodeKeys(2, 3)

	rel := storage.RelationshipRecord{ID: 7, InUse: true, StartNode: 1, EndNode: 2, Type: 4}
	s.ForRelationship(rel).SourceNodeNotInUse()
	s.ForRelationship(rel).TargetNodeNotInUse()
	s.GroupOwnerNotInUse(9, 1)

	assert.EqualValues(t, 6, s.Count())
	assert.Equal(t, map[string]int64{
		KindNodeCount:                  1,
		KindRelationshipCount:          1,
		KindNumberOfNodeKeys:           1,
		KindRelationshipSourceNotInUse: 1,
		KindRelationshipTargetNotInUse: 1,
		KindGroupOwnerNotInUse:         1,
	}, s.Counts())

	assert.Len(t, logger.entries, 6)
	assert.Equal(t, logging.LevelWarn, logger.levels[0])
	assert.Equal(t, "NodeCount(:3)", logger.entries[0]["key"])
	assert.EqualValues(t, 4, logger.entries[0]["expected"])
	assert.Equal(t, "run-1", logger.entries[0]["run_id"])
	assert.EqualValues(t, 2, logger.entries[4]["node"])

	s.LogSummary()
	last := logger.entries[len(logger.entries)-1]
	assert.EqualValues(t, 6, last["inconsistencies"])
	assert.EqualValues(t, 1, last[KindNodeCount])
}

func TestSummary_Concurrent(t *testing.T) {
	s := NewSummary("run-2", nil)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				s.ForCounts(counts.NodeKey(int64(i))).InconsistentNodeCount(0, 1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 800, s.Count())
	assert.EqualValues(t, 800, s.Counts()[KindNodeCount])
}

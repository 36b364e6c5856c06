package counts

import (
	"testing"

	"github.com/orneryd/nornicdb-consistency/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_NodeCounts(t *testing.T) {
	t.Run("match is not reported", func(t *testing.T) {
		tracker := NewTracker(10, 2, mapLabels{})
		tracker.IncrementNodeLabel(3, 5)
		r := &recordingReporter{}
		c := tracker.Checker(r)
		c.VisitNodeCount(3, 5)
		c.VisitNodeCount(AnyLabel, 5)
		c.Close()
		assert.Empty(t, r.reports)
	})

	t.Run("mismatch reported once", func(t *testing.T) {
		tracker := NewTracker(10, 2, mapLabels{})
		tracker.IncrementNodeLabel(3, 5)
		r := &recordingReporter{}
		c := tracker.Checker(r)
		c.VisitNodeCount(3, 4)
		c.VisitNodeCount(AnyLabel, 5)
		c.Close()
		assert.Equal(t, []string{"node NodeCount(:3) expected=4 actual=5"}, r.reports)
	})

	t.Run("never incremented label reported", func(t *testing.T) {
		for _, label := range []int64{4, 40, -9} {
			tracker := NewTracker(10, 2, mapLabels{})
			r := &recordingReporter{}
			c := tracker.Checker(r)
			c.VisitNodeCount(label, 2)
			c.Close()
			assert.Len(t, r.reports, 1, "label %d", label)
		}
	})

	t.Run("never incremented key with zero expected reported", func(t *testing.T) {
		// 4 lives in the dense tables, 40 and -9 in the sparse map.
		for _, label := range []int64{4, 40, -9} {
			tracker := NewTracker(10, 2, mapLabels{})
			r := &recordingReporter{}
			c := tracker.Checker(r)
			c.VisitNodeCount(label, 0)
			c.VisitRelationshipCount(label, 1, AnyLabel, 0)
			c.Close()
			assert.Equal(t, []string{
				"node " + NodeKey(label).String() + " expected=0 actual=0",
				"rel " + RelationshipKey(label, 1, AnyLabel).String() + " expected=0 actual=0",
			}, r.reports, "label %d", label)
		}
	})

	t.Run("incremented back to zero matches zero", func(t *testing.T) {
		tracker := NewTracker(10, 2, mapLabels{})
		tracker.IncrementNodeLabel(4, 1)
		tracker.IncrementNodeLabel(4, -1)
		r := &recordingReporter{}
		c := tracker.Checker(r)
		c.VisitNodeCount(4, 0)
		c.VisitNodeCount(AnyLabel, 0)
		c.Close()
		assert.Empty(t, r.reports)
	})

	t.Run("unvisited label reported on close", func(t *testing.T) {
		for _, label := range []int64{4, 40, -9} {
			tracker := NewTracker(10, 2, mapLabels{})
			tracker.IncrementNodeLabel(label, 1)
			r := &recordingReporter{}
			c := tracker.Checker(r)
			c.VisitNodeCount(AnyLabel, 1)
			c.Close()
			c.Close()
			assert.Equal(t, []string{"node " + NodeKey(label).String() + " expected=0 actual=1"}, r.reports)
		}
	})
}

func TestChecker_RelationshipCounts(t *testing.T) {
	tracker := NewTracker(4, 4, mapLabels{1: {2}, 2: {3}})
	c := tracker.InstantiateRelationshipCounter()
	rel := storage.RelationshipRecord{ID: 0, InUse: true, StartNode: 1, EndNode: 2, Type: 1}
	tracker.IncrementRelationshipTypeCounts(c, rel)
	require.NoError(t, tracker.IncrementRelationshipNodeCounts(c, rel, true, true))

	r := &recordingReporter{}
	checker := tracker.Checker(r)
	func() {
		defer checker.Close()
		checker.VisitRelationshipCount(AnyLabel, 1, AnyLabel, 1)
		checker.VisitRelationshipCount(AnyLabel, AnyType, AnyLabel, 1)
		checker.VisitRelationshipCount(2, 1, AnyLabel, 1)
		checker.VisitRelationshipCount(2, AnyType, AnyLabel, 7)
		checker.VisitRelationshipCount(AnyLabel, 1, 3, 1)
		checker.VisitRelationshipCount(2, 1, 3, 1) // never tracked
	}()

	assert.ElementsMatch(t, []string{
		"rel RelCount(:2)-[]->() expected=7 actual=1",
		"rel RelCount(:2)-[:1]->(:3) expected=1 actual=0",
		"rel RelCount()-[]->(:3) expected=0 actual=1",
	}, r.reports)
}

func TestChecker_VisitorAndKeyCounts(t *testing.T) {
	s, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	tracker := NewTracker(4, 4, mapLabels{})
	tracker.IncrementNodeLabel(1, 2)
	tracker.IncrementNodeLabel(2, 1)

	require.NoError(t, s.Counts().SetNodeCount(AnyLabel, 3))
	require.NoError(t, s.Counts().SetNodeCount(1, 2))
	require.NoError(t, s.Counts().SetNodeCount(2, 5))
	require.NoError(t, s.Counts().SetRelationshipCount(AnyLabel, AnyType, AnyLabel, 0))

	r := &recordingReporter{}
	checker := tracker.Checker(r)
	require.NoError(t, s.Counts().Accept(checker.Visitor()))
	nodeKeys, relKeys, err := s.Counts().KeyCounts()
	require.NoError(t, err)
	checker.VerifyKeyCounts(nodeKeys, relKeys)
	checker.Close()

	assert.ElementsMatch(t, []string{
		"node NodeCount(:2) expected=5 actual=1",
		"rel RelCount()-[]->() expected=0 actual=0",
		"relKeys RelCount()-[]->() expected=1 actual=0",
	}, r.reports)
}

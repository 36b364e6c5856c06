package counts

import (
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/nornicdb-consistency/pkg/storage"
	"github.com/zhangyunhao116/skipmap"
)

// maxDenseEntries bounds each pre-sized relationship table. Keys that would
// need a larger table live in the sparse map.
const maxDenseEntries = 1 << 22

// NodeLabels resolves the cached labels of a node.
type NodeLabels interface {
	Labels(nodeID int64, dst []int64) ([]int64, error)
}

type entry struct {
	count   atomic.Int64
	touched atomic.Bool // set by the first increment
	visited atomic.Bool
}

// Tracker tallies counts seen while scanning the store.
//
// Keys whose ids fall inside the declared high ids live in dense tables:
//
//	nodes       label in [-1, highLabel)
//	relByStart  (start, type, ANY) with start in [-1, highLabel), type in [-1, highType)
//	relByEnd    (ANY, type, end)   with end in [0, highLabel), type in [-1, highType)
//
// Every other key (negative ids, ids at or above the high ids, keys with both
// labels set) goes to a concurrent skip map ordered by key. All increments
// are atomic.
type Tracker struct {
	highLabel int64
	highType  int64
	labels    NodeLabels

	nodes      []entry
	relByStart []entry
	relByEnd   []entry
	sparse     *skipmap.FuncMap[CountKey, *entry]
}

// EstimateMemory is the size of the dense tables of a tracker created with
// the given high ids.
func EstimateMemory(highLabelID, highTypeID int64) int64 {
	highLabelID = max(highLabelID, 0)
	highTypeID = max(highTypeID, 0)
	entries := highLabelID + 1
	if n := (highLabelID + 1) * (highTypeID + 1); n <= maxDenseEntries {
		entries += n + highLabelID*(highTypeID+1)
	}
	return entries * int64(unsafe.Sizeof(entry{}))
}

// NewTracker creates a tracker sized for the given high ids. labels resolves
// node labels for relationship counts.
func NewTracker(highLabelID, highTypeID int64, labels NodeLabels) *Tracker {
	highLabelID = max(highLabelID, 0)
	highTypeID = max(highTypeID, 0)
	t := &Tracker{
		highLabel: highLabelID,
		highType:  highTypeID,
		labels:    labels,
		nodes:     make([]entry, highLabelID+1),
		sparse: skipmap.NewFunc[CountKey, *entry](func(a, b CountKey) bool {
			return compareKeys(a, b) < 0
		}),
	}
	if n := (highLabelID + 1) * (highTypeID + 1); n <= maxDenseEntries {
		t.relByStart = make([]entry, n)
		t.relByEnd = make([]entry, highLabelID*(highTypeID+1))
	}
	return t
}

func (t *Tracker) dense(k CountKey) *entry {
	if !k.relationship {
		if k.start >= AnyLabel && k.start < t.highLabel {
			return &t.nodes[k.start+1]
		}
		return nil
	}
	if t.relByStart == nil || k.typ < AnyType || k.typ >= t.highType {
		return nil
	}
	switch {
	case k.end == AnyLabel && k.start >= AnyLabel && k.start < t.highLabel:
		return &t.relByStart[(k.start+1)*(t.highType+1)+k.typ+1]
	case k.start == AnyLabel && k.end >= 0 && k.end < t.highLabel:
		return &t.relByEnd[(k.typ+1)*t.highLabel+k.end]
	}
	return nil
}

// lookup returns the entry for k, or nil if k was never incremented.
func (t *Tracker) lookup(k CountKey) *entry {
	e := t.dense(k)
	if e == nil {
		e, _ = t.sparse.Load(k)
	}
	if e == nil || !e.touched.Load() {
		return nil
	}
	return e
}

func (t *Tracker) add(k CountKey, delta int64) {
	e := t.dense(k)
	if e == nil {
		e, _ = t.sparse.LoadOrStoreLazy(k, func() *entry { return new(entry) })
	}
	e.count.Add(delta)
	if !e.touched.Load() {
		e.touched.Store(true)
	}
}

// IncrementNodeLabel adds delta to label and to the AnyLabel total.
func (t *Tracker) IncrementNodeLabel(label, delta int64) {
	t.add(NodeKey(label), delta)
	if label != AnyLabel {
		t.add(NodeKey(AnyLabel), delta)
	}
}

// IncrementNode counts one node: once under each of its labels and once
// under AnyLabel.
func (t *Tracker) IncrementNode(labels []int64) {
	for _, l := range labels {
		if l != AnyLabel {
			t.add(NodeKey(l), 1)
		}
	}
	t.add(NodeKey(AnyLabel), 1)
}

// NodeCount returns the tracked count of label.
func (t *Tracker) NodeCount(label int64) int64 {
	if e := t.lookup(NodeKey(label)); e != nil {
		return e.count.Load()
	}
	return 0
}

// RelationshipCount returns the tracked count of (start, typ, end).
func (t *Tracker) RelationshipCount(start, typ, end int64) int64 {
	if e := t.lookup(RelationshipKey(start, typ, end)); e != nil {
		return e.count.Load()
	}
	return 0
}

// InstantiateRelationshipCounter returns a counter for one worker. Counters
// are not safe for concurrent use; the tracker they feed is.
func (t *Tracker) InstantiateRelationshipCounter() *RelationshipCounter {
	return &RelationshipCounter{
		tracker:      t,
		startCounted: storage.NullReference,
		endCounted:   storage.NullReference,
	}
}

// IncrementRelationshipTypeCounts counts rel under (ANY, type, ANY) and
// (ANY, ANY, ANY).
func (t *Tracker) IncrementRelationshipTypeCounts(c *RelationshipCounter, rel storage.RelationshipRecord) {
	c.countType(rel)
}

// IncrementRelationshipNodeCounts counts rel under the labels of its start
// node (label, type, ANY), (label, ANY, ANY) and of its end node
// (ANY, type, label), (ANY, ANY, label). A side already counted for rel by
// this counter is skipped.
func (t *Tracker) IncrementRelationshipNodeCounts(c *RelationshipCounter, rel storage.RelationshipRecord, includeStart, includeEnd bool) error {
	return c.countNodes(rel, includeStart, includeEnd)
}

// forEach calls fn for every tracked key, dense tables first.
func (t *Tracker) forEach(fn func(k CountKey, e *entry)) {
	for i := range t.nodes {
		fn(NodeKey(int64(i)-1), &t.nodes[i])
	}
	types := t.highType + 1
	for i := range t.relByStart {
		start, typ := int64(i)/types-1, int64(i)%types-1
		fn(RelationshipKey(start, typ, AnyLabel), &t.relByStart[i])
	}
	for i := range t.relByEnd {
		typ, end := int64(i)/t.highLabel-1, int64(i)%t.highLabel
		fn(RelationshipKey(AnyLabel, typ, end), &t.relByEnd[i])
	}
	t.sparse.Range(func(k CountKey, e *entry) bool {
		fn(k, e)
		return true
	})
}

// KeyCounts returns how many node and relationship keys hold a non-zero count.
func (t *Tracker) KeyCounts() (nodeKeys, relKeys int64) {
	t.forEach(func(k CountKey, e *entry) {
		if e.count.Load() == 0 {
			return
		}
		if k.relationship {
			relKeys++
		} else {
			nodeKeys++
		}
	})
	return nodeKeys, relKeys
}

package counts

import (
	"sync/atomic"

	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

// Checker compares the tracked counts with expected values, typically the
// persisted counts store. Mismatches are reported, never returned as errors.
//
// Close reports every tracked non-zero count that was not visited. Callers
// defer Close right after creating the checker.
type Checker struct {
	tracker  *Tracker
	reporter Reporter
	closed   atomic.Bool
}

// Checker starts a verification pass.
func (t *Tracker) Checker(reporter Reporter) *Checker {
	return &Checker{tracker: t, reporter: reporter}
}

func (c *Checker) visit(k CountKey) (actual int64, tracked bool) {
	e := c.tracker.lookup(k)
	if e == nil {
		return 0, false
	}
	e.visited.Store(true)
	return e.count.Load(), true
}

// VisitNodeCount checks one expected node count.
func (c *Checker) VisitNodeCount(label, expected int64) {
	k := NodeKey(label)
	if actual, tracked := c.visit(k); !tracked || actual != expected {
		c.reporter.ForCounts(k).InconsistentNodeCount(expected, actual)
	}
}

// VisitRelationshipCount checks one expected relationship count.
func (c *Checker) VisitRelationshipCount(start, typ, end, expected int64) {
	k := RelationshipKey(start, typ, end)
	if actual, tracked := c.visit(k); !tracked || actual != expected {
		c.reporter.ForCounts(k).InconsistentRelationshipCount(expected, actual)
	}
}

// VerifyKeyCounts compares the number of non-zero keys tracked with the
// number of keys held by the persisted store.
func (c *Checker) VerifyKeyCounts(expectedNodeKeys, expectedRelKeys int64) {
	nodeKeys, relKeys := c.tracker.KeyCounts()
	if nodeKeys != expectedNodeKeys {
		c.reporter.ForCounts(NodeKey(AnyLabel)).InconsistentNumberOfNodeKeys(expectedNodeKeys, nodeKeys)
	}
	if relKeys != expectedRelKeys {
		c.reporter.ForCounts(RelationshipKey(AnyLabel, AnyType, AnyLabel)).
			InconsistentNumberOfRelationshipKeys(expectedRelKeys, relKeys)
	}
}

// Close reports every non-zero count that was never visited. Only the
// first call does anything.
func (c *Checker) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.tracker.forEach(func(k CountKey, e *entry) {
		count := e.count.Load()
		if count == 0 || e.visited.Load() {
			return
		}
		r := c.reporter.ForCounts(k)
		if k.relationship {
			r.InconsistentRelationshipCount(0, count)
		} else {
			r.InconsistentNodeCount(0, count)
		}
	})
}

// Visitor adapts the checker to a counts store scan.
func (c *Checker) Visitor() storage.CountsVisitor {
	return visitor{c}
}

type visitor struct{ c *Checker }

func (v visitor) VisitNodeCount(label, count int64) { v.c.VisitNodeCount(label, count) }

func (v visitor) VisitRelationshipCount(start, typ, end, count int64) {
	v.c.VisitRelationshipCount(start, typ, end, count)
}

// Package checker drives a full consistency check of a record store: it tiles
// the node id space into ranges that fit in memory, scans records on a worker
// pool and verifies the tracked counts against the persisted counts store.
package checker

import (
	"errors"
	"fmt"

	"github.com/orneryd/nornicdb-consistency/pkg/pool"
)

var (
	// ErrInvalidConfiguration is returned for memory settings that cannot work.
	ErrInvalidConfiguration = errors.New("checker: invalid configuration")
	// ErrInsufficientMemory means not even one node fits in the memory left
	// after the fixed overheads.
	ErrInsufficientMemory = fmt.Errorf("%w: insufficient memory", ErrInvalidConfiguration)
)

// MemoryRanges splits [0, highNodeID) into consecutive node ranges that each
// fit in the memory left after the fixed overheads.
type MemoryRanges struct {
	nodesPerRange int64
	ranges        []pool.LongRange
	next          int
}

// NewMemoryRanges computes every range up front. overheadA and overheadB are
// memory taken by structures that live for the whole check; perNodeCost is the
// memory one node of a range needs.
func NewMemoryRanges(overheadA, overheadB, available, perNodeCost, highNodeID int64) (*MemoryRanges, error) {
	if perNodeCost <= 0 {
		return nil, fmt.Errorf("%w: per node cost %d", ErrInvalidConfiguration, perNodeCost)
	}
	budget := available - overheadA - overheadB
	if budget < 0 {
		return nil, fmt.Errorf("%w: %d bytes available, %d+%d bytes needed before any node",
			ErrInsufficientMemory, available, overheadA, overheadB)
	}
	nodesPerRange := budget / perNodeCost
	if nodesPerRange < 1 {
		return nil, fmt.Errorf("%w: %d bytes left, one node needs %d", ErrInsufficientMemory, budget, perNodeCost)
	}

	highNodeID = max(highNodeID, 0)
	n := (highNodeID + nodesPerRange - 1) / nodesPerRange
	ranges := make([]pool.LongRange, 0, n)
	for i := range n {
		ranges = append(ranges, pool.Range(i*nodesPerRange, min((i+1)*nodesPerRange, highNodeID)))
	}
	return &MemoryRanges{nodesPerRange: nodesPerRange, ranges: ranges}, nil
}

// NodesPerRange is the size of every range but possibly the last.
func (m *MemoryRanges) NodesPerRange() int64 { return m.nodesPerRange }

// NumberOfRanges is the total number of ranges.
func (m *MemoryRanges) NumberOfRanges() int { return len(m.ranges) }

// HasNext reports whether Next has another range.
func (m *MemoryRanges) HasNext() bool { return m.next < len(m.ranges) }

// Next returns the following range. It panics when HasNext is false.
func (m *MemoryRanges) Next() pool.LongRange {
	if !m.HasNext() {
		panic("checker: no more memory ranges")
	}
	r := m.ranges[m.next]
	m.next++
	return r
}

// Reset restarts iteration at the first range.
func (m *MemoryRanges) Reset() { m.next = 0 }

// Ranges returns a copy of every range.
func (m *MemoryRanges) Ranges() []pool.LongRange {
	return append([]pool.LongRange(nil), m.ranges...)
}

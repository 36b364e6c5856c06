package pool

import "fmt"

// LongRange is the half-open id interval [From, To).
type LongRange struct {
	From int64
	To   int64
}

// Range returns the LongRange [from, to).
func Range(from, to int64) LongRange {
	return LongRange{From: from, To: to}
}

// Size is the number of ids in the range.
func (r LongRange) Size() int64 {
	if r.To <= r.From {
		return 0
	}
	return r.To - r.From
}

// Contains reports whether id lies within [From, To).
func (r LongRange) Contains(id int64) bool {
	return id >= r.From && id < r.To
}

func (r LongRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.From, r.To)
}

// Partition splits r into consecutive chunks of ChunkSize ids, the last one
// possibly shorter, and calls op once per chunk in ascending order. The tasks
// op returns are collected in the same order.
func (e *Execution) Partition(r LongRange, op func(from, to int64, last bool) Task) []Task {
	n := r.Size()
	if n == 0 {
		return nil
	}
	tasks := make([]Task, 0, (n+e.chunkSize-1)/e.chunkSize)
	for from := r.From; from < r.To; from += e.chunkSize {
		to := from + e.chunkSize
		if to >= r.To {
			to = r.To
		}
		tasks = append(tasks, op(from, to, to == r.To))
	}
	return tasks
}

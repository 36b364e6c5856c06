package cache

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// NodeLabels maps the node ids of one range to label sets in a LabelSetCache.
//
// The handle table is an off-heap array of 8 bytes per node holding handle+1,
// so a zeroed entry means the node has no cached labels. Setting labels of
// different nodes concurrently is safe.
type NodeLabels struct {
	sets *LabelSetCache

	mu       sync.RWMutex
	handles  []byte
	capacity int64
	from, to int64
}

// NewNodeLabels allocates a handle table for ranges of up to capacity nodes.
func NewNodeLabels(capacity int64, sets *LabelSetCache) (*NodeLabels, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrNodeOutOfRange, capacity)
	}
	handles, err := allocateOffHeap(int(capacity * 8))
	if err != nil {
		return nil, err
	}
	return &NodeLabels{sets: sets, handles: handles, capacity: capacity}, nil
}

// BytesPerNode is the off-heap cost of one node in the handle table.
const BytesPerNode = 8

// Reset prepares the table for nodes in [from, to), dropping every cached set.
func (n *NodeLabels) Reset(from, to int64) error {
	if to-from > n.capacity || to < from {
		return fmt.Errorf("%w: range [%d,%d) exceeds capacity %d", ErrNodeOutOfRange, from, to, n.capacity)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	clear(n.handles[:(to-from)*8])
	n.from, n.to = from, to
	n.sets.Reset()
	return nil
}

// Range returns the node range currently covered.
func (n *NodeLabels) Range() (from, to int64) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.from, n.to
}

// Set caches the labels of nodeID.
func (n *NodeLabels) Set(nodeID int64, labels []int64) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if nodeID < n.from || nodeID >= n.to {
		return fmt.Errorf("%w: node %d not in [%d,%d)", ErrNodeOutOfRange, nodeID, n.from, n.to)
	}
	h, err := n.sets.Put(labels)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(n.handles[(nodeID-n.from)*8:], uint64(h)+1)
	return nil
}

// Labels copies the cached labels of nodeID into dst. Nodes outside the
// covered range, or without cached labels, yield an empty slice.
func (n *NodeLabels) Labels(nodeID int64, dst []int64) ([]int64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if nodeID < n.from || nodeID >= n.to {
		return dst[:0], nil
	}
	raw := binary.LittleEndian.Uint64(n.handles[(nodeID-n.from)*8:])
	if raw == 0 {
		return dst[:0], nil
	}
	return n.sets.Get(LabelHandle(raw-1), dst)
}

// Close releases the handle table. The LabelSetCache is closed separately.
func (n *NodeLabels) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	h := n.handles
	n.handles, n.capacity, n.from, n.to = nil, 0, 0, 0
	return releaseOffHeap(h)
}

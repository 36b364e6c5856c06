package cache

import (
	"fmt"
	"iter"
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

const (
	// MaxGroupsPerNode is the highest number of relationship groups one node may own.
	MaxGroupsPerNode = 1<<16 - 1

	// GroupSlotSize is the width of one cached group.
	//
	//	offset  width  field
	//	0       3      type (0xFFFFFF = free slot)
	//	3       6      first outgoing
	//	9       6      first incoming
	//	15      6      first loop
	//
	// The owning node is implied by the slot's position.
	GroupSlotSize = 21

	freeType = storage.MaxUint24

	offsetChunkShift = 8
	offsetChunkMask  = 1<<offsetChunkShift - 1
)

// CountingOverhead is the memory GroupCache needs for its per-node counts
// and offset table, before any group is cached.
func CountingOverhead(highNodeID int64) int64 {
	chunks := (highNodeID + offsetChunkMask) >> offsetChunkShift
	return highNodeID*4 + chunks*8
}

// CachedGroup is a relationship group read back from the cache.
//
// While groups sit in the cache their chain pointer is not known yet: new
// group ids are only assigned when the sorted groups are written out.
// Remaining is therefore the number of groups that follow this one in its
// node's chain (0 for the last one), from which the writer derives Next.
type CachedGroup struct {
	OwningNode int64
	Type       int64
	FirstOut   int64
	FirstIn    int64
	FirstLoop  int64
	Remaining  int64
}

// Record builds the linked group record once id and next are known.
func (g CachedGroup) Record(id, next int64) storage.RelationshipGroupRecord {
	return storage.RelationshipGroupRecord{
		ID:         id,
		InUse:      true,
		OwningNode: g.OwningNode,
		Type:       g.Type,
		FirstOut:   g.FirstOut,
		FirstIn:    g.FirstIn,
		FirstLoop:  g.FirstLoop,
		Next:       next,
	}
}

// GroupCache collects relationship groups per node and hands them back
// sorted by (node, type), using a bounded amount of off-heap memory.
//
// One caching round is a two-phase protocol:
//
//  1. Count phase: IncrementGroupCount once for every group in the store.
//     Safe for concurrent callers.
//  2. Link phase, repeated until every node is covered: Prepare(from) picks
//     the nodes [from, to) whose groups fit in memory, Put is called for every
//     group in the store (groups of other nodes are rejected), then Groups
//     yields the cached groups in order. The next Prepare starts at to.
//
// Put and Groups are driven by one goroutine.
type GroupCache struct {
	highNodeID int64
	budget     int64 // slots

	countMem []byte
	counts   []uint32
	offsets  []int64 // base slot of each chunk of 256 nodes, for the current round

	data     []byte
	from, to int64
	prepared bool
}

// NewGroupCache creates a cache for nodes [0, highNodeID) using at most maxMemory bytes.
func NewGroupCache(highNodeID, maxMemory int64) (*GroupCache, error) {
	if highNodeID < 0 {
		return nil, fmt.Errorf("%w: high node id %d", ErrNodeOutOfRange, highNodeID)
	}
	overhead := CountingOverhead(highNodeID)
	budget := (maxMemory - overhead) / GroupSlotSize
	if budget <= 0 {
		return nil, fmt.Errorf("%w: %d bytes leave no room for groups after %d bytes counting overhead",
			ErrCacheTooSmall, maxMemory, overhead)
	}
	c := &GroupCache{
		highNodeID: highNodeID,
		budget:     budget,
		offsets:    make([]int64, (highNodeID+offsetChunkMask)>>offsetChunkShift),
	}
	if highNodeID > 0 {
		mem, err := allocateOffHeap(int(highNodeID * 4))
		if err != nil {
			return nil, err
		}
		c.countMem = mem
		c.counts = unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), highNodeID)
	}
	return c, nil
}

// HighNodeID is the exclusive upper bound of node ids.
func (c *GroupCache) HighNodeID() int64 { return c.highNodeID }

// IncrementGroupCount counts one more group owned by nodeID.
func (c *GroupCache) IncrementGroupCount(nodeID int64) error {
	if nodeID < 0 || nodeID >= c.highNodeID {
		return fmt.Errorf("%w: node %d, high id %d", ErrNodeOutOfRange, nodeID, c.highNodeID)
	}
	if n := atomic.AddUint32(&c.counts[nodeID], 1); n > MaxGroupsPerNode {
		atomic.AddUint32(&c.counts[nodeID], ^uint32(0))
		return fmt.Errorf("%w: node %d has more than %d groups", ErrGroupCountOverflow, nodeID, MaxGroupsPerNode)
	}
	return nil
}

// GroupCount returns the number of groups counted for nodeID.
func (c *GroupCache) GroupCount(nodeID int64) int64 {
	if nodeID < 0 || nodeID >= c.highNodeID {
		return 0
	}
	return int64(atomic.LoadUint32(&c.counts[nodeID]))
}

// Prepare starts a round at fromNodeID. It returns the exclusive upper bound
// of the nodes whose groups fit in memory; Put accepts groups of those nodes.
func (c *GroupCache) Prepare(fromNodeID int64) (int64, error) {
	if fromNodeID < 0 || fromNodeID > c.highNodeID {
		return 0, fmt.Errorf("%w: prepare from %d, high id %d", ErrNodeOutOfRange, fromNodeID, c.highNodeID)
	}

	var used int64
	node := fromNodeID
	for ; node < c.highNodeID; node++ {
		if node == fromNodeID || node&offsetChunkMask == 0 {
			// The chunk holding fromNodeID gets a virtual base so that slot
			// arithmetic from the chunk start lands on slot 0 at fromNodeID.
			base := used
			for n := node &^ offsetChunkMask; n < node; n++ {
				base -= int64(c.counts[n])
			}
			c.offsets[node>>offsetChunkShift] = base
		}
		count := int64(c.counts[node])
		if used+count > c.budget {
			break
		}
		used += count
	}
	if node == fromNodeID && node < c.highNodeID {
		return 0, fmt.Errorf("%w: node %d alone has %d groups, room for %d",
			ErrCacheTooSmall, node, c.counts[node], c.budget)
	}

	if int64(len(c.data)) < used*GroupSlotSize {
		if err := releaseOffHeap(c.data); err != nil {
			return 0, err
		}
		c.data = nil
		data, err := allocateOffHeap(int(used * GroupSlotSize))
		if err != nil {
			return 0, err
		}
		c.data = data
	}
	for i := int64(0); i < used; i++ {
		storage.PutUint24(c.data[i*GroupSlotSize:], freeType)
	}

	c.from, c.to, c.prepared = fromNodeID, node, true
	return node, nil
}

func (c *GroupCache) slotBase(nodeID int64) int64 {
	base := c.offsets[nodeID>>offsetChunkShift]
	for n := nodeID &^ offsetChunkMask; n < nodeID; n++ {
		base += int64(c.counts[n])
	}
	return base
}

func (c *GroupCache) slot(i int64) []byte {
	return c.data[i*GroupSlotSize : (i+1)*GroupSlotSize]
}

// Put caches a group. It returns false when the owning node is not covered by
// the current round.
func (c *GroupCache) Put(g storage.RelationshipGroupRecord) (bool, error) {
	if !c.prepared {
		return false, ErrNotPrepared
	}
	if g.OwningNode < c.from || g.OwningNode >= c.to {
		return false, nil
	}
	if g.Type < 0 || g.Type >= freeType {
		return false, fmt.Errorf("%w: type %d of group owned by %d", storage.ErrValueOutOfRange, g.Type, g.OwningNode)
	}

	base := c.slotBase(g.OwningNode)
	count := int64(c.counts[g.OwningNode])
	desired, free := int64(-1), int64(-1)
	for i := int64(0); i < count; i++ {
		t := int64(storage.Uint24(c.slot(base + i)))
		if t == freeType {
			free = i
			break
		}
		if t == g.Type {
			return false, fmt.Errorf("%w: node %d type %d", ErrDuplicateGroup, g.OwningNode, g.Type)
		}
		if desired < 0 && t > g.Type {
			desired = i
		}
	}
	if free < 0 {
		return false, fmt.Errorf("%w: node %d counted %d groups", ErrNoFreeSlot, g.OwningNode, count)
	}

	at := free
	if desired >= 0 {
		// shift [desired, free) one slot right
		copy(c.data[(base+desired+1)*GroupSlotSize:(base+free+1)*GroupSlotSize],
			c.data[(base+desired)*GroupSlotSize:(base+free)*GroupSlotSize])
		at = desired
	}
	s := c.slot(base + at)
	storage.PutUint24(s[0:], uint32(g.Type))
	storage.PutInt48(s[3:], g.FirstOut)
	storage.PutInt48(s[9:], g.FirstIn)
	storage.PutInt48(s[15:], g.FirstLoop)
	return true, nil
}

// Groups yields the cached groups of the current round ordered by (node, type).
func (c *GroupCache) Groups() iter.Seq[CachedGroup] {
	return func(yield func(CachedGroup) bool) {
		if !c.prepared {
			return
		}
		var base int64
		for node := c.from; node < c.to; node++ {
			count := int64(c.counts[node])
			occupied := int64(0)
			for occupied < count && int64(storage.Uint24(c.slot(base+occupied))) != freeType {
				occupied++
			}
			for i := int64(0); i < occupied; i++ {
				s := c.slot(base + i)
				g := CachedGroup{
					OwningNode: node,
					Type:       int64(storage.Uint24(s[0:])),
					FirstOut:   storage.Int48(s[3:]),
					FirstIn:    storage.Int48(s[9:]),
					FirstLoop:  storage.Int48(s[15:]),
					Remaining:  occupied - i - 1,
				}
				if !yield(g) {
					return
				}
			}
			base += count
		}
	}
}

// Close releases the off-heap memory.
func (c *GroupCache) Close() error {
	err := releaseOffHeap(c.data)
	if cerr := releaseOffHeap(c.countMem); err == nil {
		err = cerr
	}
	c.data, c.countMem, c.counts, c.prepared = nil, nil, nil, false
	return err
}

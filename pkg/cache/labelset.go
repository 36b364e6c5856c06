package cache

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// LabelHandle identifies a label set stored in a LabelSetCache.
// The upper 32 bits select the chunk, the lower 32 bits the offset within it.
type LabelHandle int64

// DefaultLabelChunkSize is the size of one off-heap chunk of a LabelSetCache.
const DefaultLabelChunkSize = 4 << 20

// LabelSetCache stores variable-length label id arrays in growable off-heap chunks.
//
// Record layout at the handle's offset:
//
//	uvarint  n       number of labels
//	varint   l[0]    first label (zig-zag)
//	varint   l[i]-l[i-1] for i in 1..n-1 (zig-zag deltas, small for ascending sets)
//
// Records never straddle chunks; a record larger than the chunk size gets a
// dedicated chunk. Safe for concurrent Put and Get.
type LabelSetCache struct {
	mu        sync.RWMutex
	chunkSize int
	chunks    [][]byte
	current   int // chunk being written
	pos       int // write offset within chunks[current]
	closed    bool
}

// NewLabelSetCache creates an empty cache. Non-positive chunkSize uses DefaultLabelChunkSize.
func NewLabelSetCache(chunkSize int) *LabelSetCache {
	if chunkSize <= 0 {
		chunkSize = DefaultLabelChunkSize
	}
	return &LabelSetCache{chunkSize: chunkSize, current: -1}
}

func encodeLabels(buf []byte, labels []int64) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(labels)))
	prev := int64(0)
	for _, l := range labels {
		buf = binary.AppendVarint(buf, l-prev)
		prev = l
	}
	return buf
}

// Put stores labels and returns their handle.
func (c *LabelSetCache) Put(labels []int64) (LabelHandle, error) {
	var stack [64]byte
	rec := encodeLabels(stack[:0], labels)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if c.current < 0 || c.pos+len(rec) > len(c.chunks[c.current]) {
		if err := c.nextChunk(len(rec)); err != nil {
			return 0, err
		}
	}
	copy(c.chunks[c.current][c.pos:], rec)
	h := LabelHandle(int64(c.current)<<32 | int64(c.pos))
	c.pos += len(rec)
	return h, nil
}

// nextChunk moves writing to a chunk that can hold need bytes, reusing chunks
// left over from before a Reset.
func (c *LabelSetCache) nextChunk(need int) error {
	for c.current+1 < len(c.chunks) {
		c.current++
		c.pos = 0
		if len(c.chunks[c.current]) >= need {
			return nil
		}
	}
	if len(c.chunks) >= 1<<31 {
		return fmt.Errorf("%w: too many label chunks", ErrOutOfMemory)
	}
	size := max(c.chunkSize, need)
	chunk, err := allocateOffHeap(size)
	if err != nil {
		return err
	}
	c.chunks = append(c.chunks, chunk)
	c.current = len(c.chunks) - 1
	c.pos = 0
	return nil
}

func (c *LabelSetCache) record(h LabelHandle) ([]byte, error) {
	if c.closed {
		return nil, ErrClosed
	}
	chunk, off := int(int64(h)>>32), int(int64(h)&0xffffffff)
	if h < 0 || chunk >= len(c.chunks) || off >= len(c.chunks[chunk]) {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidHandle, int64(h))
	}
	return c.chunks[chunk][off:], nil
}

// Len returns the number of labels stored under h.
func (c *LabelSetCache) Len(h LabelHandle) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, err := c.record(h)
	if err != nil {
		return 0, err
	}
	n, w := binary.Uvarint(rec)
	if w <= 0 {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidHandle, int64(h))
	}
	return int(n), nil
}

// Get copies the labels stored under h into dst, growing it when it is too
// small, and returns the filled slice.
func (c *LabelSetCache) Get(h LabelHandle, dst []int64) ([]int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, err := c.record(h)
	if err != nil {
		return dst[:0], err
	}
	n, w := binary.Uvarint(rec)
	if w <= 0 {
		return dst[:0], fmt.Errorf("%w: %#x", ErrInvalidHandle, int64(h))
	}
	rec = rec[w:]
	if cap(dst) < int(n) {
		dst = make([]int64, n)
	}
	dst = dst[:n]
	prev := int64(0)
	for i := range dst {
		d, w := binary.Varint(rec)
		if w <= 0 {
			return dst[:0], fmt.Errorf("%w: truncated record %#x", ErrInvalidHandle, int64(h))
		}
		rec = rec[w:]
		prev += d
		dst[i] = prev
	}
	return dst, nil
}

// Reset forgets every stored set, keeping the chunks for reuse.
func (c *LabelSetCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = -1
	c.pos = 0
}

// MemoryUsage is the number of off-heap bytes held.
func (c *LabelSetCache) MemoryUsage() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var n int64
	for _, chunk := range c.chunks {
		n += int64(len(chunk))
	}
	return n
}

// Close releases the off-heap memory.
func (c *LabelSetCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for _, chunk := range c.chunks {
		if err := releaseOffHeap(chunk); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.chunks = nil
	return firstErr
}

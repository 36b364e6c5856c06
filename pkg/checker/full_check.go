package checker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"

	"github.com/orneryd/nornicdb-consistency/pkg/cache"
	"github.com/orneryd/nornicdb-consistency/pkg/counts"
	"github.com/orneryd/nornicdb-consistency/pkg/logging"
	"github.com/orneryd/nornicdb-consistency/pkg/pool"
	"github.com/orneryd/nornicdb-consistency/pkg/report"
	"github.com/orneryd/nornicdb-consistency/pkg/storage"
)

const (
	// DefaultHighTokenID sizes the dense count tables for label and type ids.
	DefaultHighTokenID = 256

	// labelSetBytesPerNode is the expected label set cache usage of one node.
	labelSetBytesPerNode = 16

	// PerNodeCost is the memory one node of a range needs.
	PerNodeCost = cache.BytesPerNode + labelSetBytesPerNode

	ctxCheckInterval = 1024
)

// Options configures a FullCheck.
type Options struct {
	// RunID identifies the run in logs. Empty generates a random id.
	RunID string

	Workers   int
	ChunkSize int64

	// MaxMemory bounds the per-range caches.
	MaxMemory int64
	// GroupCacheMemory bounds the relationship group cache. 0 uses MaxMemory.
	GroupCacheMemory int64

	HighLabelID int64
	HighTypeID  int64

	// PrefetchWindow is the read-ahead in pages. 0 disables prefetching.
	PrefetchWindow int64

	LargeIndexCapacity int

	Logger logging.Logger
}

// Result describes a finished check.
type Result struct {
	RunID        string
	Ranges       int
	GroupRounds  int
	GroupsCached int64
	LargeIndexes int
	SmallIndexes int
	Elapsed      time.Duration
	Summary      *report.Summary
}

// FullCheck checks a whole store.
type FullCheck struct {
	store  *storage.BadgerStore
	opts   Options
	exec   *pool.Execution
	logger logging.Logger
}

// NewFullCheck prepares a check of store.
func NewFullCheck(store *storage.BadgerStore, opts Options) *FullCheck {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.HighLabelID <= 0 {
		opts.HighLabelID = DefaultHighTokenID
	}
	if opts.HighTypeID <= 0 {
		opts.HighTypeID = DefaultHighTokenID
	}
	if opts.GroupCacheMemory <= 0 {
		opts.GroupCacheMemory = opts.MaxMemory
	}
	logger := logging.OrNop(opts.Logger)
	exec := pool.New(opts.Workers, opts.ChunkSize,
		pool.WithLogger(logger),
		pool.WithFailureHandler(func(err error) {
			logger.Log(logging.LevelError, "check task failed", map[string]any{"run_id": opts.RunID, "error": err.Error()})
		}))
	return &FullCheck{store: store, opts: opts, exec: exec, logger: logger}
}

// rangeOverheads returns the memory taken for the whole check by the count
// tracker and by the in-use node bitmap.
func rangeOverheads(highLabelID, highTypeID, highNodeID int64) (int64, int64) {
	return counts.EstimateMemory(highLabelID, highTypeID), highNodeID/8 + 1
}

func (c *FullCheck) log(level, msg string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["run_id"] = c.opts.RunID
	c.logger.Log(level, msg, fields)
}

// Run checks the store. Inconsistencies are collected in the returned
// summary; an error means the check itself could not complete.
func (c *FullCheck) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	summary := report.NewSummary(c.opts.RunID, c.logger)
	res := &Result{RunID: c.opts.RunID, Summary: summary}

	highNode := c.store.Nodes.HighID()
	if highNode > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d nodes exceed the in-use bitmap", ErrInvalidConfiguration, highNode)
	}
	c.log(logging.LevelInfo, "consistency check started", map[string]any{
		"nodes":         highNode,
		"relationships": c.store.Relationships.HighID(),
		"groups":        c.store.Groups.HighID(),
		"workers":       c.exec.Workers(),
	})

	indexes := NewIndexSizes(c.exec, c.store.Indexes(), c.opts.LargeIndexCapacity)
	if err := indexes.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("classify indexes: %w", err)
	}
	for _, entity := range storage.EntityTypes {
		res.LargeIndexes += len(indexes.LargeIndexes(entity))
		res.SmallIndexes += len(indexes.SmallIndexes(entity))
	}

	ovA, ovB := rangeOverheads(c.opts.HighLabelID, c.opts.HighTypeID, highNode)
	ranges, err := NewMemoryRanges(ovA, ovB, c.opts.MaxMemory, PerNodeCost, highNode)
	if err != nil {
		return nil, err
	}
	res.Ranges = ranges.NumberOfRanges()

	sets := cache.NewLabelSetCache(0)
	defer sets.Close()
	nodeLabels, err := cache.NewNodeLabels(min(ranges.NodesPerRange(), highNode), sets)
	if err != nil {
		return nil, err
	}
	defer nodeLabels.Close()

	tracker := counts.NewTracker(c.opts.HighLabelID, c.opts.HighTypeID, nodeLabels)
	inUse := roaring.New()

	for i := 0; ranges.HasNext(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r := ranges.Next()
		if err := nodeLabels.Reset(r.From, r.To); err != nil {
			return nil, err
		}
		if err := c.checkNodes(ctx, r, tracker, nodeLabels, inUse); err != nil {
			return nil, err
		}
		if err := c.checkRelationships(ctx, r, i == 0, highNode, tracker, inUse, summary); err != nil {
			return nil, err
		}
		c.log(logging.LevelDebug, "node range checked", map[string]any{"range": r.String(), "index": i})
	}
	if ranges.NumberOfRanges() == 0 {
		// No node ids: every relationship end is dangling.
		if err := c.checkRelationships(ctx, pool.Range(0, 0), true, highNode, tracker, inUse, summary); err != nil {
			return nil, err
		}
	}

	rounds, cached, err := c.checkGroups(ctx, highNode, inUse, summary)
	if err != nil {
		return nil, err
	}
	res.GroupRounds, res.GroupsCached = rounds, cached

	if err := c.checkCounts(tracker, summary); err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	summary.LogSummary()
	c.log(logging.LevelInfo, "consistency check finished", map[string]any{
		"inconsistencies": summary.Count(),
		"ranges":          res.Ranges,
		"group_rounds":    res.GroupRounds,
		"elapsed_ms":      res.Elapsed.Milliseconds(),
	})
	return res, nil
}

// chunkVisitor handles the records of one partition chunk. finish runs once
// the chunk was scanned without error.
type chunkVisitor[T any] struct {
	visit  func(rec T) error
	finish func() error
}

// scanRecords runs one task per chunk of r, prefetching pages of rs ahead of
// the workers when enabled. newVisitor is called once per chunk.
func scanRecords[T any](ctx context.Context, c *FullCheck, label string, rs *storage.RecordStore[T],
	r pool.LongRange, newVisitor func() chunkVisitor[T]) error {
	var processed atomic.Int64
	var wake func()

	tasks := c.exec.Partition(r, func(from, to int64, _ bool) pool.Task {
		return func(context.Context) error {
			v := newVisitor()
			n := 0
			err := rs.Scan(from, to, func(rec T) error {
				if n++; n%ctxCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				return v.visit(rec)
			})
			if err != nil {
				return err
			}
			processed.Add(to - from)
			if wake != nil {
				wake()
			}
			if v.finish != nil {
				return v.finish()
			}
			return nil
		}
	})

	if c.opts.PrefetchWindow <= 0 || len(tasks) == 0 {
		return c.exec.Run(label, tasks...)
	}

	prefetcher := storage.NewPagePrefetcher(rs, c.opts.PrefetchWindow, func() bool { return ctx.Err() != nil },
		storage.WithMonitor(func(page, readerPage int64) {
			c.log(logging.LevelDebug, "prefetch waiting for reader", map[string]any{
				"scan": label, "page": page, "reader_page": readerPage,
			})
		}))
	wake = prefetcher.Wake
	prefetched := make(chan error, 1)
	go func() {
		prefetched <- prefetcher.PrefetchRange(r.From, r.To, func() int64 { return r.From + processed.Load() }, true)
	}()

	err := c.exec.Run(label, tasks...)
	prefetcher.Cancel()
	if perr := <-prefetched; perr != nil {
		c.log(logging.LevelWarn, "prefetch failed", map[string]any{"scan": label, "error": perr.Error()})
	}
	return err
}

// checkNodes caches the labels of the in-use nodes of r, counts them and
// marks them in inUse.
func (c *FullCheck) checkNodes(ctx context.Context, r pool.LongRange, tracker *counts.Tracker,
	nodeLabels *cache.NodeLabels, inUse *roaring.Bitmap) error {
	var mu sync.Mutex
	return scanRecords(ctx, c, "nodes "+r.String(), c.store.Nodes, r, func() chunkVisitor[storage.NodeRecord] {
		local := roaring.New()
		return chunkVisitor[storage.NodeRecord]{
			visit: func(n storage.NodeRecord) error {
				if !n.InUse {
					return nil
				}
				if err := nodeLabels.Set(n.ID, n.Labels); err != nil {
					return err
				}
				tracker.IncrementNode(n.Labels)
				local.Add(uint32(n.ID))
				return nil
			},
			finish: func() error {
				mu.Lock()
				defer mu.Unlock()
				inUse.Or(local)
				return nil
			},
		}
	})
}

// checkRelationships counts every relationship against the node range r and
// reports ends that point at nodes not in use. Ends outside the node id space
// and type counts are handled in the first range only.
func (c *FullCheck) checkRelationships(ctx context.Context, r pool.LongRange, first bool, highNode int64,
	tracker *counts.Tracker, inUse *roaring.Bitmap, summary *report.Summary) error {
	notInUse := func(node int64) bool {
		if node < 0 || node >= highNode {
			return first
		}
		return r.Contains(node) && !inUse.Contains(uint32(node))
	}

	all := pool.Range(0, c.store.Relationships.HighID())
	return scanRecords(ctx, c, "relationships "+r.String(), c.store.Relationships, all,
		func() chunkVisitor[storage.RelationshipRecord] {
			counter := tracker.InstantiateRelationshipCounter()
			return chunkVisitor[storage.RelationshipRecord]{
				visit: func(rel storage.RelationshipRecord) error {
					if !rel.InUse {
						return nil
					}
					if first {
						tracker.IncrementRelationshipTypeCounts(counter, rel)
					}
					if notInUse(rel.StartNode) {
						summary.ForRelationship(rel).SourceNodeNotInUse()
					}
					if notInUse(rel.EndNode) {
						summary.ForRelationship(rel).TargetNodeNotInUse()
					}
					return tracker.IncrementRelationshipNodeCounts(counter, rel, r.Contains(rel.StartNode), r.Contains(rel.EndNode))
				},
			}
		})
}

// checkGroups counts the relationship groups of every in-use node, then
// caches them in rounds sized by the group cache memory. Each round yields
// the groups of its nodes sorted by type, ready to be relinked.
func (c *FullCheck) checkGroups(ctx context.Context, highNode int64, inUse *roaring.Bitmap,
	summary *report.Summary) (rounds int, cached int64, err error) {
	groups := c.store.Groups
	if groups.HighID() == 0 || highNode == 0 {
		return 0, 0, nil
	}
	owned := func(g storage.RelationshipGroupRecord) bool {
		return g.OwningNode >= 0 && g.OwningNode < highNode && inUse.Contains(uint32(g.OwningNode))
	}

	gc, err := cache.NewGroupCache(highNode, c.opts.GroupCacheMemory)
	if err != nil {
		return 0, 0, err
	}
	defer gc.Close()

	err = scanRecords(ctx, c, "group counts", groups, pool.Range(0, groups.HighID()),
		func() chunkVisitor[storage.RelationshipGroupRecord] {
			return chunkVisitor[storage.RelationshipGroupRecord]{
				visit: func(g storage.RelationshipGroupRecord) error {
					if !g.InUse {
						return nil
					}
					if !owned(g) {
						summary.GroupOwnerNotInUse(g.OwningNode, g.Type)
						return nil
					}
					return gc.IncrementGroupCount(g.OwningNode)
				},
			}
		})
	if err != nil {
		return 0, 0, err
	}

	for from := int64(0); from < highNode; rounds++ {
		if err := ctx.Err(); err != nil {
			return rounds, cached, err
		}
		to, err := gc.Prepare(from)
		if err != nil {
			return rounds, cached, err
		}
		err = groups.Scan(0, groups.HighID(), func(g storage.RelationshipGroupRecord) error {
			if !g.InUse || !owned(g) {
				return nil
			}
			_, err := gc.Put(g)
			return err
		})
		if err != nil {
			return rounds, cached, fmt.Errorf("cache groups of nodes [%d,%d): %w", from, to, err)
		}
		for range gc.Groups() {
			cached++
		}
		c.log(logging.LevelDebug, "group round cached", map[string]any{"from": from, "to": to, "groups": cached})
		from = to
	}
	return rounds, cached, nil
}

// checkCounts verifies the tracked counts against the persisted counts store.
func (c *FullCheck) checkCounts(tracker *counts.Tracker, summary *report.Summary) error {
	checker := tracker.Checker(summary)
	defer checker.Close()

	store := c.store.Counts()
	if err := store.Accept(checker.Visitor()); err != nil {
		return fmt.Errorf("read counts store: %w", err)
	}
	nodeKeys, relKeys, err := store.KeyCounts()
	if err != nil {
		return fmt.Errorf("count counts store keys: %w", err)
	}
	checker.VerifyKeyCounts(nodeKeys, relKeys)
	return nil
}

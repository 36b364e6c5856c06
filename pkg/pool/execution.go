// Package pool provides the fixed-size worker pool that drives consistency checking.
//
// An Execution runs batches of tasks on a bounded set of worker goroutines and
// aggregates every failure into a single TaskError. Failures include returned
// errors as well as panics, so a broken record never takes a worker down with it.
//
// Example:
//
//	exec := pool.New(8, 10_000, pool.WithFailureHandler(func(err error) {
//		log.Printf("task failed: %v", err)
//	}))
//	err := exec.Run("nodes", exec.Partition(pool.Range(0, highID), func(from, to int64, last bool) pool.Task {
//		return func(ctx context.Context) error { return scan(from, to) }
//	})...)
package pool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/orneryd/nornicdb-consistency/pkg/logging"
)

// Task is a unit of work submitted to an Execution.
type Task func(ctx context.Context) error

// FailureHandler is invoked once for every failed task, in completion order.
type FailureHandler func(err error)

// Execution is a fixed-size worker pool with a chunk size used by Partition.
// It is safe to call Run and RunAll from several goroutines.
type Execution struct {
	workers   int
	chunkSize int64
	onFailure FailureHandler
	logger    logging.Logger
}

// Option configures an Execution.
type Option func(*Execution)

// WithFailureHandler sets the handler called for every captured failure.
func WithFailureHandler(h FailureHandler) Option {
	return func(e *Execution) { e.onFailure = h }
}

// WithLogger sets the logger used for run timings.
func WithLogger(l logging.Logger) Option {
	return func(e *Execution) { e.logger = l }
}

// New creates an Execution. Non-positive workers defaults to runtime.NumCPU(),
// non-positive chunkSize defaults to DefaultChunkSize.
func New(workers int, chunkSize int64, opts ...Option) *Execution {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	e := &Execution{workers: workers, chunkSize: chunkSize}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.OrNop(e.logger)
	return e
}

// DefaultChunkSize is the number of ids per partition chunk when none is configured.
const DefaultChunkSize int64 = 10_000

// Workers returns the pool size.
func (e *Execution) Workers() int { return e.workers }

// ChunkSize returns the partition chunk size.
func (e *Execution) ChunkSize() int64 { return e.chunkSize }

type workerIDKey struct{}

// WorkerID returns the id of the pool worker running the task owning ctx,
// or -1 when ctx does not come from an Execution.
func WorkerID(ctx context.Context) int {
	if id, ok := ctx.Value(workerIDKey{}).(int); ok {
		return id
	}
	return -1
}

// Run submits every task to the pool and blocks until all of them finished.
// If any task failed, the returned *TaskError holds the first failure as its
// cause and the remaining ones as suppressed errors.
func (e *Execution) Run(label string, tasks ...Task) error {
	return e.run(label, e.workers, tasks)
}

// RunAll is Run for tasks that rendezvous with each other: every task gets
// its own worker so all of them run at the same time.
func (e *Execution) RunAll(label string, tasks ...Task) error {
	return e.run(label, len(tasks), tasks)
}

func (e *Execution) run(label string, workers int, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}
	start := time.Now()

	queue := make(chan Task, len(tasks))
	for _, task := range tasks {
		queue <- task
	}
	close(queue)

	var (
		mu       sync.Mutex
		failures []error
	)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		ctx := context.WithValue(context.Background(), workerIDKey{}, w)
		g.Go(func() error {
			for task := range queue {
				if err := runTask(ctx, task); err != nil {
					mu.Lock()
					failures = append(failures, err)
					mu.Unlock()
					if e.onFailure != nil {
						e.onFailure(err)
					}
				}
			}
			return nil
		})
	}
	// Workers never return errors; failures are collected above.
	_ = g.Wait()

	e.logger.Log(logging.LevelDebug, "execution finished", map[string]any{
		"label":    label,
		"tasks":    len(tasks),
		"workers":  workers,
		"failures": len(failures),
		"elapsed":  time.Since(start).String(),
	})

	if len(failures) == 0 {
		return nil
	}
	return &TaskError{Label: label, Cause: failures[0], Suppressed: failures[1:]}
}

// runTask executes one task, converting a panic into an error.
func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return task(ctx)
}

// PanicError is a task failure caused by a panic.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap returns the panic value when it is an error, which includes runtime errors.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// TaskError aggregates the failures of one Run.
type TaskError struct {
	Label      string
	Cause      error
	Suppressed []error
}

func (t *TaskError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d task(s) failed: %v", t.Label, 1+len(t.Suppressed), t.Cause)
	for _, s := range t.Suppressed {
		fmt.Fprintf(&sb, "; suppressed: %v", s)
	}
	return sb.String()
}

// Unwrap exposes the cause followed by every suppressed failure.
func (t *TaskError) Unwrap() []error {
	all := make([]error, 0, 1+len(t.Suppressed))
	all = append(all, t.Cause)
	return append(all, t.Suppressed...)
}

package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chunk struct {
	from, to int64
	last     bool
}

func TestPartition(t *testing.T) {
	t.Run("uneven range", func(t *testing.T) {
		exec := New(2, 145)
		var got []chunk
		tasks := exec.Partition(Range(0, 470), func(from, to int64, last bool) Task {
			got = append(got, chunk{from, to, last})
			return func(context.Context) error { return nil }
		})
		assert.Len(t, tasks, 4)
		assert.Equal(t, []chunk{
			{0, 145, false},
			{145, 290, false},
			{290, 435, false},
			{435, 470, true},
		}, got)
	})

	t.Run("exact multiple", func(t *testing.T) {
		exec := New(2, 10)
		var got []chunk
		exec.Partition(Range(100, 130), func(from, to int64, last bool) Task {
			got = append(got, chunk{from, to, last})
			return nil
		})
		assert.Equal(t, []chunk{{100, 110, false}, {110, 120, false}, {120, 130, true}}, got)
	})

	t.Run("empty range", func(t *testing.T) {
		exec := New(2, 10)
		called := false
		tasks := exec.Partition(Range(5, 5), func(int64, int64, bool) Task {
			called = true
			return nil
		})
		assert.Empty(t, tasks)
		assert.False(t, called)
	})
}

func TestRunUsesExactlyWorkerCount(t *testing.T) {
	const workers = 4
	exec := New(workers, 0)

	// The first `workers` tasks hold their worker until all of them started,
	// which forces every worker to pick one up.
	var started atomic.Int32
	gate := make(chan struct{})
	var mu sync.Mutex
	seen := map[int]bool{}

	tasks := make([]Task, 50)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			mu.Lock()
			seen[WorkerID(ctx)] = true
			mu.Unlock()
			if n := started.Add(1); n == workers {
				close(gate)
			} else if n < workers {
				<-gate
			}
			return nil
		}
	}

	require.NoError(t, exec.Run("workers", tasks...))
	assert.Len(t, seen, workers)
	for id := range seen {
		assert.GreaterOrEqual(t, id, 0)
		assert.Less(t, id, workers)
	}
}

func TestRunAggregatesFailures(t *testing.T) {
	var handled atomic.Int32
	var handledMsgs sync.Map
	exec := New(2, 0, WithFailureHandler(func(err error) {
		handled.Add(1)
		handledMsgs.Store(err.Error(), true)
	}))

	errChecked := errors.New("checked failure")
	tasks := []Task{
		func(context.Context) error { return errChecked },
		func(context.Context) error { panic(errors.New("unchecked failure")) },
		func(context.Context) error { panic("assertion failure") },
		func(context.Context) error {
			var m map[string]int
			m["resource exhaustion"]++ // nil map write: runtime error
			return nil
		},
		func(context.Context) error { return nil },
	}

	err := exec.Run("failing", tasks...)
	require.Error(t, err)
	assert.EqualValues(t, 4, handled.Load())

	var taskErr *TaskError
	require.True(t, errors.As(err, &taskErr))
	assert.Equal(t, "failing", taskErr.Label)
	assert.Len(t, taskErr.Suppressed, 3)

	var msgs []string
	for _, e := range taskErr.Unwrap() {
		msgs = append(msgs, e.Error())
	}
	joined := fmt.Sprint(msgs)
	assert.Contains(t, joined, "checked failure")
	assert.Contains(t, joined, "unchecked failure")
	assert.Contains(t, joined, "assertion failure")
	assert.Contains(t, joined, "assignment to entry in nil map")

	assert.True(t, errors.Is(err, errChecked))
	var rtErr runtime.Error
	assert.True(t, errors.As(err, &rtErr))
}

func TestRunAllRunsConcurrently(t *testing.T) {
	exec := New(1, 0)
	const n = 6

	// Every task waits for all others: only completes if all run at once.
	var wg sync.WaitGroup
	wg.Add(n)
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			wg.Done()
			wg.Wait()
			return nil
		}
	}
	require.NoError(t, exec.RunAll("rendezvous", tasks...))
}

func TestRunWithoutTasks(t *testing.T) {
	exec := New(3, 0)
	assert.NoError(t, exec.Run("nothing"))
	assert.Equal(t, 3, exec.Workers())
	assert.Equal(t, DefaultChunkSize, exec.ChunkSize())
}

func TestWorkerIDOutsidePool(t *testing.T) {
	assert.Equal(t, -1, WorkerID(context.Background()))
}

func TestLongRange(t *testing.T) {
	r := Range(10, 20)
	assert.EqualValues(t, 10, r.Size())
	assert.True(t, r.Contains(10))
	assert.False(t, r.Contains(20))
	assert.Equal(t, "[10,20)", r.String())
	assert.Zero(t, Range(5, 1).Size())
}

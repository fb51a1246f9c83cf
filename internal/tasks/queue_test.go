package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close(context.Background()) })
	return q
}

func waitDone(t *testing.T, q *Queue, id string) *Task {
	t.Helper()
	var task *Task
	require.Eventually(t, func() bool {
		task = q.Get(id)
		return task != nil && task.Status.Done()
	}, 2*time.Second, 5*time.Millisecond)
	return task
}

func TestSubmit_Succeeds(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 2})

	var ran atomic.Bool
	id := q.Submit("file.derive", map[string]string{"file_id": "f1"}, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NotEmpty(t, id)

	task := waitDone(t, q, id)
	assert.True(t, ran.Load())
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, "file.derive", task.Name)
	assert.Equal(t, "f1", task.Meta["file_id"])
	assert.NotNil(t, task.StartedAt)
	assert.NotNil(t, task.FinishedAt)
	assert.Empty(t, task.Error)
}

func TestSubmit_FailureIsRecorded(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})

	id := q.Submit("file.derive", nil, func(ctx context.Context) error {
		return errors.New("summary failed")
	})

	task := waitDone(t, q, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "summary failed", task.Error)
}

func TestSubmit_PanicIsRecorded(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})

	id := q.Submit("boom", nil, func(ctx context.Context) error {
		panic("unexpected")
	})

	task := waitDone(t, q, id)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "panicked")

	// The worker survives
	id = q.Submit("after", nil, func(ctx context.Context) error { return nil })
	assert.Equal(t, StatusSucceeded, waitDone(t, q, id).Status)
}

func TestSubmit_QueueFull(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := q.Submit("block", nil, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	queued := q.Submit("queued", nil, func(ctx context.Context) error { return nil })
	dropped := q.Submit("dropped", nil, func(ctx context.Context) error { return nil })

	task := q.Get(dropped)
	require.NotNil(t, task)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, ErrQueueFull.Error(), task.Error)

	close(release)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, blocker).Status)
	assert.Equal(t, StatusSucceeded, waitDone(t, q, queued).Status)
}

func TestGet_Unknown(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})
	assert.Nil(t, q.Get("missing"))
}

func TestList_NewestFirst(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	q.mu.Lock()
	q.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	q.mu.Unlock()

	first := q.Submit("a", nil, func(ctx context.Context) error { return nil })
	waitDone(t, q, first)
	second := q.Submit("b", nil, func(ctx context.Context) error { return nil })
	waitDone(t, q, second)

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
}

func TestPrune(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})

	id := q.Submit("old", nil, func(ctx context.Context) error { return nil })
	waitDone(t, q, id)

	assert.Equal(t, 0, q.Prune(time.Hour))
	assert.NotNil(t, q.Get(id))

	q.mu.Lock()
	q.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	q.mu.Unlock()

	assert.Equal(t, 1, q.Prune(time.Hour))
	assert.Nil(t, q.Get(id))
}

func TestPrune_KeepsUnfinished(t *testing.T) {
	q := newTestQueue(t, Options{Workers: 1})

	release := make(chan struct{})
	id := q.Submit("slow", nil, func(ctx context.Context) error {
		<-release
		return nil
	})

	assert.Equal(t, 0, q.Prune(-time.Hour))
	assert.NotNil(t, q.Get(id))
	close(release)
	waitDone(t, q, id)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(Options{PruneSchedule: "not a schedule"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to schedule task pruning")
}

func TestClose_DrainsQueuedWork(t *testing.T) {
	q, err := New(Options{Workers: 1, PruneSchedule: "*/10 * * * *"})
	require.NoError(t, err)

	var count atomic.Int32
	for range 5 {
		q.Submit("count", nil, func(ctx context.Context) error {
			count.Add(1)
			return nil
		})
	}

	require.NoError(t, q.Close(context.Background()))
	assert.EqualValues(t, 5, count.Load())

	// Closing twice is harmless
	require.NoError(t, q.Close(context.Background()))

	id := q.Submit("late", nil, func(ctx context.Context) error { return nil })
	task := q.Get(id)
	require.NotNil(t, task)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, ErrClosed.Error(), task.Error)
}

func TestClose_DeadlineCancelsRunningTasks(t *testing.T) {
	q, err := New(Options{Workers: 1})
	require.NoError(t, err)

	started := make(chan struct{})
	id := q.Submit("stuck", nil, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	task := q.Get(id)
	require.NotNil(t, task)
	assert.Equal(t, StatusFailed, task.Status)
}

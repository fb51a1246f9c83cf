// Package tasks runs fire-and-forget background work on a fixed set of
// workers while keeping every task's status observable.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/nickcecere/docchat/internal/config"
	"github.com/nickcecere/docchat/internal/metrics"
)

var (
	// ErrQueueFull is recorded on a task that could not be enqueued.
	ErrQueueFull = errors.New("task queue is full")

	// ErrClosed is recorded on a task submitted after Close.
	ErrClosed = errors.New("task queue is closed")
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Func is a unit of background work.
type Func func(ctx context.Context) error

// Task is a snapshot of one submitted unit of work.
type Task struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Meta       map[string]string `json:"meta,omitempty"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Options configures a Queue.
type Options struct {
	Workers       int
	QueueSize     int
	Retention     time.Duration
	PruneSchedule string // five-field cron spec; empty disables pruning
}

// OptionsFromConfig builds queue options from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Workers:       cfg.Tasks.Workers,
		QueueSize:     cfg.Tasks.QueueSize,
		Retention:     cfg.Tasks.Retention,
		PruneSchedule: cfg.Tasks.PruneSchedule,
	}
}

type job struct {
	id string
	fn Func
}

// Queue is a bounded worker queue.
type Queue struct {
	jobs   chan job
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	tasks     map[string]*Task
	closed    bool
	retention time.Duration
	now       func() time.Time
}

// New starts a queue with its workers and, when a schedule is given, the
// prune job.
func New(opts Options) (*Queue, error) {
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultTaskWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = config.DefaultTaskQueueSize
	}
	if opts.Retention <= 0 {
		opts.Retention = config.DefaultTaskRetention
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:      make(chan job, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Task),
		retention: opts.Retention,
		now:       time.Now,
	}

	if opts.PruneSchedule != "" {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		q.cron = cron.New(cron.WithParser(parser))
		if _, err := q.cron.AddFunc(opts.PruneSchedule, func() {
			if n := q.Prune(q.retention); n > 0 {
				log.Debug("Pruned finished tasks", "count", n)
			}
		}); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule task pruning: %w", err)
		}
		q.cron.Start()
	}

	for range opts.Workers {
		q.wg.Add(1)
		go q.worker()
	}

	return q, nil
}

// Submit enqueues fn and returns the task id. It never blocks: when the
// buffer is full or the queue is closed the task is recorded as failed.
func (q *Queue) Submit(name string, meta map[string]string, fn Func) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := &Task{
		ID:        uuid.NewString(),
		Name:      name,
		Meta:      meta,
		Status:    StatusPending,
		CreatedAt: q.now(),
	}
	q.tasks[t.ID] = t
	if q.closed {
		q.finishLocked(t, ErrClosed)
		return t.ID
	}

	select {
	case q.jobs <- job{id: t.ID, fn: fn}:
		metrics.TasksInFlight.Inc()
		log.Debug("Task queued", "task", name, "id", t.ID)
	default:
		q.finishLocked(t, ErrQueueFull)
		log.Warn("Task dropped", "task", name, "id", t.ID, "error", ErrQueueFull)
	}
	return t.ID
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	defer metrics.TasksInFlight.Dec()

	q.mu.Lock()
	t := q.tasks[j.id]
	started := q.now()
	t.Status = StatusRunning
	t.StartedAt = &started
	name := t.Name
	q.mu.Unlock()

	err := safeCall(q.ctx, j.fn)

	q.mu.Lock()
	q.finishLocked(t, err)
	q.mu.Unlock()

	if err != nil {
		log.Error("Background task failed", "task", name, "id", j.id, "error", err)
		return
	}
	log.Debug("Background task finished", "task", name, "id", j.id,
		"duration", time.Since(started).Round(time.Millisecond))
}

// finishLocked moves t to a terminal state. Callers hold q.mu.
func (q *Queue) finishLocked(t *Task, err error) {
	finished := q.now()
	t.FinishedAt = &finished
	t.Status = StatusSucceeded
	if err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
	}
	metrics.TasksTotal.WithLabelValues(t.Name, string(t.Status)).Inc()
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Get returns a snapshot of the task, or nil when unknown.
func (q *Queue) Get(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

// List returns snapshots of every known task, newest first.
func (q *Queue) List() []Task {
	q.mu.RLock()
	out := make([]Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, *t)
	}
	q.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Prune forgets finished tasks that ended more than olderThan ago and
// returns how many were removed.
func (q *Queue) Prune(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	n := 0
	for id, t := range q.tasks {
		if t.Status.Done() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(q.tasks, id)
			n++
		}
	}
	return n
}

// Close stops accepting work and waits for queued tasks to drain. If ctx
// ends first, running tasks are cancelled and ctx's error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	if q.cron != nil {
		<-q.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

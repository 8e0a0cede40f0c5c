package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pictor/internal/metrics"
	"pictor/internal/model"
	"pictor/internal/pictor"
)

// LocalOptions tune the in-process queue.
type LocalOptions struct {
	// Workers is the number of concurrent task runners. Defaults to 4.
	Workers int

	// Retention is how long terminal tasks stay visible to WaitFor and
	// Snapshot. Zero keeps them until Close.
	Retention time.Duration
}

// LocalQueue runs tasks in-process on a small worker pool. It is the default
// backend: no broker, no extra process, and task state lives in memory.
type LocalQueue struct {
	registry  *Registry
	logger    pictor.Logger
	clock     pictor.Clock
	metrics   metrics.QueueMetrics
	retention time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*model.Task
	tasks   map[string]*model.Task
	closed  bool
}

var _ pictor.TaskQueue = (*LocalQueue)(nil)

// NewLocalQueue starts an in-process queue whose handlers come from reg.
func NewLocalQueue(reg *Registry, opts LocalOptions, logger pictor.Logger, clock pictor.Clock) *LocalQueue {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &LocalQueue{
		registry:  reg,
		logger:    logger,
		clock:     clock,
		metrics:   metrics.NewQueueMetrics(),
		retention: opts.Retention,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*model.Task),
	}
	q.cond = sync.NewCond(&q.mu)

	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

func (q *LocalQueue) Enqueue(ctx context.Context, name string, taskParams any) (*model.Task, error) {
	id, payload, err := Identity(name, taskParams)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, fmt.Errorf("enqueueing task %s: queue is closed", name)
	}
	if existing, ok := q.tasks[id]; ok && !existing.Status.Terminal() {
		q.metrics.RecordEnqueue(name, true)
		q.logger.Debug("task already scheduled", "task", name, "id", shortID(id))
		return nil, nil
	}

	task := &model.Task{
		ID:         id,
		Name:       name,
		Params:     payload,
		Status:     model.TaskQueued,
		EnqueuedAt: q.clock.Now(),
	}
	q.tasks[id] = task
	q.pending = append(q.pending, task)
	q.metrics.RecordEnqueue(name, false)
	q.metrics.SetPending(len(q.pending))
	q.cond.Signal()

	q.logger.Debug("task scheduled", "task", name, "id", shortID(id))
	return cloneTask(task), nil
}

func (q *LocalQueue) WaitFor(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		q.mu.Lock()
		task, ok := q.tasks[id]
		var snapshot *model.Task
		if ok {
			snapshot = cloneTask(task)
		}
		q.mu.Unlock()

		if !ok {
			return nil, pictor.E(pictor.CodeNotFound, "task not found: "+shortID(id), "")
		}
		if snapshot.Status.Terminal() {
			return snapshot, nil
		}

		select {
		case <-ctx.Done():
			return snapshot, ctx.Err()
		case <-deadline.C:
			return snapshot, nil
		case <-tick.C:
		}
	}
}

func (q *LocalQueue) Snapshot(ctx context.Context) ([]*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.Task, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, cloneTask(task))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Close stops the workers and abandons any pending tasks. A task already
// running sees its context canceled and finishes on its own terms.
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

func (q *LocalQueue) worker() {
	defer q.wg.Done()
	for {
		task := q.next()
		if task == nil {
			return
		}
		q.run(task)
	}
}

// next blocks until a task is available or the queue closes.
func (q *LocalQueue) next() *model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil
	}

	task := q.pending[0]
	q.pending = q.pending[1:]
	q.metrics.SetPending(len(q.pending))

	now := q.clock.Now()
	task.Status = model.TaskRunning
	task.StartedAt = &now
	return task
}

func (q *LocalQueue) run(task *model.Task) {
	handler, ok := q.registry.Handler(task.Name)

	var err error
	if !ok {
		err = fmt.Errorf("no handler registered for task %s", task.Name)
	} else {
		err = handler(q.ctx, task.Params)
	}

	q.mu.Lock()
	now := q.clock.Now()
	task.FinishedAt = &now
	if err != nil {
		task.Status = model.TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = model.TaskComplete
	}
	var duration time.Duration
	if task.StartedAt != nil {
		duration = now.Sub(*task.StartedAt)
	}
	q.mu.Unlock()

	q.metrics.RecordRun(task.Name, duration, err)
	if err != nil {
		q.logger.Error("task failed", "task", task.Name, "id", shortID(task.ID), "error", err)
	} else {
		q.logger.Debug("task complete", "task", task.Name, "id", shortID(task.ID))
	}

	q.expireLater(task)
}

// expireLater drops a terminal task from the snapshot map once the retention
// window passes. The identity may be re-enqueued as a fresh task before the
// timer fires, so only the exact task the timer was armed for is removed.
func (q *LocalQueue) expireLater(task *model.Task) {
	if q.retention <= 0 {
		return
	}
	time.AfterFunc(q.retention, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if current, ok := q.tasks[task.ID]; ok && current == task {
			delete(q.tasks, task.ID)
		}
	})
}

func cloneTask(t *model.Task) *model.Task {
	clone := *t
	if t.Params != nil {
		clone.Params = append([]byte(nil), t.Params...)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		clone.StartedAt = &ts
	}
	if t.FinishedAt != nil {
		ts := *t.FinishedAt
		clone.FinishedAt = &ts
	}
	return &clone
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

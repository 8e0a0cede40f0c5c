package testutil

import (
	"context"
	"sync"
	"time"

	"pictor/internal/model"
	"pictor/internal/pictor"
	"pictor/internal/taskqueue"
)

// RecordingQueue is a TaskQueue that records enqueued tasks without running
// them, so tests control exactly when and whether background work happens.
// Deduplication follows the real queue: a task whose identity matches a
// pending one is not enqueued again.
type RecordingQueue struct {
	mu    sync.Mutex
	tasks []*model.Task
	byID  map[string]*model.Task
}

var _ pictor.TaskQueue = (*RecordingQueue)(nil)

func NewRecordingQueue() *RecordingQueue {
	return &RecordingQueue{byID: make(map[string]*model.Task)}
}

func (q *RecordingQueue) Enqueue(ctx context.Context, name string, taskParams any) (*model.Task, error) {
	id, payload, err := taskqueue.Identity(name, taskParams)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.byID[id]; ok && !existing.Status.Terminal() {
		return nil, nil
	}
	task := &model.Task{
		ID:         id,
		Name:       name,
		Params:     payload,
		Status:     model.TaskQueued,
		EnqueuedAt: time.Now(),
	}
	q.tasks = append(q.tasks, task)
	q.byID[id] = task
	return task, nil
}

func (q *RecordingQueue) WaitFor(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.byID[id]; ok {
		return task, nil
	}
	return nil, pictor.E(pictor.CodeNotFound, "task not found", "")
}

func (q *RecordingQueue) Snapshot(ctx context.Context) ([]*model.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Task, len(q.tasks))
	copy(out, q.tasks)
	return out, nil
}

func (q *RecordingQueue) Close() error { return nil }

// Tasks returns the recorded tasks with the given name, in enqueue order.
// An empty name returns everything.
func (q *RecordingQueue) Tasks(name string) []*model.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*model.Task
	for _, task := range q.tasks {
		if name == "" || task.Name == name {
			out = append(out, task)
		}
	}
	return out
}

// Finish marks a recorded task terminal so a later Enqueue with the same
// identity schedules a fresh task.
func (q *RecordingQueue) Finish(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if task, ok := q.byID[id]; ok {
		task.Status = model.TaskComplete
	}
}

package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	"pictor/internal/metrics"
	"pictor/internal/model"
	"pictor/internal/pictor"
)

// asynqQueue is the broker queue name used for all pictor tasks.
const asynqQueue = "default"

// snapshotPageSize bounds how many tasks Snapshot reads per broker state.
const snapshotPageSize = 200

// AsynqQueue schedules tasks on a Redis broker via asynq. Handlers run in a
// separate worker process (see cmd/pictor-worker), which serves the mux built
// by NewServeMux from the same registry.
//
// Deduplication rides on asynq task IDs: the identity hash is the broker-side
// task ID, and a conflict means the work is already pending or running.
// Terminal tasks are not retained by the broker, so a finished identity can
// be enqueued again immediately.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	logger    pictor.Logger
	clock     pictor.Clock
	metrics   metrics.QueueMetrics
}

var _ pictor.TaskQueue = (*AsynqQueue)(nil)

// NewAsynqQueue connects a task queue client to the Redis broker at addr.
func NewAsynqQueue(addr string, logger pictor.Logger, clock pictor.Clock) *AsynqQueue {
	opt := asynq.RedisClientOpt{Addr: addr}
	return &AsynqQueue{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		logger:    logger,
		clock:     clock,
		metrics:   metrics.NewQueueMetrics(),
	}
}

func (q *AsynqQueue) Enqueue(ctx context.Context, name string, taskParams any) (*model.Task, error) {
	id, payload, err := Identity(name, taskParams)
	if err != nil {
		return nil, err
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(name, payload),
		asynq.TaskID(id), asynq.MaxRetry(5))
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.metrics.RecordEnqueue(name, true)
		q.logger.Debug("task already scheduled", "task", name, "id", shortID(id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("enqueueing task %s: %w", name, err)
	}

	q.metrics.RecordEnqueue(name, false)
	q.logger.Debug("task scheduled", "task", name, "id", shortID(id))

	task := taskFromInfo(info)
	task.EnqueuedAt = q.clock.Now()
	return task, nil
}

func (q *AsynqQueue) WaitFor(ctx context.Context, id string, timeout time.Duration) (*model.Task, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	var last *model.Task
	for {
		info, err := q.inspector.GetTaskInfo(asynqQueue, id)
		switch {
		case errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound):
			if last == nil {
				return nil, pictor.E(pictor.CodeNotFound, "task not found: "+shortID(id), "")
			}
			// The broker drops tasks once they complete, so a task that
			// was visible and is now gone has finished.
			done := *last
			done.Status = model.TaskComplete
			now := q.clock.Now()
			done.FinishedAt = &now
			return &done, nil
		case err != nil:
			return nil, fmt.Errorf("inspecting task %s: %w", shortID(id), err)
		}

		task := taskFromInfo(info)
		if task.Status.Terminal() {
			return task, nil
		}
		last = task

		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-deadline.C:
			return task, nil
		case <-tick.C:
		}
	}
}

func (q *AsynqQueue) Snapshot(ctx context.Context) ([]*model.Task, error) {
	listers := []func(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		q.inspector.ListActiveTasks,
		q.inspector.ListPendingTasks,
		q.inspector.ListScheduledTasks,
		q.inspector.ListRetryTasks,
		q.inspector.ListArchivedTasks,
	}

	var out []*model.Task
	for _, list := range listers {
		infos, err := list(asynqQueue, asynq.PageSize(snapshotPageSize))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		for _, info := range infos {
			out = append(out, taskFromInfo(info))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

func (q *AsynqQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("closing asynq client: %w", err)
	}
	if err := q.inspector.Close(); err != nil {
		return fmt.Errorf("closing asynq inspector: %w", err)
	}
	return nil
}

// taskFromInfo maps broker task state onto the model. Retry and scheduled
// states count as queued: the work is accepted but not running.
func taskFromInfo(info *asynq.TaskInfo) *model.Task {
	task := &model.Task{
		ID:     info.ID,
		Name:   info.Type,
		Params: info.Payload,
		Status: statusFromState(info.State),
		Error:  info.LastErr,
	}
	if task.Status != model.TaskFailed {
		task.Error = ""
	}
	if !info.NextProcessAt.IsZero() {
		task.EnqueuedAt = info.NextProcessAt
	}
	if !info.CompletedAt.IsZero() {
		ts := info.CompletedAt
		task.FinishedAt = &ts
	}
	return task
}

func statusFromState(state asynq.TaskState) model.TaskStatus {
	switch state {
	case asynq.TaskStateActive:
		return model.TaskRunning
	case asynq.TaskStateCompleted:
		return model.TaskComplete
	case asynq.TaskStateArchived:
		return model.TaskFailed
	default:
		return model.TaskQueued
	}
}

// NewServeMux exposes the registry's handlers as an asynq mux for the worker
// process, recording run metrics around each handler.
func NewServeMux(reg *Registry) *asynq.ServeMux {
	m := metrics.NewQueueMetrics()
	mux := asynq.NewServeMux()
	for _, name := range reg.Names() {
		fn, _ := reg.Handler(name)
		mux.HandleFunc(name, func(ctx context.Context, t *asynq.Task) error {
			started := time.Now()
			err := fn(ctx, t.Payload())
			m.RecordRun(t.Type(), time.Since(started), err)
			return err
		})
	}
	return mux
}

package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"pictor/internal/model"
	"pictor/internal/pictor"
)

type testParams struct {
	Target string `json:"target"`
}

func newTestQueue(t *testing.T, reg *Registry) *LocalQueue {
	t.Helper()
	q := NewLocalQueue(reg, LocalOptions{Workers: 2}, pictor.NewNopLogger(), pictor.RealClock{})
	t.Cleanup(func() { q.Close() })
	return q
}

func TestIdentity(t *testing.T) {
	id1, payload, err := Identity("test:work", testParams{Target: "a"})
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := Identity("test:work", testParams{Target: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Errorf("same parameters produced different identities: %s vs %s", id1, id2)
	}

	var decoded testParams
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Target != "a" {
		t.Errorf("payload target = %s, want a", decoded.Target)
	}

	other, _, err := Identity("test:work", testParams{Target: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if other == id1 {
		t.Error("different parameters produced the same identity")
	}

	otherName, _, err := Identity("test:other", testParams{Target: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if otherName == id1 {
		t.Error("different task names produced the same identity")
	}
}

func TestEnqueueRunsHandler(t *testing.T) {
	var mu sync.Mutex
	var got []string

	reg := NewRegistry()
	reg.Register("test:record", func(ctx context.Context, payload []byte) error {
		var p testParams
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, p.Target)
		mu.Unlock()
		return nil
	})
	q := newTestQueue(t, reg)

	task, err := q.Enqueue(context.Background(), "test:record", testParams{Target: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("expected a task, got nil")
	}
	if task.Status != model.TaskQueued {
		t.Errorf("status = %s, want %s", task.Status, model.TaskQueued)
	}

	done, err := q.WaitFor(context.Background(), task.ID, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TaskComplete {
		t.Errorf("status = %s, want %s", done.Status, model.TaskComplete)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("terminal task missing start or finish time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("handler calls = %v, want [x]", got)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	var mu sync.Mutex
	runs := 0

	reg := NewRegistry()
	reg.Register("test:block", func(ctx context.Context, payload []byte) error {
		mu.Lock()
		runs++
		mu.Unlock()
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	q := newTestQueue(t, reg)

	first, err := q.Enqueue(context.Background(), "test:block", testParams{Target: "same"})
	if err != nil {
		t.Fatal(err)
	}
	if first == nil {
		t.Fatal("first enqueue returned nil task")
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never started")
	}

	// Identical work while the first run is still in flight is absorbed.
	dup, err := q.Enqueue(context.Background(), "test:block", testParams{Target: "same"})
	if err != nil {
		t.Fatal(err)
	}
	if dup != nil {
		t.Errorf("duplicate enqueue returned a task: %+v", dup)
	}

	close(release)
	done, err := q.WaitFor(context.Background(), first.ID, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TaskComplete {
		t.Fatalf("status = %s, want %s", done.Status, model.TaskComplete)
	}

	// Once terminal, the same identity schedules fresh work.
	again, err := q.Enqueue(context.Background(), "test:block", testParams{Target: "same"})
	if err != nil {
		t.Fatal(err)
	}
	if again == nil {
		t.Fatal("re-enqueue after completion returned nil")
	}
	if again.ID != first.ID {
		t.Errorf("re-enqueued identity = %s, want %s", again.ID, first.ID)
	}
	if _, err := q.WaitFor(context.Background(), again.ID, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if runs != 2 {
		t.Errorf("handler ran %d times, want 2", runs)
	}
}

func TestFailedTask(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test:fail", func(ctx context.Context, payload []byte) error {
		return errors.New("boom")
	})
	q := newTestQueue(t, reg)

	task, err := q.Enqueue(context.Background(), "test:fail", testParams{Target: "x"})
	if err != nil {
		t.Fatal(err)
	}
	done, err := q.WaitFor(context.Background(), task.ID, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TaskFailed {
		t.Errorf("status = %s, want %s", done.Status, model.TaskFailed)
	}
	if done.Error != "boom" {
		t.Errorf("error = %q, want boom", done.Error)
	}
}

func TestMissingHandler(t *testing.T) {
	q := newTestQueue(t, NewRegistry())

	task, err := q.Enqueue(context.Background(), "test:unknown", testParams{Target: "x"})
	if err != nil {
		t.Fatal(err)
	}
	done, err := q.WaitFor(context.Background(), task.ID, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != model.TaskFailed {
		t.Errorf("status = %s, want %s", done.Status, model.TaskFailed)
	}
}

func TestWaitFor(t *testing.T) {
	t.Run("unknown id", func(t *testing.T) {
		q := newTestQueue(t, NewRegistry())
		_, err := q.WaitFor(context.Background(), "no-such-task", 50*time.Millisecond)
		if !pictor.IsNotFound(err) {
			t.Errorf("expected CodeNotFound, got %v", err)
		}
	})

	t.Run("timeout returns snapshot", func(t *testing.T) {
		release := make(chan struct{})
		reg := NewRegistry()
		reg.Register("test:slow", func(ctx context.Context, payload []byte) error {
			<-release
			return nil
		})
		q := newTestQueue(t, reg)
		defer close(release)

		task, err := q.Enqueue(context.Background(), "test:slow", testParams{Target: "x"})
		if err != nil {
			t.Fatal(err)
		}
		snap, err := q.WaitFor(context.Background(), task.ID, 50*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		if snap.Status.Terminal() {
			t.Errorf("expected non-terminal status, got %s", snap.Status)
		}
	})
}

func TestSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test:noop", func(ctx context.Context, payload []byte) error {
		return nil
	})
	q := newTestQueue(t, reg)

	first, err := q.Enqueue(context.Background(), "test:noop", testParams{Target: "one"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitFor(context.Background(), first.ID, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	second, err := q.Enqueue(context.Background(), "test:noop", testParams{Target: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := q.WaitFor(context.Background(), second.ID, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	tasks, err := q.Snapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2", len(tasks))
	}
	if tasks[0].ID != first.ID {
		t.Errorf("oldest task = %s, want %s", tasks[0].ID, first.ID)
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	reg := NewRegistry()
	reg.Register("test:noop", func(ctx context.Context, payload []byte) error {
		return nil
	})
	q := NewLocalQueue(reg, LocalOptions{Workers: 1}, pictor.NewNopLogger(), pictor.RealClock{})

	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing twice is a no-op.
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Enqueue(context.Background(), "test:noop", testParams{Target: "x"}); err == nil {
		t.Error("enqueue on a closed queue succeeded")
	}
}

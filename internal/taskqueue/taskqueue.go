// Package taskqueue runs deduplicated background work. A task's identity is
// derived from its name and canonical parameters, so enqueueing the same
// logical operation while it is still pending or running yields the task
// already scheduled instead of a duplicate.
//
// Two backends implement pictor.TaskQueue: a local in-process queue with a
// worker pool (the default, and the test vehicle) and a Redis-backed asynq
// queue for deployments where a separate worker process handles background
// work.
package taskqueue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc processes one task. The payload is the task's canonical
// parameter JSON.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps task names to their handlers. Both queue backends resolve
// handlers through it; the worker binary additionally exposes it as an
// asynq mux.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a task name. Registering a name twice
// replaces the earlier handler.
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Handler returns the handler for a task name.
func (r *Registry) Handler(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered task names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Identity derives a task's identity and canonical payload. Parameters are
// serialized to JSON (struct field order is fixed, so equal parameters
// serialize identically) and hashed together with the task name.
func Identity(name string, taskParams any) (string, []byte, error) {
	payload, err := json.Marshal(taskParams)
	if err != nil {
		return "", nil, fmt.Errorf("serializing parameters for task %s: %w", name, err)
	}
	sum := sha256.New()
	sum.Write([]byte(name))
	sum.Write([]byte{':'})
	sum.Write(payload)
	return hex.EncodeToString(sum.Sum(nil)), payload, nil
}

// Package queue dispatches tasks to handlers with at-least-once delivery and delayed retries.
//
// A handler asks for its invocation to be run again by returning an error built with
// RetryAfter. The next invocation receives the same payload with Attempt incremented. Any other
// error ends the task.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrNoHandler    = errors.New("no handler registered for task kind")
	ErrTaskPanicked = errors.New("task panicked")
)

// Args is a task payload. Kind selects the handler that runs it. Args are carried as JSON.
type Args interface {
	Kind() string
}

// Task is one invocation of a task.
type Task struct {
	ID      string
	Kind    string
	Attempt int // previous invocations of this task, 0 on the first run
	Payload json.RawMessage
}

func (t *Task) Decode(v any) error {
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", t.Kind, err)
	}
	return nil
}

// next returns the invocation that follows t.
func (t *Task) next() *Task {
	n := *t
	n.Attempt++
	return &n
}

type Queue interface {
	Enqueue(ctx context.Context, args Args) error
}

type Handler interface {
	HandleTask(ctx context.Context, task *Task) error
}

type HandlerFunc func(ctx context.Context, task *Task) error

func (f HandlerFunc) HandleTask(ctx context.Context, task *Task) error {
	return f(ctx, task)
}

// Mux routes tasks to handlers by kind.
type Mux struct {
	mutex    sync.RWMutex
	handlers map[string]Handler
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

func (m *Mux) Handle(kind string, h Handler) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.handlers[kind] = h
}

func (m *Mux) HandleFunc(kind string, f func(ctx context.Context, task *Task) error) {
	m.Handle(kind, HandlerFunc(f))
}

func (m *Mux) HandleTask(ctx context.Context, task *Task) error {
	m.mutex.RLock()
	h, ok := m.handlers[task.Kind]
	m.mutex.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, task.Kind)
	}

	return h.HandleTask(ctx, task)
}

// handle runs task on mux. A panicking handler fails the task with ErrTaskPanicked instead of
// taking the worker down.
func handle(ctx context.Context, mux *Mux, task *Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, p)
		}
	}()

	return mux.HandleTask(ctx, task)
}

// RetryError requests that the failed invocation be run again after Delay.
type RetryError struct {
	Delay time.Duration
	Err   error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %v: %v", e.Delay, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

func RetryAfter(delay time.Duration, err error) error {
	return &RetryError{Delay: delay, Err: err}
}

// RetryDelay reports whether err asks for a retry and after how long.
func RetryDelay(err error) (time.Duration, bool) {
	var retryErr *RetryError
	if errors.As(err, &retryErr) {
		return retryErr.Delay, true
	}
	return 0, false
}

func marshalArgs(args Args) (json.RawMessage, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", args.Kind(), err)
	}
	return payload, nil
}

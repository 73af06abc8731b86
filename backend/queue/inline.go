package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	log "gopkg.in/inconshreveable/log15.v2"
)

// Retry records one retry requested from an Inline queue.
type Retry struct {
	Task  Task
	Delay time.Duration
	Err   error
}

// Failure records a task that ended with an error.
type Failure struct {
	Task Task
	Err  error
}

// Inline runs each task synchronously inside Enqueue. Retries run immediately; the requested
// delay is recorded instead of waited for. Tasks of kinds without a handler are only recorded.
// It is meant for tests.
type Inline struct {
	mux    *Mux
	logger log.Logger

	// BeforeEnqueue, when set, is called first by Enqueue. An error aborts the enqueue.
	BeforeEnqueue func(args Args) error

	mutex    sync.Mutex
	enqueued []Task
	retries  []Retry
	failures []Failure
}

func NewInline(mux *Mux, logger log.Logger) *Inline {
	return &Inline{mux: mux, logger: logger}
}

func (q *Inline) Enqueue(ctx context.Context, args Args) error {
	if q.BeforeEnqueue != nil {
		if err := q.BeforeEnqueue(args); err != nil {
			return err
		}
	}

	payload, err := marshalArgs(args)
	if err != nil {
		return err
	}

	task := &Task{ID: uuid.NewString(), Kind: args.Kind(), Payload: payload}

	q.mutex.Lock()
	q.enqueued = append(q.enqueued, *task)
	q.mutex.Unlock()

	q.run(ctx, task)
	return nil
}

func (q *Inline) run(ctx context.Context, task *Task) {
	for {
		err := handle(ctx, q.mux, task)
		if err == nil || errors.Is(err, ErrNoHandler) {
			return
		}

		if delay, ok := RetryDelay(err); ok {
			q.mutex.Lock()
			q.retries = append(q.retries, Retry{Task: *task, Delay: delay, Err: err})
			q.mutex.Unlock()
			task = task.next()
			continue
		}

		q.logger.Error("task failed", "kind", task.Kind, "id", task.ID, "attempt", task.Attempt, "error", err)
		q.mutex.Lock()
		q.failures = append(q.failures, Failure{Task: *task, Err: err})
		q.mutex.Unlock()
		return
	}
}

// Enqueued returns the tasks enqueued with kind, or all tasks when kind is empty.
func (q *Inline) Enqueued(kind string) []Task {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var tasks []Task
	for _, t := range q.enqueued {
		if kind == "" || t.Kind == kind {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

func (q *Inline) Retries() []Retry {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]Retry(nil), q.retries...)
}

func (q *Inline) Failures() []Failure {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return append([]Failure(nil), q.failures...)
}

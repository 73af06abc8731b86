package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	log "gopkg.in/inconshreveable/log15.v2"
)

var ErrQueueStopped = errors.New("queue stopped")

// Local is an in-process queue served by a fixed pool of worker goroutines. A retry is parked
// on a timer rather than in a worker, so workers keep draining other tasks meanwhile. Tasks do
// not survive the process.
type Local struct {
	mux     *Mux
	workers int
	logger  log.Logger

	mutex   sync.Mutex
	pending []*Task
	timers  map[*time.Timer]struct{}
	stopped bool
	ready   chan struct{}
}

func NewLocal(mux *Mux, workers int, logger log.Logger) *Local {
	if workers < 1 {
		workers = 1
	}
	return &Local{
		mux:     mux,
		workers: workers,
		logger:  logger,
		timers:  make(map[*time.Timer]struct{}),
		ready:   make(chan struct{}, 1),
	}
}

func (q *Local) Enqueue(ctx context.Context, args Args) error {
	payload, err := marshalArgs(args)
	if err != nil {
		return err
	}

	return q.push(&Task{ID: uuid.NewString(), Kind: args.Kind(), Payload: payload})
}

func (q *Local) push(task *Task) error {
	q.mutex.Lock()
	if q.stopped {
		q.mutex.Unlock()
		return ErrQueueStopped
	}
	q.pending = append(q.pending, task)
	q.mutex.Unlock()

	q.signal()
	return nil
}

func (q *Local) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Local) pop() *Task {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	task := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]

	if len(q.pending) > 0 {
		q.signal()
	}
	return task
}

// Len returns the number of tasks waiting for a worker. Parked retries are not counted.
func (q *Local) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}

// Run serves tasks until ctx is done. Pending tasks and parked retries are discarded on return.
func (q *Local) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	err := g.Wait()

	q.mutex.Lock()
	q.stopped = true
	for t := range q.timers {
		t.Stop()
	}
	q.timers = nil
	dropped := len(q.pending)
	q.pending = nil
	q.mutex.Unlock()

	if dropped > 0 {
		q.logger.Warn("local queue stopped with pending tasks", "n", dropped)
	}
	return err
}

func (q *Local) work(ctx context.Context) {
	for {
		if task := q.pop(); task != nil {
			q.run(ctx, task)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.ready:
		}
	}
}

func (q *Local) run(ctx context.Context, task *Task) {
	err := handle(ctx, q.mux, task)
	if err == nil {
		return
	}

	if delay, ok := RetryDelay(err); ok {
		q.logger.Warn("task retry scheduled", "kind", task.Kind, "id", task.ID, "attempt", task.Attempt, "delay", delay, "error", err)
		q.schedule(task.next(), delay)
		return
	}

	q.logger.Error("task failed", "kind", task.Kind, "id", task.ID, "attempt", task.Attempt, "error", err)
}

func (q *Local) schedule(task *Task, delay time.Duration) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.stopped {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mutex.Lock()
		delete(q.timers, timer)
		q.mutex.Unlock()

		if err := q.push(task); err != nil {
			q.logger.Warn("dropping retry", "kind", task.Kind, "id", task.ID, "error", err)
		}
	})
	q.timers[timer] = struct{}{}
}

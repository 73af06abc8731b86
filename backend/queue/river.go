package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	log "gopkg.in/inconshreveable/log15.v2"
)

const riverTaskKind = "feedpipe_task"

// riverArgs wraps every task in one river job kind so the Mux stays the only routing table.
type riverArgs struct {
	TaskKind string          `json:"kind"`
	Attempt  int             `json:"attempt"`
	Payload  json.RawMessage `json:"payload"`
}

func (riverArgs) Kind() string {
	return riverTaskKind
}

const retryInsertTimeout = 10 * time.Second

type RiverConfig struct {
	Workers int
	Logger  *slog.Logger

	// JobTimeout bounds one invocation and must exceed every timeout a handler applies itself.
	// Zero disables the job timeout.
	JobTimeout time.Duration
}

// River is a durable queue stored in Postgres. A River built without a Mux can only enqueue.
type River struct {
	client *river.Client[pgx.Tx]
	mux    *Mux
	logger log.Logger
}

func NewRiver(pool *pgxpool.Pool, mux *Mux, config RiverConfig, logger log.Logger) (*River, error) {
	q := &River{mux: mux, logger: logger}

	riverConfig := &river.Config{Logger: config.Logger, JobTimeout: -1}
	if config.JobTimeout > 0 {
		riverConfig.JobTimeout = config.JobTimeout
	}
	if mux != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, &riverWorker{queue: q})

		maxWorkers := config.Workers
		if maxWorkers < 1 {
			maxWorkers = 1
		}
		riverConfig.Workers = workers
		riverConfig.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		}
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create river client: %w", err)
	}
	q.client = client

	return q, nil
}

func (q *River) Enqueue(ctx context.Context, args Args) error {
	payload, err := marshalArgs(args)
	if err != nil {
		return err
	}

	return q.insert(ctx, riverArgs{TaskKind: args.Kind(), Payload: payload}, time.Time{})
}

func (q *River) insert(ctx context.Context, args riverArgs, scheduledAt time.Time) error {
	_, err := q.client.Insert(ctx, args, &river.InsertOpts{ScheduledAt: scheduledAt})
	if err != nil {
		return fmt.Errorf("unable to insert %s task: %w", args.TaskKind, err)
	}
	return nil
}

// Run works tasks until ctx is done and then stops the client, letting running tasks finish.
func (q *River) Run(ctx context.Context) error {
	if q.mux == nil {
		return errors.New("river queue has no handlers")
	}

	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("unable to start river client: %w", err)
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return q.client.Stop(stopCtx)
}

type riverWorker struct {
	river.WorkerDefaults[riverArgs]
	queue *River
}

func (w *riverWorker) Work(ctx context.Context, job *river.Job[riverArgs]) error {
	task := &Task{
		ID:      strconv.FormatInt(job.ID, 10),
		Kind:    job.Args.TaskKind,
		Attempt: job.Args.Attempt,
		Payload: job.Args.Payload,
	}

	err := handle(ctx, w.queue.mux, task)
	if err == nil {
		return nil
	}

	if delay, ok := RetryDelay(err); ok {
		w.queue.logger.Warn("task retry scheduled", "kind", task.Kind, "id", task.ID, "attempt", task.Attempt, "delay", delay, "error", err)
		next := job.Args
		next.Attempt++

		// The job context may already be past its deadline when the handler failed on a timeout.
		insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), retryInsertTimeout)
		defer cancel()
		// If the insert fails the job itself errors and river retries it with the same attempt.
		return w.queue.insert(insertCtx, next, time.Now().Add(delay))
	}

	w.queue.logger.Error("task failed", "kind", task.Kind, "id", task.ID, "attempt", task.Attempt, "error", err)
	return river.JobCancel(err)
}

package ingest

import (
	"context"
	"fmt"

	"github.com/jackc/feedpipe/backend/queue"
	log "gopkg.in/inconshreveable/log15.v2"
)

// FeedFetcher is implemented by *Fetcher.
type FeedFetcher interface {
	Fetch(ctx context.Context, feedURL string, validator string) (*FetchResult, error)
}

// RefreshState is where one refresh invocation stopped.
type RefreshState int

const (
	RefreshUnchanged RefreshState = iota + 1
	RefreshFannedOut
	RefreshRetryScheduled
	RefreshPaused
	RefreshFailed
)

func (s RefreshState) String() string {
	switch s {
	case RefreshUnchanged:
		return "unchanged"
	case RefreshFannedOut:
		return "fanned out"
	case RefreshRetryScheduled:
		return "retry scheduled"
	case RefreshPaused:
		return "paused"
	case RefreshFailed:
		return "failed"
	default:
		return fmt.Sprintf("RefreshState(%d)", int(s))
	}
}

// Refresher fetches one feed, stores its metadata and enqueues one ingestion task per entry.
type Refresher struct {
	fetcher FeedFetcher
	feeds   FeedWriter
	queue   queue.Queue
	retry   RetryPolicy
	logger  log.Logger
}

func NewRefresher(fetcher FeedFetcher, feeds FeedWriter, q queue.Queue, retry RetryPolicy, logger log.Logger) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		feeds:   feeds,
		queue:   q,
		retry:   retry,
		logger:  logger,
	}
}

// Refresh runs one invocation. attempt is the number of earlier invocations of the same task.
// The returned error is non-nil only for RefreshRetryScheduled and then carries the retry delay
// for the queue.
func (r *Refresher) Refresh(ctx context.Context, args RefreshFeedArgs, attempt int) (RefreshState, error) {
	logger := r.logger.New("feed_id", args.FeedID, "url", args.URL, "attempt", attempt)

	if r.retry.exhausted(attempt) {
		return r.pause(ctx, args.FeedID, logger, ErrMaxRetriesExceeded), nil
	}

	result, err := r.fetch(ctx, args)
	if err != nil {
		return r.fail(ctx, args.FeedID, attempt, logger, err)
	}

	if result.NotModified {
		logger.Info("feed unchanged")
		return RefreshUnchanged, nil
	}

	feed := result.Feed
	if err := r.feeds.UpdateFeedMetadata(ctx, args.FeedID, feed.Metadata()); err != nil {
		return r.fail(ctx, args.FeedID, attempt, logger, persistenceError("update feed metadata", err))
	}

	for i, entry := range feed.Entries {
		err := r.queue.Enqueue(ctx, IngestEntryArgs{FeedID: args.FeedID, Entry: entry})
		if err != nil {
			logger.Error("entry fan-out interrupted", "enqueued", i, "entries", len(feed.Entries), "error", err)
			// Forget the validator so the next scheduled refresh fetches the full document again.
			if err := r.feeds.ClearFeedValidator(ctx, args.FeedID); err != nil {
				logger.Error("unable to clear feed validator", "error", err)
			}
			return RefreshFailed, nil
		}
	}

	logger.Info("refresh succeeded", "entries", len(feed.Entries))
	return RefreshFannedOut, nil
}

func (r *Refresher) fetch(ctx context.Context, args RefreshFeedArgs) (result *FetchResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while fetching: %v", p)
		}
	}()

	return r.fetcher.Fetch(ctx, args.URL, args.ModifiedAt)
}

func (r *Refresher) fail(ctx context.Context, feedID int64, attempt int, logger log.Logger, err error) (RefreshState, error) {
	if IsTerminal(err) {
		logger.Error("refresh failed", "error", err)
		return RefreshFailed, nil
	}

	if r.retry.lastAttempt(attempt) {
		return r.pause(ctx, feedID, logger, fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)), nil
	}

	logger.Warn("refresh failed", "retry_in", r.retry.Interval, "error", err)
	return RefreshRetryScheduled, queue.RetryAfter(r.retry.Interval, err)
}

func (r *Refresher) pause(ctx context.Context, feedID int64, logger log.Logger, cause error) RefreshState {
	if err := r.feeds.DisableFeedUpdates(ctx, feedID); err != nil {
		logger.Error("unable to pause feed updates", "cause", cause, "error", err)
		return RefreshFailed
	}

	logger.Error("feed updates paused", "error", cause)
	return RefreshPaused
}

func (r *Refresher) HandleTask(ctx context.Context, task *queue.Task) error {
	var args RefreshFeedArgs
	if err := task.Decode(&args); err != nil {
		return err
	}

	_, err := r.Refresh(ctx, args, task.Attempt)
	return err
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/feedpipe/backend/queue"
	log "gopkg.in/inconshreveable/log15.v2"
)

type IngestOutcome int

const (
	Inserted IngestOutcome = iota + 1
	Updated
)

func (o IngestOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("IngestOutcome(%d)", int(o))
	}
}

// Ingestor stores one entry, inserting it on first sighting of its guid and updating it
// afterwards.
type Ingestor struct {
	store  EntryStore
	retry  RetryPolicy
	logger log.Logger
}

func NewIngestor(store EntryStore, retry RetryPolicy, logger log.Logger) *Ingestor {
	return &Ingestor{store: store, retry: retry, logger: logger}
}

// Ingest upserts raw by guid. Errors are *PersistenceError.
func (i *Ingestor) Ingest(ctx context.Context, feedID int64, raw RawEntry) (IngestOutcome, error) {
	existing, err := i.store.GetEntryByGUID(ctx, raw.GUID)
	if err == nil {
		return i.update(ctx, existing, raw)
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, persistenceError("get entry by guid", err)
	}

	entry := &Entry{
		FeedID:      feedID,
		GUID:        raw.GUID,
		PublishedAt: i.publishedAt(raw),
	}
	raw.update().ApplyTo(entry)

	err = i.store.InsertEntry(ctx, entry)
	if errors.Is(err, ErrEntryExists) {
		// Another task stored the same guid between the lookup and the insert.
		existing, err = i.store.GetEntryByGUID(ctx, raw.GUID)
		if err != nil {
			return 0, persistenceError("get entry by guid", err)
		}
		return i.update(ctx, existing, raw)
	}
	if err != nil {
		return 0, persistenceError("insert entry", err)
	}

	return Inserted, nil
}

func (i *Ingestor) update(ctx context.Context, existing *Entry, raw RawEntry) (IngestOutcome, error) {
	update := raw.update()
	if update.Matches(existing) {
		return Updated, nil
	}

	if err := i.store.UpdateEntry(ctx, existing.ID, update); err != nil {
		return 0, persistenceError("update entry", err)
	}
	return Updated, nil
}

func (i *Ingestor) publishedAt(raw RawEntry) time.Time {
	if raw.PublishedRaw == "" {
		return time.Time{}
	}

	t, err := ParseTime(raw.PublishedRaw)
	if err != nil {
		i.logger.Warn("unparsable published date", "guid", raw.GUID, "published", raw.PublishedRaw)
		return time.Time{}
	}
	return t
}

func (i *Ingestor) HandleTask(ctx context.Context, task *queue.Task) error {
	var args IngestEntryArgs
	if err := task.Decode(&args); err != nil {
		return err
	}

	logger := i.logger.New("feed_id", args.FeedID, "guid", args.Entry.GUID, "attempt", task.Attempt)

	if i.retry.exhausted(task.Attempt) {
		logger.Error("dropping entry", "error", ErrMaxRetriesExceeded)
		return ErrMaxRetriesExceeded
	}

	outcome, err := i.Ingest(ctx, args.FeedID, args.Entry)
	if err != nil {
		if i.retry.lastAttempt(task.Attempt) {
			logger.Error("dropping entry", "error", err)
			return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
		}
		logger.Warn("ingest failed", "retry_in", i.retry.Interval, "error", err)
		return queue.RetryAfter(i.retry.Interval, err)
	}

	logger.Debug("entry ingested", "outcome", outcome)
	return nil
}

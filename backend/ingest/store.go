package ingest

import "context"

// EnabledFeedLister is the part of the store the scheduler reads.
type EnabledFeedLister interface {
	GetEnabledFeeds(ctx context.Context) ([]Feed, error)
}

// FeedWriter is the part of the store the refresher writes.
type FeedWriter interface {
	UpdateFeedMetadata(ctx context.Context, feedID int64, metadata FeedMetadata) error
	DisableFeedUpdates(ctx context.Context, feedID int64) error
	ClearFeedValidator(ctx context.Context, feedID int64) error
}

// EntryStore is the part of the store the ingestor uses.
type EntryStore interface {
	GetEntryByGUID(ctx context.Context, guid string) (*Entry, error)
	// InsertEntry stores entry and sets its ID. It returns ErrEntryExists when an entry with the
	// same GUID is already stored.
	InsertEntry(ctx context.Context, entry *Entry) error
	UpdateEntry(ctx context.Context, entryID int64, update EntryUpdate) error
}

// Store is the persistence port of the ingestion pipeline. Every method is a single
// transaction. Lookups return ErrNotFound when no row matches.
type Store interface {
	EnabledFeedLister
	FeedWriter
	EntryStore

	GetFeed(ctx context.Context, feedID int64) (*Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*Feed, error)
	// CreateFeed inserts a new update-enabled feed. It returns ErrFeedExists when the url is
	// already present.
	CreateFeed(ctx context.Context, url string) (*Feed, error)
	EnableFeedUpdates(ctx context.Context, feedID int64) error
}

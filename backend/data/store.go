package data

import (
	"context"
	"fmt"

	"github.com/jackc/feedpipe/backend/ingest"
)

// Store is the Postgres implementation of ingest.Store. Every method is a single statement, so
// each write is atomic for the one row it touches.
type Store struct {
	db Queryer
}

var _ ingest.Store = (*Store)(nil)

func NewStore(db Queryer) *Store {
	return &Store{db: db}
}

func (s *Store) GetEnabledFeeds(ctx context.Context) ([]ingest.Feed, error) {
	rows, err := SelectEnabledFeeds(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("select enabled feeds: %w", err)
	}

	feeds := make([]ingest.Feed, len(rows))
	for i := range rows {
		feeds[i] = *rows[i].Ingest()
	}
	return feeds, nil
}

func (s *Store) GetFeed(ctx context.Context, feedID int64) (*ingest.Feed, error) {
	row, err := SelectFeedByPK(ctx, s.db, feedID)
	if err != nil {
		return nil, fmt.Errorf("select feed %d: %w", feedID, err)
	}
	return row.Ingest(), nil
}

func (s *Store) GetFeedByURL(ctx context.Context, url string) (*ingest.Feed, error) {
	row, err := SelectFeedByURL(ctx, s.db, url)
	if err != nil {
		return nil, fmt.Errorf("select feed by url: %w", err)
	}
	return row.Ingest(), nil
}

func (s *Store) CreateFeed(ctx context.Context, url string) (*ingest.Feed, error) {
	var row Feed
	if err := InsertFeed(ctx, s.db, url, &row); err != nil {
		return nil, fmt.Errorf("insert feed: %w", err)
	}
	return row.Ingest(), nil
}

func (s *Store) UpdateFeedMetadata(ctx context.Context, feedID int64, metadata ingest.FeedMetadata) error {
	if err := UpdateFeedMetadata(ctx, s.db, feedID, metadata); err != nil {
		return fmt.Errorf("update feed %d metadata: %w", feedID, err)
	}
	return nil
}

func (s *Store) DisableFeedUpdates(ctx context.Context, feedID int64) error {
	if err := UpdateFeedIsUpdateEnabled(ctx, s.db, feedID, false); err != nil {
		return fmt.Errorf("disable feed %d updates: %w", feedID, err)
	}
	return nil
}

func (s *Store) EnableFeedUpdates(ctx context.Context, feedID int64) error {
	if err := UpdateFeedIsUpdateEnabled(ctx, s.db, feedID, true); err != nil {
		return fmt.Errorf("enable feed %d updates: %w", feedID, err)
	}
	return nil
}

func (s *Store) ClearFeedValidator(ctx context.Context, feedID int64) error {
	if err := ClearFeedModifiedAt(ctx, s.db, feedID); err != nil {
		return fmt.Errorf("clear feed %d validator: %w", feedID, err)
	}
	return nil
}

func (s *Store) GetEntryByGUID(ctx context.Context, guid string) (*ingest.Entry, error) {
	row, err := SelectItemByGUID(ctx, s.db, guid)
	if err != nil {
		return nil, fmt.Errorf("select item by guid: %w", err)
	}
	return row.Ingest(), nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *ingest.Entry) error {
	row := &Item{
		FeedID:      entry.FeedID,
		GUID:        entry.GUID,
		Title:       entry.Title,
		URL:         entry.URL,
		Description: entry.Description,
		PublishedAt: newTimestamptz(entry.PublishedAt),
	}
	if err := InsertItem(ctx, s.db, row); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}

	entry.ID = row.ID
	entry.CreatedAt = row.CreatedAt.Time
	entry.UpdatedAt = row.UpdatedAt.Time
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, entryID int64, update ingest.EntryUpdate) error {
	if err := UpdateItem(ctx, s.db, entryID, update); err != nil {
		return fmt.Errorf("update item %d: %w", entryID, err)
	}
	return nil
}

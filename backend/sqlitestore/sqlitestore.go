// Package sqlitestore implements ingest.Store on a SQLite database file for single node
// deployments.
package sqlitestore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
create table if not exists feeds(
  id integer primary key autoincrement,
  url text not null unique check(url<>''),
  title text not null default '',
  description text not null default '',
  last_built_at integer,
  modified_at text,
  is_update_enabled integer not null default 1,
  created_at integer not null,
  updated_at integer not null
);

create table if not exists items(
  id integer primary key autoincrement,
  feed_id integer not null references feeds(id) on delete cascade,
  guid text not null unique,
  title text not null default '',
  url text not null default '',
  description text not null default '',
  published_at integer,
  created_at integer not null,
  updated_at integer not null
);

create index if not exists items_feed_id_idx on items(feed_id);
`

type Store struct {
	db *sqlx.DB

	// Now is the clock used for timestamps.
	Now func() time.Time
}

var _ ingest.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to open database")
	}

	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "Creating schema failed")
	}

	return &Store{db: db, Now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type feedRow struct {
	ID              int64          `db:"id"`
	URL             string         `db:"url"`
	Title           string         `db:"title"`
	Description     string         `db:"description"`
	LastBuiltAt     sql.NullInt64  `db:"last_built_at"`
	ModifiedAt      sql.NullString `db:"modified_at"`
	IsUpdateEnabled bool           `db:"is_update_enabled"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

func (r *feedRow) feed() *ingest.Feed {
	return &ingest.Feed{
		ID:              r.ID,
		URL:             r.URL,
		Title:           r.Title,
		Description:     r.Description,
		LastBuiltAt:     fromNullUnix(r.LastBuiltAt),
		ModifiedAt:      r.ModifiedAt.String,
		IsUpdateEnabled: r.IsUpdateEnabled,
		CreatedAt:       fromUnix(r.CreatedAt),
		UpdatedAt:       fromUnix(r.UpdatedAt),
	}
}

type itemRow struct {
	ID          int64         `db:"id"`
	FeedID      int64         `db:"feed_id"`
	GUID        string        `db:"guid"`
	Title       string        `db:"title"`
	URL         string        `db:"url"`
	Description string        `db:"description"`
	PublishedAt sql.NullInt64 `db:"published_at"`
	CreatedAt   int64         `db:"created_at"`
	UpdatedAt   int64         `db:"updated_at"`
}

func (r *itemRow) entry() *ingest.Entry {
	return &ingest.Entry{
		ID:          r.ID,
		FeedID:      r.FeedID,
		GUID:        r.GUID,
		Title:       r.Title,
		URL:         r.URL,
		Description: r.Description,
		PublishedAt: fromNullUnix(r.PublishedAt),
		CreatedAt:   fromUnix(r.CreatedAt),
		UpdatedAt:   fromUnix(r.UpdatedAt),
	}
}

// Times are stored as unix nanoseconds in UTC.
func toNullUnix(t time.Time) sql.NullInt64 {
	return sql.NullInt64{Int64: t.UnixNano(), Valid: !t.IsZero()}
}

func fromNullUnix(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromUnix(n.Int64)
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func notFound(err error) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return ingest.ErrNotFound
	}
	return err
}

const selectFeedSQL = `select id, url, title, description, last_built_at, modified_at, is_update_enabled, created_at, updated_at from feeds`

func (s *Store) GetEnabledFeeds(ctx context.Context) ([]ingest.Feed, error) {
	var rows []feedRow
	err := sqlx.SelectContext(ctx, s.db, &rows, selectFeedSQL+` where is_update_enabled order by id`)
	if err != nil {
		return nil, errors.Wrap(err, "Fetching enabled feeds failed")
	}

	feeds := make([]ingest.Feed, len(rows))
	for i := range rows {
		feeds[i] = *rows[i].feed()
	}
	return feeds, nil
}

func (s *Store) getFeed(ctx context.Context, where string, arg any) (*ingest.Feed, error) {
	var row feedRow
	err := sqlx.GetContext(ctx, s.db, &row, selectFeedSQL+` where `+where, arg)
	if err != nil {
		return nil, errors.Wrap(notFound(err), "Fetching feed failed")
	}
	return row.feed(), nil
}

func (s *Store) GetFeed(ctx context.Context, feedID int64) (*ingest.Feed, error) {
	return s.getFeed(ctx, `id=?`, feedID)
}

func (s *Store) GetFeedByURL(ctx context.Context, url string) (*ingest.Feed, error) {
	return s.getFeed(ctx, `url=?`, url)
}

func (s *Store) CreateFeed(ctx context.Context, url string) (*ingest.Feed, error) {
	now := s.Now().UnixNano()
	res, err := s.db.ExecContext(ctx,
		`insert into feeds(url, created_at, updated_at) values(?, ?, ?) on conflict(url) do nothing`,
		url, now, now)
	if err != nil {
		return nil, errors.Wrap(err, "Inserting feed failed")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "Inserting feed failed")
	}
	if n == 0 {
		return nil, ingest.ErrFeedExists
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "Retrieving inserted feed ID failed")
	}
	return s.GetFeed(ctx, id)
}

// execRow runs a single row update and reports a missing row as ingest.ErrNotFound.
func (s *Store) execRow(ctx context.Context, msg string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.Wrap(err, msg)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return errors.Wrap(ingest.ErrNotFound, msg)
	}
	return nil
}

func (s *Store) UpdateFeedMetadata(ctx context.Context, feedID int64, metadata ingest.FeedMetadata) error {
	modifiedAt := sql.NullString{String: metadata.ModifiedAt, Valid: metadata.ModifiedAt != ""}
	return s.execRow(ctx, "Updating feed metadata failed",
		`update feeds set title=?, description=?, last_built_at=?, modified_at=?, updated_at=? where id=?`,
		metadata.Title, metadata.Description, toNullUnix(metadata.LastBuiltAt), modifiedAt, s.Now().UnixNano(), feedID)
}

func (s *Store) DisableFeedUpdates(ctx context.Context, feedID int64) error {
	return s.execRow(ctx, "Disabling feed updates failed",
		`update feeds set is_update_enabled=0, updated_at=? where id=?`, s.Now().UnixNano(), feedID)
}

func (s *Store) EnableFeedUpdates(ctx context.Context, feedID int64) error {
	return s.execRow(ctx, "Enabling feed updates failed",
		`update feeds set is_update_enabled=1, updated_at=? where id=?`, s.Now().UnixNano(), feedID)
}

func (s *Store) ClearFeedValidator(ctx context.Context, feedID int64) error {
	return s.execRow(ctx, "Clearing feed validator failed",
		`update feeds set modified_at=null, updated_at=? where id=?`, s.Now().UnixNano(), feedID)
}

func (s *Store) GetEntryByGUID(ctx context.Context, guid string) (*ingest.Entry, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, s.db, &row,
		`select id, feed_id, guid, title, url, description, published_at, created_at, updated_at from items where guid=?`,
		guid)
	if err != nil {
		return nil, errors.Wrap(notFound(err), "Fetching item failed")
	}
	return row.entry(), nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *ingest.Entry) error {
	now := s.Now()
	res, err := s.db.ExecContext(ctx,
		`insert into items(feed_id, guid, title, url, description, published_at, created_at, updated_at)
values(?, ?, ?, ?, ?, ?, ?, ?)
on conflict(guid) do nothing`,
		entry.FeedID, entry.GUID, entry.Title, entry.URL, entry.Description, toNullUnix(entry.PublishedAt), now.UnixNano(), now.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return errors.Wrap(ingest.ErrNotFound, "Inserting item failed")
		}
		return errors.Wrap(err, "Inserting item failed")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "Inserting item failed")
	}
	if n == 0 {
		return ingest.ErrEntryExists
	}

	entry.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "Retrieving inserted item ID failed")
	}
	entry.CreatedAt = fromUnix(now.UnixNano())
	entry.UpdatedAt = entry.CreatedAt
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, entryID int64, update ingest.EntryUpdate) error {
	return s.execRow(ctx, "Updating item failed",
		`update items set title=?, url=?, description=?, updated_at=? where id=?`,
		update.Title, update.URL, update.Description, s.Now().UnixNano(), entryID)
}

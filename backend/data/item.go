package data

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgxrecord"
)

type Item struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	URL         string
	Description string
	PublishedAt pgtype.Timestamptz
	CreatedAt   pgtype.Timestamptz
	UpdatedAt   pgtype.Timestamptz
}

func (i *Item) Ingest() *ingest.Entry {
	return &ingest.Entry{
		ID:          i.ID,
		FeedID:      i.FeedID,
		GUID:        i.GUID,
		Title:       i.Title,
		URL:         i.URL,
		Description: i.Description,
		PublishedAt: i.PublishedAt.Time,
		CreatedAt:   i.CreatedAt.Time,
		UpdatedAt:   i.UpdatedAt.Time,
	}
}

const selectItemByGUIDSQL = `select
  "id",
  "feed_id",
  "guid",
  "title",
  "url",
  "description",
  "published_at",
  "created_at",
  "updated_at"
from "items"
where "guid"=$1`

func SelectItemByGUID(ctx context.Context, db Queryer, guid string) (*Item, error) {
	var row Item
	err := db.QueryRow(ctx, selectItemByGUIDSQL, guid).Scan(
		&row.ID,
		&row.FeedID,
		&row.GUID,
		&row.Title,
		&row.URL,
		&row.Description,
		&row.PublishedAt,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &row, nil
}

// InsertItem stores row and fills in its generated columns. A guid that is already stored is
// reported as ingest.ErrEntryExists and a missing feed as ErrNotFound.
func InsertItem(ctx context.Context, db Queryer, row *Item) error {
	args := pgsql.Args{}

	var columns, values []string

	columns = append(columns, `feed_id`)
	values = append(values, args.Use(row.FeedID).String())
	columns = append(columns, `guid`)
	values = append(values, args.Use(row.GUID).String())
	columns = append(columns, `title`)
	values = append(values, args.Use(row.Title).String())
	columns = append(columns, `url`)
	values = append(values, args.Use(row.URL).String())
	columns = append(columns, `description`)
	values = append(values, args.Use(row.Description).String())
	columns = append(columns, `published_at`)
	values = append(values, args.Use(&row.PublishedAt).String())

	sql := `insert into "items"(` + strings.Join(columns, ", ") + `)
values(` + strings.Join(values, ",") + `)
on conflict ("guid") do nothing
returning "id", "created_at", "updated_at"
  `

	err := db.QueryRow(ctx, sql, args.Values()...).Scan(&row.ID, &row.CreatedAt, &row.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ingest.ErrEntryExists
	case foreignKeyViolation(err):
		return ErrNotFound
	}
	return err
}

func UpdateItem(ctx context.Context, db Queryer, id int64, update ingest.EntryUpdate) error {
	sets := make([]string, 0, 4)
	args := pgsql.Args{}

	sets = append(sets, `"title"=`+args.Use(update.Title).String())
	sets = append(sets, `"url"=`+args.Use(update.URL).String())
	sets = append(sets, `"description"=`+args.Use(update.Description).String())
	sets = append(sets, `"updated_at"=now()`)

	sql := `update "items" set ` + strings.Join(sets, ", ") + ` where "id"=` + args.Use(id).String()

	_, err := pgxrecord.ExecRow(ctx, db, sql, args.Values()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

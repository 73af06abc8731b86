package data

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/pgsql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgxrecord"
)

const feedColumns = `"id",
  "url",
  "title",
  "description",
  "last_built_at",
  "modified_at",
  "is_update_enabled",
  "created_at",
  "updated_at"`

const selectFeedByPKSQL = `select ` + feedColumns + `
from "feeds"
where "id"=$1`

func SelectFeedByPK(ctx context.Context, db Queryer, id int64) (*Feed, error) {
	return selectFeed(ctx, db, selectFeedByPKSQL, id)
}

const selectFeedByURLSQL = `select ` + feedColumns + `
from "feeds"
where "url"=$1`

func SelectFeedByURL(ctx context.Context, db Queryer, url string) (*Feed, error) {
	return selectFeed(ctx, db, selectFeedByURLSQL, url)
}

func selectFeed(ctx context.Context, db Queryer, sql string, arg any) (*Feed, error) {
	var row Feed
	err := db.QueryRow(ctx, sql, arg).Scan(row.scanTargets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return &row, nil
}

const selectEnabledFeedsSQL = `select ` + feedColumns + `
from "feeds"
where "is_update_enabled"
order by "id"`

func SelectEnabledFeeds(ctx context.Context, db Queryer) ([]Feed, error) {
	rows, err := db.Query(ctx, selectEnabledFeedsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	feeds := make([]Feed, 0, 16)
	for rows.Next() {
		var f Feed
		if err := rows.Scan(f.scanTargets()...); err != nil {
			return nil, err
		}
		feeds = append(feeds, f)
	}

	return feeds, rows.Err()
}

// InsertFeed stores a new update-enabled feed for url and fills in row. It returns
// ingest.ErrFeedExists when the url is already taken.
func InsertFeed(ctx context.Context, db Queryer, url string, row *Feed) error {
	sql := `insert into "feeds"("url")
values($1)
on conflict ("url") do nothing
returning ` + feedColumns

	err := db.QueryRow(ctx, sql, url).Scan(row.scanTargets()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.ErrFeedExists
	}
	return err
}

func UpdateFeedMetadata(ctx context.Context, db Queryer, id int64, metadata ingest.FeedMetadata) error {
	sets := make([]string, 0, 5)
	args := pgsql.Args{}

	sets = append(sets, `"title"=`+args.Use(metadata.Title).String())
	sets = append(sets, `"description"=`+args.Use(metadata.Description).String())
	sets = append(sets, `"last_built_at"=`+args.Use(newTimestamptz(metadata.LastBuiltAt)).String())
	sets = append(sets, `"modified_at"=`+args.Use(newText(metadata.ModifiedAt)).String())
	sets = append(sets, `"updated_at"=now()`)

	sql := `update "feeds" set ` + strings.Join(sets, ", ") + ` where "id"=` + args.Use(id).String()

	return execFeedRow(ctx, db, sql, args.Values()...)
}

func UpdateFeedIsUpdateEnabled(ctx context.Context, db Queryer, id int64, enabled bool) error {
	return execFeedRow(ctx, db, `update "feeds" set "is_update_enabled"=$1, "updated_at"=now() where "id"=$2`, enabled, id)
}

func ClearFeedModifiedAt(ctx context.Context, db Queryer, id int64) error {
	return execFeedRow(ctx, db, `update "feeds" set "modified_at"=null, "updated_at"=now() where "id"=$1`, id)
}

func execFeedRow(ctx context.Context, db Queryer, sql string, args ...any) error {
	_, err := pgxrecord.ExecRow(ctx, db, sql, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
)

type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{"Create feeds", `
    create table feeds(
      id bigserial primary key,
      url varchar not null unique check(url<>''),
      title varchar not null default '',
      description varchar not null default '',
      last_built_at timestamptz,
      modified_at varchar,
      is_update_enabled boolean not null default true,
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now()
    );
  `},
	{"Create items", `
    create table items(
      id bigserial primary key,
      feed_id bigint not null references feeds on delete cascade,
      guid varchar not null check(guid<>''),
      title varchar not null default '',
      url varchar not null default '',
      description varchar not null default '',
      published_at timestamptz,
      created_at timestamptz not null default now(),
      updated_at timestamptz not null default now()
    );

    create unique index items_guid_unq on items (guid);
    create index on items (feed_id);
  `},
}

// migrate brings the feedpipe schema and then the river job tables up to date. Progress is
// written to out.
func migrate(ctx context.Context, pool *pgxpool.Pool, out io.Writer) error {
	_, err := pool.Exec(ctx, `create table if not exists schema_version(version int4 not null)`)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		// Serializes concurrent migrators.
		if _, err := tx.Exec(ctx, `lock table schema_version in access exclusive mode`); err != nil {
			return err
		}

		var version int32
		err := tx.QueryRow(ctx, `select version from schema_version`).Scan(&version)
		if err == pgx.ErrNoRows {
			if _, err := tx.Exec(ctx, `insert into schema_version(version) values(0)`); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		for i := int(version); i < len(migrations); i++ {
			m := migrations[i]
			fmt.Fprintf(out, "Migrating %d: %s\n", i+1, m.name)
			if _, err := tx.Exec(ctx, m.sql); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", i+1, m.name, err)
			}
			if _, err := tx.Exec(ctx, `update schema_version set version=$1`, i+1); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	migrator := rivermigrate.New(riverpgxv5.New(pool), nil)
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migration failed: %w", err)
	}
	for _, v := range res.Versions {
		fmt.Fprintf(out, "Migrating river %d\n", v.Version)
	}

	return nil
}

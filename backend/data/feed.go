package data

import (
	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/pgx/v5/pgtype"
)

type Feed struct {
	ID              int64
	URL             string
	Title           string
	Description     string
	LastBuiltAt     pgtype.Timestamptz
	ModifiedAt      pgtype.Text
	IsUpdateEnabled bool
	CreatedAt       pgtype.Timestamptz
	UpdatedAt       pgtype.Timestamptz
}

func (f *Feed) scanTargets() []any {
	return []any{
		&f.ID,
		&f.URL,
		&f.Title,
		&f.Description,
		&f.LastBuiltAt,
		&f.ModifiedAt,
		&f.IsUpdateEnabled,
		&f.CreatedAt,
		&f.UpdatedAt,
	}
}

func (f *Feed) Ingest() *ingest.Feed {
	return &ingest.Feed{
		ID:              f.ID,
		URL:             f.URL,
		Title:           f.Title,
		Description:     f.Description,
		LastBuiltAt:     f.LastBuiltAt.Time,
		ModifiedAt:      f.ModifiedAt.String,
		IsUpdateEnabled: f.IsUpdateEnabled,
		CreatedAt:       f.CreatedAt.Time,
		UpdatedAt:       f.UpdatedAt.Time,
	}
}

package ingest

import (
	"time"

	"github.com/jackc/feedpipe/backend/queue"
)

const (
	KindRefreshFeed = "refresh_feed"
	KindIngestEntry = "ingest_entry"
)

type RefreshFeedArgs struct {
	FeedID     int64  `json:"feed_id"`
	URL        string `json:"url"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

func (RefreshFeedArgs) Kind() string {
	return KindRefreshFeed
}

// RefreshArgsFor builds the refresh task parameters for f.
func RefreshArgsFor(f *Feed) RefreshFeedArgs {
	return RefreshFeedArgs{FeedID: f.ID, URL: f.URL, ModifiedAt: f.ModifiedAt}
}

type IngestEntryArgs struct {
	FeedID int64    `json:"feed_id"`
	Entry  RawEntry `json:"entry"`
}

func (IngestEntryArgs) Kind() string {
	return KindIngestEntry
}

// RetryPolicy is a fixed delay retry limit. MaxRetries bounds the number of invocations of one
// task.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// exhausted reports whether an invocation with attempt previous invocations may not run.
func (p RetryPolicy) exhausted(attempt int) bool {
	return attempt >= p.MaxRetries
}

// lastAttempt reports whether a failure of this invocation must not be retried.
func (p RetryPolicy) lastAttempt(attempt int) bool {
	return attempt+1 >= p.MaxRetries
}

// Register installs the refresh and ingestion handlers on mux.
func Register(mux *queue.Mux, refresher *Refresher, ingestor *Ingestor) {
	mux.Handle(KindRefreshFeed, refresher)
	mux.Handle(KindIngestEntry, ingestor)
}

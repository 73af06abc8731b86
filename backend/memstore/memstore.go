// Package memstore keeps feeds and entries in memory. It counts calls and can inject failures,
// which makes it the store of choice for pipeline tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/feedpipe/backend/ingest"
)

type int64Seq struct {
	current int64
}

func (s *int64Seq) next() int64 {
	s.current++
	return s.current
}

type Store struct {
	mutex         sync.Mutex
	feedsIDSeq    int64Seq
	feedsByID     map[int64]*ingest.Feed
	feedsByURL    map[string]*ingest.Feed
	entriesIDSeq  int64Seq
	entriesByID   map[int64]*ingest.Entry
	entriesByGUID map[string]*ingest.Entry
	calls         map[string]int

	// Fail, when set, is consulted at the start of every method with the method name. A non-nil
	// result is returned as that method's error.
	Fail func(op string) error

	// Now is the clock used for timestamps.
	Now func() time.Time
}

func New() *Store {
	return &Store{
		feedsByID:     make(map[int64]*ingest.Feed),
		feedsByURL:    make(map[string]*ingest.Feed),
		entriesByID:   make(map[int64]*ingest.Entry),
		entriesByGUID: make(map[string]*ingest.Entry),
		calls:         make(map[string]int),
		Now:           time.Now,
	}
}

// begin records a call to op and returns the injected failure, if any. The caller must hold the
// mutex.
func (s *Store) begin(op string) error {
	s.calls[op]++
	if s.Fail != nil {
		return s.Fail(op)
	}
	return nil
}

// Calls returns how many times the method named op has been called.
func (s *Store) Calls(op string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.calls[op]
}

func (s *Store) GetEnabledFeeds(ctx context.Context) ([]ingest.Feed, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("GetEnabledFeeds"); err != nil {
		return nil, err
	}

	feeds := make([]ingest.Feed, 0, len(s.feedsByID))
	for _, f := range s.feedsByID {
		if f.IsUpdateEnabled {
			feeds = append(feeds, *f)
		}
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID < feeds[j].ID })
	return feeds, nil
}

func (s *Store) GetFeed(ctx context.Context, feedID int64) (*ingest.Feed, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("GetFeed"); err != nil {
		return nil, err
	}

	f, ok := s.feedsByID[feedID]
	if !ok {
		return nil, ingest.ErrNotFound
	}
	feed := *f
	return &feed, nil
}

func (s *Store) GetFeedByURL(ctx context.Context, url string) (*ingest.Feed, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("GetFeedByURL"); err != nil {
		return nil, err
	}

	f, ok := s.feedsByURL[url]
	if !ok {
		return nil, ingest.ErrNotFound
	}
	feed := *f
	return &feed, nil
}

func (s *Store) CreateFeed(ctx context.Context, url string) (*ingest.Feed, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("CreateFeed"); err != nil {
		return nil, err
	}

	if _, ok := s.feedsByURL[url]; ok {
		return nil, ingest.ErrFeedExists
	}

	now := s.Now()
	f := &ingest.Feed{
		ID:              s.feedsIDSeq.next(),
		URL:             url,
		IsUpdateEnabled: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.feedsByID[f.ID] = f
	s.feedsByURL[f.URL] = f

	feed := *f
	return &feed, nil
}

// updateFeed applies fn to the stored feed under the mutex.
func (s *Store) updateFeed(op string, feedID int64, fn func(f *ingest.Feed)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin(op); err != nil {
		return err
	}

	f, ok := s.feedsByID[feedID]
	if !ok {
		return ingest.ErrNotFound
	}
	fn(f)
	f.UpdatedAt = s.Now()
	return nil
}

func (s *Store) UpdateFeedMetadata(ctx context.Context, feedID int64, metadata ingest.FeedMetadata) error {
	return s.updateFeed("UpdateFeedMetadata", feedID, metadata.ApplyTo)
}

func (s *Store) DisableFeedUpdates(ctx context.Context, feedID int64) error {
	return s.updateFeed("DisableFeedUpdates", feedID, func(f *ingest.Feed) { f.IsUpdateEnabled = false })
}

func (s *Store) EnableFeedUpdates(ctx context.Context, feedID int64) error {
	return s.updateFeed("EnableFeedUpdates", feedID, func(f *ingest.Feed) { f.IsUpdateEnabled = true })
}

func (s *Store) ClearFeedValidator(ctx context.Context, feedID int64) error {
	return s.updateFeed("ClearFeedValidator", feedID, func(f *ingest.Feed) { f.ModifiedAt = "" })
}

func (s *Store) GetEntryByGUID(ctx context.Context, guid string) (*ingest.Entry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("GetEntryByGUID"); err != nil {
		return nil, err
	}

	e, ok := s.entriesByGUID[guid]
	if !ok {
		return nil, ingest.ErrNotFound
	}
	entry := *e
	return &entry, nil
}

func (s *Store) InsertEntry(ctx context.Context, entry *ingest.Entry) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("InsertEntry"); err != nil {
		return err
	}

	if _, ok := s.entriesByGUID[entry.GUID]; ok {
		return ingest.ErrEntryExists
	}
	if _, ok := s.feedsByID[entry.FeedID]; !ok {
		return ingest.ErrNotFound
	}

	now := s.Now()
	e := *entry
	e.ID = s.entriesIDSeq.next()
	e.CreatedAt = now
	e.UpdatedAt = now
	s.entriesByID[e.ID] = &e
	s.entriesByGUID[e.GUID] = &e

	entry.ID = e.ID
	entry.CreatedAt = now
	entry.UpdatedAt = now
	return nil
}

func (s *Store) UpdateEntry(ctx context.Context, entryID int64, update ingest.EntryUpdate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := s.begin("UpdateEntry"); err != nil {
		return err
	}

	e, ok := s.entriesByID[entryID]
	if !ok {
		return ingest.ErrNotFound
	}
	update.ApplyTo(e)
	e.UpdatedAt = s.Now()
	return nil
}

// Entries returns a copy of every stored entry ordered by ID.
func (s *Store) Entries() []ingest.Entry {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entries := make([]ingest.Entry, 0, len(s.entriesByID))
	for _, e := range s.entriesByID {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

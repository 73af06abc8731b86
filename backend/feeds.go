package backend

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/feedpipe/backend/queue"
	log "gopkg.in/inconshreveable/log15.v2"
)

var ErrInvalidURL = errors.New("feed url must be an absolute http or https url")

// FeedService holds the operator facing feed operations.
type FeedService struct {
	store  ingest.Store
	queue  queue.Queue
	logger log.Logger
}

func NewFeedService(store ingest.Store, q queue.Queue, logger log.Logger) *FeedService {
	return &FeedService{store: store, queue: q, logger: logger}
}

func validateFeedURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	return nil
}

// Subscribe returns the feed for rawURL, creating it when it does not exist yet. A new feed is
// refreshed right away instead of waiting for the next scheduling pass.
func (s *FeedService) Subscribe(ctx context.Context, rawURL string) (feed *ingest.Feed, created bool, err error) {
	if err := validateFeedURL(rawURL); err != nil {
		return nil, false, err
	}

	feed, err = s.store.GetFeedByURL(ctx, rawURL)
	if err == nil {
		return feed, false, nil
	}
	if !errors.Is(err, ingest.ErrNotFound) {
		return nil, false, err
	}

	feed, err = s.store.CreateFeed(ctx, rawURL)
	if errors.Is(err, ingest.ErrFeedExists) {
		feed, err = s.store.GetFeedByURL(ctx, rawURL)
		return feed, false, err
	}
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("feed subscribed", "feed_id", feed.ID, "url", feed.URL)

	if err := s.queue.Enqueue(ctx, ingest.RefreshArgsFor(feed)); err != nil {
		// The scheduler refreshes the feed on its next pass.
		s.logger.Warn("unable to enqueue first refresh", "feed_id", feed.ID, "url", feed.URL, "error", err)
	}

	return feed, true, nil
}

// ForceUpdate re-enables updates of a feed, forgets its validator and enqueues a full fetch of
// it.
func (s *FeedService) ForceUpdate(ctx context.Context, feedID int64) (*ingest.Feed, error) {
	if err := s.store.EnableFeedUpdates(ctx, feedID); err != nil {
		return nil, err
	}
	if err := s.store.ClearFeedValidator(ctx, feedID); err != nil {
		return nil, err
	}

	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, ingest.RefreshArgsFor(feed)); err != nil {
		return nil, fmt.Errorf("enqueue refresh of feed %d: %w", feedID, err)
	}

	s.logger.Info("feed update forced", "feed_id", feed.ID, "url", feed.URL)
	return feed, nil
}

func (s *FeedService) Feed(ctx context.Context, feedID int64) (*ingest.Feed, error) {
	return s.store.GetFeed(ctx, feedID)
}

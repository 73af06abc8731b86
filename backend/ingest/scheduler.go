package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/feedpipe/backend/queue"
	log "gopkg.in/inconshreveable/log15.v2"
)

// Scheduler enqueues a refresh of every update-enabled feed on a fixed interval. A failed pass
// is logged and left for the next tick.
type Scheduler struct {
	feeds    EnabledFeedLister
	queue    queue.Queue
	interval time.Duration
	logger   log.Logger
}

func NewScheduler(feeds EnabledFeedLister, q queue.Queue, interval time.Duration, logger log.Logger) *Scheduler {
	return &Scheduler{feeds: feeds, queue: q, interval: interval, logger: logger}
}

// Run schedules immediately and then once per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", s.interval)
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one scheduling pass and returns the number of refresh tasks enqueued.
func (s *Scheduler) RunOnce(ctx context.Context) (n int) {
	var feeds []Feed
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduling pass panicked", "feeds", len(feeds), "enqueued", n, "unscheduled", len(feeds)-n, "error", fmt.Sprint(p))
		}
	}()

	startTime := time.Now()

	feeds, err := s.feeds.GetEnabledFeeds(ctx)
	if err != nil {
		s.logger.Error("GetEnabledFeeds failed", "error", err)
		return 0
	}

	for i := range feeds {
		err := s.queue.Enqueue(ctx, RefreshArgsFor(&feeds[i]))
		if err != nil {
			s.logger.Error("unable to enqueue feed refresh", "feed_id", feeds[i].ID, "url", feeds[i].URL, "error", err)
			continue
		}
		n++
	}

	s.logger.Info("scheduling pass finished", "feeds", len(feeds), "enqueued", n, "duration", time.Since(startTime))
	return n
}

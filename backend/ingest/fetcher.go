package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/mmcdole/gofeed"
	log "gopkg.in/inconshreveable/log15.v2"
)

const maxFeedBodySize = 16 << 20

type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    log.Logger
}

// NewFetcher returns a Fetcher whose requests, body read included, are bounded by timeout.
func NewFetcher(timeout time.Duration, userAgent string, logger log.Logger) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch performs a conditional GET of feedURL using the validator token from the previous
// successful fetch. Errors are *FetchError or *TransientFetchError.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string, validator string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, &FetchError{URL: feedURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	v := ParseValidator(validator)
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transportError(feedURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &FetchResult{NotModified: true}, nil
	case resp.StatusCode == http.StatusOK:
	default:
		return nil, statusError(feedURL, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBodySize))
	if err != nil {
		return nil, transportError(feedURL, fmt.Errorf("unable to read response body: %w", err))
	}

	feed, err := f.parse(feedURL, body)
	if err != nil {
		return nil, &FetchError{URL: feedURL, StatusCode: resp.StatusCode, Err: err}
	}

	feed.Validator = Validator{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}.Token()

	return &FetchResult{Feed: feed}, nil
}

func (f *Fetcher) parse(feedURL string, body []byte) (*ParsedFeed, error) {
	// gofeed parsers keep per-document state, so one is built per call.
	doc, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("unable to parse feed: %w", err)
	}

	feed := &ParsedFeed{
		Title:       doc.Title,
		Description: doc.Description,
	}

	lastBuilt := doc.Updated
	if lastBuilt == "" {
		lastBuilt = doc.Published
	}
	if lastBuilt != "" {
		feed.LastBuiltAt, err = ParseTime(lastBuilt)
		if err != nil {
			return nil, fmt.Errorf("last build date %q: %w", lastBuilt, err)
		}
	}

	feed.Entries = make([]RawEntry, 0, len(doc.Items))
	for _, item := range doc.Items {
		entry := RawEntry{
			GUID:         item.GUID,
			Title:        item.Title,
			URL:          item.Link,
			Summary:      item.Description,
			PublishedRaw: item.Published,
		}
		if entry.GUID == "" {
			entry.GUID = item.Link
		}
		if entry.GUID == "" {
			f.logger.Warn("skipping entry without guid or link", "url", feedURL, "title", item.Title)
			continue
		}
		if entry.Summary == "" {
			entry.Summary = item.Content
		}
		if entry.PublishedRaw == "" {
			entry.PublishedRaw = item.Updated
		}
		feed.Entries = append(feed.Entries, entry)
	}

	return feed, nil
}

func statusError(feedURL string, resp *http.Response) error {
	err := fmt.Errorf("bad HTTP response: %s", resp.Status)
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return &TransientFetchError{URL: feedURL, StatusCode: resp.StatusCode, Err: err}
	default:
		return &FetchError{URL: feedURL, StatusCode: resp.StatusCode, Err: err}
	}
}

func transportError(feedURL string, err error) error {
	if isTransient(err) {
		return &TransientFetchError{URL: feedURL, Err: err}
	}
	return &FetchError{URL: feedURL, Err: err}
}

func isTransient(err error) bool {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return true
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return true
	}
	return false
}

package backend_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/feedpipe/backend"
	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/feedpipe/backend/memstore"
	"github.com/jackc/feedpipe/backend/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	log "gopkg.in/inconshreveable/log15.v2"
)

func testLogger() log.Logger {
	logger := log.New()
	logger.SetHandler(log.DiscardHandler())
	return logger
}

type serverInstance struct {
	Server *httptest.Server
	Store  *memstore.Store
	Queue  *queue.Inline
}

func startServer(t *testing.T) *serverInstance {
	store := memstore.New()
	q := queue.NewInline(queue.NewMux(), testLogger())
	handler := backend.NewAppServer(backend.NewFeedService(store, q, testLogger()), testLogger())

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &serverInstance{Server: server, Store: store, Queue: q}
}

func (s *serverInstance) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	req, err := http.NewRequest(method, s.Server.URL+path, bytes.NewBufferString(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	if resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func TestHealth(t *testing.T) {
	s := startServer(t)

	resp, body := s.do(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"status": "ok"}, body)
}

func TestCreateFeed(t *testing.T) {
	s := startServer(t)

	resp, body := s.do(t, "POST", "/feeds", `{"url": "http://example.org/rss"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "http://example.org/rss", body["url"])
	assert.Equal(t, true, body["is_update_enabled"])
	assert.Nil(t, body["last_built_at"])
	assert.Len(t, s.Queue.Enqueued(ingest.KindRefreshFeed), 1)

	resp, again := s.do(t, "POST", "/feeds", `{"url": "http://example.org/rss"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, body["id"], again["id"])
	assert.Len(t, s.Queue.Enqueued(ingest.KindRefreshFeed), 1)
}

func TestCreateFeedRejectsBadInput(t *testing.T) {
	s := startServer(t)

	tests := []struct {
		body string
	}{
		{`not json`},
		{`{"url": ""}`},
		{`{"url": "example.org/rss"}`},
		{`{"url": "ftp://example.org/rss"}`},
		{`{"url": "http:///rss"}`},
	}

	for i, tt := range tests {
		resp, _ := s.do(t, "POST", "/feeds", tt.body)
		if resp.StatusCode != 422 {
			t.Errorf("%d. %s: Expected HTTP status 422, instead received %d", i, tt.body, resp.StatusCode)
		}
	}

	assert.Empty(t, s.Queue.Enqueued(""))
}

func TestGetFeed(t *testing.T) {
	s := startServer(t)

	feed, err := s.Store.CreateFeed(context.Background(), "http://example.org/rss")
	require.NoError(t, err)

	resp, body := s.do(t, "GET", "/feeds/1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, feed.ID, body["id"])

	resp, _ = s.do(t, "GET", "/feeds/2", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, "GET", "/feeds/abc", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetFeedStoreFailure(t *testing.T) {
	s := startServer(t)
	s.Store.Fail = func(op string) error { return errors.New("database down") }

	resp, _ := s.do(t, "GET", "/feeds/1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestForceUpdate(t *testing.T) {
	s := startServer(t)
	ctx := context.Background()

	feed, err := s.Store.CreateFeed(ctx, "http://example.org/rss")
	require.NoError(t, err)
	require.NoError(t, s.Store.UpdateFeedMetadata(ctx, feed.ID, ingest.FeedMetadata{Title: "News", ModifiedAt: "etag=%22v1%22"}))
	require.NoError(t, s.Store.DisableFeedUpdates(ctx, feed.ID))

	resp, body := s.do(t, "PUT", "/feeds/1/force-update", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["is_update_enabled"])

	tasks := s.Queue.Enqueued(ingest.KindRefreshFeed)
	require.Len(t, tasks, 1)
	var args ingest.RefreshFeedArgs
	require.NoError(t, tasks[0].Decode(&args))
	assert.Equal(t, ingest.RefreshFeedArgs{FeedID: feed.ID, URL: "http://example.org/rss"}, args)

	stored, err := s.Store.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "", stored.ModifiedAt)
	assert.Equal(t, "News", stored.Title)

	resp, _ = s.do(t, "PUT", "/feeds/99/force-update", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

package data_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/feedpipe/backend/data"
	"github.com/jackc/feedpipe/backend/ingest"
	"github.com/jackc/feedpipe/test/testdata"
	"github.com/jackc/feedpipe/test/testutil"
	"github.com/jackc/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var TestDBManager *testdb.Manager

func TestMain(m *testing.M) {
	TestDBManager = testutil.InitTestDBManager(m)
	os.Exit(m.Run())
}

func TestStoreFeeds(t *testing.T) {
	ctx := context.Background()
	pool := testutil.AcquirePool(t, ctx, TestDBManager)
	store := data.NewStore(pool)

	feed, err := store.CreateFeed(ctx, "http://example.org/rss")
	require.NoError(t, err)
	assert.True(t, feed.IsUpdateEnabled)
	assert.Equal(t, "", feed.ModifiedAt)
	assert.True(t, feed.LastBuiltAt.IsZero())

	_, err = store.CreateFeed(ctx, "http://example.org/rss")
	assert.ErrorIs(t, err, ingest.ErrFeedExists)

	byURL, err := store.GetFeedByURL(ctx, "http://example.org/rss")
	require.NoError(t, err)
	assert.Equal(t, feed.ID, byURL.ID)

	_, err = store.GetFeed(ctx, feed.ID+1000)
	assert.ErrorIs(t, err, ingest.ErrNotFound)

	built := time.Date(2014, 1, 4, 9, 0, 0, 0, time.UTC)
	err = store.UpdateFeedMetadata(ctx, feed.ID, ingest.FeedMetadata{
		Title:       "News",
		Description: "All the news",
		LastBuiltAt: built,
		ModifiedAt:  "etag=%22v1%22",
	})
	require.NoError(t, err)

	feed, err = store.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "News", feed.Title)
	assert.Equal(t, "All the news", feed.Description)
	assert.True(t, built.Equal(feed.LastBuiltAt))
	assert.Equal(t, "etag=%22v1%22", feed.ModifiedAt)

	require.NoError(t, store.ClearFeedValidator(ctx, feed.ID))
	feed, err = store.GetFeed(ctx, feed.ID)
	require.NoError(t, err)
	assert.Equal(t, "", feed.ModifiedAt)
	assert.Equal(t, "News", feed.Title)

	err = store.UpdateFeedMetadata(ctx, feed.ID+1000, ingest.FeedMetadata{})
	assert.ErrorIs(t, err, ingest.ErrNotFound)
}

func TestStoreEnabledFeeds(t *testing.T) {
	ctx := context.Background()
	pool := testutil.AcquirePool(t, ctx, TestDBManager)
	store := data.NewStore(pool)

	enabled := testdata.CreateFeed(t, pool, ctx, nil)
	disabled := testdata.CreateFeed(t, pool, ctx, map[string]any{"is_update_enabled": false})

	feeds, err := store.GetEnabledFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, enabled["id"], feeds[0].ID)

	disabledID := disabled["id"].(int64)
	require.NoError(t, store.EnableFeedUpdates(ctx, disabledID))
	feeds, err = store.GetEnabledFeeds(ctx)
	require.NoError(t, err)
	assert.Len(t, feeds, 2)

	require.NoError(t, store.DisableFeedUpdates(ctx, disabledID))
	require.NoError(t, store.DisableFeedUpdates(ctx, enabled["id"].(int64)))
	feeds, err = store.GetEnabledFeeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)

	assert.ErrorIs(t, store.DisableFeedUpdates(ctx, disabledID+1000), ingest.ErrNotFound)
}

func TestStoreEntries(t *testing.T) {
	ctx := context.Background()
	pool := testutil.AcquirePool(t, ctx, TestDBManager)
	store := data.NewStore(pool)

	feedID := testdata.CreateFeed(t, pool, ctx, nil)["id"].(int64)

	_, err := store.GetEntryByGUID(ctx, "g1")
	assert.ErrorIs(t, err, ingest.ErrNotFound)

	published := time.Date(2014, 1, 3, 22, 45, 0, 0, time.UTC)
	entry := &ingest.Entry{FeedID: feedID, GUID: "g1", Title: "Snow", URL: "http://example.org/snow", PublishedAt: published}
	require.NoError(t, store.InsertEntry(ctx, entry))
	assert.NotZero(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	err = store.InsertEntry(ctx, &ingest.Entry{FeedID: feedID, GUID: "g1", Title: "Duplicate"})
	assert.ErrorIs(t, err, ingest.ErrEntryExists)

	err = store.InsertEntry(ctx, &ingest.Entry{FeedID: feedID + 1000, GUID: "g2"})
	assert.ErrorIs(t, err, ingest.ErrNotFound)

	update := ingest.EntryUpdate{Title: "Heavy Snow", URL: "http://example.org/heavy-snow", Description: "Colder"}
	require.NoError(t, store.UpdateEntry(ctx, entry.ID, update))

	stored, err := store.GetEntryByGUID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, entry.ID, stored.ID)
	assert.Equal(t, feedID, stored.FeedID)
	assert.Equal(t, "Heavy Snow", stored.Title)
	assert.Equal(t, "http://example.org/heavy-snow", stored.URL)
	assert.Equal(t, "Colder", stored.Description)
	assert.True(t, published.Equal(stored.PublishedAt))

	assert.ErrorIs(t, store.UpdateEntry(ctx, entry.ID+1000, update), ingest.ErrNotFound)
}

func TestStoreEntryWithoutPublishedDate(t *testing.T) {
	ctx := context.Background()
	pool := testutil.AcquirePool(t, ctx, TestDBManager)
	store := data.NewStore(pool)

	item := testdata.CreateItem(t, pool, ctx, nil)

	stored, err := store.GetEntryByGUID(ctx, item["guid"].(string))
	require.NoError(t, err)
	assert.Equal(t, item["id"], stored.ID)
	assert.True(t, stored.PublishedAt.IsZero())
}

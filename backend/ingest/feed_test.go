package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidatorToken(t *testing.T) {
	v := Validator{ETag: `W/"abc&def"`, LastModified: "Sat, 04 Jan 2014 08:15:00 GMT"}
	assert.Equal(t, v, ParseValidator(v.Token()))

	etagOnly := Validator{ETag: `"123"`}
	assert.Equal(t, etagOnly, ParseValidator(etagOnly.Token()))

	assert.Equal(t, "", Validator{}.Token())
	assert.True(t, ParseValidator("").IsZero())
}

func TestParseValidatorBareLastModified(t *testing.T) {
	v := ParseValidator("Sat, 04 Jan 2014 08:15:00 GMT")
	assert.Equal(t, Validator{LastModified: "Sat, 04 Jan 2014 08:15:00 GMT"}, v)
}

func TestEntryUpdateLeavesIdentityAlone(t *testing.T) {
	published := time.Date(2014, 1, 3, 22, 45, 0, 0, time.UTC)
	e := &Entry{ID: 7, FeedID: 3, GUID: "g1", Title: "Old", URL: "http://example.org/old", PublishedAt: published}

	update := EntryUpdate{Title: "New", URL: "http://example.org/new", Description: "Body"}
	assert.False(t, update.Matches(e))
	update.ApplyTo(e)
	assert.True(t, update.Matches(e))

	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, int64(3), e.FeedID)
	assert.Equal(t, "g1", e.GUID)
	assert.Equal(t, published, e.PublishedAt)
}

func TestFeedMetadataLeavesIdentityAlone(t *testing.T) {
	f := &Feed{ID: 2, URL: "http://example.org/rss", IsUpdateEnabled: true}
	built := time.Date(2014, 1, 4, 9, 0, 0, 0, time.UTC)

	FeedMetadata{Title: "News", Description: "All of it", LastBuiltAt: built, ModifiedAt: "etag=x"}.ApplyTo(f)

	assert.Equal(t, Feed{
		ID:              2,
		URL:             "http://example.org/rss",
		Title:           "News",
		Description:     "All of it",
		LastBuiltAt:     built,
		ModifiedAt:      "etag=x",
		IsUpdateEnabled: true,
	}, *f)
}

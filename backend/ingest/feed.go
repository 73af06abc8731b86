package ingest

import (
	"net/url"
	"time"
)

type Feed struct {
	ID              int64
	URL             string
	Title           string
	Description     string
	LastBuiltAt     time.Time // zero when the source never reported it
	ModifiedAt      string    // opaque validator from the last successful fetch, see Validator
	IsUpdateEnabled bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FeedMetadata is the set of feed columns a successful fetch is allowed to change.
type FeedMetadata struct {
	Title       string
	Description string
	LastBuiltAt time.Time
	ModifiedAt  string
}

// ApplyTo copies the updatable metadata fields onto f. ID, URL and the update flag are never
// touched.
func (m FeedMetadata) ApplyTo(f *Feed) {
	f.Title = m.Title
	f.Description = m.Description
	f.LastBuiltAt = m.LastBuiltAt
	f.ModifiedAt = m.ModifiedAt
}

type Entry struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	URL         string
	Description string
	PublishedAt time.Time // zero when unknown
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntryUpdate holds the mutable fields of an entry. GUID, FeedID and PublishedAt are fixed once
// the entry has been inserted.
type EntryUpdate struct {
	Title       string
	URL         string
	Description string
}

// ApplyTo copies the mutable fields onto e.
func (u EntryUpdate) ApplyTo(e *Entry) {
	e.Title = u.Title
	e.URL = u.URL
	e.Description = u.Description
}

// Matches reports whether e already holds exactly the values of u.
func (u EntryUpdate) Matches(e *Entry) bool {
	return e.Title == u.Title && e.URL == u.URL && e.Description == u.Description
}

// RawEntry is one entry as read from the remote document, before persistence.
type RawEntry struct {
	GUID         string `json:"guid"`
	Title        string `json:"title"`
	URL          string `json:"url"`
	Summary      string `json:"summary"`
	PublishedRaw string `json:"published_raw"`
}

func (r RawEntry) update() EntryUpdate {
	return EntryUpdate{Title: r.Title, URL: r.URL, Description: r.Summary}
}

type ParsedFeed struct {
	Title       string
	Description string
	LastBuiltAt time.Time
	Validator   string
	Entries     []RawEntry
}

func (p *ParsedFeed) Metadata() FeedMetadata {
	return FeedMetadata{
		Title:       p.Title,
		Description: p.Description,
		LastBuiltAt: p.LastBuiltAt,
		ModifiedAt:  p.Validator,
	}
}

// FetchResult is the outcome of a conditional fetch. When NotModified is set Feed is nil.
type FetchResult struct {
	NotModified bool
	Feed        *ParsedFeed
}

// Validator is the HTTP cache state kept in a feed's modified_at column.
type Validator struct {
	ETag         string
	LastModified string
}

const (
	validatorETagKey         = "etag"
	validatorLastModifiedKey = "last_modified"
)

// ParseValidator decodes a token produced by Validator.Token. A token in any other shape is
// taken to be a bare Last-Modified value.
func ParseValidator(token string) Validator {
	if token == "" {
		return Validator{}
	}

	values, err := url.ParseQuery(token)
	if err == nil && (values.Has(validatorETagKey) || values.Has(validatorLastModifiedKey)) {
		return Validator{
			ETag:         values.Get(validatorETagKey),
			LastModified: values.Get(validatorLastModifiedKey),
		}
	}

	return Validator{LastModified: token}
}

func (v Validator) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// Token encodes v for storage. The zero Validator encodes to the empty string.
func (v Validator) Token() string {
	if v.IsZero() {
		return ""
	}

	values := url.Values{}
	if v.ETag != "" {
		values.Set(validatorETagKey, v.ETag)
	}
	if v.LastModified != "" {
		values.Set(validatorLastModifiedKey, v.LastModified)
	}
	return values.Encode()
}

package ingest

import (
	"errors"
	"strings"
	"time"
)

// Feeds publish dates in RFC 1123 with a zone name most of the time, so that is tried first,
// then the numeric zone variant, then the looser forms seen in the wild.
var timeFormats = []string{
	time.RFC1123,
	time.RFC1123Z,
	"Mon, _2 Jan 2006 15:04:05 MST",
	"Mon, _2 Jan 2006 15:04:05 -0700",
	time.RFC3339,
	"2006-01-02T15:04:05-07:00",
	"2006-01-02T15:04:05Z",
	time.RFC822,
	"02 Jan 2006 15:04 MST",
	"02 Jan 2006 15:04:05 MST",
	"Mon, _2 Jan 2006",
	"2006-01-02",
}

var errUnparsableTime = errors.New("unable to parse time")

// ParseTime tries each known format in turn until one works or all fail.
func ParseTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, f := range timeFormats {
		t, err := time.Parse(f, value)
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, errUnparsableTime
}

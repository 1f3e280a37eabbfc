package model

import "time"

// Event is one calendar entry resolved from a feed. All times are local
// civil time; the feed's UTC marker is not applied.
type Event struct {
	SourceID string // calendar source ID (config source ID)
	UID      string // iCalendar UID, may be empty

	Summary     string
	Description string
	Location    string

	// Start is always set on a materialized event.
	Start time.Time
	// End is the zero time when the feed carried no usable DTEND.
	End time.Time

	AllDay bool
}

// HasEnd reports whether the event carried an explicit end time.
func (e Event) HasEnd() bool {
	return !e.End.IsZero()
}

// Snapshot is one aggregation result over all configured sources.
type Snapshot struct {
	// Events are ordered by ascending Start.
	Events []Event

	FetchedAt time.Time
	IsCached  bool

	// SourceCount is the number of configured sources.
	SourceCount int
	// FailedSources holds redacted URLs that failed during this fetch.
	FailedSources []string
}

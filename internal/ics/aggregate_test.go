package ics

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todaycal/internal/cache"
	"todaycal/internal/model"
)

// fakeFetcher serves canned responses per URL and records call order.
type fakeFetcher struct {
	responses map[string]fakeResponse
	calls     []string
}

type fakeResponse struct {
	status int
	body   []byte
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (int, []byte, error) {
	f.calls = append(f.calls, url)
	r, ok := f.responses[url]
	if !ok {
		return 0, nil, errors.New("connection refused")
	}
	return r.status, r.body, r.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func event(summary, start string) []string {
	return []string{"BEGIN:VEVENT", "SUMMARY:" + summary, "DTSTART:" + start, "END:VEVENT"}
}

func calendar(events ...[]string) []byte {
	lines := []string{"BEGIN:VCALENDAR"}
	for _, e := range events {
		lines = append(lines, e...)
	}
	lines = append(lines, "END:VCALENDAR")
	return feed(lines...)
}

func newTestAggregator(t *testing.T, f Fetcher, c *clock) (*Aggregator, *cache.Store) {
	t.Helper()
	store := cache.NewStore(filepath.Join(t.TempDir(), "cache.json")).WithClock(c.now)
	return NewAggregator(f, store).WithClock(c.now), store
}

func summaries(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Summary)
	}
	return out
}

func TestAggregatorMergesAndSorts(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"https://a.example/cal.ics": {status: 200, body: calendar(event("A", "20250101T100000"), event("B", "20250101T090000"))},
		"https://b.example/cal.ics": {status: 200, body: calendar(event("C", "20250101T080000"))},
	}}
	c := &clock{t: time.Date(2025, 1, 1, 7, 0, 0, 0, time.Local)}
	agg, store := newTestAggregator(t, f, c)

	opts := Options{
		Sources:     []Source{{ID: "a", URL: "https://a.example/cal.ics"}, {ID: "b", URL: "https://b.example/cal.ics"}},
		CacheMaxAge: time.Hour,
	}
	snap, err := agg.Fetch(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "B", "A"}, summaries(snap.Events))
	assert.False(t, snap.IsCached)
	assert.Equal(t, 2, snap.SourceCount)
	assert.Equal(t, []string{"https://a.example/cal.ics", "https://b.example/cal.ics"}, f.calls)
	assert.Equal(t, "b", snap.Events[0].SourceID)
	assert.True(t, snap.FetchedAt.Equal(c.t))

	// The snapshot was persisted.
	cached, ok := store.Load(time.Hour)
	require.True(t, ok)
	assert.Equal(t, []string{"C", "B", "A"}, summaries(cached.Events))
}

func TestAggregatorServesFreshCache(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"u": {status: 200, body: calendar(event("A", "20250101T100000"))},
	}}
	c := &clock{t: time.Date(2025, 1, 1, 7, 0, 0, 0, time.Local)}
	agg, _ := newTestAggregator(t, f, c)
	opts := Options{Sources: SingleSource("u"), CacheMaxAge: time.Hour}

	_, err := agg.Fetch(context.Background(), opts)
	require.NoError(t, err)

	c.t = c.t.Add(30 * time.Minute)
	snap, err := agg.Fetch(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, snap.IsCached)
	assert.Len(t, f.calls, 1)

	// Forcing bypasses the cache.
	opts.ForceRefresh = true
	snap, err = agg.Fetch(context.Background(), opts)
	require.NoError(t, err)
	assert.False(t, snap.IsCached)
	assert.Len(t, f.calls, 2)
}

func TestAggregatorPartialFailure(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"https://down.example/x": {status: http.StatusInternalServerError},
		"https://ok.example/x":   {status: 200, body: calendar(event("Only", "20250101T100000"))},
	}}
	c := &clock{t: time.Now()}
	agg, _ := newTestAggregator(t, f, c)

	snap, err := agg.Fetch(context.Background(), Options{
		Sources: []Source{
			{ID: "down", URL: "https://down.example/x"},
			{ID: "gone", URL: "https://gone.example/x"},
			{ID: "ok", URL: "https://ok.example/x"},
		},
		CacheMaxAge: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Only"}, summaries(snap.Events))
	assert.Equal(t, 3, snap.SourceCount)
	assert.Equal(t, []string{"https://down.example/...(redacted)", "https://gone.example/...(redacted)"}, snap.FailedSources)
	assert.Len(t, f.calls, 3)
}

func TestAggregatorStaleFallback(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"u": {status: 200, body: calendar(event("A", "20250101T100000"))},
	}}
	start := time.Date(2025, 1, 1, 7, 0, 0, 0, time.Local)
	c := &clock{t: start}
	agg, _ := newTestAggregator(t, f, c)
	opts := Options{Sources: SingleSource("u"), CacheMaxAge: time.Hour}

	_, err := agg.Fetch(context.Background(), opts)
	require.NoError(t, err)

	// Source goes down; cache is 10h old, past max age but within 24x.
	f.responses["u"] = fakeResponse{status: http.StatusServiceUnavailable}
	c.t = start.Add(10 * time.Hour)
	snap, err := agg.Fetch(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, snap.IsCached)
	assert.Equal(t, []string{"A"}, summaries(snap.Events))

	// Beyond 24x max age there is nothing left.
	c.t = start.Add(25 * time.Hour)
	_, err = agg.Fetch(context.Background(), opts)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	// A custom multiplier widens the window.
	opts.StaleMultiplier = 48
	snap, err = agg.Fetch(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, snap.IsCached)
}

func TestAggregatorTotalFailureWithoutCache(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"u": {err: errors.New("dial tcp: timeout")},
	}}
	agg, _ := newTestAggregator(t, f, &clock{t: time.Now()})

	_, err := agg.Fetch(context.Background(), Options{Sources: SingleSource("u"), CacheMaxAge: time.Hour, ForceRefresh: true})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestAggregatorNoSources(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeFetcher{}, &clock{t: time.Now()})
	_, err := agg.Fetch(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNoSources)
}

func TestAggregatorEmptyFeedCountsAsSuccess(t *testing.T) {
	f := &fakeFetcher{responses: map[string]fakeResponse{
		"u": {status: 200, body: []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n")},
	}}
	agg, _ := newTestAggregator(t, f, &clock{t: time.Now()})

	snap, err := agg.Fetch(context.Background(), Options{Sources: SingleSource("u"), CacheMaxAge: time.Hour})
	require.NoError(t, err)
	assert.Empty(t, snap.Events)
	assert.False(t, snap.IsCached)
}

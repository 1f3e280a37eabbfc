package ics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"todaycal/internal/agenda"
	"todaycal/internal/cache"
	appLog "todaycal/internal/log"
	"todaycal/internal/model"
)

// DefaultStaleMultiplier scales CacheMaxAge for the fallback read after every
// source failed.
const DefaultStaleMultiplier = 24

var (
	// ErrNoSources is returned when Options carries no source.
	ErrNoSources = errors.New("no calendar sources configured")
	// ErrNoSnapshot is returned when every source failed and no cached
	// snapshot, even a stale one, is available.
	ErrNoSnapshot = errors.New("no calendar snapshot available")
)

// Options is the per-call configuration of Aggregator.Fetch.
type Options struct {
	Sources      []Source
	CacheMaxAge  time.Duration
	ForceRefresh bool
	// StaleMultiplier defaults to DefaultStaleMultiplier when <= 0.
	StaleMultiplier int
}

// SingleSource builds a one-element source list from a bare URL.
func SingleSource(url string) []Source {
	return []Source{{ID: url, URL: url}}
}

// Aggregator fetches all sources in order, merges their events and keeps the
// cache store in sync. It holds no state between calls besides its
// collaborators and is not meant for concurrent use.
type Aggregator struct {
	fetcher Fetcher
	store   *cache.Store
	now     func() time.Time
}

// NewAggregator wires a fetcher and a cache store.
func NewAggregator(fetcher Fetcher, store *cache.Store) *Aggregator {
	return &Aggregator{fetcher: fetcher, store: store, now: time.Now}
}

// WithClock replaces the time source used for FetchedAt. Intended for tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Fetch returns a snapshot for opts:
//
//   - unless ForceRefresh, a cache hit within CacheMaxAge is returned as is;
//   - otherwise every source is fetched sequentially and parsed; failures are
//     logged and skipped;
//   - if at least one source succeeded the merged, start-sorted snapshot is
//     saved and returned;
//   - if all failed, a cached snapshot up to CacheMaxAge*StaleMultiplier old
//     is returned, or ErrNoSnapshot.
func (a *Aggregator) Fetch(ctx context.Context, opts Options) (model.Snapshot, error) {
	if len(opts.Sources) == 0 {
		return model.Snapshot{}, ErrNoSources
	}

	if !opts.ForceRefresh {
		if snap, ok := a.store.Load(opts.CacheMaxAge); ok {
			snap.IsCached = true
			appLog.Debug("calendar served from cache", "events", len(snap.Events))
			return snap, nil
		}
	}

	events := make([]model.Event, 0)
	failed := make([]string, 0)
	succeeded := 0

	for _, src := range opts.Sources {
		evs, err := a.fetchSource(ctx, src)
		if err != nil {
			appLog.Error("calendar source failed", err, "id", src.ID, "url", redactURL(src.URL))
			failed = append(failed, redactURL(src.URL))
			continue
		}
		succeeded++
		events = append(events, evs...)
	}

	if succeeded == 0 {
		return a.staleFallback(opts)
	}

	agenda.SortByStart(events)
	snap := model.Snapshot{
		Events:        events,
		FetchedAt:     a.now(),
		IsCached:      false,
		SourceCount:   len(opts.Sources),
		FailedSources: failed,
	}
	if len(failed) == 0 {
		snap.FailedSources = nil
	}

	if err := a.store.Save(snap); err != nil {
		appLog.Error("calendar cache save failed", err, "path", a.store.Path())
	}

	appLog.Info("calendar fetch completed",
		"sources", len(opts.Sources),
		"failed", len(failed),
		"events", len(events),
	)
	return snap, nil
}

func (a *Aggregator) fetchSource(ctx context.Context, src Source) ([]model.Event, error) {
	status, body, err := a.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", status)
	}

	id := src.ID
	if id == "" {
		id = src.URL
	}
	evs := Parse(body, id)
	appLog.Info("ics parse completed", "id", id, "url", redactURL(src.URL), "event_count", len(evs))
	return evs, nil
}

func (a *Aggregator) staleFallback(opts Options) (model.Snapshot, error) {
	mult := opts.StaleMultiplier
	if mult <= 0 {
		mult = DefaultStaleMultiplier
	}
	maxAge := opts.CacheMaxAge * time.Duration(mult)

	snap, ok := a.store.Load(maxAge)
	if !ok {
		return model.Snapshot{}, ErrNoSnapshot
	}
	snap.IsCached = true
	appLog.Warn("all calendar sources failed; serving stale cache",
		"fetched_at", snap.FetchedAt.Format(time.RFC3339),
		"max_age", maxAge,
	)
	return snap, nil
}

// Package cache persists the last aggregated calendar snapshot as a single
// JSON record on disk.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appLog "todaycal/internal/log"
	"todaycal/internal/model"
)

// ErrMiss classifies a Load that produced no usable snapshot.
var ErrMiss = errors.New("cache miss")

// record is the on-disk form: {"timestamp": <epoch seconds>, "data": {...}}.
type record struct {
	Timestamp int64        `json:"timestamp"`
	Data      snapshotJSON `json:"data"`
}

type snapshotJSON struct {
	Events         []eventJSON `json:"events"`
	FetchTimestamp int64       `json:"fetch_timestamp"`
	IsCached       bool        `json:"is_cached"`
	SourceCount    int         `json:"source_count"`
	FailedSources  []string    `json:"failed_sources,omitempty"`
}

type eventJSON struct {
	UID         string `json:"uid,omitempty"`
	SourceID    string `json:"source_id,omitempty"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	StartTime   int64  `json:"start_time"`
	EndTime     *int64 `json:"end_time,omitempty"`
	AllDay      bool   `json:"all_day"`
}

// Store reads and writes the snapshot record at a fixed path. Every call goes
// to disk; there is no in-memory layer.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore creates a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// WithClock replaces the store's time source. Intended for tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Path returns the record location.
func (s *Store) Path() string {
	return s.path
}

// Save writes {timestamp: now, data: snap}, replacing any previous record.
// The write goes through a temp file and rename so a crash never leaves a
// half-written record.
func (s *Store) Save(snap model.Snapshot) error {
	if s.path == "" {
		return errors.New("cache path is empty")
	}

	rec := record{
		Timestamp: s.now().Unix(),
		Data:      toJSON(snap),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("cache: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cache: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".todaycal-cache-*.tmp")
	if err != nil {
		return fmt.Errorf("cache: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cache: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("cache: rename: %w", err)
	}
	return nil
}

// Load returns the stored snapshot when the record exists, decodes and is no
// older than maxAge. Any failure is reported as a miss (ok == false).
func (s *Store) Load(maxAge time.Duration) (model.Snapshot, bool) {
	snap, err := s.load(maxAge)
	if err != nil {
		appLog.Debug("cache load miss", "path", s.path, "reason", err)
		return model.Snapshot{}, false
	}
	return snap, true
}

func (s *Store) load(maxAge time.Duration) (model.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrMiss, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: malformed record: %v", ErrMiss, err)
	}

	age := s.now().Unix() - rec.Timestamp
	if age > int64(maxAge/time.Second) {
		return model.Snapshot{}, fmt.Errorf("%w: expired (age %ds)", ErrMiss, age)
	}
	return fromJSON(rec.Data), nil
}

// Clear removes the record. Removing a missing record is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove: %w", err)
	}
	return nil
}

func toJSON(snap model.Snapshot) snapshotJSON {
	out := snapshotJSON{
		Events:         make([]eventJSON, 0, len(snap.Events)),
		FetchTimestamp: snap.FetchedAt.Unix(),
		IsCached:       snap.IsCached,
		SourceCount:    snap.SourceCount,
		FailedSources:  snap.FailedSources,
	}
	for _, ev := range snap.Events {
		ej := eventJSON{
			UID:         ev.UID,
			SourceID:    ev.SourceID,
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			StartTime:   ev.Start.Unix(),
			AllDay:      ev.AllDay,
		}
		if ev.HasEnd() {
			end := ev.End.Unix()
			ej.EndTime = &end
		}
		out.Events = append(out.Events, ej)
	}
	return out
}

func fromJSON(in snapshotJSON) model.Snapshot {
	snap := model.Snapshot{
		Events:        make([]model.Event, 0, len(in.Events)),
		FetchedAt:     time.Unix(in.FetchTimestamp, 0),
		IsCached:      in.IsCached,
		SourceCount:   in.SourceCount,
		FailedSources: in.FailedSources,
	}
	for _, ej := range in.Events {
		ev := model.Event{
			UID:         ej.UID,
			SourceID:    ej.SourceID,
			Summary:     ej.Summary,
			Description: ej.Description,
			Location:    ej.Location,
			Start:       time.Unix(ej.StartTime, 0),
			AllDay:      ej.AllDay,
		}
		if ej.EndTime != nil {
			ev.End = time.Unix(*ej.EndTime, 0)
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap
}

package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"todaycal/internal/agenda"
	"todaycal/internal/cache"
	"todaycal/internal/config"
	"todaycal/internal/ics"
	appLog "todaycal/internal/log"
	"todaycal/internal/model"
)

const dayLayout = "2006-01-02"

// Server exposes the calendar engine over HTTP.
type Server struct {
	cfg   *config.Config
	agg   *ics.Aggregator
	store *cache.Store
	mux   *http.ServeMux
	now   func() time.Time

	// The engine assumes a single caller at a time; HTTP handlers are
	// concurrent, so every engine call goes through this lock.
	engineMu sync.Mutex
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, agg *ics.Aggregator, store *cache.Store) *Server {
	s := &Server{
		cfg:   cfg,
		agg:   agg,
		store: store,
		mux:   http.NewServeMux(),
		now:   time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Refresh forces a fetch of all sources. Used by the cron refresh job.
func (s *Server) Refresh(ctx context.Context) (model.Snapshot, error) {
	return s.snapshot(ctx, true)
}

func (s *Server) snapshot(ctx context.Context, force bool) (model.Snapshot, error) {
	s.engineMu.Lock()
	defer s.engineMu.Unlock()
	return s.agg.Fetch(ctx, s.cfg.Options(force))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="todaycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/today.ics", s.handleTodayICS)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("DELETE /api/cache", s.handleClearCache)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Day         string     `json:"day"`
	FetchedAt   time.Time  `json:"fetched_at"`
	IsCached    bool       `json:"is_cached"`
	SourceCount int        `json:"source_count"`
	Events      []eventDTO `json:"events"`
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	UID         string     `json:"uid,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Location    string     `json:"location,omitempty"`
	Start       time.Time  `json:"start"`
	End         *time.Time `json:"end,omitempty"`
	AllDay      bool       `json:"all_day"`
}

// handleEvents returns the events overlapping one local day.
//
// GET /api/events?day=2025-01-31&refresh=1
//   - day:     YYYY-MM-DD, defaults to today
//   - refresh: "1" or "true" forces a fetch
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	target, err := s.parseDay(q.Get("day"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid day, expected YYYY-MM-DD")
		return
	}
	force := q.Get("refresh") == "1" || q.Get("refresh") == "true"

	snap, ok := s.snapshotOrError(r.Context(), w, force)
	if !ok {
		return
	}

	day := agenda.ForDay(snap.Events, target)
	dtos := make([]eventDTO, 0, len(day))
	for _, ev := range day {
		dto := eventDTO{
			UID:         ev.UID,
			SourceID:    ev.SourceID,
			Summary:     ev.Summary,
			Description: ev.Description,
			Location:    ev.Location,
			Start:       ev.Start,
			AllDay:      ev.AllDay,
		}
		if ev.HasEnd() {
			end := ev.End
			dto.End = &end
		}
		dtos = append(dtos, dto)
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Day:         target.Format(dayLayout),
		FetchedAt:   snap.FetchedAt,
		IsCached:    snap.IsCached,
		SourceCount: snap.SourceCount,
		Events:      dtos,
	})
}

// handleTodayICS exports today's events as an ICS document.
func (s *Server) handleTodayICS(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(r.Context(), w, false)
	if !ok {
		return
	}
	now := s.now()
	body := ics.Export(agenda.Today(snap.Events, now), now)

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type refreshResponse struct {
	FetchedAt     time.Time `json:"fetched_at"`
	IsCached      bool      `json:"is_cached"`
	SourceCount   int       `json:"source_count"`
	FailedSources []string  `json:"failed_sources,omitempty"`
	EventCount    int       `json:"event_count"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshotOrError(r.Context(), w, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{
		FetchedAt:     snap.FetchedAt,
		IsCached:      snap.IsCached,
		SourceCount:   snap.SourceCount,
		FailedSources: snap.FailedSources,
		EventCount:    len(snap.Events),
	})
}

func (s *Server) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.engineMu.Lock()
	err := s.store.Clear()
	s.engineMu.Unlock()
	if err != nil {
		appLog.Error("cache clear failed", err, "path", s.store.Path())
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// snapshotOrError fetches a snapshot and writes the error response itself
// when none is available.
func (s *Server) snapshotOrError(ctx context.Context, w http.ResponseWriter, force bool) (model.Snapshot, bool) {
	snap, err := s.snapshot(ctx, force)
	switch {
	case err == nil:
		return snap, true
	case errors.Is(err, ics.ErrNoSources):
		writeError(w, http.StatusServiceUnavailable, "no calendar sources configured")
	case errors.Is(err, ics.ErrNoSnapshot):
		writeError(w, http.StatusBadGateway, "all calendar sources failed and no cache is available")
	default:
		appLog.Error("api: calendar fetch failed", err)
		writeError(w, http.StatusInternalServerError, "calendar fetch failed")
	}
	return model.Snapshot{}, false
}

// parseDay returns noon of the requested local day, or now when empty.
func (s *Server) parseDay(v string) (time.Time, error) {
	if v == "" {
		return s.now(), nil
	}
	d, err := time.ParseInLocation(dayLayout, v, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return d.Add(12 * time.Hour), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

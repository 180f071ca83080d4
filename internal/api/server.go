// Package api serves the persisted health timeline over a read-only HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tsilva/parsehealthlog/internal/audit"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

// Server is an HTTP API server that exposes timeline queries.
type Server struct {
	store     store.Store
	reader    *timeline.Reader
	auditor   *audit.Auditor
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server over the artifacts in st.
func NewServer(st store.Store, opts registry.Options, logger *slog.Logger, authToken string) *Server {
	return &Server{
		store:     st,
		reader:    timeline.NewReader(st),
		auditor:   audit.New(opts, logger),
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check and counters: no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /debug/vars", expvar.Handler())

	mux.HandleFunc("GET /v1/entities", s.auth(s.handleListEntities))
	mux.HandleFunc("GET /v1/entities/{id}", s.auth(s.handleGetEntity))
	mux.HandleFunc("GET /v1/events", s.auth(s.handleEvents))
	mux.HandleFunc("GET /v1/current", s.auth(s.handleCurrent))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))
	mux.HandleFunc("GET /v1/audit", s.auth(s.handleAudit))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// entitiesResponse is returned by GET /v1/entities.
type entitiesResponse struct {
	Entities []models.Entity `json:"entities"`
	Count    int             `json:"count"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	t := models.EntityType(q.Get("type"))
	if t != "" && !t.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid entity type")
		return
	}
	view, ok := s.load(w, r)
	if !ok {
		return
	}

	entities := view.Filter(t, q.Get("active") == "true")
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		matches := make(map[models.EntityID]bool)
		for _, e := range view.Search(query) {
			matches[e.ID] = true
		}
		filtered := entities[:0]
		for _, e := range entities {
			if matches[e.ID] {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	if entities == nil {
		entities = []models.Entity{}
	}
	s.writeJSON(w, http.StatusOK, entitiesResponse{Entities: entities, Count: len(entities)})
}

// entityResponse is returned by GET /v1/entities/{id}.
type entityResponse struct {
	Entity models.Entity  `json:"entity"`
	Events []models.Event `json:"events"`
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseEntityID(r.PathValue("id"))
	if err != nil || id == 0 {
		s.writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}
	view, ok := s.load(w, r)
	if !ok {
		return
	}
	e, found := view.Entity(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	s.writeJSON(w, http.StatusOK, entityResponse{
		Entity: e,
		Events: view.FilterEvents(timeline.EventFilter{EntityID: id}),
	})
}

// eventsResponse is returned by GET /v1/events.
type eventsResponse struct {
	Events []models.Event `json:"events"`
	Count  int            `json:"count"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f timeline.EventFilter
	id, err := models.ParseEntityID(q.Get("entity_id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid entity id")
		return
	}
	f.EntityID = id
	f.Type = models.EntityType(q.Get("type"))
	if f.Type != "" && !f.Type.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid entity type")
		return
	}
	f.From, f.To = q.Get("from"), q.Get("to")
	for _, d := range []string{f.From, f.To} {
		if d != "" && !models.ValidDate(d) {
			s.writeError(w, http.StatusBadRequest, "dates must be YYYY-MM-DD")
			return
		}
	}
	view, ok := s.load(w, r)
	if !ok {
		return
	}
	events := view.FilterEvents(f)
	if events == nil {
		events = []models.Event{}
	}
	s.writeJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	content, err := s.store.Read(r.Context(), timeline.CurrentID)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no timeline has been built yet")
		return
	}
	if err != nil {
		s.logger.Error("failed to read current view", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read current view")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(content)); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	view, ok := s.load(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, view.Stats())
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	view, ok := s.load(w, r)
	if !ok {
		return
	}
	entries, err := audit.LoadEntries(r.Context(), s.store, view)
	if err != nil {
		s.logger.Error("failed to load entries for audit", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load entries")
		return
	}
	report := s.auditor.Audit(view, entries)
	if report.Findings == nil {
		report.Findings = []audit.Finding{}
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

// load reads the timeline and writes an error response on failure.
func (s *Server) load(w http.ResponseWriter, r *http.Request) (*timeline.View, bool) {
	view, err := s.reader.Load(r.Context())
	if errors.Is(err, timeline.ErrNoTimeline) {
		s.writeError(w, http.StatusNotFound, "no timeline has been built yet")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load timeline", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load timeline")
		return nil, false
	}
	return view, true
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Package httpapi exposes a small read-only observability surface over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/scottbott/scottbott/internal/jobs"
	"github.com/scottbott/scottbott/internal/router"
)

// RouterStats is the router surface the API reads.
type RouterStats interface {
	Stats() []router.ProviderStats
}

// JobReader is the job-engine surface the API reads.
type JobReader interface {
	Stats() jobs.Stats
	GetStatus(jobID string) *jobs.View
	History() []jobs.HistoryEntry
}

// ConversationStats reports in-memory conversation counts.
type ConversationStats interface {
	Active() int
}

// Server serves the observability endpoints. Read-only; it never mutates
// bot state.
type Server struct {
	router RouterStats
	j      JobReader
	conv   ConversationStats
	log    zerolog.Logger
}

func NewServer(rs RouterStats, j JobReader, conv ConversationStats, log zerolog.Logger) *Server {
	return &Server{
		router: rs,
		j:      j,
		conv:   conv,
		log:    log.With().Str("component", "httpapi").Logger(),
	}
}

// Handler builds the chi route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/stats", s.handleStats)
	r.Get("/jobs/{id}", s.handleJob)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type providerStatsBody struct {
	Name             string    `json:"name"`
	RequestsLastHour int       `json:"requests_last_hour"`
	LastRequest      time.Time `json:"last_request,omitempty"`
	State            string    `json:"state"`
	RateLimit        string    `json:"rate_limit,omitempty"`
	Features         []string  `json:"features,omitempty"`
}

type statsBody struct {
	Providers     []providerStatsBody `json:"providers"`
	Jobs          jobsStatsBody       `json:"jobs"`
	Conversations int                 `json:"conversations"`
}

type jobsStatsBody struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	body := statsBody{Providers: []providerStatsBody{}}
	for _, ps := range s.router.Stats() {
		body.Providers = append(body.Providers, providerStatsBody{
			Name:             ps.Name,
			RequestsLastHour: ps.RequestsLastHour,
			LastRequest:      ps.LastRequest,
			State:            string(ps.State),
			RateLimit:        ps.Info.RateLimit,
			Features:         ps.Info.Features,
		})
	}
	js := s.j.Stats()
	body.Jobs = jobsStatsBody{
		Active:    js.Active,
		Completed: js.Completed,
		Failed:    js.Failed,
		Cancelled: js.Cancelled,
	}
	if s.conv != nil {
		body.Conversations = s.conv.Active()
	}
	s.writeJSON(w, http.StatusOK, body)
}

type jobBody struct {
	ID          string    `json:"id"`
	RequesterID string    `json:"requester_id"`
	Prompt      string    `json:"prompt"`
	State       string    `json:"state"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	view := s.j.GetStatus(id)
	if view == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, jobBody{
		ID:          view.ID,
		RequesterID: view.RequesterID,
		Prompt:      view.Prompt,
		State:       string(view.State),
		Progress:    view.Progress,
		Error:       view.Error,
		SubmittedAt: view.SubmittedAt,
		FinishedAt:  view.FinishedAt,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn().Err(err).Msg("failed to encode response")
	}
}

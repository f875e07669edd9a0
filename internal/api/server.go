// Package api exposes a running navigator over HTTP/JSON for the mctnav
// daemon.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/medcat-trainer-client/pkg/client"
	"github.com/Sternrassler/medcat-trainer-client/pkg/enrich"
	"github.com/Sternrassler/medcat-trainer-client/pkg/logging"
	"github.com/Sternrassler/medcat-trainer-client/pkg/metrics"
	"github.com/Sternrassler/medcat-trainer-client/pkg/navigator"
)

// Server routes HTTP requests to a Navigator.
type Server struct {
	nav       *navigator.Navigator
	logger    zerolog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a Server for nav.
func NewServer(nav *navigator.Navigator, authToken string) *Server {
	return &Server{
		nav:       nav,
		logger:    logging.NewLogger("api"),
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /state", s.handleState)

	mux.HandleFunc("POST /projects/{id}/load", s.auth(s.handleLoadProject))
	mux.HandleFunc("POST /documents/{id}/select", s.auth(s.handleSelectDocument))
	mux.HandleFunc("POST /documents/enrich", s.auth(s.handleEnrichDocument))
	mux.HandleFunc("POST /next", s.auth(s.handleNext))
	mux.HandleFunc("POST /previous", s.auth(s.handlePrevious))
	mux.HandleFunc("POST /entities/{id}/select", s.auth(s.handleSelectEntity))
	mux.HandleFunc("POST /entities/next", s.auth(s.handleNextEntity))
	mux.HandleFunc("POST /entities/previous", s.auth(s.handlePreviousEntity))
	mux.HandleFunc("POST /entities/{id}/meta", s.auth(s.handleSetMeta))

	return mux
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"state":  s.nav.State().String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.nav.Snapshot())
}

func (s *Server) handleLoadProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.respond(w, s.nav.LoadProject(r.Context(), id))
}

func (s *Server) handleSelectDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.respond(w, s.nav.JumpTo(r.Context(), id))
}

func (s *Server) handleEnrichDocument(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.nav.EnrichDocument(r.Context()))
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.nav.NextDocument(r.Context()))
}

func (s *Server) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.nav.PreviousDocument(r.Context()))
}

func (s *Server) handleSelectEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	s.respond(w, s.nav.SelectEntity(r.Context(), id))
}

func (s *Server) handleNextEntity(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.nav.NextEntity(r.Context()))
}

func (s *Server) handlePreviousEntity(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.nav.PreviousEntity(r.Context()))
}

// metaRequest is the body accepted by POST /entities/{id}/meta.
type metaRequest struct {
	TaskID  int `json:"task_id"`
	ValueID int `json:"value_id"`
}

// metaResponse is returned by POST /entities/{id}/meta.
type metaResponse struct {
	EntityID     int    `json:"entity_id"`
	Task         string `json:"task"`
	Value        int    `json:"value"`
	Option       string `json:"option"`
	AnnotationID int    `json:"annotation_id"`
}

func (s *Server) handleSetMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req metaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TaskID == 0 || req.ValueID == 0 {
		s.writeError(w, http.StatusBadRequest, "task_id and value_id are required")
		return
	}

	tv, err := s.nav.SetMetaAnnotation(r.Context(), id, req.TaskID, req.ValueID)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metaResponse{
		EntityID:     id,
		Task:         tv.Task.Name,
		Value:        tv.Value,
		Option:       tv.OptionName(),
		AnnotationID: tv.AnnotationID,
	})
}

// respond writes the snapshot after a successful navigation or the mapped
// error otherwise.
func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.nav.Snapshot())
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// statusFor maps navigator and transport errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, navigator.ErrProjectNotFound),
		errors.Is(err, navigator.ErrDocumentNotFound),
		errors.Is(err, navigator.ErrEntityNotFound),
		errors.Is(err, navigator.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, navigator.ErrNotReady),
		errors.Is(err, navigator.ErrEndOfList),
		errors.Is(err, navigator.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, enrich.ErrUnknownOption):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, client.ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Int("status", status).Msg("Request failed")
	} else {
		s.logger.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}
	s.writeError(w, status, err.Error())
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down srv within timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/loom/internal/episode"
	"github.com/MikeSquared-Agency/loom/internal/forums"
	"github.com/MikeSquared-Agency/loom/internal/processor"
	"github.com/MikeSquared-Agency/loom/internal/store"
)

const maxBodyBytes = 32 << 20

// Archive is the read side of the episode store.
type Archive interface {
	GetEpisode(ctx context.Context, identifier string) (*episode.Episode, error)
	Stats(ctx context.Context) (store.Stats, error)
}

type Server struct {
	router  *chi.Mux
	proc    *processor.Processor
	archive Archive
	http    *http.Server
}

// NewServer wires the routes. archive may be nil when no database is
// configured; an empty apiToken disables auth.
func NewServer(port int, apiToken string, proc *processor.Processor, archive Archive) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		proc:    proc,
		archive: archive,
	}

	router.Get("/health", s.health)

	router.Route("/api/v1/loom", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Group(func(r chi.Router) {
			r.Use(BearerAuthMiddleware(apiToken))
			r.Post("/forums/normalize", s.normalize)
			r.Post("/adventure/segment", s.segment)
			r.Get("/episodes/{identifier}", s.getEpisode)
		})
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	slog.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"agent":  "loom",
		"status": "ok",
		"stats":  s.proc.Stats(),
	}
	if s.archive != nil {
		st, err := s.archive.Stats(r.Context())
		if err != nil {
			slog.Warn("archive stats failed", "error", err)
			resp["archive_error"] = err.Error()
		} else {
			resp["archive"] = st
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// normalize handles POST /api/v1/loom/forums/normalize
func (s *Server) normalize(w http.ResponseWriter, r *http.Request) {
	var t forums.Thread
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&t); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if t.ContentType == "" {
		t.ContentType = forums.ContentSFW
	}

	ep, err := s.proc.Normalize(r.Context(), t)
	switch {
	case errors.Is(err, processor.ErrSkipped):
		w.Header().Set("X-Loom-Skip-Reason", forums.SkipReason(t))
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, forums.ErrTooManyPasses), errors.Is(err, forums.ErrURLSurvived):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, ep)
	}
}

// segment handles POST /api/v1/loom/adventure/segment
func (s *Server) segment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
		return
	}

	eps, err := s.proc.Segment(string(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if eps == nil {
		eps = []episode.Episode{}
	}
	writeJSON(w, http.StatusOK, eps)
}

// getEpisode handles GET /api/v1/loom/episodes/{identifier}
func (s *Server) getEpisode(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "no episode archive configured")
		return
	}

	ep, err := s.archive.GetEpisode(r.Context(), chi.URLParam(r, "identifier"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

package daemon

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/landrive/internal/events"
	"github.com/tonimelisma/landrive/internal/syncsvc"
	"github.com/tonimelisma/landrive/internal/transfer"
)

// routes builds the control API mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /events", events.NewWSHandler(s.opts.Hub, s.logger))
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /jobs", s.handleJobs)
	mux.HandleFunc("POST /jobs", s.handleEnqueue)
	mux.HandleFunc("POST /jobs/{id}/pause", s.handleJobAction(s.opts.Engine.Pause))
	mux.HandleFunc("POST /jobs/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleJobAction(s.opts.Engine.Cancel))
	mux.HandleFunc("POST /sync", s.handleSync)

	return mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.opts.Engine.Jobs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	report := StatusReport{
		ScanState: s.opts.Discovery.State(),
		Devices:   len(s.opts.Discovery.Devices()),
		Drives:    s.opts.Drives.ListDrives(),
		Jobs:      jobs,
		Sync:      s.opts.Orchestrator.Statuses(),
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.opts.Engine.Jobs(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)

		return
	}

	s.writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req transfer.Request

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	job, err := s.opts.Engine.Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	s.writeJSON(w, http.StatusAccepted, job)
}

// handleJobAction adapts the engine's id-taking methods (Pause, Cancel)
// into handlers.
func (s *Server) handleJobAction(action func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")

		if err := action(id); err != nil {
			s.writeError(w, actionStatus(err), err)

			return
		}

		s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.opts.Engine.Resume(r.Context(), id); err != nil {
		s.writeError(w, actionStatus(err), err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	collections, err := syncCollections(s.opts.OutboxDir, r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)

		return
	}

	results := s.opts.Orchestrator.SyncAll(r.Context(), s.userID, collections)

	s.writeJSON(w, http.StatusOK, results)
}

// syncCollections reads the sync input: a JSON body of collections when the
// caller provides one, otherwise whatever is pending in the outbox.
func syncCollections(outboxDir string, r *http.Request) (syncsvc.Collections, error) {
	if r.ContentLength > 0 {
		var c syncsvc.Collections

		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			return nil, err
		}

		return c, nil
	}

	return syncsvc.LoadOutbox(outboxDir)
}

// actionStatus maps job action errors to HTTP status codes.
func actionStatus(err error) int {
	if errors.Is(err, transfer.ErrJobNotFound) {
		return http.StatusNotFound
	}

	return http.StatusConflict
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing API response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

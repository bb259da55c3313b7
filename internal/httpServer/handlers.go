package httpServer

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/helvethink/pullpilot/pkg/schemas"
)

type statusResponse struct {
	Status string `json:"status"`
}

type updateResponse struct {
	Success bool     `json:"success"`
	Logs    []string `json:"logs"`
	Detail  string   `json:"detail,omitempty"`
}

type updateAllResponse struct {
	Status         string `json:"status"`
	AlreadyRunning bool   `json:"already_running"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	views, err := s.o.Discover(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) updateProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		queued, err := s.o.EnqueueUpdate(r.Context(), name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		status := "queued"
		if !queued {
			status = "already_queued"
		}

		writeJSON(w, http.StatusAccepted, statusResponse{Status: status})

		return
	}

	success, lines, err := s.o.UpdateOne(r.Context(), name)
	if err != nil {
		log.WithContext(r.Context()).
			WithField("deployment-name", name).
			WithError(err).
			Error("persisting run log")
	}

	if !success {
		writeJSON(w, http.StatusInternalServerError, updateResponse{
			Success: false,
			Logs:    lines,
			Detail:  strings.Join(lines, "\n"),
		})

		return
	}

	writeJSON(w, http.StatusOK, updateResponse{Success: true, Logs: lines})
}

func (s *Server) toggleExclude(w http.ResponseWriter, r *http.Request) {
	if _, err := s.o.ToggleExcluded(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) toggleFullStop(w http.ResponseWriter, r *http.Request) {
	if _, err := s.o.ToggleFullStop(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) updateAll(w http.ResponseWriter, _ *http.Request) {
	running := s.o.GlobalUpdateRunning()
	if !running {
		s.o.TriggerGlobalUpdate()
	}

	writeJSON(w, http.StatusAccepted, updateAllResponse{Status: "started", AlreadyRunning: running})
}

func (s *Server) updateStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.o.CurrentStatus())
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		var err error
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	records, err := s.o.ListHistory(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := s.o.ListSchedules(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	in := schemas.NewScheduleInput()
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	e, err := s.o.CreateSchedule(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	if err := s.o.DeleteSchedule(r.Context(), id); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// writeServiceError maps the sentinel errors to status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, schemas.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, schemas.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.WithContext(r.Context()).
			WithField("path", r.URL.Path).
			WithError(err).
			Error("handling request")

		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

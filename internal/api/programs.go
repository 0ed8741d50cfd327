package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// maxQueryParamLen limits path and query parameter length.
const maxQueryParamLen = 100

// Run log paging.
const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// programUpdate is the body of PUT and PATCH /programs/{id}. Absent fields
// are kept.
type programUpdate struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	SetupText   *string `json:"setup_text"`
	RunText     *string `json:"run_text"`
	Enabled     *bool   `json:"enabled"`
	RunInterval *int    `json:"run_interval"`
}

// runRequest is the optional body of POST /programs/{id}/run.
type runRequest struct {
	Options string `json:"options"`
}

// programID reads and checks the {id} path parameter.
func programID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid program ID")
		return "", false
	}
	return id, true
}

// handleListPrograms returns all programs.
//
// Query parameters:
//   - enabled: "true" returns only enabled programs
func (s *Server) handleListPrograms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		programs []automation.Program
		err      error
	)
	if r.URL.Query().Get("enabled") == "true" {
		programs, err = s.registry.ListEnabled(ctx)
	} else {
		programs, err = s.registry.ListPrograms(ctx)
	}
	if err != nil {
		writeInternalError(w, "failed to list programs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": programs, "count": len(programs)})
}

// handleGetProgram returns a single program by ID.
func (s *Server) handleGetProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	p, err := s.registry.GetProgram(r.Context(), id)
	if err != nil {
		writeProgramError(w, err, "failed to get program")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleCreateProgram stores a new program and starts it in the engine.
func (s *Server) handleCreateProgram(w http.ResponseWriter, r *http.Request) {
	var p automation.Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	p.LastError = nil

	ctx := r.Context()
	if err := s.registry.CreateProgram(ctx, &p); err != nil {
		writeProgramError(w, err, "failed to create program")
		return
	}
	if err := s.engine.Restart(ctx, p.ID); err != nil {
		s.logger.Warn("program start after create failed", "program_id", p.ID, "error", err)
	}

	s.respondProgram(w, r, http.StatusCreated, p.ID)
}

// handleUpdateProgram partially updates a program and restarts it.
func (s *Server) handleUpdateProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	p, err := s.registry.GetProgram(ctx, id)
	if err != nil {
		writeProgramError(w, err, "failed to get program")
		return
	}

	var upd programUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = upd.Description
	}
	if upd.SetupText != nil {
		p.SetupText = *upd.SetupText
	}
	if upd.RunText != nil {
		p.RunText = *upd.RunText
	}
	if upd.Enabled != nil {
		p.Enabled = *upd.Enabled
	}
	if upd.RunInterval != nil {
		p.RunInterval = *upd.RunInterval
	}

	if err := s.registry.UpdateProgram(ctx, p); err != nil {
		writeProgramError(w, err, "failed to update program")
		return
	}
	if err := s.engine.Restart(ctx, id); err != nil {
		s.logger.Warn("program restart after update failed", "program_id", id, "error", err)
	}

	s.respondProgram(w, r, http.StatusOK, id)
}

// respondProgram writes the registry's current copy of a program, which
// carries any LastError recorded while restarting it.
func (s *Server) respondProgram(w http.ResponseWriter, r *http.Request, status int, id string) {
	p, err := s.registry.GetProgram(r.Context(), id)
	if err != nil {
		writeProgramError(w, err, "failed to get program")
		return
	}
	writeJSON(w, status, p)
}

// handleDeleteProgram stops and removes a program. Its run log goes with it.
func (s *Server) handleDeleteProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	s.engine.Remove(id)
	if err := s.registry.DeleteProgram(r.Context(), id); err != nil {
		writeProgramError(w, err, "failed to delete program")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompileProgram compiles a program and returns the diagnostics.
// A program that fails to compile is still a 200; the report says so.
func (s *Server) handleCompileProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	report, err := s.engine.Compile(r.Context(), id)
	if err != nil {
		writeProgramError(w, err, "failed to compile program")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSetupProgram invokes a program's Setup entry point.
func (s *Server) handleSetupProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	run, err := s.engine.Setup(r.Context(), id)
	if err != nil {
		writeProgramError(w, err, "failed to set up program")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleRunProgram invokes a program's Run entry point. The body is
// optional; {"options": "..."} is passed to the program.
func (s *Server) handleRunProgram(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	run, err := s.engine.Run(r.Context(), id, req.Options, automation.TriggerManual)
	if err != nil {
		writeProgramError(w, err, "failed to run program")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleListProgramRuns returns a program's run log, newest first.
//
// Query parameters:
//   - limit: maximum entries (default 50, max 500)
func (s *Server) handleListProgramRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := programID(w, r)
	if !ok {
		return
	}

	limit := defaultRunsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	ctx := r.Context()
	if _, err := s.registry.GetProgram(ctx, id); err != nil {
		writeProgramError(w, err, "failed to get program")
		return
	}
	runs, err := s.registry.Repository().ListRuns(ctx, id, limit)
	if err != nil {
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

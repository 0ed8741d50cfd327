package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeDisabled       = "program_disabled"
	ErrCodeBusy           = "program_busy"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an Error body. The request ID is taken from the
// response header requestIDMiddleware set, so callers need not pass it.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: w.Header().Get(headerRequestID),
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// programErrors maps automation sentinels to responses, checked in order.
var programErrors = []struct {
	err    error
	status int
	code   string
}{
	{automation.ErrProgramNotFound, http.StatusNotFound, ErrCodeNotFound},
	{automation.ErrInvalidProgram, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrInvalidName, http.StatusBadRequest, ErrCodeValidation},
	{automation.ErrProgramExists, http.StatusConflict, ErrCodeConflict},
	{automation.ErrProgramDisabled, http.StatusConflict, ErrCodeDisabled},
	{automation.ErrProgramBusy, http.StatusConflict, ErrCodeBusy},
}

// writeProgramError maps an automation error to a response. Anything
// unrecognised is a 500 with fallback as the message, so internal details
// are not leaked.
func writeProgramError(w http.ResponseWriter, err error, fallback string) {
	for _, pe := range programErrors {
		if errors.Is(err, pe.err) {
			writeError(w, pe.status, pe.code, programErrorMessage(pe.err, err))
			return
		}
	}
	writeInternalError(w, fallback)
}

func programErrorMessage(sentinel, err error) string {
	switch sentinel {
	case automation.ErrProgramNotFound:
		return "program not found"
	case automation.ErrProgramDisabled:
		return "program is disabled"
	case automation.ErrProgramBusy:
		return "program is still running a cancelled invocation"
	default:
		return err.Error()
	}
}

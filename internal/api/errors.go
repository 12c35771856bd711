package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-webthing/internal/auth"
	"github.com/nerrad567/gray-logic-webthing/internal/history"
	"github.com/nerrad567/gray-logic-webthing/internal/thing"
)

// Error is the JSON body of every error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeNotFound           = "not_found"
	ErrCodeUnauthorized       = "unauthorised"
	ErrCodeForbidden          = "forbidden"
	ErrCodeInternal           = "internal_error"
	ErrCodeValidation         = "validation_error"
	ErrCodeReadOnly           = "read_only"
	ErrCodeRejected           = "rejected"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeServiceUnavailable = "service_unavailable"
)

// writeJSON writes v as JSON with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
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

// classifyError maps runtime errors onto an HTTP status and error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, thing.ErrNotFound),
		errors.Is(err, thing.ErrUnknownAction),
		errors.Is(err, thing.ErrUnknownEvent):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, thing.ErrSchemaViolation),
		errors.Is(err, history.ErrInvalidKind):
		return http.StatusBadRequest, ErrCodeValidation
	case errors.Is(err, thing.ErrReadOnly):
		return http.StatusBadRequest, ErrCodeReadOnly
	case errors.Is(err, thing.ErrForwarderRejected):
		return http.StatusBadRequest, ErrCodeRejected
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, ErrCodeForbidden
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeThingError writes the response for an error returned by a Thing.
// Internal errors are logged and reported without detail.
func (s *Server) writeThingError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classifyError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
			"request_id", requestIDFrom(r.Context()),
		)
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"expertflow/apperr"
	"expertflow/db"
)

type errorBody struct {
	RequestID string      `json:"request_id"`
	Error     errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body required")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	return nil
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, errorBody{
		RequestID: requestID(r),
		Error:     errorDetail{Code: code, Message: message, Details: details},
	})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindDeadlineExpired:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail maps a service error onto the error envelope. Internal failures are
// logged and their text withheld from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if db.IsInvalidTextRepresentation(err) {
		// A malformed path id can name no record.
		err = apperr.NotFound("no record with id %q", chi.URLParam(r, "id"))
	}
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		kind = apperr.KindInternal
		msg = "internal error"
		s.log.Error(r.Context(), "request failed", "error", err, "path", r.URL.Path, "request_id", requestID(r))
	}
	writeError(w, r, status, string(kind), msg, nil)
}

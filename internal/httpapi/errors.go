package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"llamachat/internal/acquire"
	"llamachat/internal/engine"
	"llamachat/internal/registry"
	"llamachat/internal/session"
	"llamachat/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps session, acquisition and engine errors to HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case session.IsBusy(err), session.IsNotReady(err):
		return http.StatusConflict
	case registry.IsModelNotFound(err):
		return http.StatusNotFound
	case acquire.IsAcquisitionError(err):
		return http.StatusUnprocessableEntity
	case engine.IsDependencyUnavailable(err):
		return http.StatusServiceUnavailable
	case engine.IsEngineError(err):
		return http.StatusBadGateway
	case errors.As(err, &he):
		return he.StatusCode()
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusConflict {
		IncrementRejection(rejectionReason(err))
	}
	writeJSONError(w, status, err.Error())
	return status
}

func rejectionReason(err error) string {
	if session.IsBusy(err) {
		return "busy"
	}
	return "not_ready"
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

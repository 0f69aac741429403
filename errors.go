package main

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrDuplicate is returned by stores when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("already exists")
	// ErrNotFound is returned by stores when the requested record is absent.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized covers bad credentials and every rejected bearer token.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// writeStoreError maps store sentinels to HTTP statuses. Anything unexpected is
// logged with its cause and reported as an opaque 500.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, notFoundMsg, duplicateMsg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", notFoundMsg)
	case errors.Is(err, ErrDuplicate):
		writeError(w, http.StatusConflict, "DUPLICATE", duplicateMsg)
	default:
		log.WithError(err).WithField("path", r.URL.Path).Error("store failure")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// Package api provides HTTP handlers for the LearnFlow API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ashureev/learnflow/internal/identity"
)

// maxRequestBody caps every JSON request body the API reads.
const maxRequestBody = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Raw writes an already-encoded JSON body.
func Raw(w http.ResponseWriter, status int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// readJSON reads a size-limited request body and checks that it is JSON.
// On failure it writes the error response and returns false.
func readJSON(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return nil, false
		}
		Error(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if !json.Valid(body) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return body, true
}

// decodeJSON reads the request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body, ok := readJSON(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// ThrottleKey buckets requests by anonymous user, or by client IP when the
// identity middleware has not run.
func ThrottleKey(r *http.Request) string {
	if id, ok := identity.FromContext(r.Context()); ok {
		return id.UserID
	}
	return identity.IPFromRequest(r)
}

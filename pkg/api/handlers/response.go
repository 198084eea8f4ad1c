package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is the envelope of every API response.
//   - Status: "healthy", "unhealthy", "ok" or "error"
//   - Data: the payload, omitted on errors
//   - Error: a message, omitted on success
type Response struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The header is already out; an encoding failure can only truncate the body.
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, v)
}

func envelope(status string, data any, errMsg string) Response {
	return Response{
		Status:    status,
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
}

func healthyResponse(data any) Response { return envelope("healthy", data, "") }

func unhealthyResponse(errMsg string) Response { return envelope("unhealthy", nil, errMsg) }

func unhealthyResponseWithData(data any) Response { return envelope("unhealthy", data, "") }

func okResponse(data any) Response { return envelope("ok", data, "") }

// BadRequest writes a 400 error envelope.
func BadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope("error", nil, msg))
}

// NotFound writes a 404 error envelope.
func NotFound(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusNotFound, envelope("error", nil, msg))
}

// InternalServerError writes a 500 error envelope.
func InternalServerError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusInternalServerError, envelope("error", nil, msg))
}

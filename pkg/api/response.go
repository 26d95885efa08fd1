package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// errorBody is the wire shape for failed requests.
type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeJSON serialises v with the given status. Encoding failures are logged,
// not surfaced; headers are already gone by then.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// writeError sends a {message, type} error body.
func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, errorBody{Message: message, Type: errType})
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"academy-attendance/internal/i18n"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError localises messageID for the request and writes it with the
// message id as the machine-readable code.
func writeError(w http.ResponseWriter, r *http.Request, status int, messageID string, data map[string]any) {
	writeJSON(w, status, ErrorResponse{
		Error: i18n.T(r.Context(), messageID, data),
		Code:  messageID,
	})
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

// All JSON responses carry a success flag; errors add a human-readable
// message: { "success": false, "error": "..." }.

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode json response", "error", err)
	}
}

// writeResult writes a success response with extra top-level fields.
func writeResult(w http.ResponseWriter, status int, fields map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	writeJSON(w, status, body)
}

// writeSuccess writes a bare {"success": true} response.
func writeSuccess(w http.ResponseWriter) {
	writeResult(w, http.StatusOK, nil)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeServiceError maps a service error to an HTTP status and writes it.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, httpStatusForError(err), err.Error())
}

// httpStatusForError classifies service errors: validation 400,
// precondition 409, timeout 504, transport/remote 502, storage and
// everything else 500.
func httpStatusForError(err error) int {
	switch {
	case errors.Is(err, database.ErrNoFields):
		return http.StatusBadRequest
	case errors.Is(err, ticketing.ErrNotConnected),
		errors.Is(err, voice.ErrNotReady),
		errors.Is(err, database.ErrDuplicateCallID):
		return http.StatusConflict
	case errors.Is(err, voice.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}

	// Remote replies with a non-2xx status are reported as plain strings.
	msg := err.Error()
	if strings.HasPrefix(msg, "HTTP ") || strings.Contains(msg, "1C API error") {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// decodeJSON decodes a request body into dst with a 1 MB cap.
func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dst)
}

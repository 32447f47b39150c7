package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"botchat/internal/domain"
	"botchat/internal/observability"
)

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotParticipant),
		errors.Is(err, domain.ErrNotSender),
		errors.Is(err, domain.ErrSenderCannotReadOwnMessage):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrHandleExists),
		errors.Is(err, domain.ErrRoomExists):
		return http.StatusConflict
	case domain.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeError renders err as {"error": ...}. Unexpected errors are logged and masked.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		observability.Error(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeMessage(w, status, "Internal server error")
		return
	}
	observability.Debug(r.Context(), "request rejected", "status", status, "error", err)
	writeMessage(w, status, err.Error())
}

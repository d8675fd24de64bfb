package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/achintir-projects/android-ios-automation-sub001/internal/channel"
	"github.com/achintir-projects/android-ios-automation-sub001/internal/service/deploy"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps orchestrator errors to status codes.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var invalid *channel.ValidationError
	switch {
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  invalid.Error(),
			"fields": invalid.Fields,
		})
	case errors.Is(err, deploy.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, deploy.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, deploy.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	default:
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

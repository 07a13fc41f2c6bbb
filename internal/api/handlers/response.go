package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/models"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeData wraps data in the standard envelope with the elapsed time.
func writeData(w http.ResponseWriter, status int, data interface{}, start time.Time) {
	writeJSON(w, status, models.APIResponse{
		Data: data,
		Meta: &models.APIMeta{ExecutionTime: time.Since(start).Milliseconds()},
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.APIError{
		Error: models.APIErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeRunError maps a consolidation error onto an HTTP status and error code.
func writeRunError(w http.ResponseWriter, err error) {
	code := config.ErrorCode(err)
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, config.ErrInvalidDestination):
		status = http.StatusBadRequest
	case errors.Is(err, config.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, config.ErrNoSigner):
		status = http.StatusServiceUnavailable
	case errors.Is(err, config.ErrDiscoveryFailure):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		code = config.ErrorRunCancelled
	}

	writeError(w, status, code, err.Error())
}

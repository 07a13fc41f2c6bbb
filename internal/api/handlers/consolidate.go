package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Fantasim/solmigrate/internal/config"
	"github.com/Fantasim/solmigrate/internal/ledger"
	"github.com/Fantasim/solmigrate/internal/models"
)

// Consolidator runs consolidations and reports the runner state.
type Consolidator interface {
	RunConsolidation(ctx context.Context, destination string, toggles models.ClassToggles) (*models.RunSummary, error)
	Status() models.RunStatus
}

// consolidateRequest is the JSON body for POST /api/consolidate. Omitted
// toggles enable every class.
type consolidateRequest struct {
	Destination string               `json:"destination"`
	Toggles     *models.ClassToggles `json:"toggles"`
}

// StartConsolidation handles POST /api/consolidate.
//
// By default the run starts in the background under runCtx and the handler
// answers 202; progress arrives on /api/events. With ?wait=true the request
// blocks until the run finishes and returns the summary, and disconnecting
// cancels the run.
func StartConsolidation(runCtx context.Context, runner Consolidator) http.HandlerFunc {
	var inFlight atomic.Bool

	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var req consolidateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			slog.Warn("invalid consolidate request body", "error", err, "remoteAddr", r.RemoteAddr)
			writeError(w, http.StatusBadRequest, config.ErrorInvalidRequest, "invalid request body")
			return
		}

		if _, err := ledger.ValidateDestination(req.Destination); err != nil {
			slog.Warn("consolidate rejected", "destination", req.Destination, "error", err)
			writeRunError(w, err)
			return
		}

		toggles := models.AllClasses()
		if req.Toggles != nil {
			toggles = *req.Toggles
		}

		if !inFlight.CompareAndSwap(false, true) {
			writeRunError(w, config.ErrRunInProgress)
			return
		}

		wait := r.URL.Query().Get("wait") == "true"

		slog.Info("consolidation requested",
			"destination", req.Destination,
			"toggles", toggles,
			"wait", wait,
			"remoteAddr", r.RemoteAddr,
		)

		if wait {
			defer inFlight.Store(false)

			summary, err := runner.RunConsolidation(r.Context(), req.Destination, toggles)
			if err != nil {
				writeRunError(w, err)
				return
			}
			writeData(w, http.StatusOK, summary, start)
			return
		}

		go func() {
			defer inFlight.Store(false)

			summary, err := runner.RunConsolidation(runCtx, req.Destination, toggles)
			switch {
			case err != nil && errors.Is(err, context.Canceled):
				slog.Warn("background consolidation cancelled", "destination", req.Destination)
			case err != nil:
				slog.Error("background consolidation failed", "destination", req.Destination, "error", err)
			default:
				slog.Info("background consolidation finished",
					"runId", summary.RunID,
					"classes", len(summary.Classes),
				)
			}
		}()

		writeData(w, http.StatusAccepted, map[string]interface{}{
			"message":     "consolidation started",
			"destination": req.Destination,
			"toggles":     toggles,
		}, start)
	}
}

// GetRun handles GET /api/run.
func GetRun(runner Consolidator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writeData(w, http.StatusOK, runner.Status(), start)
	}
}

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/Fantasim/solmigrate/internal/config"
)

// HealthHandler returns a handler for the GET /api/health endpoint.
func HealthHandler(cfg *config.Config, version, signer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("health check requested", "remoteAddr", r.RemoteAddr)

		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
			"network": cfg.Network,
			"signer":  signer,
		})
	}
}

package api

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Fantasim/solmigrate/internal/api/handlers"
	"github.com/Fantasim/solmigrate/internal/api/middleware"
	"github.com/Fantasim/solmigrate/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Deps are the services the API serves.
type Deps struct {
	Config   *config.Config
	Signer   string
	Holdings handlers.HoldingsReader
	Prices   handlers.Pricer // optional
	Runner   handlers.Consolidator
	Events   handlers.EventStream
}

// NewRouter creates the chi router with all middleware and routes. Runs
// started in the background live under runCtx.
func NewRouter(runCtx context.Context, deps Deps) chi.Router {
	r := chi.NewRouter()

	// Middleware stack (order matters)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.CSRF)

	slog.Info("router initialized",
		"middleware", []string{"recoverer", "requestLogging", "hostCheck", "cors", "csrf"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(deps.Config, Version, deps.Signer))
		r.Get("/holdings/{owner}", handlers.GetHoldings(deps.Holdings, deps.Prices))
		r.Post("/consolidate", handlers.StartConsolidation(runCtx, deps.Runner))
		r.Get("/run", handlers.GetRun(deps.Runner))
		r.Get("/events", handlers.Events(deps.Events))
	})

	return r
}

package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"veogen/internal/http/handlers"
	"veogen/internal/infra"
	"veogen/internal/middleware"
)

// NewRouter mounts the API. corsOrigins may be empty.
func NewRouter(app *handlers.App, logger infra.Logger, corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	if len(corsOrigins) > 0 {
		r.Use(middleware.CORS(corsOrigins))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/videos", func(r chi.Router) {
		r.Post("/", app.VideosGenerate)
		r.Post("/batch", app.VideosBatch)
	})
	r.Get("/v1/generations", app.Generations)

	return r
}

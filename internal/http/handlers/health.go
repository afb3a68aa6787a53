package handlers

import (
	"context"
	"net/http"
	"time"
)

const checkTimeout = 2 * time.Second

// HealthCheck tests one dependency for the health endpoint.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Health runs every check and answers 503 when any of them fails.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(a.HealthChecks))
	status, code := "ok", http.StatusOK
	for _, c := range a.HealthChecks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			a.Logger.Warn().Err(err).Str("check", c.Name).Msg("http: health check failed")
			checks[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}
	a.json(w, code, map[string]any{"status": status, "checks": checks})
}

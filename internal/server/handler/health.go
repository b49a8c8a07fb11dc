package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthProbe checks one backing dependency.
type HealthProbe func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	mode   string
	probes map[string]HealthProbe
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler. probes maps a dependency name
// (postgres, redis, s3) to its check; it may be nil.
func NewHealthHandler(mode string, probes map[string]HealthProbe, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{mode: mode, probes: probes, logger: logger}
}

// HealthCheck reports "ok" when every probe passes and "degraded" with a 503
// otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(h.probes))
	for name, probe := range h.probes {
		if err := probe(ctx); err != nil {
			h.logger.WarnContext(ctx, "health probe failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = "down"
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		checks[name] = "up"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"mode":      h.mode,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"leasecli/internal/license"
	"leasecli/pkg/contracts"
	api "leasecli/pkg/contracts/api/v1"
)

// StatusReporter is the part of the license manager health checks need
type StatusReporter interface {
	GetStatus(ctx context.Context) license.Status
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	reporter StatusReporter
	logger   *slog.Logger
	clock    func() time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(reporter StatusReporter, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		reporter: reporter,
		logger:   logger.With(slog.String("handler", "health")),
		clock:    time.Now,
	}
}

// Routes sets up the health routes
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/live", h.LivenessCheck)
	r.Get("/ready", h.ReadinessCheck)
	return r
}

// HealthCheck handles GET /api/health. The daemon is healthy while it serves
// requests; the lease state is reported alongside.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.GetStatus(r.Context())
	render.JSON(w, r, api.HealthResponse{
		Status:    "ok",
		License:   status.State.String(),
		Version:   contracts.GetVersionInfo(),
		Timestamp: h.clock().UTC(),
	})
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}

// ReadinessCheck handles GET /api/health/ready. The daemon is ready only when
// the lease grants access.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	status := h.reporter.GetStatus(r.Context())
	resp := api.HealthResponse{
		Status:    "ready",
		License:   status.State.String(),
		Version:   contracts.GetVersionInfo(),
		Timestamp: h.clock().UTC(),
	}
	if !status.Valid {
		h.logger.DebugContext(r.Context(), "not ready", slog.String("license", resp.License))
		resp.Status = "not_ready"
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}

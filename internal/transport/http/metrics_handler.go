package http

import (
	"net/http"

	"github.com/go-chi/render"

	apierrors "leasecli/internal/errors"
)

// MetricsHandler serves the Prometheus scrape endpoint
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler creates a metrics handler. A nil exporter means the
// Prometheus exporter is disabled and the endpoint answers 404.
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		render.Render(w, r, apierrors.NewProblemDetails(
			http.StatusNotFound,
			apierrors.TypeNotFound,
			"Not Found",
			"Metrics export is disabled",
			r.URL.Path,
		))
		return
	}
	h.exporter.ServeHTTP(w, r)
}

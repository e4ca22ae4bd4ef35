package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
	"leasecli/internal/license"
	appmw "leasecli/internal/middleware"
	"leasecli/internal/security"
	api "leasecli/pkg/contracts/api/v1"
)

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	manager      license.ManagerInterface
	validator    *appmw.ValidationMiddleware
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(
	manager license.ManagerInterface,
	validator *appmw.ValidationMiddleware,
	errorHandler *apierrors.ErrorHandler,
	logger *slog.Logger,
) *LicenseHandler {
	return &LicenseHandler{
		manager:      manager,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "license")),
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	// Activation can wait on a slow authority with retries
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/status", h.GetStatus)
	r.Get("/fingerprint", h.GetFingerprint)

	r.Group(func(r chi.Router) {
		r.Use(appmw.ContentTypeValidator("application/json"))
		r.Use(h.validator.ValidateRequest)
		r.Post("/activate", h.Activate)
		r.Post("/version", h.ReportVersion)
	})

	r.Post("/renew", h.Renew)
	r.Post("/deactivate", h.Deactivate)

	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "get_status")
	defer span.End()

	status := h.manager.GetStatus(ctx)
	span.SetAttributes(
		attribute.String("license.state", status.State.String()),
		attribute.Int64("license.days_left", status.DaysLeft),
	)

	render.JSON(w, r, StatusToResponse(status))
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "activate")
	defer span.End()
	reqID := middleware.GetReqID(ctx)

	var req api.LicenseActivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_decode"))
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		span.SetAttributes(attribute.String("error.type", "request_validation"))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	start := time.Now()
	record, err := h.manager.Activate(ctx, req.LicenseKey)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.String("license.activation_kind", string(apierrors.ActivationKindOf(err))))
		h.logger.WarnContext(ctx, "license activation failed",
			slog.String("request_id", reqID),
			slog.String("kind", string(apierrors.ActivationKindOf(err))),
			slog.Duration("latency", time.Since(start)))
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license activated",
		slog.String("request_id", reqID),
		slog.String("entity", record.EntityName),
		slog.String("tier", string(record.PrivilegeTier)),
		slog.Duration("latency", time.Since(start)))

	render.JSON(w, r, api.LicenseActivateResponse{
		Success:     true,
		Message:     fmt.Sprintf("License activated for %s.", record.EntityName),
		EntityName:  record.EntityName,
		Tier:        string(record.PrivilegeTier),
		ActivatedAt: record.ActivatedAt,
		ExpiresAt:   record.LeaseExpiresAt,
		Status:      StatusToResponse(h.manager.GetStatus(ctx)),
		TraceID:     infrastructure.TraceIDFromContext(ctx),
	})
}

// Renew handles POST /api/license/renew. A declined renewal is not an error;
// the response reports it and carries the unchanged status.
func (h *LicenseHandler) Renew(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "renew")
	defer span.End()

	renewed := h.manager.RenewLease(ctx)
	span.SetAttributes(attribute.Bool("license.renewed", renewed))

	render.JSON(w, r, api.LicenseRenewResponse{
		Renewed: renewed,
		Status:  StatusToResponse(h.manager.GetStatus(ctx)),
	})
}

// Deactivate handles POST /api/license/deactivate
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "deactivate")
	defer span.End()

	if err := h.manager.Deactivate(ctx); err != nil {
		span.RecordError(err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license deactivated on this machine",
		slog.String("request_id", middleware.GetReqID(ctx)))
	render.JSON(w, r, StatusToResponse(h.manager.GetStatus(ctx)))
}

// ReportVersion handles POST /api/license/version. Reporting is best effort,
// so the request is accepted once it validates.
func (h *LicenseHandler) ReportVersion(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "report_version")
	defer span.End()

	var req api.ReportVersionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	req.Version = strings.TrimSpace(req.Version)
	if req.Version == "" {
		h.errorHandler.HandleError(w, r, apierrors.ErrValidation("version", "must not be blank"))
		return
	}

	h.manager.ReportVersion(ctx, req.Version)

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]string{"version": req.Version})
}

// GetFingerprint handles GET /api/license/fingerprint
func (h *LicenseHandler) GetFingerprint(w http.ResponseWriter, r *http.Request) {
	fp := h.manager.Fingerprint()
	render.JSON(w, r, api.FingerprintResponse{
		Fingerprint: fp,
		Short:       security.ShortFingerprint(fp),
		Degraded:    h.manager.GetStatus(r.Context()).Degraded,
	})
}

func (h *LicenseHandler) startSpan(r *http.Request, operation string) (context.Context, trace.Span) {
	return otel.Tracer("license-handler").Start(r.Context(), "license_handler."+operation,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("operation", operation),
		),
	)
}

// StatusToResponse maps a lease status to its API representation.
func StatusToResponse(s license.Status) api.LicenseStatusResponse {
	return api.LicenseStatusResponse{
		State:      s.State.String(),
		Valid:      s.Valid,
		DaysLeft:   s.DaysLeft,
		Warning:    s.Warning,
		ExpiresAt:  s.ExpiresAt,
		EntityName: s.EntityName,
		Tier:       string(s.Tier),
		MaskedKey:  s.MaskedKey,
		Degraded:   s.Degraded,
		Message:    StatusMessage(s),
		CheckedAt:  s.CheckedAt,
	}
}

// StatusMessage is the user-facing explanation of a lease state.
func StatusMessage(s license.Status) string {
	switch s.State {
	case license.StateNoLicense:
		return "No license is activated. Enter a license key to continue."
	case license.StateHardwareMismatch:
		return "This license is bound to a different machine. Activate a license key for this device."
	case license.StateClockTampered:
		return "The system clock appears to have been set back. Correct the date and time to continue."
	case license.StateExpired:
		return "The license lease has expired. Connect to the internet so it can be renewed."
	case license.StateValid:
		if s.Warning {
			return fmt.Sprintf("The license lease expires in %s. Connect to the internet so it can be renewed.", pluralDays(s.DaysLeft))
		}
		return "License is active."
	default:
		return "License status unavailable."
	}
}

func pluralDays(n int64) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"leasecli/internal/config"
	apierrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
	"leasecli/internal/license"
	customMiddleware "leasecli/internal/middleware"
	"leasecli/internal/security"
	"leasecli/internal/storage"
	handlers "leasecli/internal/transport/http"
	ws "leasecli/internal/websocket"
	"leasecli/pkg/contracts/events"
)

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	LicenseManager *license.Manager
	LicenseGate    *customMiddleware.LicenseValidator
	WebSocketHub   *ws.Hub
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders

	backend storage.Backend
}

// Overrides replaces the machine- and network-bound parts of the license
// stack. Zero fields fall back to what the configuration selects.
type Overrides struct {
	Authority   license.Authority
	Fingerprint string
	Encryption  *security.EncryptionConfig
	Clock       func() time.Time
}

// LicenseStack is an assembled license manager and the storage it owns.
type LicenseStack struct {
	Manager *license.Manager
	Backend storage.Backend
}

// Close releases the storage backend.
func (s *LicenseStack) Close() error {
	return s.Backend.Close()
}

// NewApplication loads configuration and builds the daemon
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger, Overrides{})
}

// New wires the application from an already loaded configuration
func New(cfg *config.Config, logger *slog.Logger, ov Overrides) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion))

	if err := config.PathsFor(cfg.Paths.ExecutableDir).EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	if cfg.LeaseWarnsImmediately() {
		logger.Warn("Lease duration does not exceed the warning threshold; every fresh lease starts in the warning window",
			slog.Duration("lease_duration", cfg.License.LeaseDuration),
			slog.Duration("warning_threshold", cfg.License.WarningThreshold))
	}

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	stack, err := BuildLicenseStack(context.Background(), cfg, logger, otelProviders.Meter, ov)
	if err != nil {
		_ = otelProviders.Shutdown(context.Background())
		return nil, err
	}

	a := &Application{
		Config:         cfg,
		LicenseManager: stack.Manager,
		WebSocketHub:   ws.NewHub(logger, otelProviders.Meter),
		Logger:         logger,
		OTelProviders:  otelProviders,
		backend:        stack.Backend,
	}
	a.LicenseGate = customMiddleware.NewLicenseValidator(a.LicenseManager, cfg.License.GateCacheTTL, logger)
	a.LicenseGate.Exclude("/api/health/live", "/api/health/ready")

	// Every state change drops the cached gate verdict and reaches connected UIs
	a.LicenseManager.Subscribe(func(s license.Status) {
		a.LicenseGate.Invalidate()
		a.WebSocketHub.Broadcast(events.NewMessage(events.MessageTypeLicenseStatus, statusEvent(s)))
	})

	a.setupRouter()
	a.createServer()

	return a, nil
}

// BuildLicenseStack assembles the license manager: machine fingerprint,
// fingerprint-keyed encrypted store, authority and metrics.
func BuildLicenseStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, meter metric.Meter, ov Overrides) (*LicenseStack, error) {
	fp, degraded := ov.Fingerprint, false
	if fp == "" {
		var err error
		fp, degraded, err = license.FingerprintFor(security.NewFingerprintManager(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve machine fingerprint: %w", err)
		}
	}

	cipher, err := security.NewCipher(cfg.License.AppSalt, fp, ov.Encryption)
	if err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}

	backend, err := storage.OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open license storage: %w", err)
	}

	authority := ov.Authority
	if authority == nil {
		authority, err = license.NewAuthority(ctx, cfg, logger)
		if err != nil {
			backend.Close()
			return nil, fmt.Errorf("failed to create license authority: %w", err)
		}
	}

	metrics, err := license.InitializeLicenseMetrics(meter)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create license metrics: %w", err)
	}

	opts := license.OptionsFromConfig(cfg)
	opts.Store = license.NewLeaseStore(storage.NewEncryptedStore(backend, cipher), logger)
	opts.Authority = authority
	opts.Fingerprint = fp
	opts.Degraded = degraded
	opts.Metrics = metrics
	opts.Logger = logger
	opts.Clock = ov.Clock

	manager, err := license.NewManager(opts)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create license manager: %w", err)
	}

	return &LicenseStack{Manager: manager, Backend: backend}, nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	// RequestID → OTel → Logger → Recoverer → SecurityHeaders → RateLimit → License
	r.Use(customMiddleware.RequestID)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(errorHandler.Recoverer)
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Server.RateLimitRPS > 0 {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Server.RateLimitRPS,
			a.Config.Server.RateLimitBurst,
			a.Logger,
		).Handler)
	}

	r.Use(a.LicenseGate.Handler)

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	a.setupAPIRoutes(r, errorHandler)

	r.Handle("/ws", ws.NewHandler(a.WebSocketHub, a.Config.WebSocket.AllowedOrigins, a.Logger))
	r.Handle("/metrics", handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP))
	a.setupStaticRoutes(r)

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apierrors.ErrorHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		healthHandler := handlers.NewHealthHandler(a.LicenseManager, a.Logger)
		r.Mount("/health", healthHandler.Routes())

		licenseHandler := handlers.NewLicenseHandler(
			a.LicenseManager,
			customMiddleware.NewValidationMiddleware(a.Logger, errorHandler),
			errorHandler,
			a.Logger,
		)
		r.Mount("/license", licenseHandler.Routes())
	})
}

// setupStaticRoutes serves the embedded UI assets when the web directory exists
func (a *Application) setupStaticRoutes(r chi.Router) {
	webDir := a.Config.GetWebDir()
	if webDir == "" || !config.FileExists(webDir) {
		a.Logger.Debug("No web directory, static assets disabled", slog.String("web_dir", webDir))
		return
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(webDir))))
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run serves HTTP, runs the websocket hub and the lease renewer until ctx is
// cancelled or an interrupt arrives, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := a.LicenseManager.GetStatus(ctx)
	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", a.Server.Addr),
		slog.String("license_state", status.State.String()),
		slog.Int64("days_left", status.DaysLeft),
		slog.Bool("degraded_fingerprint", status.Degraded))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.WebSocketHub.Run(gctx)
	})
	g.Go(func() error {
		return license.RunRenewer(gctx, a.LicenseManager, a.Config.License.RenewInterval)
	})
	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if closeErr := a.Close(context.Background()); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases storage and flushes telemetry. It does not stop a running server.
func (a *Application) Close(ctx context.Context) error {
	var errs []error

	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close license storage: %w", err))
		}
		a.backend = nil
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")

	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	return errors.Join(errs...)
}

func statusEvent(s license.Status) events.LicenseStatusData {
	return events.LicenseStatusData{
		State:      s.State.String(),
		Valid:      s.Valid,
		DaysLeft:   s.DaysLeft,
		Warning:    s.Warning,
		ExpiresAt:  s.ExpiresAt,
		EntityName: s.EntityName,
		Degraded:   s.Degraded,
	}
}

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apierrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
)

const validationCacheKey = "license_valid"

// LicenseChecker is the part of the license manager the gate needs
type LicenseChecker interface {
	IsAuthenticated(ctx context.Context) bool
}

// LicenseValidator gates requests behind a valid lease. Verdicts are cached
// for a short TTL and dropped whenever the lease state changes.
type LicenseValidator struct {
	checker         LicenseChecker
	logger          *slog.Logger
	cache           *cache.Cache
	ttl             time.Duration
	excludePaths    map[string]struct{}
	excludePrefixes []string
}

// NewLicenseValidator creates the license gate. A non-positive ttl disables caching.
func NewLicenseValidator(checker LicenseChecker, ttl time.Duration, logger *slog.Logger) *LicenseValidator {
	lv := &LicenseValidator{
		checker: checker,
		logger:  infrastructure.WithComponent(logger, "license_middleware"),
		ttl:     ttl,
		excludePaths: map[string]struct{}{
			"/api/health":              {},
			"/api/license/status":      {},
			"/api/license/activate":    {},
			"/api/license/renew":       {},
			"/api/license/deactivate":  {},
			"/api/license/fingerprint": {},
			"/metrics":                 {},
			"/ws":                      {},
		},
		excludePrefixes: []string{"/static/"},
	}
	if ttl > 0 {
		lv.cache = cache.New(ttl, 2*ttl)
	}
	return lv
}

// Exclude adds paths that never require a license
func (lv *LicenseValidator) Exclude(paths ...string) {
	for _, p := range paths {
		lv.excludePaths[p] = struct{}{}
	}
}

// Invalidate drops the cached verdict
func (lv *LicenseValidator) Invalidate() {
	if lv.cache != nil {
		lv.cache.Delete(validationCacheKey)
	}
}

// Handler returns the middleware handler function
func (lv *LicenseValidator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lv.shouldExcludePath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := otel.Tracer("license-middleware").Start(r.Context(), "license_middleware.validate")
		valid, cached := lv.isValid(ctx)
		span.SetAttributes(
			attribute.Bool("license.valid", valid),
			attribute.Bool("cache.hit", cached),
		)
		span.End()

		if !valid {
			lv.logger.WarnContext(ctx, "request blocked without valid license",
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method))
			apierrors.WriteError(w, apierrors.ErrLicenseRequired)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (lv *LicenseValidator) isValid(ctx context.Context) (valid, cached bool) {
	if lv.cache != nil {
		if v, ok := lv.cache.Get(validationCacheKey); ok {
			return v.(bool), true
		}
	}

	valid = lv.checker.IsAuthenticated(ctx)
	if lv.cache != nil {
		lv.cache.SetDefault(validationCacheKey, valid)
	}
	return valid, false
}

func (lv *LicenseValidator) shouldExcludePath(path string) bool {
	if _, ok := lv.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range lv.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

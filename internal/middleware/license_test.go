package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	valid atomic.Bool
	calls atomic.Int32
}

func (s *stubChecker) IsAuthenticated(context.Context) bool {
	s.calls.Add(1)
	return s.valid.Load()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLicenseValidatorBlocksWithoutLicense(t *testing.T) {
	checker := &stubChecker{}
	h := NewLicenseValidator(checker, time.Minute, discardLogger()).Handler(okHandler())

	rec := serve(h, "/api/reports")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, rec.Body.String(), "LICENSE_REQUIRED")
}

func TestLicenseValidatorExcludedPaths(t *testing.T) {
	checker := &stubChecker{}
	lv := NewLicenseValidator(checker, time.Minute, discardLogger())
	lv.Exclude("/custom")
	h := lv.Handler(okHandler())

	for _, path := range []string{"/api/health", "/api/license/activate", "/api/license/status", "/static/app.js", "/custom"} {
		assert.Equal(t, http.StatusOK, serve(h, path).Code, path)
	}
	assert.Equal(t, int32(0), checker.calls.Load())
}

func TestLicenseValidatorCachesVerdict(t *testing.T) {
	checker := &stubChecker{}
	checker.valid.Store(true)
	lv := NewLicenseValidator(checker, time.Minute, discardLogger())
	h := lv.Handler(okHandler())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(h, "/api/data").Code)
	}
	assert.Equal(t, int32(1), checker.calls.Load())

	// Lease state changed; the cached verdict must not outlive it
	checker.valid.Store(false)
	lv.Invalidate()
	assert.Equal(t, http.StatusForbidden, serve(h, "/api/data").Code)
	assert.Equal(t, int32(2), checker.calls.Load())
}

func TestLicenseValidatorWithoutCache(t *testing.T) {
	checker := &stubChecker{}
	checker.valid.Store(true)
	h := NewLicenseValidator(checker, 0, discardLogger()).Handler(okHandler())

	serve(h, "/api/data")
	serve(h, "/api/data")
	assert.Equal(t, int32(2), checker.calls.Load())
}

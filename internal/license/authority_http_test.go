package license

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leasecli/internal/config"
)

func newTestHTTPAuthority(t *testing.T, handler http.HandlerFunc) *HTTPAuthority {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewHTTPAuthority(config.AuthorityConfig{
		Kind:          config.AuthorityHTTP,
		URL:           srv.URL,
		Timeout:       2 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, testLogger())
}

func writeEnvelope(w http.ResponseWriter, resp authorityResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestHTTPAuthorityLookupAndClaim(t *testing.T) {
	var bound string
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req authorityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Code != "ABCD1234" {
			writeEnvelope(w, authorityResponse{Success: false, Error: "no such key", ErrorCode: errorCodeNotFound})
			return
		}
		if req.Action == actionClaim && bound == "" {
			bound = req.HardwareID
		}
		writeEnvelope(w, authorityResponse{Success: true, Data: &RemoteLicenseRecord{
			LicenseKey:      req.Code,
			EntityID:        "ENT-9",
			EntityName:      "Tigris Capital",
			BoundHardwareID: bound,
			Active:          true,
			PrivilegeTier:   "master",
		}})
	})
	ctx := context.Background()

	rec, err := authority.Lookup(ctx, "ABCD1234")
	require.NoError(t, err)
	assert.Equal(t, "ENT-9", rec.EntityID)
	assert.Empty(t, rec.BoundHardwareID)
	assert.Equal(t, TierMaster, rec.PrivilegeTier)

	rec, err = authority.Claim(ctx, "ABCD1234", fpA)
	require.NoError(t, err)
	assert.Equal(t, fpA, rec.BoundHardwareID)

	rec, err = authority.Claim(ctx, "ABCD1234", fpB)
	require.NoError(t, err)
	assert.Equal(t, fpA, rec.BoundHardwareID, "first writer wins")

	_, err = authority.Lookup(ctx, "MISSING")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestHTTPAuthorityRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		writeEnvelope(w, authorityResponse{Success: true, Data: &RemoteLicenseRecord{LicenseKey: "K", Active: true}})
	})

	rec, err := authority.Lookup(context.Background(), "K")
	require.NoError(t, err)
	assert.True(t, rec.Active)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPAuthorityGivesUp(t *testing.T) {
	var calls atomic.Int32
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	})

	_, err := authority.Lookup(context.Background(), "K")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPAuthorityDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, authorityResponse{Success: false, Error: "sheet locked", ErrorCode: "LOCKED"})
	})

	_, err := authority.Lookup(context.Background(), "K")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPAuthorityReportVersion(t *testing.T) {
	var got authorityRequest
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, authorityResponse{Success: true})
	})

	require.NoError(t, authority.ReportVersion(context.Background(), "ENT-9", "2.0.1"))
	assert.Equal(t, actionReportVersion, got.Action)
	assert.Equal(t, "ENT-9", got.EntityID)
	assert.Equal(t, "2.0.1", got.Version)
}

func TestHTTPAuthorityHonoursCancellation(t *testing.T) {
	authority := newTestHTTPAuthority(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, authorityResponse{Success: true, Data: &RemoteLicenseRecord{}})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := authority.Lookup(ctx, "K")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPAuthorityStopsBackoffOnCancellation(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	authority := NewHTTPAuthority(config.AuthorityConfig{
		Kind:          config.AuthorityHTTP,
		URL:           srv.URL,
		Timeout:       2 * time.Second,
		RetryAttempts: 5,
		RetryDelay:    3 * time.Second,
	}, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := authority.Lookup(ctx, "K")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

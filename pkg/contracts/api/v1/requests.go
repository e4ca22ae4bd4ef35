// Package api contains the HTTP API contracts of the license daemon.
// Version v1 represents the current stable API version.
package api

import (
	"time"

	"leasecli/pkg/contracts"
)

// LicenseActivateRequest represents a license activation request
type LicenseActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,min=4,max=128,licensekey"`
}

// ReportVersionRequest reports the running application version
type ReportVersionRequest struct {
	Version string `json:"version" validate:"required,max=64"`
}

// LicenseStatusResponse is the detailed lease status
type LicenseStatusResponse struct {
	State      string     `json:"state"`
	Valid      bool       `json:"valid"`
	DaysLeft   int64      `json:"days_left"`
	Warning    bool       `json:"warning"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	EntityName string     `json:"entity_name,omitempty"`
	Tier       string     `json:"tier,omitempty"`
	MaskedKey  string     `json:"masked_key,omitempty"`
	Degraded   bool       `json:"degraded"`
	Message    string     `json:"message"`
	CheckedAt  time.Time  `json:"checked_at"`
}

// LicenseActivateResponse is returned by a successful activation
type LicenseActivateResponse struct {
	Success     bool                  `json:"success"`
	Message     string                `json:"message"`
	EntityName  string                `json:"entity_name"`
	Tier        string                `json:"tier"`
	ActivatedAt time.Time             `json:"activated_at"`
	ExpiresAt   time.Time             `json:"expires_at"`
	Status      LicenseStatusResponse `json:"status"`
	TraceID     string                `json:"trace_id,omitempty"`
}

// LicenseRenewResponse reports the outcome of a renewal attempt
type LicenseRenewResponse struct {
	Renewed bool                  `json:"renewed"`
	Status  LicenseStatusResponse `json:"status"`
}

// FingerprintResponse exposes the machine fingerprint for support cases
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
	Short       string `json:"short"`
	Degraded    bool   `json:"degraded"`
}

// HealthResponse is returned by GET /api/health
type HealthResponse struct {
	Status    string                `json:"status"`
	License   string                `json:"license"`
	Version   contracts.VersionInfo `json:"version"`
	Timestamp time.Time             `json:"timestamp"`
}

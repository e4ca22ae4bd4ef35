package license

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"leasecli/internal/config"
	licenseErrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
	"leasecli/internal/security"
)

// Status is the detailed lease status shown to users and HTTP clients.
type Status struct {
	State      LeaseState    `json:"state"`
	Valid      bool          `json:"valid"`
	DaysLeft   int64         `json:"days_left"`
	Warning    bool          `json:"warning"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	EntityName string        `json:"entity_name,omitempty"`
	Tier       PrivilegeTier `json:"tier,omitempty"`
	MaskedKey  string        `json:"masked_key,omitempty"`
	Degraded   bool          `json:"degraded"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// Listener is notified whenever the lease state changes.
type Listener func(Status)

// ManagerInterface is the surface the HTTP layer and CLI depend on.
type ManagerInterface interface {
	Activate(ctx context.Context, key string) (*LocalLeaseRecord, error)
	IsAuthenticated(ctx context.Context) bool
	GetStatus(ctx context.Context) Status
	RenewLease(ctx context.Context) bool
	Deactivate(ctx context.Context) error
	ReportVersion(ctx context.Context, version string)
	Fingerprint() string
	Subscribe(listener Listener)
}

// Options configures a Manager. Store, Authority and Fingerprint are required.
type Options struct {
	Store       *LeaseStore
	Authority   Authority
	Fingerprint string
	// Degraded marks a fingerprint derived without a hardware identifier
	Degraded bool

	Policy          Policy
	ActivationRate  float64
	ActivationBurst int

	Metrics *LicenseMetrics
	Logger  *slog.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
}

// OptionsFromConfig fills the policy and throttle settings from configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Policy:          PolicyFromConfig(cfg.License),
		ActivationRate:  cfg.License.ActivationRate,
		ActivationBurst: cfg.License.ActivationBurst,
	}
}

// Manager is the single entry point for the host application. It
// orchestrates the store, the validator and the activation client.
type Manager struct {
	store       *LeaseStore
	client      *ActivationClient
	fingerprint string
	degraded    bool
	policy      Policy
	metrics     *LicenseMetrics
	logger      *slog.Logger
	now         func() time.Time

	// opMu serialises activate, renew and deactivate
	opMu sync.Mutex
	// stateMu guards store access and lastState
	stateMu   sync.Mutex
	lastState *LeaseState

	renewGroup singleflight.Group

	listenersMu sync.RWMutex
	listeners   []Listener
}

var _ ManagerInterface = (*Manager)(nil)

// NewManager creates a license manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("license manager requires a lease store")
	}
	if opts.Authority == nil {
		return nil, errors.New("license manager requires an authority")
	}
	if opts.Fingerprint == "" {
		return nil, errors.New("license manager requires a fingerprint")
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Metrics == nil {
		metrics, err := InitializeLicenseMetrics(nil)
		if err != nil {
			return nil, err
		}
		opts.Metrics = metrics
	}

	return &Manager{
		store:       opts.Store,
		client:      NewActivationClient(opts.Authority, opts.Policy, opts.ActivationRate, opts.ActivationBurst, opts.Logger),
		fingerprint: opts.Fingerprint,
		degraded:    opts.Degraded,
		policy:      opts.Policy,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Clock,
	}, nil
}

// Fingerprint returns the machine fingerprint leases are bound to.
func (m *Manager) Fingerprint() string {
	return m.fingerprint
}

// Degraded reports whether the fingerprint lacks a hardware identifier.
func (m *Manager) Degraded() bool {
	return m.degraded
}

// Subscribe registers a listener for lease state changes.
func (m *Manager) Subscribe(listener Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, listener)
}

// Activate claims key for this machine and persists the resulting lease.
// Errors are *errors.ActivationError except for local write failures.
func (m *Manager) Activate(ctx context.Context, key string) (*LocalLeaseRecord, error) {
	ctx, span := tracer().Start(ctx, "license.activate")
	defer span.End()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()
	record, err := m.client.Activate(ctx, key, m.fingerprint, m.now())
	if err != nil {
		kind := licenseErrors.ActivationKindOf(err)
		m.metrics.recordActivation(ctx, string(kind), time.Since(start))
		infrastructure.RecordError(ctx, err)
		m.logLicenseAction(ctx, slog.LevelWarn, "activate", "Activation failed", NormalizeKey(key),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return nil, err
	}

	m.stateMu.Lock()
	err = m.store.Save(record)
	m.stateMu.Unlock()
	if err != nil {
		m.metrics.recordActivation(ctx, "store_error", time.Since(start))
		m.logLicenseAction(ctx, slog.LevelError, "activate", "Failed to persist activated lease", record.LicenseKey,
			slog.String("error", err.Error()))
		return nil, err
	}

	m.metrics.recordActivation(ctx, "success", time.Since(start))
	span.SetAttributes(attribute.String("license.tier", string(record.PrivilegeTier)))
	m.logLicenseAction(ctx, slog.LevelInfo, "activate", "License activated", record.LicenseKey,
		slog.String("entity_id", record.EntityID),
		slog.String("tier", string(record.PrivilegeTier)),
		slog.Time("expires_at", record.LeaseExpiresAt))

	m.GetStatus(ctx)
	return record, nil
}

// IsAuthenticated reports whether the stored lease currently grants access.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.GetStatus(ctx).Valid
}

// GetStatus validates the stored lease against the current clock, persists
// any last_known_time advance and returns the detailed status.
func (m *Manager) GetStatus(ctx context.Context) Status {
	m.stateMu.Lock()
	status, changed := m.validateLocked(ctx)
	m.stateMu.Unlock()

	if changed {
		m.notify(status)
	}
	return status
}

// validateLocked requires stateMu
func (m *Manager) validateLocked(ctx context.Context) (Status, bool) {
	now := m.now()

	record, err := m.store.Load()
	if err != nil {
		m.logError(ctx, "validate", "Failed to read lease store", slog.String("error", err.Error()))
		record = nil
	}

	verdict := Validate(record, m.fingerprint, now, m.policy)
	if !verdict.AdvanceTo.IsZero() && record.Advance(verdict.AdvanceTo) {
		if err := m.store.Save(record); err != nil {
			m.logWarn(ctx, "validate", "Failed to persist last known time", slog.String("error", err.Error()))
		}
	}

	m.metrics.recordValidation(ctx, verdict.Status.State)
	if verdict.Status.State == StateClockTampered {
		m.logWarn(ctx, "validate", "System clock is behind the last recorded time",
			slog.Time("now", now),
			slog.Time("last_known_time", record.LastKnownTime))
	}

	status := m.buildStatus(record, verdict.Status, now)

	changed := m.lastState == nil || *m.lastState != status.State
	if changed {
		state := status.State
		m.lastState = &state
		m.logInfo(ctx, "validate", "Lease state changed", slog.String("state", state.String()))
	}
	return status, changed
}

func (m *Manager) buildStatus(record *LocalLeaseRecord, ls LeaseStatus, now time.Time) Status {
	status := Status{
		State:     ls.State,
		Valid:     ls.Valid(),
		DaysLeft:  ls.DaysLeft,
		Warning:   ls.Warning,
		Degraded:  m.degraded,
		CheckedAt: now,
	}
	if record == nil || ls.State == StateHardwareMismatch {
		return status
	}
	if !record.LeaseExpiresAt.IsZero() {
		expires := record.LeaseExpiresAt
		status.ExpiresAt = &expires
	}
	status.EntityName = record.EntityName
	status.Tier = record.PrivilegeTier
	status.MaskedKey = maskLicenseKey(record.LicenseKey)
	return status
}

// RenewLease extends the stored lease if the Authority still honours it.
// It returns false without touching the record when there is nothing to
// renew, the record is not valid for this machine, the clock is rewound, or
// the Authority is unreachable or declines. Concurrent calls share one attempt.
func (m *Manager) RenewLease(ctx context.Context) bool {
	result, _, _ := m.renewGroup.Do("renew", func() (interface{}, error) {
		return m.renew(ctx), nil
	})
	renewed, _ := result.(bool)
	return renewed
}

func (m *Manager) renew(ctx context.Context) bool {
	ctx, span := tracer().Start(ctx, "license.renew")
	defer span.End()

	m.opMu.Lock()
	defer m.opMu.Unlock()

	start := time.Now()

	m.stateMu.Lock()
	record, err := m.store.Load()
	m.stateMu.Unlock()
	if err != nil || record == nil {
		m.metrics.recordRenewal(ctx, "no_license", time.Since(start))
		return false
	}

	verdict := Validate(record, m.fingerprint, m.now(), m.policy)
	switch verdict.Status.State {
	case StateHardwareMismatch, StateClockTampered:
		m.metrics.recordRenewal(ctx, verdict.Status.State.String(), time.Since(start))
		m.logLicenseAction(ctx, slog.LevelWarn, "renew", "Lease renewal refused", record.LicenseKey,
			slog.String("state", verdict.Status.State.String()))
		return false
	}

	renewed, ok := m.client.Renew(ctx, record, m.now())
	if !ok {
		m.metrics.recordRenewal(ctx, "declined", time.Since(start))
		m.logLicenseAction(ctx, slog.LevelWarn, "renew", "Lease not renewed", record.LicenseKey)
		return false
	}

	m.stateMu.Lock()
	current, err := m.store.Load()
	if err == nil && (current == nil || current.LicenseKey != record.LicenseKey) {
		err = errors.New("lease changed during renewal")
	}
	if err == nil {
		// A status check may have advanced last_known_time while the Authority was busy
		renewed.Advance(current.LastKnownTime)
		err = m.store.Save(renewed)
	}
	m.stateMu.Unlock()

	if err != nil {
		m.metrics.recordRenewal(ctx, "store_error", time.Since(start))
		m.logLicenseAction(ctx, slog.LevelError, "renew", "Failed to persist renewed lease", record.LicenseKey,
			slog.String("error", err.Error()))
		return false
	}

	m.metrics.recordRenewal(ctx, "success", time.Since(start))
	m.logLicenseAction(ctx, slog.LevelInfo, "renew", "Lease renewed", record.LicenseKey,
		slog.Time("expires_at", renewed.LeaseExpiresAt))

	m.GetStatus(ctx)
	return true
}

// Deactivate removes the local lease. The Authority binding is left as is.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.stateMu.Lock()
	err := m.store.Clear()
	m.stateMu.Unlock()
	if err != nil {
		m.logError(ctx, "deactivate", "Failed to clear lease", slog.String("error", err.Error()))
		return err
	}

	m.logInfo(ctx, "deactivate", "Local lease cleared")
	m.GetStatus(ctx)
	return nil
}

// ReportVersion reports version to the Authority for the stored entity.
// MASTER licenses and missing leases are skipped. Failures are logged only.
func (m *Manager) ReportVersion(ctx context.Context, version string) {
	m.stateMu.Lock()
	record, err := m.store.Load()
	m.stateMu.Unlock()

	if err != nil || record == nil {
		m.metrics.recordVersionReport(ctx, "no_license")
		return
	}
	if record.PrivilegeTier == TierMaster {
		m.metrics.recordVersionReport(ctx, "skipped")
		m.logDebug(ctx, "report_version", "Skipping version report for master license")
		return
	}

	if err := m.client.ReportVersion(ctx, record.EntityID, version); err != nil {
		m.metrics.recordVersionReport(ctx, "error")
		m.logWarn(ctx, "report_version", "Version report failed",
			slog.String("entity_id", record.EntityID),
			slog.String("error", err.Error()))
		return
	}

	m.metrics.recordVersionReport(ctx, "success")
	m.logInfo(ctx, "report_version", "Version reported",
		slog.String("entity_id", record.EntityID),
		slog.String("version", version))
}

func (m *Manager) notify(status Status) {
	m.listenersMu.RLock()
	listeners := append([]Listener(nil), m.listeners...)
	m.listenersMu.RUnlock()

	for _, l := range listeners {
		l(status)
	}
}

// FingerprintFor resolves the machine fingerprint, falling back to the
// degraded network fingerprint when no hardware identifier is available.
func FingerprintFor(fm *security.FingerprintManager, logger *slog.Logger) (string, bool, error) {
	fp, err := fm.Fingerprint()
	if err == nil {
		return fp, false, nil
	}
	if !errors.Is(err, security.ErrIdentityUnavailable) {
		return "", false, err
	}
	degraded := fm.DegradedFingerprint()
	if degraded == "" {
		return "", false, err
	}
	if logger != nil {
		logger.Warn("No hardware identifier available, using degraded fingerprint")
	}
	return degraded, true, nil
}

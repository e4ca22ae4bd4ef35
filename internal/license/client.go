package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	licenseErrors "leasecli/internal/errors"
	"leasecli/internal/infrastructure"
)

// ActivationClient talks to the Authority on behalf of this machine.
// It never touches local storage.
type ActivationClient struct {
	authority Authority
	policy    Policy
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewActivationClient creates a client. A non-positive ratePerSecond disables throttling.
func NewActivationClient(authority Authority, policy Policy, ratePerSecond float64, burst int, logger *slog.Logger) *ActivationClient {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &ActivationClient{
		authority: authority,
		policy:    policy,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    infrastructure.WithComponent(logger, "activation_client"),
	}
}

// Activate binds key to fingerprint at the Authority and returns a fresh
// local record. Every failure is an *errors.ActivationError.
func (c *ActivationClient) Activate(ctx context.Context, key, fingerprint string, now time.Time) (*LocalLeaseRecord, error) {
	key = NormalizeKey(key)
	if key == "" {
		return nil, licenseErrors.NewActivationError(licenseErrors.KindInvalidKey, nil)
	}

	if !c.limiter.Allow() {
		return nil, licenseErrors.NewActivationError(licenseErrors.KindThrottled, nil)
	}

	remote, err := c.authority.Lookup(ctx, key)
	if err != nil {
		return nil, classifyAuthorityError(err)
	}
	if remote == nil {
		return nil, licenseErrors.NewActivationError(licenseErrors.KindNotFound, nil)
	}

	if !remote.Active {
		return nil, licenseErrors.NewActivationError(licenseErrors.KindDeactivated, nil)
	}

	switch remote.BoundHardwareID {
	case fingerprint:
		// Re-activation on the bound machine
	case "":
		claimed, err := c.authority.Claim(ctx, key, fingerprint)
		if err != nil {
			return nil, classifyAuthorityError(err)
		}
		if claimed == nil || claimed.BoundHardwareID != fingerprint {
			c.logger.Warn("Lost activation race for license key")
			return nil, licenseErrors.NewActivationError(licenseErrors.KindDeviceConflict, nil)
		}
		remote = claimed
	default:
		return nil, licenseErrors.NewActivationError(licenseErrors.KindDeviceConflict, nil)
	}

	return &LocalLeaseRecord{
		LicenseKey:      key,
		EntityID:        remote.EntityID,
		EntityName:      remote.EntityName,
		BoundHardwareID: fingerprint,
		ActivatedAt:     now,
		PrivilegeTier:   ParseTier(string(remote.PrivilegeTier)),
		LeaseExpiresAt:  now.Add(c.policy.LeaseDuration),
		LastKnownTime:   now,
	}, nil
}

// Renew asks the Authority whether record's key is still good on this machine.
// It returns the renewed record and true, or nil and false when the Authority
// is unreachable, the key was revoked, or it is bound elsewhere. It never fails
// loudly: a failed renewal leaves the existing lease to run out on its own.
func (c *ActivationClient) Renew(ctx context.Context, record *LocalLeaseRecord, now time.Time) (*LocalLeaseRecord, bool) {
	if record == nil {
		return nil, false
	}

	remote, err := c.authority.Lookup(ctx, record.LicenseKey)
	if err != nil {
		c.logger.Warn("Lease renewal lookup failed", slog.String("error", err.Error()))
		return nil, false
	}
	if remote == nil || !remote.Active || remote.BoundHardwareID != record.BoundHardwareID {
		c.logger.Info("Authority declined lease renewal")
		return nil, false
	}

	renewed := *record
	renewed.EntityID = remote.EntityID
	renewed.EntityName = remote.EntityName
	renewed.PrivilegeTier = ParseTier(string(remote.PrivilegeTier))
	renewed.LeaseExpiresAt = now.Add(c.policy.LeaseDuration)
	renewed.Advance(now)
	return &renewed, true
}

// ReportVersion tells the Authority which version this entity is running.
func (c *ActivationClient) ReportVersion(ctx context.Context, entityID, version string) error {
	if err := c.authority.ReportVersion(ctx, entityID, version); err != nil {
		return fmt.Errorf("report version: %w", err)
	}
	return nil
}

func classifyAuthorityError(err error) error {
	if errors.Is(err, ErrKeyNotFound) {
		return licenseErrors.NewActivationError(licenseErrors.KindNotFound, err)
	}
	return licenseErrors.NewActivationError(licenseErrors.KindConnection, err)
}

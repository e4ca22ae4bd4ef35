package license

import (
	"time"

	"leasecli/internal/security"
)

const day = 24 * time.Hour

// Verdict is the result of Validate. AdvanceTo is non-zero when the caller
// should persist it as the record's new last_known_time.
type Verdict struct {
	Status    LeaseStatus
	AdvanceTo time.Time
}

// Validate decides whether record grants access on the machine identified by
// fingerprint at wall-clock time now. It performs no I/O.
//
// Checks run in a fixed order so the most specific failure wins: missing
// record, hardware binding, clock rewind, expiry.
func Validate(record *LocalLeaseRecord, fingerprint string, now time.Time, p Policy) Verdict {
	if record == nil {
		return Verdict{Status: LeaseStatus{State: StateNoLicense}}
	}

	if !security.SecureCompare(record.BoundHardwareID, fingerprint) {
		return Verdict{Status: LeaseStatus{State: StateHardwareMismatch}}
	}

	if !record.LastKnownTime.IsZero() && now.Before(record.LastKnownTime.Add(-p.DriftTolerance)) {
		return Verdict{Status: LeaseStatus{State: StateClockTampered}}
	}

	var v Verdict
	if record.LastKnownTime.IsZero() || now.Sub(record.LastKnownTime) > p.CoalesceInterval {
		v.AdvanceTo = now
	}

	// A record without an expiry cannot prove it is still inside its grace window
	if record.LeaseExpiresAt.IsZero() || now.After(record.LeaseExpiresAt) {
		v.Status = LeaseStatus{State: StateExpired}
		return v
	}

	remaining := record.LeaseExpiresAt.Sub(now)
	v.Status = LeaseStatus{
		State:    StateValid,
		DaysLeft: int64((remaining + day - 1) / day),
		Warning:  remaining < p.WarningThreshold,
	}
	return v
}

// Advance moves last_known_time forward to t. It never moves it backward.
func (r *LocalLeaseRecord) Advance(t time.Time) bool {
	if t.After(r.LastKnownTime) {
		r.LastKnownTime = t
		return true
	}
	return false
}

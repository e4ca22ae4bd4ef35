package license

import (
	"fmt"
	"strings"
	"time"

	"leasecli/internal/config"
)

// PrivilegeTier is the administrative level of a license.
type PrivilegeTier string

const (
	TierStandard PrivilegeTier = "STANDARD"
	// TierMaster skips version reporting and unlocks administrative operations.
	TierMaster PrivilegeTier = "MASTER"
)

// ParseTier maps an authority value to a tier. Anything unrecognised is STANDARD.
func ParseTier(s string) PrivilegeTier {
	if strings.EqualFold(strings.TrimSpace(s), string(TierMaster)) {
		return TierMaster
	}
	return TierStandard
}

// LocalLeaseRecord is the single persisted lease of this installation.
// A zero time means the field is unset.
type LocalLeaseRecord struct {
	LicenseKey      string        `json:"license_key"`
	EntityID        string        `json:"entity_id"`
	EntityName      string        `json:"entity_name"`
	BoundHardwareID string        `json:"bound_hardware_id"`
	ActivatedAt     time.Time     `json:"activated_at"`
	PrivilegeTier   PrivilegeTier `json:"privilege_tier"`
	LeaseExpiresAt  time.Time     `json:"lease_expires_at"`
	LastKnownTime   time.Time     `json:"last_known_time"`
}

// LeaseState is the outcome of validating a lease.
type LeaseState int

const (
	StateNoLicense LeaseState = iota
	StateHardwareMismatch
	StateClockTampered
	StateExpired
	StateValid
)

var stateNames = map[LeaseState]string{
	StateNoLicense:        "no_license",
	StateHardwareMismatch: "hardware_mismatch",
	StateClockTampered:    "clock_tampered",
	StateExpired:          "expired",
	StateValid:            "valid",
}

func (s LeaseState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("lease_state(%d)", int(s))
}

// MarshalText renders the state by name in JSON and logs.
func (s LeaseState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *LeaseState) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown lease state %q", b)
}

// LeaseStatus is the validator's verdict. DaysLeft and Warning are only
// meaningful when State is StateValid.
type LeaseStatus struct {
	State    LeaseState
	DaysLeft int64
	Warning  bool
}

// Valid reports whether the lease grants access.
func (s LeaseStatus) Valid() bool {
	return s.State == StateValid
}

// Policy holds the lease timing constants.
type Policy struct {
	LeaseDuration    time.Duration
	WarningThreshold time.Duration
	DriftTolerance   time.Duration
	CoalesceInterval time.Duration
}

// DefaultPolicy is a 7 day lease that warns in its last 3 days.
func DefaultPolicy() Policy {
	return Policy{
		LeaseDuration:    config.DefaultLeaseDuration,
		WarningThreshold: config.DefaultWarningThreshold,
		DriftTolerance:   config.DefaultDriftTolerance,
		CoalesceInterval: config.DefaultTimeCoalesceInterval,
	}
}

// PolicyFromConfig builds the policy from the license configuration section.
func PolicyFromConfig(cfg config.LicenseConfig) Policy {
	return Policy{
		LeaseDuration:    cfg.LeaseDuration,
		WarningThreshold: cfg.WarningThreshold,
		DriftTolerance:   cfg.DriftTolerance,
		CoalesceInterval: cfg.TimeCoalesceInterval,
	}
}

// NormalizeKey trims a user-entered key, drops inner whitespace and uppercases it.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.Join(strings.Fields(key), ""))
}

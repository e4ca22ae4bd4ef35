package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"leasecli/internal/config"
)

// ErrKeyNotFound is returned by an Authority when it has no record for a key.
// Any other Authority error is a transport failure.
var ErrKeyNotFound = errors.New("license key not found at authority")

// RemoteLicenseRecord is the Authority's record of a license key.
// An empty BoundHardwareID means the key is unclaimed.
type RemoteLicenseRecord struct {
	LicenseKey         string        `json:"license_key"`
	EntityID           string        `json:"entity_id"`
	EntityName         string        `json:"entity_name"`
	BoundHardwareID    string        `json:"bound_hardware_id"`
	Active             bool          `json:"active"`
	PrivilegeTier      PrivilegeTier `json:"privilege_tier"`
	ReportedAppVersion string        `json:"reported_app_version"`
}

// Authority is the remote service of record for license keys.
type Authority interface {
	// Lookup fetches the record for key.
	Lookup(ctx context.Context, key string) (*RemoteLicenseRecord, error)
	// Claim binds key to hardwareID only if the key is currently unbound and
	// returns the record as it stands afterwards. The caller compares
	// BoundHardwareID to learn whether it won.
	Claim(ctx context.Context, key, hardwareID string) (*RemoteLicenseRecord, error)
	// ReportVersion records the application version in use by entityID.
	ReportVersion(ctx context.Context, entityID, version string) error
}

// NewAuthority builds the Authority selected by cfg.Authority.Kind.
func NewAuthority(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Authority, error) {
	switch cfg.Authority.Kind {
	case config.AuthorityHTTP:
		return NewHTTPAuthority(cfg.Authority, logger), nil
	case config.AuthoritySheets:
		return NewSheetsAuthority(ctx, cfg.Authority, cfg.GetCredentialsFile(), logger)
	default:
		return nil, fmt.Errorf("unsupported authority kind: %s", cfg.Authority.Kind)
	}
}

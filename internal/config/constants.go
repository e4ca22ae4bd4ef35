package config

import (
	"time"

	"leasecli/pkg/contracts"
)

// Application constants
const (
	AppName    = "Lease Engine"
	AppVersion = contracts.Version
	AppVendor  = "leasecli"

	// License store
	LicenseFileName = "license.dat"
	DefaultAppSalt  = "leasecli-store-v1"

	// Lease policy
	DefaultLeaseDuration        = 7 * 24 * time.Hour
	DefaultWarningThreshold     = 3 * 24 * time.Hour
	DefaultDriftTolerance       = 10 * time.Minute
	DefaultTimeCoalesceInterval = time.Hour
	DefaultRenewInterval        = 6 * time.Hour

	// Network Timeouts
	DefaultAuthorityTimeout = 30 * time.Second
)

// Authority kinds
const (
	AuthorityHTTP   = "http"
	AuthoritySheets = "sheets"
)

// Storage drivers
const (
	StorageFile = "file"
	StorageBolt = "bolt"
)

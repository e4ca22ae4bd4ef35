// Package config provides centralized configuration management for the lease engine.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority), optionally seeded from .env
//	2. YAML configuration file (config.yaml or LEASE_CONFIG_FILE)
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern LEASE_<SECTION>_<FIELD>:
//
//	LEASE_SERVER_PORT=8080
//	LEASE_LICENSE_LEASE_DURATION=168h
//	LEASE_AUTHORITY_KIND=sheets
//	LEASE_AUTHORITY_SHEET_ID=1AbC...
//	LEASE_STORAGE_DRIVER=bolt
//
// Paths are resolved relative to the executable directory, so the binary can
// be launched from anywhere.
package config

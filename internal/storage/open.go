package storage

import (
	"fmt"

	"leasecli/internal/config"
)

// OpenBackend builds the backend selected by the storage configuration.
func OpenBackend(cfg *config.Config) (Backend, error) {
	switch cfg.Storage.Driver {
	case config.StorageFile:
		return NewFileBackend(cfg.GetStorageDir())
	case config.StorageBolt:
		return NewBoltBackend(cfg.GetBoltFile())
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
}

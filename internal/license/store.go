package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"leasecli/internal/infrastructure"
	"leasecli/internal/storage"
)

// leaseKey is the storage key of the single lease record
const leaseKey = "license"

// LeaseStore persists the LocalLeaseRecord through an encrypted key-value store
// whose key is derived from this machine's fingerprint.
type LeaseStore struct {
	store  storage.Store
	logger *slog.Logger
}

// NewLeaseStore wraps an encrypted store.
func NewLeaseStore(store storage.Store, logger *slog.Logger) *LeaseStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaseStore{store: store, logger: infrastructure.WithComponent(logger, "lease_store")}
}

// Load returns the stored record, or nil when there is none.
//
// A record that cannot be decrypted (copied from another machine) or decoded
// is discarded and reported as absent. The error is non-nil only when the
// backend itself failed; callers must treat that as absent too.
func (s *LeaseStore) Load() (*LocalLeaseRecord, error) {
	data, err := s.store.Get(leaseKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case errors.Is(err, storage.ErrUndecryptable):
		s.discard("undecryptable", err)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}

	var record LocalLeaseRecord
	if err := json.Unmarshal(data, &record); err != nil {
		s.discard("malformed", err)
		return nil, nil
	}
	return &record, nil
}

// Save overwrites the stored record.
func (s *LeaseStore) Save(record *LocalLeaseRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode lease: %w", err)
	}
	if err := s.store.Set(leaseKey, data); err != nil {
		return fmt.Errorf("failed to write lease: %w", err)
	}
	return nil
}

// Clear deletes the stored record. Clearing an empty store is not an error.
func (s *LeaseStore) Clear() error {
	if err := s.store.Delete(leaseKey); err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}
	return nil
}

// discard self-heals the store so an unreadable file is not retried forever
func (s *LeaseStore) discard(reason string, cause error) {
	infrastructure.WithError(s.logger, cause).Warn("Discarding unreadable lease record",
		slog.String("reason", reason))

	if err := s.store.Delete(leaseKey); err != nil {
		infrastructure.WithError(s.logger, err).Error("Failed to discard unreadable lease record")
	}
}

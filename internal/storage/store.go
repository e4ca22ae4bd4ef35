package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key has no stored value
	ErrNotFound = errors.New("storage: key not found")
	// ErrUndecryptable is returned when a stored value cannot be decrypted with the current key
	ErrUndecryptable = errors.New("storage: value cannot be decrypted")
)

// Backend persists opaque byte values by string key.
// Delete of a missing key is not an error.
type Backend interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}

// Store is an encrypted-at-rest key-value store.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// Sealer encrypts and decrypts values bound to their key name.
type Sealer interface {
	Seal(name string, plaintext []byte) ([]byte, error)
	Open(name string, blob []byte) ([]byte, error)
}

// EncryptedStore encrypts values before handing them to a Backend.
type EncryptedStore struct {
	backend Backend
	sealer  Sealer
}

// NewEncryptedStore wraps backend so that all values pass through sealer.
func NewEncryptedStore(backend Backend, sealer Sealer) *EncryptedStore {
	return &EncryptedStore{backend: backend, sealer: sealer}
}

// Get returns the decrypted value for key.
func (s *EncryptedStore) Get(key string) ([]byte, error) {
	blob, err := s.backend.Get(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.sealer.Open(key, blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecryptable, err)
	}
	return plaintext, nil
}

// Set encrypts and stores value under key.
func (s *EncryptedStore) Set(key string, value []byte) error {
	blob, err := s.sealer.Seal(key, value)
	if err != nil {
		return fmt.Errorf("failed to encrypt %s: %w", key, err)
	}
	return s.backend.Set(key, blob)
}

// Delete removes key.
func (s *EncryptedStore) Delete(key string) error {
	return s.backend.Delete(key)
}

// Close releases the backend.
func (s *EncryptedStore) Close() error {
	return s.backend.Close()
}

package license

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leasecli/internal/security"
	"leasecli/internal/storage"
)

func TestLeaseStoreRoundTrip(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := newLeaseStoreFor(t, backend, fpA)

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	record := boundRecord(fpA, t0, t0.Add(7*day))
	record.EntityName = "Acme Brokerage"
	require.NoError(t, store.Save(record))

	got, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, record.LicenseKey, got.LicenseKey)
	assert.Equal(t, "Acme Brokerage", got.EntityName)
	assert.True(t, record.LeaseExpiresAt.Equal(got.LeaseExpiresAt))
	assert.True(t, record.LastKnownTime.Equal(got.LastKnownTime))

	require.NoError(t, store.Clear())
	got, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	// Clearing twice is fine
	require.NoError(t, store.Clear())
}

func TestLeaseStoreDiscardsCopiedRecord(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, newLeaseStoreFor(t, backend, fpA).Save(boundRecord(fpA, t0, t0.Add(7*day))))

	other := newLeaseStoreFor(t, backend, fpB)
	got, err := other.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	// The unreadable blob is gone, even for the original machine
	_, err = backend.Get(leaseKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLeaseStoreDiscardsMalformedRecord(t *testing.T) {
	backend := storage.NewMemoryBackend()
	store := newLeaseStoreFor(t, backend, fpA)
	require.NoError(t, store.store.Set(leaseKey, []byte("not json")))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = backend.Get(leaseKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLeaseStoreLogsDiscardWithCause(t *testing.T) {
	backend := storage.NewMemoryBackend()
	require.NoError(t, newLeaseStoreFor(t, backend, fpA).Save(boundRecord(fpA, t0, t0.Add(7*day))))

	var buf bytes.Buffer
	cipher, err := security.NewCipher("test-salt", fpB, testCipherConfig())
	require.NoError(t, err)
	store := NewLeaseStore(storage.NewEncryptedStore(backend, cipher), slog.New(slog.NewJSONHandler(&buf, nil)))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, got)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "Discarding unreadable lease record", entry["msg"])
	assert.Equal(t, "lease_store", entry["component"])
	assert.Equal(t, "undecryptable", entry["reason"])
	assert.Contains(t, entry["error"], "decrypt")
}

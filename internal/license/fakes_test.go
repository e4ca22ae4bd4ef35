package license

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"leasecli/internal/security"
	"leasecli/internal/storage"
)

var errOffline = errors.New("dial tcp: connection refused")

// fakeAuthority is an in-memory Authority
type fakeAuthority struct {
	mu       sync.Mutex
	records  map[string]*RemoteLicenseRecord
	offline  bool
	lookups  int
	claims   int
	versions map[string]string
	// claimThief binds the key to another machine just before a claim lands
	claimThief string
	// beforeLookup runs ahead of every lookup, outside the fake's lock
	beforeLookup func()
}

func newFakeAuthority(records ...RemoteLicenseRecord) *fakeAuthority {
	a := &fakeAuthority{
		records:  make(map[string]*RemoteLicenseRecord),
		versions: make(map[string]string),
	}
	for i := range records {
		rec := records[i]
		a.records[rec.LicenseKey] = &rec
	}
	return a
}

func (a *fakeAuthority) Lookup(_ context.Context, key string) (*RemoteLicenseRecord, error) {
	if a.beforeLookup != nil {
		a.beforeLookup()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lookups++
	if a.offline {
		return nil, errOffline
	}
	rec, ok := a.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := *rec
	return &cp, nil
}

func (a *fakeAuthority) Claim(_ context.Context, key, hardwareID string) (*RemoteLicenseRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims++
	if a.offline {
		return nil, errOffline
	}
	rec, ok := a.records[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if a.claimThief != "" && rec.BoundHardwareID == "" {
		rec.BoundHardwareID = a.claimThief
	}
	if rec.BoundHardwareID == "" {
		rec.BoundHardwareID = hardwareID
	}
	cp := *rec
	return &cp, nil
}

func (a *fakeAuthority) ReportVersion(_ context.Context, entityID, version string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.offline {
		return errOffline
	}
	a.versions[entityID] = version
	return nil
}

func (a *fakeAuthority) setActive(key string, active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records[key].Active = active
}

func (a *fakeAuthority) setOffline(offline bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.offline = offline
}

// fakeClock is a settable clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const (
	testKey = "ABCD-1234-EFGH-5678"
	fpA     = "fingerprint-machine-a"
	fpB     = "fingerprint-machine-b"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func activeRecord() RemoteLicenseRecord {
	return RemoteLicenseRecord{
		LicenseKey:    NormalizeKey(testKey),
		EntityID:      "ENT-1",
		EntityName:    "Acme Brokerage",
		Active:        true,
		PrivilegeTier: TierStandard,
	}
}

func testCipherConfig() *security.EncryptionConfig {
	cfg := security.DefaultEncryptionConfig()
	cfg.SCryptN = 1 << 10
	cfg.AllowWeakKDF = true
	return cfg
}

// newLeaseStoreFor builds an encrypted store over backend keyed to fingerprint
func newLeaseStoreFor(t testing.TB, backend storage.Backend, fingerprint string) *LeaseStore {
	t.Helper()
	cipher, err := security.NewCipher("test-salt", fingerprint, testCipherConfig())
	require.NoError(t, err)
	return NewLeaseStore(storage.NewEncryptedStore(backend, cipher), testLogger())
}

type managerFixture struct {
	manager   *Manager
	authority *fakeAuthority
	clock     *fakeClock
	backend   *storage.MemoryBackend
}

func newManagerFixture(t testing.TB) *managerFixture {
	t.Helper()
	f := &managerFixture{
		authority: newFakeAuthority(activeRecord()),
		clock:     &fakeClock{now: t0},
		backend:   storage.NewMemoryBackend(),
	}
	f.manager = f.managerFor(t, fpA)
	return f
}

// managerFor builds a manager over the fixture's backend as seen from another machine
func (f *managerFixture) managerFor(t testing.TB, fingerprint string) *Manager {
	t.Helper()
	m, err := NewManager(Options{
		Store:       newLeaseStoreFor(t, f.backend, fingerprint),
		Authority:   f.authority,
		Fingerprint: fingerprint,
		Logger:      testLogger(),
		Clock:       f.clock.Now,
	})
	require.NoError(t, err)
	return m
}

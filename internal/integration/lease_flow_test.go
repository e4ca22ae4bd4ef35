package integration

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"leasecli/internal/app"
	"leasecli/internal/config"
	apierrors "leasecli/internal/errors"
	"leasecli/internal/license"
	"leasecli/internal/security"
	"leasecli/internal/shared/testutil"
)

const (
	leaseKey   = "ABCD-1234-EFGH-5678"
	machineA   = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	machineB   = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	leaseWeek  = 7 * 24 * time.Hour
	entityID   = "ent-42"
	entityName = "Acme Trading"
)

// fakeClock is a settable wall clock shared by every stack of a test
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

// LeaseFlowSuite drives the license stack end to end: HTTP authority client,
// activation client, encrypted file storage and validator.
type LeaseFlowSuite struct {
	suite.Suite

	authority *testutil.AuthorityServer
	logs      *testutil.BufferedSlogHandler
	clock     *fakeClock
	start     time.Time
	ctx       context.Context
}

func TestLeaseFlow(t *testing.T) {
	suite.Run(t, new(LeaseFlowSuite))
}

func (s *LeaseFlowSuite) SetupTest() {
	s.ctx = context.Background()
	s.start = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	s.clock = &fakeClock{now: s.start}
	s.authority = testutil.NewAuthorityServer(s.T(), license.RemoteLicenseRecord{
		LicenseKey:    leaseKey,
		EntityID:      entityID,
		EntityName:    entityName,
		Active:        true,
		PrivilegeTier: license.TierStandard,
	})
}

func (s *LeaseFlowSuite) config(dir string) *config.Config {
	cfg := config.Default()
	cfg.Paths.ExecutableDir = dir
	cfg.Authority.Kind = config.AuthorityHTTP
	cfg.Authority.URL = s.authority.URL
	cfg.Authority.Timeout = 5 * time.Second
	cfg.Authority.RetryAttempts = 2
	cfg.Authority.RetryDelay = time.Millisecond
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

// open builds the stack the daemon and the CLI use, on machine fp with data in dir
func (s *LeaseFlowSuite) open(dir, fp string) *app.LicenseStack {
	logger, logs := testutil.NewTestLogger(s.T())
	s.logs = logs

	enc := security.DefaultEncryptionConfig()
	enc.SCryptN = 1 << 10
	enc.AllowWeakKDF = true

	stack, err := app.BuildLicenseStack(s.ctx, s.config(dir), logger, nil, app.Overrides{
		Fingerprint: fp,
		Encryption:  enc,
		Clock:       s.clock.Now,
	})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = stack.Close() })
	return stack
}

func (s *LeaseFlowSuite) TestActivateRenewAndRevoke() {
	dir := s.T().TempDir()
	stack := s.open(dir, machineA)

	record, err := stack.Manager.Activate(s.ctx, " abcd-1234-efgh-5678 ")
	s.Require().NoError(err)
	s.Equal(leaseKey, record.LicenseKey)
	s.Equal(s.start.Add(leaseWeek), record.LeaseExpiresAt)

	remote, ok := s.authority.Record(leaseKey)
	s.Require().True(ok)
	s.Equal(machineA, remote.BoundHardwareID)

	status := stack.Manager.GetStatus(s.ctx)
	s.Equal(license.StateValid, status.State)
	s.Equal(int64(7), status.DaysLeft)
	s.False(status.Warning)
	s.Require().NoError(stack.Close())

	// Restart four days later: the lease is read back and in its warning window
	s.clock.Set(s.start.Add(4*24*time.Hour + time.Hour))
	stack = s.open(dir, machineA)
	status = stack.Manager.GetStatus(s.ctx)
	s.Equal(license.StateValid, status.State)
	s.Equal(int64(3), status.DaysLeft)
	s.True(status.Warning)
	s.Equal(entityName, status.EntityName)

	s.True(stack.Manager.RenewLease(s.ctx))
	status = stack.Manager.GetStatus(s.ctx)
	s.Equal(int64(7), status.DaysLeft)
	s.False(status.Warning)
	renewedUntil := *status.ExpiresAt

	// Revoked at the authority: renewal is refused but the lease runs on
	s.authority.SetActive(leaseKey, false)
	s.clock.Set(renewedUntil.Add(-time.Hour))
	s.False(stack.Manager.RenewLease(s.ctx))
	s.True(stack.Manager.IsAuthenticated(s.ctx))

	s.clock.Set(renewedUntil.Add(time.Second))
	status = stack.Manager.GetStatus(s.ctx)
	s.Equal(license.StateExpired, status.State)
	s.False(status.Valid)

	// Re-activating a revoked key fails with a typed error
	_, err = stack.Manager.Activate(s.ctx, leaseKey)
	s.Equal(apierrors.KindDeactivated, apierrors.ActivationKindOf(err), "got %v", err)

	testutil.AssertNeverLogged(s.T(), s.logs, leaseKey)
}

func (s *LeaseFlowSuite) TestCopiedLeaseIsRejectedOnAnotherMachine() {
	dirA, dirB := s.T().TempDir(), s.T().TempDir()

	stack := s.open(dirA, machineA)
	_, err := stack.Manager.Activate(s.ctx, leaseKey)
	s.Require().NoError(err)
	s.Require().NoError(stack.Close())

	data, err := os.ReadFile(filepath.Join(dirA, config.LicenseFileName))
	s.Require().NoError(err)
	copied := filepath.Join(dirB, config.LicenseFileName)
	s.Require().NoError(os.WriteFile(copied, data, 0600))

	clone := s.open(dirB, machineB)
	s.Equal(license.StateNoLicense, clone.Manager.GetStatus(s.ctx).State)
	s.NoFileExists(copied, "an undecryptable lease is discarded")

	// The authority keeps the key bound to the first machine
	_, err = clone.Manager.Activate(s.ctx, leaseKey)
	s.Equal(apierrors.KindDeviceConflict, apierrors.ActivationKindOf(err), "got %v", err)
	s.False(clone.Manager.RenewLease(s.ctx))
}

func (s *LeaseFlowSuite) TestClockRewindIsDetected() {
	stack := s.open(s.T().TempDir(), machineA)
	_, err := stack.Manager.Activate(s.ctx, leaseKey)
	s.Require().NoError(err)

	// Checking two hours later records a new last known time
	s.clock.Set(s.start.Add(2 * time.Hour))
	s.True(stack.Manager.IsAuthenticated(s.ctx))

	s.clock.Set(s.start.Add(time.Hour))
	status := stack.Manager.GetStatus(s.ctx)
	s.Equal(license.StateClockTampered, status.State)
	s.False(status.Valid)
	s.False(stack.Manager.RenewLease(s.ctx))

	// Small drift inside the tolerance is accepted
	s.clock.Set(s.start.Add(2*time.Hour - 5*time.Minute))
	s.Equal(license.StateValid, stack.Manager.GetStatus(s.ctx).State)
}

func (s *LeaseFlowSuite) TestAuthorityOutage() {
	stack := s.open(s.T().TempDir(), machineA)

	s.authority.FailNext(10)
	_, err := stack.Manager.Activate(s.ctx, leaseKey)
	s.Equal(apierrors.KindConnection, apierrors.ActivationKindOf(err), "got %v", err)
	s.Equal(license.StateNoLicense, stack.Manager.GetStatus(s.ctx).State)

	s.authority.FailNext(0)
	_, err = stack.Manager.Activate(s.ctx, leaseKey)
	s.Require().NoError(err)

	// An unreachable authority leaves the current lease untouched
	s.clock.Set(s.start.Add(5 * 24 * time.Hour))
	before := *stack.Manager.GetStatus(s.ctx).ExpiresAt
	s.authority.FailNext(10)
	s.False(stack.Manager.RenewLease(s.ctx))
	status := stack.Manager.GetStatus(s.ctx)
	s.True(status.Valid)
	s.Equal(before, *status.ExpiresAt)
}

func (s *LeaseFlowSuite) TestUnknownKey() {
	stack := s.open(s.T().TempDir(), machineA)

	_, err := stack.Manager.Activate(s.ctx, "ZZZZ-9999")
	s.Equal(apierrors.KindNotFound, apierrors.ActivationKindOf(err), "got %v", err)
}

func (s *LeaseFlowSuite) TestVersionReporting() {
	stack := s.open(s.T().TempDir(), machineA)
	_, err := stack.Manager.Activate(s.ctx, leaseKey)
	s.Require().NoError(err)

	stack.Manager.ReportVersion(s.ctx, "3.1.0")
	remote, _ := s.authority.Record(leaseKey)
	s.Equal("3.1.0", remote.ReportedAppVersion)

	// MASTER licenses never report
	master := license.RemoteLicenseRecord{
		LicenseKey:    "MAST-0000-0000-0001",
		EntityID:      "ent-master",
		EntityName:    "Operator",
		Active:        true,
		PrivilegeTier: "master",
	}
	s.authority.Put(master)
	other := s.open(s.T().TempDir(), machineB)
	record, err := other.Manager.Activate(s.ctx, master.LicenseKey)
	s.Require().NoError(err)
	s.Equal(license.TierMaster, record.PrivilegeTier)

	other.Manager.ReportVersion(s.ctx, "3.1.0")
	remote, _ = s.authority.Record(master.LicenseKey)
	s.Empty(remote.ReportedAppVersion)
}

// Two machines racing for the same unbound key: the authority binds exactly one.
func TestConcurrentActivationFromTwoMachines(t *testing.T) {
	s := new(LeaseFlowSuite)
	s.SetT(t)
	s.SetupTest()

	stacks := []*app.LicenseStack{
		s.open(t.TempDir(), machineA),
		s.open(t.TempDir(), machineB),
	}

	errs := make([]error, len(stacks))
	var wg sync.WaitGroup
	for i, st := range stacks {
		wg.Add(1)
		go func(i int, st *app.LicenseStack) {
			defer wg.Done()
			_, errs[i] = st.Manager.Activate(context.Background(), leaseKey)
		}(i, st)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case apierrors.ActivationKindOf(err) == apierrors.KindDeviceConflict:
			conflicts++
		default:
			t.Fatalf("unexpected activation error: %v", err)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, conflicts)

	remote, _ := s.authority.Record(leaseKey)
	require.Contains(t, []string{machineA, machineB}, remote.BoundHardwareID)
}

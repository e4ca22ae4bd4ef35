package license

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	licenseErrors "leasecli/internal/errors"
)

func TestActivationClientActivate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		remote   func() RemoteLicenseRecord
		key      string
		offline  bool
		thief    string
		wantKind licenseErrors.ActivationKind
	}{
		{
			name:   "unbound key is claimed",
			remote: activeRecord,
			key:    testKey,
		},
		{
			name: "already bound to this machine",
			remote: func() RemoteLicenseRecord {
				r := activeRecord()
				r.BoundHardwareID = fpA
				return r
			},
			key: testKey,
		},
		{
			name:   "user typed key loosely",
			remote: activeRecord,
			key:    " abcd-1234-efgh-5678 ",
		},
		{
			name:     "empty key",
			remote:   activeRecord,
			key:      "   ",
			wantKind: licenseErrors.KindInvalidKey,
		},
		{
			name:     "unknown key",
			remote:   activeRecord,
			key:      "ZZZZ-0000",
			wantKind: licenseErrors.KindNotFound,
		},
		{
			name: "revoked key",
			remote: func() RemoteLicenseRecord {
				r := activeRecord()
				r.Active = false
				return r
			},
			key:      testKey,
			wantKind: licenseErrors.KindDeactivated,
		},
		{
			name: "bound elsewhere",
			remote: func() RemoteLicenseRecord {
				r := activeRecord()
				r.BoundHardwareID = fpB
				return r
			},
			key:      testKey,
			wantKind: licenseErrors.KindDeviceConflict,
		},
		{
			name:     "lost claim race",
			remote:   activeRecord,
			key:      testKey,
			thief:    fpB,
			wantKind: licenseErrors.KindDeviceConflict,
		},
		{
			name:     "authority unreachable",
			remote:   activeRecord,
			key:      testKey,
			offline:  true,
			wantKind: licenseErrors.KindConnection,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := newFakeAuthority(tt.remote())
			authority.offline = tt.offline
			authority.claimThief = tt.thief
			client := NewActivationClient(authority, DefaultPolicy(), 0, 0, testLogger())

			record, err := client.Activate(ctx, tt.key, fpA, t0)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Nil(t, record)
				assert.Equal(t, tt.wantKind, licenseErrors.ActivationKindOf(err))

				var actErr *licenseErrors.ActivationError
				require.ErrorAs(t, err, &actErr)
				assert.NotEmpty(t, actErr.Message)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, NormalizeKey(testKey), record.LicenseKey)
			assert.Equal(t, fpA, record.BoundHardwareID)
			assert.Equal(t, "ENT-1", record.EntityID)
			assert.Equal(t, t0.Add(7*day), record.LeaseExpiresAt)
			assert.Equal(t, t0, record.LastKnownTime)
			assert.Equal(t, t0, record.ActivatedAt)
			assert.Equal(t, fpA, authority.records[NormalizeKey(testKey)].BoundHardwareID)
		})
	}
}

func TestActivationClientThrottles(t *testing.T) {
	authority := newFakeAuthority(activeRecord())
	client := NewActivationClient(authority, DefaultPolicy(), 0.001, 2, testLogger())

	for i := 0; i < 2; i++ {
		_, err := client.Activate(context.Background(), "NOPE", fpA, t0)
		assert.Equal(t, licenseErrors.KindNotFound, licenseErrors.ActivationKindOf(err))
	}

	_, err := client.Activate(context.Background(), testKey, fpA, t0)
	assert.ErrorIs(t, err, licenseErrors.ErrRateLimited)
	assert.Equal(t, 2, authority.lookups, "throttled attempts never reach the authority")
}

func TestActivationClientRenew(t *testing.T) {
	ctx := context.Background()
	stored := boundRecord(fpA, t0, t0.Add(7*day))
	stored.LicenseKey = NormalizeKey(testKey)

	bound := activeRecord()
	bound.BoundHardwareID = fpA
	bound.PrivilegeTier = TierMaster

	t.Run("active key is extended", func(t *testing.T) {
		client := NewActivationClient(newFakeAuthority(bound), DefaultPolicy(), 0, 0, testLogger())
		renewed, ok := client.Renew(ctx, stored, t0.Add(6*day))
		require.True(t, ok)
		assert.Equal(t, t0.Add(13*day), renewed.LeaseExpiresAt)
		assert.Equal(t, t0.Add(6*day), renewed.LastKnownTime)
		assert.Equal(t, TierMaster, renewed.PrivilegeTier)
		assert.Equal(t, t0.Add(7*day), stored.LeaseExpiresAt, "input record is not mutated")
	})

	t.Run("revoked key is declined", func(t *testing.T) {
		revoked := bound
		revoked.Active = false
		client := NewActivationClient(newFakeAuthority(revoked), DefaultPolicy(), 0, 0, testLogger())
		renewed, ok := client.Renew(ctx, stored, t0.Add(6*day))
		assert.False(t, ok)
		assert.Nil(t, renewed)
	})

	t.Run("unknown key is declined", func(t *testing.T) {
		client := NewActivationClient(newFakeAuthority(), DefaultPolicy(), 0, 0, testLogger())
		_, ok := client.Renew(ctx, stored, t0.Add(6*day))
		assert.False(t, ok)
	})

	t.Run("network error is declined", func(t *testing.T) {
		authority := newFakeAuthority(bound)
		authority.offline = true
		client := NewActivationClient(authority, DefaultPolicy(), 0, 0, testLogger())
		_, ok := client.Renew(ctx, stored, t0.Add(6*day))
		assert.False(t, ok)
	})

	t.Run("rebound elsewhere is declined", func(t *testing.T) {
		moved := bound
		moved.BoundHardwareID = fpB
		client := NewActivationClient(newFakeAuthority(moved), DefaultPolicy(), 0, 0, testLogger())
		_, ok := client.Renew(ctx, stored, t0.Add(6*day))
		assert.False(t, ok)
	})
}

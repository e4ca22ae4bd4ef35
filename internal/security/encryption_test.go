package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig keeps scrypt cheap in tests; production uses DefaultEncryptionConfig.
func fastConfig() *EncryptionConfig {
	cfg := DefaultEncryptionConfig()
	cfg.SCryptN = 1 << 10
	cfg.AllowWeakKDF = true
	return cfg
}

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("app-salt", "machine-a", fastConfig())
	require.NoError(t, err)

	blob, err := c.Seal("license", []byte(`{"license_key":"ABC"}`))
	require.NoError(t, err)

	plain, err := c.Open("license", blob)
	require.NoError(t, err)
	assert.Equal(t, `{"license_key":"ABC"}`, string(plain))

	// Fresh nonce per seal
	again, err := c.Seal("license", []byte(`{"license_key":"ABC"}`))
	require.NoError(t, err)
	assert.NotEqual(t, blob, again)
}

func TestCipherIsDeterministicPerMachine(t *testing.T) {
	writer, err := NewCipher("app-salt", "machine-a", fastConfig())
	require.NoError(t, err)
	reader, err := NewCipher("app-salt", "machine-a", fastConfig())
	require.NoError(t, err)

	blob, err := writer.Seal("license", []byte("payload"))
	require.NoError(t, err)

	plain, err := reader.Open("license", blob)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(plain))
}

func TestCipherRejectsForeignBlobs(t *testing.T) {
	machineA, err := NewCipher("app-salt", "machine-a", fastConfig())
	require.NoError(t, err)
	machineB, err := NewCipher("app-salt", "machine-b", fastConfig())
	require.NoError(t, err)
	otherApp, err := NewCipher("other-salt", "machine-a", fastConfig())
	require.NoError(t, err)

	blob, err := machineA.Seal("license", []byte("payload"))
	require.NoError(t, err)

	tests := []struct {
		name string
		open func() ([]byte, error)
	}{
		{"copied to another machine", func() ([]byte, error) { return machineB.Open("license", blob) }},
		{"different application salt", func() ([]byte, error) { return otherApp.Open("license", blob) }},
		{"moved to another key", func() ([]byte, error) { return machineA.Open("other", blob) }},
		{"truncated", func() ([]byte, error) { return machineA.Open("license", blob[:10]) }},
		{"tampered", func() ([]byte, error) {
			bad := append([]byte(nil), blob...)
			bad[len(bad)-1] ^= 0xFF
			return machineA.Open("license", bad)
		}},
		{"unknown version", func() ([]byte, error) {
			bad := append([]byte(nil), blob...)
			bad[0] = 9
			return machineA.Open("license", bad)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.open()
			assert.ErrorIs(t, err, ErrDecryptionFailed)
		})
	}
}

func TestNewCipherValidation(t *testing.T) {
	_, err := NewCipher("", "fp", fastConfig())
	assert.Error(t, err)

	_, err = NewCipher("salt", "", fastConfig())
	assert.Error(t, err)
}

func TestValidateEncryptionConfig(t *testing.T) {
	assert.NoError(t, ValidateEncryptionConfig(DefaultEncryptionConfig()))
	assert.NoError(t, ValidateEncryptionConfig(fastConfig()))
	assert.Error(t, ValidateEncryptionConfig(nil))

	weak := fastConfig()
	weak.AllowWeakKDF = false
	assert.Error(t, ValidateEncryptionConfig(weak))

	tests := []struct {
		name   string
		mutate func(*EncryptionConfig)
	}{
		{name: "nonce size", mutate: func(c *EncryptionConfig) { c.NonceSize = 16 }},
		{name: "key length", mutate: func(c *EncryptionConfig) { c.SCryptKeyLen = 16 }},
		{name: "cost not power of two", mutate: func(c *EncryptionConfig) { c.SCryptN = 1000 }},
		{name: "zero parallelism", mutate: func(c *EncryptionConfig) { c.SCryptP = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Structural limits hold even when weak costs are allowed
			cfg := fastConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateEncryptionConfig(cfg))
		})
	}
}

func TestNewCipherRejectsWeakConfig(t *testing.T) {
	weak := DefaultEncryptionConfig()
	weak.SCryptN = 1 << 10

	_, err := NewCipher("app-salt", "machine-a", weak)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid encryption config")

	bad := fastConfig()
	bad.NonceSize = 8
	_, err = NewCipher("app-salt", "machine-a", bad)
	assert.Error(t, err)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("abc", "abc"))
	assert.False(t, SecureCompare("abc", "abd"))
	assert.False(t, SecureCompare("abc", "ab"))
}

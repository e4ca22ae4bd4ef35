package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	payloadVersion  byte = 1
	domainSeparator      = "LEASE-STORE-V1"
)

// ErrDecryptionFailed means the blob was not sealed with this cipher's key,
// typically because it was written on another machine.
var ErrDecryptionFailed = errors.New("decryption failed")

// EncryptionConfig defines encryption parameters following OWASP ASVS requirements
type EncryptionConfig struct {
	// SCRYPT parameters
	SCryptN      int // CPU/memory cost parameter (32768 minimum)
	SCryptR      int // Block size parameter (8 recommended)
	SCryptP      int // Parallelization parameter (1 recommended)
	SCryptKeyLen int // Key length in bytes (32 for AES-256)

	// AES-GCM parameters
	NonceSize int // 96-bit nonce size for GCM
	TagSize   int // 128-bit authentication tag

	// AllowWeakKDF lifts the scrypt cost minimums. Tests only.
	AllowWeakKDF bool
}

// DefaultEncryptionConfig returns OWASP ASVS compliant encryption configuration
func DefaultEncryptionConfig() *EncryptionConfig {
	return &EncryptionConfig{
		SCryptN:      32768,
		SCryptR:      8,
		SCryptP:      1,
		SCryptKeyLen: 32,
		NonceSize:    12,
		TagSize:      16,
	}
}

// ValidateEncryptionConfig validates encryption configuration parameters
func ValidateEncryptionConfig(config *EncryptionConfig) error {
	if config == nil {
		return errors.New("encryption config cannot be nil")
	}
	if config.SCryptN <= 1 || config.SCryptN&(config.SCryptN-1) != 0 {
		return errors.New("SCryptN must be a power of two greater than 1")
	}
	if config.SCryptP < 1 {
		return errors.New("SCryptP must be at least 1")
	}
	if config.SCryptKeyLen != 32 {
		return errors.New("SCryptKeyLen must be 32 for AES-256")
	}
	if config.NonceSize != 12 {
		return errors.New("NonceSize must be 12 for AES-GCM")
	}
	if config.TagSize != 16 {
		return errors.New("TagSize must be 16 for AES-GCM")
	}
	if config.AllowWeakKDF {
		if config.SCryptR < 1 {
			return errors.New("SCryptR must be at least 1")
		}
		return nil
	}
	if config.SCryptN < 32768 {
		return errors.New("SCryptN must be at least 32768 for high security")
	}
	if config.SCryptR < 8 {
		return errors.New("SCryptR must be at least 8")
	}
	return nil
}

// Cipher seals values with an AES-256-GCM key derived from the application
// salt and the machine fingerprint. The key never leaves memory, so a blob is
// only readable on the machine that wrote it.
type Cipher struct {
	aead      cipher.AEAD
	nonceSize int
}

// NewCipher derives the storage key with scrypt. Derivation is deliberately
// slow; build one Cipher per process and reuse it.
func NewCipher(appSalt, fingerprint string, config *EncryptionConfig) (*Cipher, error) {
	if appSalt == "" {
		return nil, errors.New("application salt cannot be empty")
	}
	if fingerprint == "" {
		return nil, errors.New("fingerprint cannot be empty")
	}
	if config == nil {
		config = DefaultEncryptionConfig()
	}
	if err := ValidateEncryptionConfig(config); err != nil {
		return nil, fmt.Errorf("invalid encryption config: %w", err)
	}

	salt := sha256.Sum256([]byte(domainSeparator + appSalt))
	key, err := scrypt.Key([]byte(appSalt+"|"+fingerprint), salt[:], config.SCryptN, config.SCryptR, config.SCryptP, config.SCryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, config.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead, nonceSize: config.NonceSize}, nil
}

// Seal encrypts plaintext bound to name. Layout: version | nonce | ciphertext+tag.
func (c *Cipher) Seal(name string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+c.aead.Overhead())
	out = append(out, payloadVersion)
	out = append(out, nonce...)
	return c.aead.Seal(out, nonce, plaintext, associatedData(name)), nil
}

// Open decrypts a blob produced by Seal for the same name. Any mismatch in
// key, name, version or integrity yields ErrDecryptionFailed.
func (c *Cipher) Open(name string, blob []byte) ([]byte, error) {
	if len(blob) < 1+c.nonceSize+c.aead.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryptionFailed)
	}
	if blob[0] != payloadVersion {
		return nil, fmt.Errorf("%w: unsupported payload version %d", ErrDecryptionFailed, blob[0])
	}

	nonce := blob[1 : 1+c.nonceSize]
	plaintext, err := c.aead.Open(nil, nonce, blob[1+c.nonceSize:], associatedData(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// associatedData binds a ciphertext to the storage key it was written under
func associatedData(name string) []byte {
	h := sha256.New()
	h.Write([]byte(domainSeparator))
	h.Write([]byte(name))
	return h.Sum(nil)
}

// SecureCompare performs constant-time comparison to prevent timing attacks
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrIdentityUnavailable is returned when no platform source yields a usable identifier.
var ErrIdentityUnavailable = errors.New("machine identity unavailable")

const (
	sourceHardware = "hardware_id"
	sourceNetwork  = "network"
	sourceDegraded = "degraded"

	probeTimeout = 5 * time.Second
	// minUUIDParts is the minimum number of quote-separated parts in an ioreg IOPlatformUUID line
	minUUIDParts = 4
)

// MachineIdentity produces a stable fingerprint of the current device.
type MachineIdentity interface {
	Fingerprint() (string, error)
}

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	Source      string    `json:"source"`
	Hostname    string    `json:"hostname,omitempty"`
	OS          string    `json:"os"`
	Platform    string    `json:"platform"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager handles device fingerprinting operations
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration

	hardwareID func(ctx context.Context) (string, error)
	macAddress func() (string, error)
	hostname   func() (string, error)
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: time.Hour,
		hardwareID:    platformHardwareID,
		macAddress:    primaryMACAddress,
		hostname:      normalizedHostname,
	}
}

// Fingerprint implements MachineIdentity
func (fm *FingerprintManager) Fingerprint() (string, error) {
	fp, err := fm.GenerateFingerprint()
	if err != nil {
		return "", err
	}
	return fp.Fingerprint, nil
}

// GenerateFingerprint derives the device fingerprint. The platform hardware UUID
// is preferred; network and host identifiers are used only when it is missing.
func (fm *FingerprintManager) GenerateFingerprint() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	hostname, hostErr := fm.hostname()

	var factors []string
	source := sourceHardware

	hwID, err := fm.hardwareID(ctx)
	if err == nil && hwID != "" {
		factors = []string{strings.ToLower(hwID), runtime.GOOS, runtime.GOARCH}
	} else {
		slog.Warn("Hardware ID unavailable, falling back to network identity",
			slog.Any("error", err))

		mac, macErr := fm.macAddress()
		if macErr != nil && hostErr != nil {
			return nil, fmt.Errorf("%w: no hardware id, mac address or hostname", ErrIdentityUnavailable)
		}
		source = sourceNetwork
		factors = []string{mac, hostname, runtime.GOOS, runtime.GOARCH}
	}

	deviceFingerprint := &DeviceFingerprint{
		Fingerprint: hashFactors(factors),
		Source:      source,
		Hostname:    hostname,
		OS:          runtime.GOOS,
		Platform:    runtime.GOARCH,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = deviceFingerprint
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Info("Device fingerprint generated",
		slog.String("fingerprint", ShortFingerprint(deviceFingerprint.Fingerprint)),
		slog.String("source", source),
		slog.Duration("generation_time", time.Since(start)),
	)

	return deviceFingerprint, nil
}

// DegradedFingerprint returns a deterministic identifier built only from values
// any process can read. It keeps the product usable when the platform identity
// APIs fail, at the cost of clone resistance.
func (fm *FingerprintManager) DegradedFingerprint() string {
	hostname, err := fm.hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	return hashFactors([]string{sourceDegraded, hostname, runtime.GOOS, runtime.GOARCH})
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()

	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}

// ShortFingerprint truncates a fingerprint for logs and display
func ShortFingerprint(fp string) string {
	if len(fp) <= 16 {
		return fp
	}
	return fp[:16]
}

func hashFactors(factors []string) string {
	hash := sha256.Sum256([]byte(strings.Join(factors, "|")))
	return hex.EncodeToString(hash[:])
}

// platformHardwareID reads the firmware or OS machine UUID for the running platform
func platformHardwareID(ctx context.Context) (string, error) {
	var id string
	switch runtime.GOOS {
	case "linux":
		id = linuxHardwareID()
	case "darwin":
		id = darwinHardwareID(ctx)
	case "windows":
		id = windowsHardwareID(ctx)
	case "freebsd", "openbsd", "netbsd", "dragonfly":
		id = commandOutput(ctx, "sysctl", "-n", "kern.hostuuid")
	case "solaris", "illumos":
		id = commandOutput(ctx, "hostid")
	}
	if id == "" {
		return "", fmt.Errorf("no hardware id on %s", runtime.GOOS)
	}
	return id, nil
}

// linuxMachineIDPaths lists world-readable machine ids. Root-only sources such
// as the DMI product UUID are left out so every user derives the same key.
var linuxMachineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

func linuxHardwareID() string {
	return firstFileValue(os.ReadFile, linuxMachineIDPaths)
}

func firstFileValue(readFile func(string) ([]byte, error), paths []string) string {
	for _, path := range paths {
		data, err := readFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

func darwinHardwareID(ctx context.Context) string {
	out := commandOutput(ctx, "ioreg", "-rd1", "-c", "IOPlatformExpertDevice")
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "IOPlatformUUID") {
			parts := strings.Split(line, "\"")
			if len(parts) >= minUUIDParts {
				return parts[3]
			}
		}
	}
	return ""
}

func windowsHardwareID(ctx context.Context) string {
	return parseMachineGUID(commandOutput(ctx, "reg", "query",
		`HKEY_LOCAL_MACHINE\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid"))
}

// parseMachineGUID extracts the value from `reg query ... /v MachineGuid` output
func parseMachineGUID(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "MachineGuid") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 3 && strings.EqualFold(fields[1], "REG_SZ") {
			return fields[len(fields)-1]
		}
	}
	return ""
}

func commandOutput(ctx context.Context, name string, args ...string) string {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		slog.Debug("Identity probe failed",
			slog.String("command", name),
			slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(string(out))
}

// primaryMACAddress retrieves the first up, non-loopback interface MAC address
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// normalizedHostname retrieves the machine hostname, lowercased
func normalizedHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}

	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}

	return hostname, nil
}

// Package security derives the device identity used for license
// binding. The fingerprint is a SHA-256 digest over stable machine
// factors; raw identifiers never leave the device.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// ErrFingerprintUnavailable is returned when no hardware factor could
// be resolved. An empty fingerprint would defeat device binding, so
// callers must treat this as fatal rather than substituting a
// placeholder.
var ErrFingerprintUnavailable = errors.New("no device identity factor available")

// Fingerprint holds the derived device identity and the factors that
// produced it, for operator diagnostics.
type Fingerprint struct {
	Value       string    `json:"fingerprint"`
	Hostname    string    `json:"hostname"`
	MACAddress  string    `json:"mac_address"`
	MachineID   string    `json:"machine_id"`
	OS          string    `json:"os"`
	Arch        string    `json:"arch"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Fingerprinter computes and caches the device fingerprint. The
// computation is deterministic on an unmodified machine, so the cache
// only saves repeated OS queries within one process.
type Fingerprinter struct {
	mu          sync.RWMutex
	cached      *Fingerprint
	cacheExpiry time.Time
	cacheTTL    time.Duration
}

// NewFingerprinter creates a fingerprinter with a one-hour cache.
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{cacheTTL: time.Hour}
}

// Compute returns the device fingerprint string.
func (f *Fingerprinter) Compute() (string, error) {
	fp, err := f.Generate()
	if err != nil {
		return "", err
	}
	return fp.Value, nil
}

// Generate derives the full fingerprint record, reusing a cached value
// when fresh.
func (f *Fingerprinter) Generate() (*Fingerprint, error) {
	f.mu.RLock()
	if f.cached != nil && time.Now().Before(f.cacheExpiry) {
		cached := *f.cached
		f.mu.RUnlock()
		return &cached, nil
	}
	f.mu.RUnlock()

	hostname, hostErr := readHostname()
	macAddr, macErr := primaryMACAddress()
	machineID, idErr := readMachineID()

	// Device binding needs at least one factor tied to this machine;
	// OS and architecture alone would collide across a whole fleet.
	if hostErr != nil && macErr != nil && idErr != nil {
		return nil, fmt.Errorf("%w: hostname: %v; mac: %v; machine id: %v",
			ErrFingerprintUnavailable, hostErr, macErr, idErr)
	}

	factors := []string{
		valueOr(macAddr, macErr, "no-mac"),
		valueOr(hostname, hostErr, "no-host"),
		valueOr(machineID, idErr, "no-machine-id"),
		runtime.GOOS,
		runtime.GOARCH,
	}

	digest := sha256.Sum256([]byte(strings.Join(factors, "|")))
	fp := &Fingerprint{
		Value:       hex.EncodeToString(digest[:]),
		Hostname:    factors[1],
		MACAddress:  factors[0],
		MachineID:   factors[2],
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		GeneratedAt: time.Now().UTC(),
	}

	f.mu.Lock()
	f.cached = fp
	f.cacheExpiry = time.Now().Add(f.cacheTTL)
	f.mu.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("hostname", fp.Hostname),
		slog.String("os", fp.OS),
		slog.String("arch", fp.Arch),
	)
	return fp, nil
}

// Matches reports whether the current device matches a stored
// fingerprint value.
func (f *Fingerprinter) Matches(stored string) (bool, error) {
	current, err := f.Compute()
	if err != nil {
		return false, err
	}
	return current == stored, nil
}

// ClearCache drops the cached fingerprint, forcing the next Generate
// to re-query the OS.
func (f *Fingerprinter) ClearCache() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = nil
	f.cacheExpiry = time.Time{}
}

func valueOr(value string, err error, fallback string) string {
	if err != nil || value == "" {
		return fallback
	}
	return value
}

func readHostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", errors.New("hostname is empty")
	}
	return hostname, nil
}

// primaryMACAddress picks the first up, non-loopback interface with a
// hardware address, falling back to any interface carrying one.
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); validMAC(mac) {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); validMAC(mac) {
			return mac, nil
		}
	}
	return "", errors.New("no interface with a hardware address")
}

func validMAC(mac string) bool {
	return mac != "" && mac != "00:00:00:00:00:00"
}

// readMachineID resolves an OS-assigned machine identifier. The raw
// identifier is hashed so the fingerprint never embeds it directly.
func readMachineID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/var/lib/dbus/machine-id"} {
			if data, err := os.ReadFile(path); err == nil {
				if id := strings.TrimSpace(string(data)); id != "" {
					return shortHash(id), nil
				}
			}
		}
		return "", errors.New("machine-id file not readable")
	case "windows":
		if procID := os.Getenv("PROCESSOR_IDENTIFIER"); procID != "" {
			return shortHash(procID), nil
		}
		return "", errors.New("PROCESSOR_IDENTIFIER not set")
	default:
		if hostType := os.Getenv("HOSTTYPE"); hostType != "" {
			return shortHash(runtime.GOOS + "-" + hostType), nil
		}
		return "", fmt.Errorf("no machine identifier source on %s", runtime.GOOS)
	}
}

func shortHash(raw string) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:8])
}

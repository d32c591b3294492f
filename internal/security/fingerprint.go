package security

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"sync"
)

// Fingerprinter derives the machine seed that binds capability signing and
// encryption keys to this machine. The seed is a digest over stable,
// locally observable identity factors; it is recomputed per process and
// never written to disk.
type Fingerprinter struct {
	mu     sync.RWMutex
	cached []byte

	// overrides for tests
	hostname string
	username string
}

// NewFingerprinter creates a fingerprinter for the local machine
func NewFingerprinter() *Fingerprinter {
	return &Fingerprinter{}
}

// NewFingerprinterFor creates a fingerprinter with fixed identity factors.
// Authoring tools use this to compute another machine's seed offline.
func NewFingerprinterFor(hostname, username string) *Fingerprinter {
	return &Fingerprinter{
		hostname: normalizeFactor(hostname),
		username: normalizeFactor(username),
	}
}

// MachineSeed returns SHA-256(hostname | username | app id). The result is
// cached for the life of the process.
func (f *Fingerprinter) MachineSeed() ([]byte, error) {
	f.mu.RLock()
	if f.cached != nil {
		seed := make([]byte, len(f.cached))
		copy(seed, f.cached)
		f.mu.RUnlock()
		return seed, nil
	}
	f.mu.RUnlock()

	hostname, err := f.Hostname()
	if err != nil {
		return nil, err
	}
	username, err := f.Username()
	if err != nil {
		username = "unknown-user"
		slog.Warn("Failed to resolve username, using fallback",
			slog.String("error", err.Error()),
		)
	}

	combined := strings.Join([]string{hostname, username, AppID}, "|")
	sum := sha256.Sum256([]byte(combined))

	f.mu.Lock()
	f.cached = sum[:]
	f.mu.Unlock()

	slog.Debug("Machine seed derived",
		slog.String("hostname", hostname),
		slog.String("username", username),
	)

	seed := make([]byte, len(sum))
	copy(seed, sum[:])
	return seed, nil
}

// Hostname returns the normalized machine hostname
func (f *Fingerprinter) Hostname() (string, error) {
	if f.hostname != "" {
		return f.hostname, nil
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = normalizeFactor(hostname)
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// Username returns the normalized current user name
func (f *Fingerprinter) Username() (string, error) {
	if f.username != "" {
		return f.username, nil
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return normalizeFactor(u.Username), nil
	}
	// Fallback when user lookup is unavailable (static builds, minimal images)
	for _, env := range []string{"USER", "USERNAME", "LOGNAME"} {
		if v := os.Getenv(env); v != "" {
			return normalizeFactor(v), nil
		}
	}
	return "", fmt.Errorf("no user name available")
}

func normalizeFactor(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

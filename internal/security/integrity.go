package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/semaphore"

	"arcavault/internal/files"
)

// TamperRecorder receives tamper events for the audit trail.
type TamperRecorder interface {
	RecordTamper(ctx context.Context, path, detail string) error
}

// TamperDetector maintains a side file mapping tracked paths to their
// SHA-256 digest at the time of the last legitimate write. A mismatch is the
// only failure case; first runs and missing files are trusted so the detector
// never produces a false positive.
type TamperDetector struct {
	sideFile string
	sem      *semaphore.Weighted
	recorder TamperRecorder
}

// NewTamperDetector creates a detector backed by the given side file.
// recorder may be nil; mismatches are then only logged.
func NewTamperDetector(sideFile string, recorder TamperRecorder) *TamperDetector {
	return &TamperDetector{
		sideFile: sideFile,
		sem:      semaphore.NewWeighted(1),
		recorder: recorder,
	}
}

// UpdateChecksum records the current digest of path. It must be called only
// after a legitimate write by the owning service.
func (d *TamperDetector) UpdateChecksum(ctx context.Context, path string) error {
	digest, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	checksums, err := d.load()
	if err != nil {
		return err
	}
	checksums[path] = digest
	return d.persist(checksums)
}

// VerifyIntegrity recomputes the digest of path and compares it with the
// recorded one. A missing checksum or a missing file is trusted. On mismatch
// a tamper event is recorded and false is returned; the caller must treat the
// data as absent.
func (d *TamperDetector) VerifyIntegrity(ctx context.Context, path string) (bool, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	checksums, err := d.load()
	d.sem.Release(1)
	if err != nil {
		return false, err
	}

	expected, tracked := checksums[path]
	if !tracked {
		return true, nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return true, nil
	}

	actual, err := hashFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	if actual == expected {
		return true, nil
	}

	detail := fmt.Sprintf("checksum mismatch: expected %s, got %s", expected, actual)
	slog.Warn("File integrity verification failed",
		slog.String("path", path),
		slog.String("expected", expected),
		slog.String("actual", actual),
	)
	if d.recorder != nil {
		if err := d.recorder.RecordTamper(ctx, path, detail); err != nil {
			slog.Error("Failed to record tamper event",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return false, nil
}

// Forget drops the recorded checksum for path, for files that were
// legitimately deleted.
func (d *TamperDetector) Forget(ctx context.Context, path string) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	checksums, err := d.load()
	if err != nil {
		return err
	}
	if _, ok := checksums[path]; !ok {
		return nil
	}
	delete(checksums, path)
	return d.persist(checksums)
}

// load reads the side file into a map. Format: one "path|hexdigest" per line.
func (d *TamperDetector) load() (map[string]string, error) {
	checksums := make(map[string]string)

	data, err := os.ReadFile(d.sideFile)
	if os.IsNotExist(err) {
		return checksums, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read integrity file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.LastIndex(line, "|")
		if idx <= 0 || idx == len(line)-1 {
			continue
		}
		checksums[line[:idx]] = line[idx+1:]
	}
	return checksums, nil
}

func (d *TamperDetector) persist(checksums map[string]string) error {
	var b strings.Builder
	for path, digest := range checksums {
		b.WriteString(path)
		b.WriteString("|")
		b.WriteString(digest)
		b.WriteString("\n")
	}
	if err := files.WriteAtomic(d.sideFile, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write integrity file: %w", err)
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

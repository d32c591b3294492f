package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains all file locations used by the engine.
// This is the single source of truth for every persisted file.
type Paths struct {
	DataDir string

	CapabilitiesFile  string
	AdminTokenFile    string
	IntegrityFile     string
	AuditLogFile      string
	RedeemedCodesFile string
	ConsentFile       string
}

// GetPaths resolves the engine file locations. When dataDir is empty the
// per-user private directory is used. The directory is created with owner-only
// permissions; all engine files live directly inside it.
func GetPaths(dataDir string) (*Paths, error) {
	if dataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve user config dir: %w", err)
		}
		dataDir = filepath.Join(base, "arcavault")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	return &Paths{
		DataDir:           dataDir,
		CapabilitiesFile:  filepath.Join(dataDir, "capabilities.dat"),
		AdminTokenFile:    filepath.Join(dataDir, "admin.token"),
		IntegrityFile:     filepath.Join(dataDir, "integrity.dat"),
		AuditLogFile:      filepath.Join(dataDir, "audit.log"),
		RedeemedCodesFile: filepath.Join(dataDir, "redeemed.json"),
		ConsentFile:       filepath.Join(dataDir, "consent.json"),
	}, nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Paths contains the resolved application paths.
// All paths are relative to the executable directory, never the working directory.
type Paths struct {
	ExecutableDir string
	DataDir       string
	LogsDir       string
	WebDir        string
	LicenseFile   string
}

// GetPaths returns the application paths relative to the executable location
func GetPaths() (*Paths, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable path: %w", err)
	}

	// Resolve symlinks to get the actual executable location
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable symlinks: %w", err)
	}

	return PathsFor(filepath.Dir(exe)), nil
}

// PathsFor lays the standard directory structure out under root.
//
//	root/
//	  ├── license.dat
//	  ├── credentials.json
//	  ├── data/
//	  ├── logs/
//	  └── web/
func PathsFor(root string) *Paths {
	return &Paths{
		ExecutableDir: root,
		DataDir:       filepath.Join(root, "data"),
		LogsDir:       filepath.Join(root, "logs"),
		WebDir:        filepath.Join(root, "web"),
		LicenseFile:   filepath.Join(root, LicenseFileName),
	}
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	for _, dir := range []string{p.DataDir, p.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		slog.Debug("Ensured directory exists", slog.String("directory", dir))
	}
	return nil
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

package paths

import (
	"os"
	"path/filepath"
)

// DataDir returns the engine data directory: $WPSYNC_DATA_DIR or ~/.wpsync.
func DataDir() string {
	if dir := os.Getenv("WPSYNC_DATA_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpsync")
}

// ConfigPath returns the config file path under the data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// DBPath returns the canonical store path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "wpsync.db")
}

// MediaDir returns the blob storage root.
func MediaDir(dataDir string) string {
	return filepath.Join(dataDir, "media")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "wpsyncd.log")
}

// EnsureTree creates the data directory tree with restrictive permissions.
func EnsureTree(dataDir string) error {
	dirs := []string{
		dataDir,
		MediaDir(dataDir),
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

package session

import (
	"os"
	"path/filepath"
)

// StoreDir returns the per-owner store directory. Deterministic per
// identity, so reopening a session for the same owner resumes its store.
func StoreDir(dataDir, identity string) string {
	return filepath.Join(dataDir, "stores", identity)
}

// ViewDBPath returns the view-cache database path for an owner.
func ViewDBPath(dataDir, identity string) string {
	return filepath.Join(StoreDir(dataDir, identity), "view.db")
}

// LogDir returns the log directory for an owner.
func LogDir(dataDir, identity string) string {
	return filepath.Join(StoreDir(dataDir, identity), "logs")
}

// LogPath returns the engine log file path for an owner.
func LogPath(dataDir, identity string) string {
	return filepath.Join(LogDir(dataDir, identity), "conversed.log")
}

// EnsureDir creates the owner's store directory tree with proper
// permissions.
func EnsureDir(dataDir, identity string) error {
	dirs := []string{
		StoreDir(dataDir, identity),
		LogDir(dataDir, identity),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

package database

import (
	"fmt"
	"os"
	"path/filepath"
)

// IsNetworkFilesystem checks if the given file path resides on a network file system,
// where SQLite locking is unreliable. If the file does not exist yet, its parent
// directory is checked instead. Also returns the network file system name if detected.
func IsNetworkFilesystem(filePath string) (bool, string, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false, "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	pathToCheck := absPath
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		pathToCheck = filepath.Dir(absPath)
	}

	// Resolve symlinks to check the actual underlying filesystem.
	if realPath, err := filepath.EvalSymlinks(pathToCheck); err == nil {
		pathToCheck = realPath
	}

	return isNetworkFilesystemNative(pathToCheck)
}

//go:build !linux

package database

// isNetworkFilesystemNative is not implemented on this platform; SQLite is assumed to be safe.
func isNetworkFilesystemNative(filePath string) (bool, string, error) {
	return false, "", nil
}

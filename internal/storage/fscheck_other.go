//go:build !darwin && !linux

package storage

// detectFilesystemType cannot tell on this platform; the check passes.
func detectFilesystemType(string) (string, error) {
	return "", nil
}

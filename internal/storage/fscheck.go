package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem matches FilesystemError with errors.Is.
var ErrNetworkFilesystem = errors.New("sqlite database on network filesystem")

// FilesystemError reports a SQLite path on a network mount, where file locking is
// unreliable and two processes can corrupt the database.
type FilesystemError struct {
	Path   string
	FSType string
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("sqlite database %q is on network filesystem %q; move storage.path and spool.path to local disk or use storage.driver: postgres",
		e.Path, e.FSType)
}

func (e *FilesystemError) Is(target error) bool { return target == ErrNetworkFilesystem }

// fsDetector names the filesystem holding path. An empty name means unknown.
type fsDetector func(path string) (string, error)

var networkFilesystems = []string{"afpfs", "afs", "cifs", "nfs", "nfs4", "smb2", "smbfs", "webdav"}

func requireLocalFS(path string) error {
	return requireLocalFSWith(path, detectFilesystemType)
}

func requireLocalFSWith(path string, detect fsDetector) error {
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}
	if isNetworkFilesystem(fsType) {
		return &FilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

// existingAncestor walks up from path until it finds something that exists, so the
// check works before the database file or its directory are created.
func existingAncestor(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	name := strings.ToLower(strings.TrimSpace(fsType))
	for _, n := range networkFilesystems {
		if name == n {
			return true
		}
	}
	return false
}

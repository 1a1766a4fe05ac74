package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedFS(name string) fsDetector {
	return func(string) (string, error) { return name, nil }
}

func TestRequireLocalFS(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.db")

	tests := []struct {
		name    string
		detect  fsDetector
		wantErr error
	}{
		{name: "local", detect: fixedFS("ext4")},
		{name: "unknown", detect: fixedFS("")},
		{name: "nfs", detect: fixedFS("nfs"), wantErr: ErrNetworkFilesystem},
		{name: "smb uppercase", detect: fixedFS(" SMBFS "), wantErr: ErrNetworkFilesystem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireLocalFSWith(path, tt.detect)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			var fsErr *FilesystemError
			require.True(t, errors.As(err, &fsErr))
			assert.Equal(t, path, fsErr.Path)
			assert.Contains(t, err.Error(), "storage.driver: postgres")
		})
	}
}

func TestRequireLocalFSInspectsNearestExistingDir(t *testing.T) {
	t.Parallel()
	root := t.TempDir()

	var inspected string
	err := requireLocalFSWith(filepath.Join(root, "nested", "dir", "spool.db"), func(p string) (string, error) {
		inspected = p
		return "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, root, inspected)
}

func TestRequireLocalFSDetectorError(t *testing.T) {
	t.Parallel()
	err := requireLocalFSWith(filepath.Join(t.TempDir(), "x.db"), func(string) (string, error) {
		return "", errors.New("statfs failed")
	})
	assert.ErrorContains(t, err, "statfs failed")
	assert.NotErrorIs(t, err, ErrNetworkFilesystem)
}

func TestOpenSQLiteOnTempDir(t *testing.T) {
	t.Parallel()
	db, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "a", "b.db"))
	require.NoError(t, err)
	assert.NoError(t, db.Close())
}

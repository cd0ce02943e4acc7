package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		owner   string
		want    *Owner
		wantErr string
	}{
		{name: "empty", owner: "", want: nil},
		{name: "blank", owner: "  ", want: nil},
		{name: "valid", owner: "1000:1001", want: &Owner{UID: 1000, GID: 1001}},
		{name: "root", owner: "0:0", want: &Owner{}},
		{name: "missing gid", owner: "1000", wantErr: "expected UID:GID"},
		{name: "empty gid", owner: "1000:", wantErr: "invalid GID"},
		{name: "bad uid", owner: "abc:1", wantErr: "invalid UID"},
		{name: "bad gid", owner: "1:abc", wantErr: "invalid GID"},
		{name: "negative uid", owner: "-1:1", wantErr: "is negative"},
		{name: "extra field", owner: "1:2:3", wantErr: "invalid GID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOwner(tt.owner)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func currentOwner() *Owner {
	return &Owner{UID: os.Getuid(), GID: os.Getgid()}
}

func TestMkdirAll(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name  string
		path  string
		owner *Owner
	}{
		{name: "nested without owner", path: filepath.Join(base, "a", "b", "c")},
		{name: "nested with owner", path: filepath.Join(base, "dt=2026-02-24", "x"), owner: currentOwner()},
		{name: "existing directory", path: base, owner: currentOwner()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, MkdirAll(tt.path, 0o755, tt.owner))

			info, err := os.Stat(tt.path)
			require.NoError(t, err)
			assert.True(t, info.IsDir())
		})
	}
}

func TestWriteFileExclusive(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, MkdirAll(dir, 0o755, nil))

	path := filepath.Join(dir, "file.jsonl")

	require.NoError(t, WriteFileExclusive(path, []byte("first\n"), 0o644, currentOwner()))

	err := WriteFileExclusive(path, []byte("second\n"), 0o644, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrExist))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(data))
}

func TestWriteFileExclusive_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "file.jsonl")

	err := WriteFileExclusive(path, []byte("x"), 0o644, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

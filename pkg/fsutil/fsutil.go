// Package fsutil holds file helpers for write-once archive files that may
// need a fixed owner.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Owner is the numeric owner applied to created files and directories.
// A nil *Owner leaves ownership to the process defaults.
type Owner struct {
	UID int
	GID int
}

// ParseOwner parses "UID:GID". An empty string yields a nil Owner.
func ParseOwner(s string) (*Owner, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	uidStr, gidStr, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("invalid owner %q, expected UID:GID", s)
	}

	uid, err := parseID(uidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid UID in owner %q: %w", s, err)
	}

	gid, err := parseID(gidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid GID in owner %q: %w", s, err)
	}

	return &Owner{UID: uid, GID: gid}, nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}

	if id < 0 {
		return 0, fmt.Errorf("%d is negative", id)
	}

	return id, nil
}

func (o *Owner) apply(path string) error {
	if o == nil {
		return nil
	}

	if err := os.Lchown(path, o.UID, o.GID); err != nil {
		return fmt.Errorf("setting owner of %s: %w", path, err)
	}

	return nil
}

// MkdirAll creates path and any missing parents. Every directory it creates
// is given owner; directories that already existed are left alone.
func MkdirAll(path string, perm os.FileMode, owner *Owner) error {
	path = filepath.Clean(path)

	// Walk up to the deepest existing ancestor so only new directories are
	// chowned afterwards.
	var created []string

	for dir := path; ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		created = append(created, dir)

		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}

	if len(created) == 0 {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return err
	}

	for i := len(created) - 1; i >= 0; i-- {
		if err := owner.apply(created[i]); err != nil {
			return err
		}
	}

	return nil
}

// WriteFileExclusive creates path and writes data to it, failing with an
// error matching fs.ErrExist if the file is already present. Ownership is set
// before any data is written and the data is synced before close. On any
// failure the partial file is removed.
func WriteFileExclusive(path string, data []byte, perm os.FileMode, owner *Owner) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	if owner != nil {
		if err := f.Chown(owner.UID, owner.GID); err != nil {
			_ = f.Close()

			return fmt.Errorf("setting owner of %s: %w", path, err)
		}
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return err
	}

	return f.Close()
}

package bronze

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/ethpandaops/loanpulse/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Sink = (*localSink)(nil)

type localSink struct {
	log     logrus.FieldLogger
	baseDir string
	owner   *fsutil.Owner
}

// NewLocalSink creates a Sink writing below cfg.BaseDir.
func NewLocalSink(log logrus.FieldLogger, cfg *config.LocalBronzeConfig) (Sink, error) {
	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("parsing bronze owner: %w", err)
	}

	return &localSink{
		log:     log.WithField("component", "bronze-local"),
		baseDir: cfg.BaseDir,
		owner:   owner,
	}, nil
}

func (s *localSink) Put(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))

	if err := fsutil.MkdirAll(filepath.Dir(path), 0o755, s.owner); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	if err := fsutil.WriteFileExclusive(path, data, 0o644, s.owner); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("writing %s: %w", path, ErrExists)
		}

		return "", fmt.Errorf("writing %s: %w", path, err)
	}

	return path, nil
}

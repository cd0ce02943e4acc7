// Package bronze writes the immutable raw archive of each run's fetched
// payload, one newline-delimited JSON object per run.
package bronze

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/loanpulse/pkg/config"
	"github.com/sirupsen/logrus"
)

// ErrExists is returned when an archive object is already present.
var ErrExists = errors.New("archive object already exists")

// Sink stores write-once objects under slash-separated keys.
type Sink interface {
	// Put stores data under key and returns where it was written. Put never
	// overwrites; an existing key yields ErrExists.
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// NewSink creates the sink enabled in cfg.
func NewSink(log logrus.FieldLogger, cfg *config.BronzeConfig) (Sink, error) {
	switch {
	case cfg.Local.Enabled:
		return NewLocalSink(log, &cfg.Local)
	case cfg.S3.Enabled:
		return NewS3Sink(log, &cfg.S3), nil
	default:
		return nil, fmt.Errorf("no bronze sink enabled")
	}
}

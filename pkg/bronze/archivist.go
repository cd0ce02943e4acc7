package bronze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/loanpulse/pkg/source"
	"github.com/sirupsen/logrus"
)

// Archivist persists the raw payload of a run before staging is touched.
type Archivist interface {
	// Write archives records under the current UTC date and runID and
	// returns the archive location.
	Write(ctx context.Context, records []source.Record, runID string) (string, error)
}

// Compile-time interface check.
var _ Archivist = (*archivist)(nil)

type archivist struct {
	log  logrus.FieldLogger
	sink Sink
	now  func() time.Time
}

// NewArchivist creates an Archivist on sink.
func NewArchivist(log logrus.FieldLogger, sink Sink) Archivist {
	return &archivist{
		log:  log.WithField("component", "bronze"),
		sink: sink,
		now:  time.Now,
	}
}

func (a *archivist) Write(ctx context.Context, records []source.Record, runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("archiving records: empty run id")
	}

	data, err := EncodeJSONLines(records)
	if err != nil {
		return "", err
	}

	location, err := a.sink.Put(ctx, ObjectKey(a.now(), runID), data)
	if err != nil {
		return "", fmt.Errorf("archiving run %s: %w", runID, err)
	}

	a.log.WithFields(logrus.Fields{
		"location": location,
		"records":  len(records),
		"size":     units.HumanSize(float64(len(data))),
	}).Debug("Archived raw payload")

	return location, nil
}

// ObjectKey returns the archive key of runID for an archive written at t.
// The date partition is the write date, not any record timestamp.
func ObjectKey(t time.Time, runID string) string {
	return fmt.Sprintf("dt=%s/run_id=%s.jsonl", t.UTC().Format(time.DateOnly), runID)
}

// EncodeJSONLines renders records as newline-delimited JSON. Each line is the
// compacted verbatim payload the record was decoded from.
func EncodeJSONLines(records []source.Record) ([]byte, error) {
	var buf bytes.Buffer

	for i := range records {
		raw, err := records[i].MarshalRaw()
		if err != nil {
			return nil, fmt.Errorf("encoding record %d: %w", i, err)
		}

		if err := json.Compact(&buf, raw); err != nil {
			return nil, fmt.Errorf("compacting record %d: %w", i, err)
		}

		buf.WriteByte('\n')
	}

	return buf.Bytes(), nil
}

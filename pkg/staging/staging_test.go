package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/source"
	"github.com/ethpandaops/loanpulse/pkg/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func record(id string, submitted time.Time, amount, income float64) source.Record {
	return source.Record{
		ApplicationID: id,
		ApplicantID:   ptr("applicant-" + id),
		SubmittedAt:   &submitted,
		LoanAmount:    &amount,
		Purpose:       ptr("auto"),
		State:         ptr("NY"),
		AnnualIncome:  &income,
	}
}

func newMerger(t *testing.T) Merger {
	t.Helper()

	db := storetest.New(t)

	return NewMerger(logrus.New(), db.DB())
}

func TestMerger_UpsertEmpty(t *testing.T) {
	m := newMerger(t)

	n, err := m.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMerger_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newMerger(t)

	base := time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)
	batch := []source.Record{
		record("a1", base.Add(time.Minute), 5000, 40000),
		record("a2", base.Add(2*time.Minute), 6000, 50000),
		record("a3", base.Add(3*time.Minute), 7000, 60000),
	}

	n, err := m.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	first, err := m.List(ctx)
	require.NoError(t, err)

	n, err = m.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	second, err := m.List(ctx)
	require.NoError(t, err)

	require.Len(t, second, 3)
	assert.Equal(t, first, second)
}

func TestMerger_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	m := newMerger(t)

	submitted := time.Date(2026, 2, 24, 10, 1, 0, 0, time.UTC)

	_, err := m.Upsert(ctx, []source.Record{record("a1", submitted, 5000, 40000)})
	require.NoError(t, err)

	// The newer payload drops the purpose entirely; no field-level merge.
	updated := record("a1", submitted.Add(time.Hour), 9000, 41000)
	updated.Purpose = nil

	_, err = m.Upsert(ctx, []source.Record{updated})
	require.NoError(t, err)

	row, err := m.Get(ctx, "a1")
	require.NoError(t, err)

	require.NotNil(t, row.LoanAmount)
	assert.InDelta(t, 9000, *row.LoanAmount, 0.0001)
	require.NotNil(t, row.AnnualIncome)
	assert.InDelta(t, 41000, *row.AnnualIncome, 0.0001)
	require.NotNil(t, row.SubmittedAt)
	assert.True(t, row.SubmittedAt.Equal(submitted.Add(time.Hour)))
	assert.Nil(t, row.Purpose)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMerger_DuplicateKeyInBatchKeepsLast(t *testing.T) {
	ctx := context.Background()
	m := newMerger(t)

	submitted := time.Date(2026, 2, 24, 10, 1, 0, 0, time.UTC)

	n, err := m.Upsert(ctx, []source.Record{
		record("a1", submitted, 1000, 40000),
		record("a2", submitted, 2000, 40000),
		record("a1", submitted, 3000, 40000),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	row, err := m.Get(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, row.LoanAmount)
	assert.InDelta(t, 3000, *row.LoanAmount, 0.0001)
}

func TestMerger_RejectsMissingKey(t *testing.T) {
	ctx := context.Background()
	m := newMerger(t)

	submitted := time.Date(2026, 2, 24, 10, 1, 0, 0, time.UTC)

	_, err := m.Upsert(ctx, []source.Record{
		record("a1", submitted, 1000, 40000),
		record("", submitted, 1000, 40000),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingKey))

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is written when any record is rejected")
}

func TestMerger_LargeBatchSpansStatements(t *testing.T) {
	ctx := context.Background()
	m := newMerger(t)

	base := time.Date(2026, 2, 24, 0, 0, 0, 0, time.UTC)

	batch := make([]source.Record, 0, 250)
	for i := range 250 {
		batch = append(batch, record(
			"id-"+base.Add(time.Duration(i)*time.Minute).Format("150405"),
			base.Add(time.Duration(i)*time.Minute),
			float64(5000+i), 40000,
		))
	}

	n, err := m.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), count)
}

package quality

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/ethpandaops/loanpulse/pkg/store/storetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func validRow(id string) store.StagingRecord {
	return store.StagingRecord{
		ApplicationID: id,
		ApplicantID:   ptr("applicant-" + id),
		SubmittedAt:   ptr(testNow.Add(-time.Hour)),
		LoanAmount:    ptr(5000.0),
		Purpose:       ptr("auto"),
		State:         ptr("NY"),
		AnnualIncome:  ptr(40000.0),
	}
}

func newGate(t *testing.T, rows ...store.StagingRecord) (Gate, *gorm.DB) {
	t.Helper()

	db := storetest.New(t).DB()
	if len(rows) > 0 {
		require.NoError(t, db.Create(&rows).Error)
	}

	return NewGate(logrus.New(), db, 5*time.Minute,
		WithClock(func() time.Time { return testNow })), db
}

func TestGate_EmptyStagingPasses(t *testing.T) {
	g, _ := newGate(t)

	result, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Counts, 4)
}

func TestGate_Checks(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *store.StagingRecord)
		failures []string
	}{
		{
			name:   "valid row",
			mutate: func(*store.StagingRecord) {},
		},
		{
			name:     "null applicant",
			mutate:   func(r *store.StagingRecord) { r.ApplicantID = nil },
			failures: []string{"null_required_fields: 1 failing rows"},
		},
		{
			name:     "null state",
			mutate:   func(r *store.StagingRecord) { r.State = nil },
			failures: []string{"null_required_fields: 1 failing rows"},
		},
		{
			name:     "zero loan amount",
			mutate:   func(r *store.StagingRecord) { r.LoanAmount = ptr(0.0) },
			failures: []string{"loan_amount_positive: 1 failing rows"},
		},
		{
			name:     "negative income",
			mutate:   func(r *store.StagingRecord) { r.AnnualIncome = ptr(-1.0) },
			failures: []string{"annual_income_positive: 1 failing rows"},
		},
		{
			name:   "within clock skew tolerance",
			mutate: func(r *store.StagingRecord) { r.SubmittedAt = ptr(testNow.Add(4 * time.Minute)) },
		},
		{
			name:     "beyond clock skew tolerance",
			mutate:   func(r *store.StagingRecord) { r.SubmittedAt = ptr(testNow.Add(10 * time.Minute)) },
			failures: []string{"submitted_at_future_guard: 1 failing rows"},
		},
		{
			name: "failures accumulate in check order",
			mutate: func(r *store.StagingRecord) {
				r.SubmittedAt = ptr(testNow.Add(time.Hour))
				r.Purpose = nil
				r.LoanAmount = ptr(-5.0)
			},
			failures: []string{
				"null_required_fields: 1 failing rows",
				"loan_amount_positive: 1 failing rows",
				"submitted_at_future_guard: 1 failing rows",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := validRow("bad")
			tt.mutate(&bad)

			g, _ := newGate(t, validRow("good"), bad)

			result, err := g.Evaluate(context.Background())
			require.NoError(t, err)

			if len(tt.failures) == 0 {
				assert.True(t, result.Passed)
				assert.Empty(t, result.Failures)

				return
			}

			assert.False(t, result.Passed)
			assert.Equal(t, tt.failures, result.Failures)
		})
	}
}

func TestGate_CountsEveryFailingRow(t *testing.T) {
	rows := make([]store.StagingRecord, 0, 3)
	for _, id := range []string{"a", "b", "c"} {
		r := validRow(id)
		r.LoanAmount = ptr(0.0)
		rows = append(rows, r)
	}

	g, _ := newGate(t, rows...)

	result, err := g.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"loan_amount_positive: 3 failing rows"}, result.Failures)
	assert.Equal(t, int64(3), result.Counts[CheckLoanAmountPositive])
	assert.Zero(t, result.Counts[CheckNullRequiredFields])
}

func TestGate_QueryErrorsAreReturned(t *testing.T) {
	g, db := newGate(t)

	require.NoError(t, db.Migrator().DropTable(&store.StagingRecord{}))

	_, err := g.Evaluate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), CheckNullRequiredFields)
	assert.Contains(t, err.Error(), CheckSubmittedAtFutureGuard)
}

func TestError_Message(t *testing.T) {
	err := error(&Error{Failures: []string{
		"loan_amount_positive: 1 failing rows",
		"annual_income_positive: 2 failing rows",
	}})

	assert.Equal(t,
		"data quality checks failed: loan_amount_positive: 1 failing rows | annual_income_positive: 2 failing rows",
		err.Error(),
	)

	var qerr *Error
	assert.True(t, errors.As(err, &qerr))
}

// Package quality evaluates the data quality gate over the full staging
// relation. A run may only advance its watermark when every check passes.
package quality

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/loanpulse/pkg/store"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Check names, in evaluation order.
const (
	CheckNullRequiredFields     = "null_required_fields"
	CheckLoanAmountPositive     = "loan_amount_positive"
	CheckAnnualIncomePositive   = "annual_income_positive"
	CheckSubmittedAtFutureGuard = "submitted_at_future_guard"
)

// Result is the outcome of one gate evaluation.
type Result struct {
	Passed   bool     `json:"passed" yaml:"passed"`
	Failures []string `json:"failures" yaml:"failures"`

	// Counts maps every evaluated check to its number of failing rows.
	Counts map[string]int64 `json:"counts" yaml:"counts"`
}

// Error is the business-rule failure raised when a gate evaluation fails.
type Error struct {
	Failures []string
}

func (e *Error) Error() string {
	return "data quality checks failed: " + strings.Join(e.Failures, " | ")
}

// Gate evaluates the quality checks.
type Gate interface {
	// Evaluate runs every check against the whole staging relation. Failing
	// rows are reported in the Result; the error is reserved for checks that
	// could not be executed.
	Evaluate(ctx context.Context) (*Result, error)
}

// Compile-time interface check.
var _ Gate = (*gate)(nil)

type check struct {
	name  string
	where func(now time.Time) (string, []any)
}

type gate struct {
	log             logrus.FieldLogger
	db              *gorm.DB
	futureTolerance time.Duration
	now             func() time.Time
	checks          []check
}

// Option configures a Gate.
type Option func(*gate)

// WithClock overrides the evaluator's notion of the current time.
func WithClock(now func() time.Time) Option {
	return func(g *gate) { g.now = now }
}

// NewGate creates a Gate on db. Timestamps more than futureTolerance ahead
// of the current time fail the clock-skew guard.
func NewGate(
	log logrus.FieldLogger,
	db *gorm.DB,
	futureTolerance time.Duration,
	opts ...Option,
) Gate {
	g := &gate{
		log:             log.WithField("component", "quality"),
		db:              db,
		futureTolerance: futureTolerance,
		now:             time.Now,
	}

	g.checks = []check{
		{
			name: CheckNullRequiredFields,
			where: func(time.Time) (string, []any) {
				return "application_id IS NULL" +
					" OR applicant_id IS NULL" +
					" OR submitted_at IS NULL" +
					" OR loan_amount IS NULL" +
					" OR purpose IS NULL" +
					" OR state IS NULL" +
					" OR annual_income IS NULL", nil
			},
		},
		{
			name: CheckLoanAmountPositive,
			where: func(time.Time) (string, []any) {
				return "loan_amount <= 0", nil
			},
		},
		{
			name: CheckAnnualIncomePositive,
			where: func(time.Time) (string, []any) {
				return "annual_income <= 0", nil
			},
		},
		{
			name: CheckSubmittedAtFutureGuard,
			where: func(now time.Time) (string, []any) {
				return "submitted_at > ?", []any{now.Add(g.futureTolerance)}
			},
		},
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

func (g *gate) Evaluate(ctx context.Context) (*Result, error) {
	now := g.now().UTC().Truncate(time.Microsecond)

	result := &Result{
		Failures: make([]string, 0, len(g.checks)),
		Counts:   make(map[string]int64, len(g.checks)),
	}

	var errs *multierror.Error

	for _, c := range g.checks {
		cond, args := c.where(now)

		var count int64
		if err := g.db.WithContext(ctx).
			Model(&store.StagingRecord{}).
			Where(cond, args...).
			Count(&count).Error; err != nil {
			errs = multierror.Append(errs, fmt.Errorf("check %s: %w", c.name, err))

			continue
		}

		result.Counts[c.name] = count

		if count > 0 {
			result.Failures = append(result.Failures,
				fmt.Sprintf("%s: %d failing rows", c.name, count))
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("evaluating quality checks: %w", err)
	}

	result.Passed = len(result.Failures) == 0

	g.log.WithFields(logrus.Fields{
		"passed":   result.Passed,
		"failures": len(result.Failures),
	}).Debug("Evaluated quality checks")

	return result, nil
}

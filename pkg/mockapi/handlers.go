package mockapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var (
	states   = []string{"NY", "NJ", "PA", "CT", "MA", "FL", "GA", "TX", "CA", "IL"}
	purposes = []string{"debt_consolidation", "home_improvement", "auto", "medical", "small_business"}
)

// LoanApplication is one synthetic record served by the mock source.
type LoanApplication struct {
	ApplicationID string    `json:"application_id"`
	ApplicantID   string    `json:"applicant_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	LoanAmount    float64   `json:"loan_amount"`
	Purpose       string    `json:"purpose"`
	State         string    `json:"state"`
	AnnualIncome  float64   `json:"annual_income"`
}

type healthResponse struct {
	Status string `json:"status"`
	TS     string `json:"ts"`
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		TS:     s.now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *server) handleLoanApplications(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.DefaultLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.cfg.MaxLimit {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				"limit must be an integer between 1 and " + strconv.Itoa(s.cfg.MaxLimit),
			})

			return
		}

		limit = n
	}

	now := s.now().UTC()
	start := now.Truncate(time.Minute).Add(-s.cfg.DefaultWindow)

	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := parseSince(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"invalid since: " + err.Error()})

			return
		}

		start = since
	}

	writeJSON(w, http.StatusOK, s.generate(start, now, limit))
}

// generate emits one record per whole minute strictly after start and
// strictly before now, up to limit records.
func (s *server) generate(start, now time.Time, limit int) []LoanApplication {
	records := make([]LoanApplication, 0, min(limit, 64))

	cursor := start.UTC().Truncate(time.Minute)

	for len(records) < limit {
		cursor = cursor.Add(time.Minute)
		if !cursor.Before(now) {
			break
		}

		records = append(records, s.fakeRecord(cursor))
	}

	return records
}

func (s *server) fakeRecord(submittedAt time.Time) LoanApplication {
	ts := submittedAt.Unix()

	return LoanApplication{
		ApplicationID: s.newID(),
		ApplicantID:   s.newID(),
		SubmittedAt:   submittedAt,
		LoanAmount:    float64(5000 + ts%20000),
		Purpose:       purposes[ts%int64(len(purposes))],
		State:         states[ts%int64(len(states))],
		AnnualIncome:  float64(40000 + ts%90000),
	}
}

// parseSince accepts RFC 3339 timestamps; a missing offset means UTC.
func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}

	t, err := time.ParseInLocation("2006-01-02T15:04:05.999999999", raw, time.UTC)
	if err != nil {
		return time.Time{}, err
	}

	return t, nil
}

func newUUID() string {
	return uuid.NewString()
}

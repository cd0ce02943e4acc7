package source

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one loan application as returned by the source. Every field but
// the application id may be null in the payload; Raw keeps the exact bytes
// received so the bronze archive stays verbatim.
type Record struct {
	ApplicationID string     `json:"application_id"`
	ApplicantID   *string    `json:"applicant_id"`
	SubmittedAt   *time.Time `json:"submitted_at"`
	LoanAmount    *float64   `json:"loan_amount"`
	Purpose       *string    `json:"purpose"`
	State         *string    `json:"state"`
	AnnualIncome  *float64   `json:"annual_income"`

	Raw json.RawMessage `json:"-"`
}

// MarshalRaw returns the verbatim payload, or a fresh encoding for records
// built in code.
func (r *Record) MarshalRaw() ([]byte, error) {
	if len(r.Raw) > 0 {
		return r.Raw, nil
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ApplicationID, err)
	}

	return data, nil
}

// Decode parses a JSON array of records, keeping each element's raw bytes.
func Decode(data []byte) ([]Record, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("decoding record array: %w", err)
	}

	records := make([]Record, 0, len(elems))

	for i, elem := range elems {
		var rec Record
		if err := json.Unmarshal(elem, &rec); err != nil {
			return nil, fmt.Errorf("decoding record %d: %w", i, err)
		}

		rec.Raw = elem
		records = append(records, rec)
	}

	return records, nil
}

// MaxSubmittedAt returns the latest submission timestamp among records, or
// nil when none carries one.
func MaxSubmittedAt(records []Record) *time.Time {
	var latest *time.Time

	for i := range records {
		ts := records[i].SubmittedAt
		if ts == nil {
			continue
		}

		if latest == nil || ts.After(*latest) {
			v := ts.UTC()
			latest = &v
		}
	}

	return latest
}

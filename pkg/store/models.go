package store

import (
	"time"
)

// Pipeline run status constants.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// IngestionState holds the high-water mark of committed data for one source.
// A nil LastIngestedAt means nothing has been ingested yet.
type IngestionState struct {
	SourceName     string     `gorm:"primaryKey" json:"source_name" yaml:"source_name"`
	LastIngestedAt *time.Time `json:"last_ingested_at" yaml:"last_ingested_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at" yaml:"updated_at"`
}

// TableName pins the relation name.
func (IngestionState) TableName() string { return "ingestion_state" }

// PipelineRun is the audit row of one orchestrator execution.
type PipelineRun struct {
	RunID        string     `gorm:"primaryKey" json:"run_id" yaml:"run_id"`
	PipelineName string     `gorm:"not null;index" json:"pipeline_name" yaml:"pipeline_name"`
	Status       string     `gorm:"not null;index" json:"status" yaml:"status"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time `json:"finished_at" yaml:"finished_at"`
	RowCount     *int64     `json:"row_count" yaml:"row_count"`
	ErrorMessage *string    `gorm:"type:text" json:"error_message" yaml:"error_message"`
}

// TableName pins the relation name.
func (PipelineRun) TableName() string { return "pipeline_runs" }

// StagingRecord is the latest known version of one loan application. Every
// non-key column is nullable; the quality gate, not storage, rejects nulls.
type StagingRecord struct {
	ApplicationID string     `gorm:"primaryKey" json:"application_id"`
	ApplicantID   *string    `json:"applicant_id"`
	SubmittedAt   *time.Time `gorm:"index" json:"submitted_at"`
	LoanAmount    *float64   `json:"loan_amount"`
	Purpose       *string    `json:"purpose"`
	State         *string    `json:"state"`
	AnnualIncome  *float64   `json:"annual_income"`
}

// TableName pins the relation name.
func (StagingRecord) TableName() string { return "staging_records" }

// PipelineLock is the fallback single-writer lock row on databases without
// advisory locks.
type PipelineLock struct {
	LockKey  string    `gorm:"primaryKey" json:"lock_key"`
	LockedAt time.Time `gorm:"not null" json:"locked_at"`
	LockedBy string    `gorm:"not null" json:"locked_by"`
}

// TableName pins the relation name.
func (PipelineLock) TableName() string { return "pipeline_locks" }

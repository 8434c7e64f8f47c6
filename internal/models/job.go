package models

import "time"

// Job statuses
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job represents an async batch personalization job
type Job struct {
	ID             string     `json:"id" db:"id"`
	Status         string     `json:"status" db:"status"`
	TotalCount     int        `json:"total_count" db:"total_count"`
	ProcessedCount int        `json:"processed_count" db:"processed_count"`
	FailedCount    int        `json:"failed_count" db:"failed_count"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	ErrorMessage   *string    `json:"error_message,omitempty" db:"error_message"`
}

// Decision is the persisted outcome of one customer run. Message text is never stored.
type Decision struct {
	ID                 int64     `json:"id" db:"id"`
	JobID              *string   `json:"job_id,omitempty" db:"job_id"`
	CustomerID         string    `json:"customer_id" db:"customer_id"`
	ReadyToSend        bool      `json:"ready_to_send" db:"ready_to_send"`
	RiskScore          float64   `json:"risk_score" db:"risk_score"`
	CoveragePercentage float64   `json:"coverage_percentage" db:"coverage_percentage"`
	QualityBefore      float64   `json:"quality_before" db:"quality_before"`
	QualityAfter       float64   `json:"quality_after" db:"quality_after"`
	GenerationMethod   string    `json:"generation_method" db:"generation_method"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

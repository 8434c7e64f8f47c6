package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"personalization-service/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ErrJobNotFound is returned when no job has the requested id
var ErrJobNotFound = errors.New("job not found")

// JobRepository tracks async batch jobs
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
}

// DecisionRepository stores per-customer send decisions
type DecisionRepository interface {
	SaveDecision(ctx context.Context, d *models.Decision) error
	ListDecisions(ctx context.Context, jobID string) ([]*models.Decision, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// Stats summarizes stored decisions
type Stats struct {
	TotalDecisions int            `json:"total_decisions"`
	ReadyToSend    int            `json:"ready_to_send"`
	ByMethod       map[string]int `json:"by_generation_method"`
}

// Repository handles data storage over sqlite or postgres
type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewRepository creates a repository over an open, migrated database
func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// CreateJob creates a new job
func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	query := r.db.Rebind(`
		INSERT INTO jobs (id, status, total_count, created_at)
		VALUES (?, ?, ?, ?)
	`)

	if _, err := r.db.ExecContext(ctx, query, job.ID, job.Status, job.TotalCount, job.CreatedAt); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// UpdateJob updates job progress
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job) error {
	query := r.db.Rebind(`
		UPDATE jobs
		SET status = ?, processed_count = ?, failed_count = ?, completed_at = ?, error_message = ?
		WHERE id = ?
	`)

	res, err := r.db.ExecContext(ctx, query, job.Status, job.ProcessedCount, job.FailedCount, job.CompletedAt, job.ErrorMessage, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	query := r.db.Rebind(`
		SELECT id, status, total_count, processed_count, failed_count, created_at, completed_at, error_message
		FROM jobs
		WHERE id = ?
	`)

	job := &models.Job{}
	err := r.db.GetContext(ctx, job, query, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// SaveDecision stores one decision and sets its ID
func (r *Repository) SaveDecision(ctx context.Context, d *models.Decision) error {
	query := r.db.Rebind(`
		INSERT INTO decisions (
			job_id, customer_id, ready_to_send, risk_score, coverage_percentage,
			quality_before, quality_after, generation_method, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	err := r.db.QueryRowxContext(ctx, query,
		d.JobID,
		d.CustomerID,
		d.ReadyToSend,
		d.RiskScore,
		d.CoveragePercentage,
		d.QualityBefore,
		d.QualityAfter,
		d.GenerationMethod,
		d.CreatedAt,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("failed to save decision: %w", err)
	}
	return nil
}

// ListDecisions returns the decisions of a job, oldest first
func (r *Repository) ListDecisions(ctx context.Context, jobID string) ([]*models.Decision, error) {
	query := r.db.Rebind(`
		SELECT id, job_id, customer_id, ready_to_send, risk_score, coverage_percentage,
		       quality_before, quality_after, generation_method, created_at
		FROM decisions
		WHERE job_id = ?
		ORDER BY id
	`)

	decisions := []*models.Decision{}
	if err := r.db.SelectContext(ctx, &decisions, query, jobID); err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	return decisions, nil
}

// GetStats returns statistics about stored decisions
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByMethod: make(map[string]int)}

	err := r.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN ready_to_send THEN 1 ELSE 0 END), 0)
		FROM decisions
	`).Scan(&stats.TotalDecisions, &stats.ReadyToSend)
	if err != nil {
		return nil, fmt.Errorf("failed to count decisions: %w", err)
	}

	rows, err := r.db.QueryxContext(ctx, `
		SELECT generation_method, COUNT(*)
		FROM decisions
		GROUP BY generation_method
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to group decisions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var method string
		var count int
		if err := rows.Scan(&method, &count); err != nil {
			r.logger.Error("Failed to scan decision stats", zap.Error(err))
			continue
		}
		stats.ByMethod[method] = count
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.db.Close()
}

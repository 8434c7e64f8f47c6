package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"personalization-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoJobStore is returned by job operations on a pipeline without a job repository
var ErrNoJobStore = errors.New("job repository not configured")

// BatchItem is the outcome of one request in a batch
type BatchItem struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// RunBatch runs requests in parallel, at most workers at a time, and returns items in input order.
// A failing request does not stop the others. The error is non-nil only when ctx ends first.
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request, workers int) ([]BatchItem, error) {
	return p.runBatch(ctx, reqs, workers, nil, nil)
}

func (p *Pipeline) runBatch(ctx context.Context, reqs []Request, workers int, jobID *string, progress func(ok bool)) ([]BatchItem, error) {
	if workers <= 0 {
		workers = p.workers
	}

	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, req := range reqs {
		i, req := i, req
		items[i].Index = i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				items[i].Error = err.Error()
				return err
			}
			res, err := p.run(gctx, req, jobID)
			if err != nil {
				items[i].Error = err.Error()
				p.logger.Warn("Batch request failed", zap.Int("index", i), zap.Error(err))
			} else {
				items[i].Result = res
			}
			if progress != nil {
				progress(err == nil)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return items, err
	}
	return items, ctx.Err()
}

// StartJob records a pending job and processes reqs in the background
func (p *Pipeline) StartJob(ctx context.Context, reqs []Request) (string, error) {
	if p.jobs == nil {
		return "", ErrNoJobStore
	}

	jobID := uuid.New().String()
	job := &models.Job{
		ID:         jobID,
		Status:     models.JobPending,
		TotalCount: len(reqs),
		CreatedAt:  time.Now().UTC(),
	}

	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("failed to create job: %w", err)
	}

	// Start async processing
	go p.processJob(job, reqs)

	return jobID, nil
}

func (p *Pipeline) processJob(job *models.Job, reqs []Request) {
	ctx := context.Background()

	job.Status = models.JobProcessing
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Error("Failed to update job", zap.String("job_id", job.ID), zap.Error(err))
	}

	var mu sync.Mutex
	progress := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if ok {
			job.ProcessedCount++
		} else {
			job.FailedCount++
		}
		if err := p.jobs.UpdateJob(ctx, job); err != nil {
			p.logger.Error("Failed to update job progress", zap.String("job_id", job.ID), zap.Error(err))
		}
	}

	jobID := job.ID
	_, err := p.runBatch(ctx, reqs, p.workers, &jobID, progress)

	mu.Lock()
	defer mu.Unlock()

	job.Status = models.JobCompleted
	if err != nil {
		job.Status = models.JobFailed
		msg := err.Error()
		job.ErrorMessage = &msg
	} else if job.FailedCount > 0 {
		msg := fmt.Sprintf("%d of %d requests failed", job.FailedCount, job.TotalCount)
		job.ErrorMessage = &msg
	}
	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt
	if err := p.jobs.UpdateJob(ctx, job); err != nil {
		p.logger.Error("Failed to complete job", zap.String("job_id", job.ID), zap.Error(err))
	}

	p.logger.Info("Batch job completed",
		zap.String("job_id", job.ID),
		zap.Int("processed", job.ProcessedCount),
		zap.Int("failed", job.FailedCount))
}

// GetJob returns job status
func (p *Pipeline) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	if p.jobs == nil {
		return nil, ErrNoJobStore
	}
	return p.jobs.GetJob(ctx, jobID)
}

// ListDecisions returns the stored decisions of a job
func (p *Pipeline) ListDecisions(ctx context.Context, jobID string) ([]*models.Decision, error) {
	if p.decisions == nil {
		return nil, ErrNoJobStore
	}
	return p.decisions.ListDecisions(ctx, jobID)
}

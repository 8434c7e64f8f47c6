package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"personalization-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(TypeSQLite, filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	repo := NewRepository(db, zap.NewNop())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestJobLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	job := &models.Job{
		ID:         uuid.New().String(),
		Status:     models.JobPending,
		TotalCount: 3,
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, repo.CreateJob(ctx, job))

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.Status)
	assert.Equal(t, 3, got.TotalCount)
	assert.Nil(t, got.CompletedAt)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))

	done := time.Now().UTC().Truncate(time.Second)
	msg := "1 customer failed"
	job.Status = models.JobCompleted
	job.ProcessedCount = 2
	job.FailedCount = 1
	job.CompletedAt = &done
	job.ErrorMessage = &msg
	require.NoError(t, repo.UpdateJob(ctx, job))

	got, err = repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedCount)
	assert.Equal(t, 1, got.FailedCount)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
}

func TestGetJob_NotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = repo.UpdateJob(context.Background(), &models.Job{ID: "missing", Status: models.JobFailed})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDecisions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	jobID := uuid.New().String()
	require.NoError(t, repo.CreateJob(ctx, &models.Job{ID: jobID, Status: models.JobProcessing, TotalCount: 2, CreatedAt: time.Now().UTC()}))

	first := &models.Decision{JobID: &jobID, CustomerID: "C1", ReadyToSend: true, RiskScore: 0.1, CoveragePercentage: 100, QualityBefore: 0.6, QualityAfter: 0.9, GenerationMethod: models.MethodRuleBased, CreatedAt: time.Now().UTC()}
	second := &models.Decision{JobID: &jobID, CustomerID: "C2", ReadyToSend: false, RiskScore: 0.8, CoveragePercentage: 50, QualityBefore: 0.5, QualityAfter: 0.6, GenerationMethod: models.MethodRuleBased, CreatedAt: time.Now().UTC()}
	standalone := &models.Decision{CustomerID: "C3", ReadyToSend: true, GenerationMethod: models.MethodNoRefinementNeeded, CreatedAt: time.Now().UTC()}
	for _, d := range []*models.Decision{first, second, standalone} {
		require.NoError(t, repo.SaveDecision(ctx, d))
		assert.NotZero(t, d.ID)
	}

	list, err := repo.ListDecisions(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C1", list[0].CustomerID)
	assert.True(t, list[0].ReadyToSend)
	assert.Equal(t, "C2", list[1].CustomerID)
	assert.InDelta(t, 0.8, list[1].RiskScore, 1e-9)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDecisions)
	assert.Equal(t, 2, stats.ReadyToSend)
	assert.Equal(t, map[string]int{models.MethodRuleBased: 2, models.MethodNoRefinementNeeded: 1}, stats.ByMethod)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := Open(TypeSQLite, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// migrations are already applied
	db, err = Open(TypeSQLite, path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestOpen_UnsupportedType(t *testing.T) {
	_, err := Open("mysql", "dsn", zap.NewNop())
	assert.Error(t, err)
}

package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"personalization-service/internal/config"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"
	"personalization-service/internal/repository"
	"personalization-service/internal/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const cardLetter = "Your new debit card will arrive by 14 March 2025. Call 0345 300 0000 if it does not arrive."

const advisorEmail = "Dear Sam,\nYour account manager, James Wilson, noted your 10 years of excellent service. " +
	"Your new debit card will arrive by 14 March 2025. Call 0345 300 0000 if it does not arrive."

func testPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	cfg := config.Default().Pipeline
	return NewPipeline(NewComponents(nil, cfg, zap.NewNop()), opts, zap.NewNop())
}

func testRequest(id string) Request {
	return Request{
		Document: cardLetter,
		Customer: map[string]interface{}{"customer_id": id, "name": "Sam Taylor", "age": 34},
		Channels: map[string]string{
			"email": advisorEmail,
			"sms":   "Hi Sam, your new debit card will arrive by 14 March 2025. Call 0345 300 0000 if it does not arrive.",
		},
	}
}

func TestRun_RemovesHallucinationsAndPasses(t *testing.T) {
	p := testPipeline(t, Options{})

	res, err := p.Run(context.Background(), testRequest("C1"))
	require.NoError(t, err)

	assert.Equal(t, "C1", res.CustomerID)
	assert.NotEmpty(t, res.KeyPoints)
	require.NotNil(t, res.Report)
	assert.NotEmpty(t, res.Report.FindingsForChannel(models.Email))

	email := res.Channel(models.Email)
	require.NotNil(t, email)
	assert.Equal(t, advisorEmail, email.Original)
	assert.NotContains(t, email.Refined, "James Wilson")
	assert.NotContains(t, email.Refined, "10 years")
	assert.Contains(t, email.Refined, "Your account manager noted your loyalty.")
	require.NotNil(t, email.Refinement)
	assert.Equal(t, models.MethodRuleBased, email.Refinement.Metrics.GenerationMethod)
	assert.GreaterOrEqual(t, email.Refinement.Metrics.HallucinationsRemoved, 2)

	require.NotNil(t, res.ReportAfter)
	assert.Empty(t, models.BlockingFindings(res.ReportAfter.Findings, 0.7))

	for _, cr := range res.Channels {
		assert.False(t, cr.Skipped)
		require.NotNil(t, cr.Audit, cr.Channel)
		assert.True(t, cr.Audit.ReadyToSend, "%s: %+v", cr.Channel, cr.Audit.RedFlags)
	}
	assert.True(t, res.ReadyToSend)
	assert.Equal(t, models.Email, res.Channels[0].Channel)
	assert.Equal(t, models.SMS, res.Channels[1].Channel)
	assert.Equal(t, res.CoverageBefore.TotalPoints, res.CoverageAfter.TotalPoints)
}

func TestRun_OneBlockedChannelBlocksCustomer(t *testing.T) {
	p := testPipeline(t, Options{})
	req := testRequest("C2")
	req.Channels["sms"] = "Hi Sam, act now for guaranteed returns on your card."

	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Channel(models.Email).Audit.ReadyToSend)
	sms := res.Channel(models.SMS).Audit
	assert.False(t, sms.ReadyToSend)
	assert.Equal(t, models.StateBlocked, sms.DecisionState)
	assert.False(t, res.ReadyToSend)
}

func TestRun_InvalidRequest(t *testing.T) {
	p := testPipeline(t, Options{})

	tests := map[string]Request{
		"empty document":   {Document: "  ", Channels: map[string]string{"email": "Hi"}},
		"no channels":      {Document: cardLetter},
		"unknown channels": {Document: cardLetter, Channels: map[string]string{"fax": "Hi"}},
		"blank channels":   {Document: cardLetter, Channels: map[string]string{"email": " "}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := p.Run(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestRun_RulesDisableChannel(t *testing.T) {
	engine, err := rules.Parse([]byte(`
rules:
  - id: hearing_no_voice
    priority: 10
    conditions:
      rules:
        - field: customer.accessibility_needs
          operator: equals
          value: hearing
    actions:
      - type: disable_feature
        feature: voice
`), zap.NewNop())
	require.NoError(t, err)
	p := testPipeline(t, Options{Rules: engine})

	req := testRequest("C3")
	req.Customer["accessibility_needs"] = "hearing"
	req.Channels["voice_note"] = "Hi Sam, your new debit card will arrive by 14 March 2025."

	res, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	voice := res.Channel(models.Voice)
	require.NotNil(t, voice)
	assert.True(t, voice.Skipped)
	assert.Contains(t, voice.SkipReason, "hearing_no_voice")
	assert.Nil(t, voice.Audit)
	assert.NotContains(t, res.CoverageAfter.ByChannel, models.Voice)

	require.NotNil(t, res.Rules)
	assert.Equal(t, []string{"hearing_no_voice"}, res.Rules.TriggeredRules)
	assert.True(t, res.ReadyToSend)
}

func TestRun_AllChannelsDisabledIsNotReady(t *testing.T) {
	engine, err := rules.Parse([]byte(`
rules:
  - id: hold_all
    actions:
      - type: disable_feature
        feature: email
`), zap.NewNop())
	require.NoError(t, err)
	p := testPipeline(t, Options{Rules: engine})

	res, err := p.Run(context.Background(), Request{
		Document: cardLetter,
		Channels: map[string]string{"email": advisorEmail},
	})
	require.NoError(t, err)

	assert.True(t, res.Channel(models.Email).Skipped)
	assert.Nil(t, res.Report)
	assert.False(t, res.ReadyToSend)
}

func TestRunBatch_KeepsInputOrder(t *testing.T) {
	p := testPipeline(t, Options{Workers: 2})

	reqs := make([]Request, 6)
	for i := range reqs {
		reqs[i] = testRequest(string(rune('A' + i)))
	}
	reqs[3] = Request{Document: ""}

	items, err := p.RunBatch(context.Background(), reqs, 3)
	require.NoError(t, err)
	require.Len(t, items, len(reqs))

	for i, item := range items {
		assert.Equal(t, i, item.Index)
		if i == 3 {
			assert.Nil(t, item.Result)
			assert.Contains(t, item.Error, "document is empty")
			continue
		}
		require.NotNil(t, item.Result, item.Error)
		assert.Equal(t, string(rune('A'+i)), item.Result.CustomerID)
	}
}

func TestRunBatch_CanceledContext(t *testing.T) {
	p := testPipeline(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, err := p.RunBatch(ctx, []Request{testRequest("A"), testRequest("B")}, 1)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Nil(t, item.Result)
		assert.NotEmpty(t, item.Error)
	}
}

func newRepository(t *testing.T) *repository.Repository {
	t.Helper()
	db, err := repository.Open(repository.TypeSQLite, filepath.Join(t.TempDir(), "pipeline.db"), zap.NewNop())
	require.NoError(t, err)
	repo := repository.NewRepository(db, zap.NewNop())
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestStartJob_ProcessesAndStoresDecisions(t *testing.T) {
	repo := newRepository(t)
	p := testPipeline(t, Options{Jobs: repo, Decisions: repo, Workers: 2})
	ctx := context.Background()

	bad := Request{Document: cardLetter, Channels: map[string]string{"fax": "Hi"}}
	jobID, err := p.StartJob(ctx, []Request{testRequest("C1"), bad, testRequest("C2")})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		job, err := p.GetJob(ctx, jobID)
		return err == nil && job.Status == models.JobCompleted
	}, 10*time.Second, 20*time.Millisecond)

	job, err := p.GetJob(ctx, jobID)
	require.NoError(t, err)

	assert.Equal(t, 3, job.TotalCount)
	assert.Equal(t, 2, job.ProcessedCount)
	assert.Equal(t, 1, job.FailedCount)
	require.NotNil(t, job.CompletedAt)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "1 of 3 requests failed", *job.ErrorMessage)

	decisions, err := p.ListDecisions(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	ids := []string{decisions[0].CustomerID, decisions[1].CustomerID}
	assert.ElementsMatch(t, []string{"C1", "C2"}, ids)
	for _, d := range decisions {
		assert.True(t, d.ReadyToSend)
		assert.Equal(t, models.MethodRuleBased, d.GenerationMethod)
		assert.Greater(t, d.CoveragePercentage, 0.0)
	}
}

func TestJobs_WithoutRepository(t *testing.T) {
	p := testPipeline(t, Options{})

	_, err := p.StartJob(context.Background(), []Request{testRequest("C1")})
	assert.ErrorIs(t, err, ErrNoJobStore)
	_, err = p.GetJob(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoJobStore)
}

type recordingDecisions struct {
	mu    sync.Mutex
	saved []*models.Decision
}

func (r *recordingDecisions) SaveDecision(_ context.Context, d *models.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, d)
	return nil
}

func (r *recordingDecisions) ListDecisions(context.Context, string) ([]*models.Decision, error) {
	return nil, nil
}

func (r *recordingDecisions) GetStats(context.Context) (*repository.Stats, error) {
	return &repository.Stats{}, nil
}

func TestRun_SavesDecisionWithoutText(t *testing.T) {
	store := &recordingDecisions{}
	p := testPipeline(t, Options{Decisions: store})

	res, err := p.Run(context.Background(), testRequest("C9"))
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	d := store.saved[0]
	assert.Nil(t, d.JobID)
	assert.Equal(t, "C9", d.CustomerID)
	assert.Equal(t, res.ReadyToSend, d.ReadyToSend)
	assert.Equal(t, res.CoverageAfter.CoveragePercentage, d.CoveragePercentage)
	assert.Equal(t, res.ReportAfter.RiskScore, d.RiskScore)
}

func TestSummarizeMethods(t *testing.T) {
	assert.Equal(t, models.MethodAIRefinement, summarizeMethods(map[string]bool{models.MethodRuleBased: true, models.MethodAIRefinement: true}))
	assert.Equal(t, models.MethodRuleBased, summarizeMethods(map[string]bool{models.MethodRuleBased: true}))
	assert.Equal(t, models.MethodNoRefinementNeeded, summarizeMethods(nil))
}

func TestRuleContext(t *testing.T) {
	p := testPipeline(t, Options{})
	req := testRequest("C1")
	texts, err := p.parseChannels(req)
	require.NoError(t, err)

	prof := profile.New(req.Customer)
	ctx := RuleContext(prof, profile.Derive(prof), texts)

	assert.Equal(t, "34", rules.Lookup(ctx, "customer.age"))
	assert.Equal(t, len(strings.Fields(advisorEmail)), rules.Lookup(ctx, "channels.email.words"))
	assert.Nil(t, rules.Lookup(ctx, "channels.voice.words"))
	assert.NotNil(t, rules.Lookup(ctx, "insights.life_stage"))
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"personalization-service/internal/config"
	"personalization-service/internal/coverage"
	"personalization-service/internal/extractor"
	"personalization-service/internal/hallucination"
	"personalization-service/internal/inference"
	"personalization-service/internal/llm"
	"personalization-service/internal/metrics"
	"personalization-service/internal/models"
	"personalization-service/internal/profile"
	"personalization-service/internal/refiner"
	"personalization-service/internal/repository"
	"personalization-service/internal/rules"
	"personalization-service/internal/sentiment"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("personalization.pipeline")

// ErrInvalidRequest is returned for requests that cannot be processed at all
var ErrInvalidRequest = errors.New("invalid request")

// Request is one customer's communication to check
type Request struct {
	// Document is the bank-approved source communication
	Document string `json:"document" binding:"required"`
	// Customer is the raw profile record
	Customer map[string]interface{} `json:"customer"`
	// Channels maps a channel name to its generated body
	Channels map[string]string `json:"channels" binding:"required"`
}

// ChannelResult is the outcome for one channel
type ChannelResult struct {
	Channel    models.Channel `json:"channel"`
	Skipped    bool           `json:"skipped"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Original   string         `json:"original,omitempty"`
	// Refined is the text the audit ran on
	Refined    string                          `json:"refined,omitempty"`
	Refinement *refiner.Result                 `json:"refinement,omitempty"`
	Issues     []string                        `json:"issues,omitempty"`
	Unresolved []models.HallucinationFinding   `json:"unresolved_findings,omitempty"`
	Audit      *models.SentimentAnalysisResult `json:"audit,omitempty"`
}

// Result is the full pipeline outcome for one customer
type Result struct {
	CustomerID     string                      `json:"customer_id"`
	KeyPoints      []models.KeyPoint           `json:"key_points"`
	CoverageBefore models.CoverageSummary      `json:"coverage_before"`
	CoverageAfter  models.CoverageSummary      `json:"coverage_after"`
	Report         *models.HallucinationReport `json:"hallucination_report"`
	ReportAfter    *models.HallucinationReport `json:"hallucination_report_after"`
	Insights       profile.Insights            `json:"insights"`
	Inferences     []models.InferenceRule      `json:"inferences"`
	Rules          *rules.Evaluation           `json:"rules,omitempty"`
	Channels       []ChannelResult             `json:"channels"`
	ReadyToSend    bool                        `json:"ready_to_send"`
	Duration       time.Duration               `json:"duration_ns"`
}

// Channel returns the result for ch, or nil when it was not part of the request
func (r *Result) Channel(ch models.Channel) *ChannelResult {
	for i := range r.Channels {
		if r.Channels[i].Channel == ch {
			return &r.Channels[i]
		}
	}
	return nil
}

// Components are the stage implementations a pipeline runs
type Components struct {
	Extractor *extractor.Extractor
	Validator *coverage.Validator
	Detector  *hallucination.Detector
	Proposer  *inference.Proposer
	Refiner   *refiner.Refiner
	Auditor   *sentiment.Auditor
}

// NewComponents builds every stage over one generator. A nil generator selects the fallback strategies.
func NewComponents(generator llm.TextGenerator, cfg config.Pipeline, logger *zap.Logger) Components {
	return Components{
		Extractor: extractor.NewExtractor(generator, logger),
		Validator: coverage.NewValidator(generator, logger),
		Detector:  hallucination.NewDetector(generator, cfg.Hallucination, logger),
		Proposer:  inference.NewProposer(generator, logger),
		Refiner:   refiner.NewRefiner(generator, cfg.Refiner, logger),
		Auditor:   sentiment.NewAuditor(generator, cfg.Sentiment, logger),
	}
}

// Options wires the optional collaborators of a pipeline
type Options struct {
	// Rules decides channel eligibility, nil enables every channel
	Rules *rules.Engine
	// Jobs is required by StartJob and GetJob
	Jobs repository.JobRepository
	// Decisions stores one decision per run when set
	Decisions repository.DecisionRepository
	// Workers bounds parallel customers in a batch
	Workers int
}

// Pipeline runs the content integrity stages for one customer at a time
type Pipeline struct {
	c         Components
	rules     *rules.Engine
	jobs      repository.JobRepository
	decisions repository.DecisionRepository
	workers   int
	logger    *zap.Logger
}

// NewPipeline creates a pipeline over the given components
func NewPipeline(c Components, opts Options, logger *zap.Logger) *Pipeline {
	workers := opts.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Pipeline{
		c:         c,
		rules:     opts.Rules,
		jobs:      opts.Jobs,
		decisions: opts.Decisions,
		workers:   workers,
		logger:    logger,
	}
}

// Components returns the stages the pipeline runs, for single-stage callers
func (p *Pipeline) Components() Components {
	return p.c
}

// Run checks one customer's communication end to end
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	return p.run(ctx, req, nil)
}

func (p *Pipeline) run(ctx context.Context, req Request, jobID *string) (*Result, error) {
	started := time.Now()

	texts, err := p.parseChannels(req)
	if err != nil {
		return nil, err
	}

	prof := profile.New(req.Customer)
	res := &Result{CustomerID: prof.ID()}

	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("customer_id", res.CustomerID),
		attribute.Int("channels", len(texts)),
	))
	defer span.End()

	p.stage(ctx, "extract", func(ctx context.Context) {
		res.KeyPoints = p.c.Extractor.Extract(ctx, req.Document)
	})

	res.Insights = profile.Derive(prof)
	var active map[models.Channel]string
	p.stage(ctx, "rules", func(ctx context.Context) {
		active = p.applyRules(res, texts, prof)
	})

	if len(active) > 0 {
		p.check(ctx, res, req.Document, prof, active)
	}

	res.ReadyToSend = p.decide(res, active)
	res.Duration = time.Since(started)

	span.SetAttributes(attribute.Bool("ready_to_send", res.ReadyToSend))
	span.SetStatus(codes.Ok, "")

	p.saveDecision(ctx, res, jobID)

	p.logger.Info("Pipeline run completed",
		zap.String("customer_id", res.CustomerID),
		zap.Int("channels", len(active)),
		zap.Bool("ready_to_send", res.ReadyToSend),
		zap.Duration("duration", res.Duration))

	return res, nil
}

// check runs the coverage, detection, refinement and audit stages over the active channels
func (p *Pipeline) check(ctx context.Context, res *Result, document string, prof profile.Profile, active map[models.Channel]string) {
	order := ordered(active)

	p.stage(ctx, "coverage_before", func(ctx context.Context) {
		res.KeyPoints, res.CoverageBefore = p.c.Validator.Validate(ctx, res.KeyPoints, active)
	})

	p.stage(ctx, "detect", func(ctx context.Context) {
		res.Report = p.c.Detector.Detect(ctx, active, document, prof)
	})

	p.stage(ctx, "inference", func(ctx context.Context) {
		res.Inferences = p.c.Proposer.Propose(ctx, prof, res.Insights)
	})

	refined := make(map[models.Channel]string, len(active))
	p.stage(ctx, "refine", func(ctx context.Context) {
		for _, ch := range order {
			cr := res.Channel(ch)
			cr.Refinement = p.c.Refiner.Refine(ctx, active[ch], res.Report.FindingsForChannel(ch), res.Inferences, refiner.Context{
				Profile:  prof,
				Insights: res.Insights,
				Channel:  ch,
			})
			cr.Refined = cr.Refinement.RefinedText
			cr.Issues = ch.Spec().Validate(cr.Refined)
			refined[ch] = cr.Refined
		}
	})

	p.stage(ctx, "coverage_after", func(ctx context.Context) {
		res.KeyPoints, res.CoverageAfter = p.c.Validator.Validate(ctx, res.KeyPoints, refined)
		metrics.CoveragePercentage.Observe(res.CoverageAfter.CoveragePercentage)
	})

	p.stage(ctx, "detect_after", func(ctx context.Context) {
		res.ReportAfter = p.c.Detector.Detect(ctx, refined, document, prof)
	})

	p.stage(ctx, "audit", func(ctx context.Context) {
		for _, ch := range order {
			cr := res.Channel(ch)
			cr.Unresolved = res.ReportAfter.FindingsForChannel(ch)
			cr.Audit = p.c.Auditor.Audit(ctx, cr.Refined, sentiment.AuditContext{
				Profile:  prof,
				Insights: res.Insights,
				Channel:  ch,
				Findings: cr.Unresolved,
			})
		}
	})
}

// stage runs fn in its own span and records its duration
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer func() {
		span.End()
		metrics.ObserveStage(name, start)
	}()
	fn(ctx)
}

// parseChannels keeps the known, non-empty channels of a request
func (p *Pipeline) parseChannels(req Request) (map[models.Channel]string, error) {
	if strings.TrimSpace(req.Document) == "" {
		return nil, fmt.Errorf("%w: document is empty", ErrInvalidRequest)
	}

	texts := make(map[models.Channel]string, len(req.Channels))
	for name, text := range req.Channels {
		ch, err := ParseChannelName(name)
		if err != nil {
			p.logger.Warn("Ignoring unknown channel", zap.String("channel", name))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		texts[ch] = text
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no known channel has content", ErrInvalidRequest)
	}
	return texts, nil
}

// ParseChannelName accepts voice_note as an alias for voice
func ParseChannelName(name string) (models.Channel, error) {
	if strings.EqualFold(strings.TrimSpace(name), "voice_note") {
		return models.Voice, nil
	}
	return models.ParseChannel(name)
}

// applyRules records one ChannelResult per requested channel and returns the enabled ones
func (p *Pipeline) applyRules(res *Result, texts map[models.Channel]string, prof profile.Profile) map[models.Channel]string {
	var ev *rules.Evaluation
	if p.rules != nil {
		e := p.rules.Evaluate(RuleContext(prof, res.Insights, texts))
		ev = &e
		res.Rules = ev
	}

	active := make(map[models.Channel]string, len(texts))
	for _, ch := range ordered(texts) {
		cr := ChannelResult{Channel: ch, Original: texts[ch]}
		if ev != nil {
			if enabled, set := channelFeature(*ev, ch); set && !enabled {
				cr.Skipped = true
				cr.SkipReason = "disabled by rules: " + strings.Join(ev.TriggeredRules, ", ")
				res.Channels = append(res.Channels, cr)
				p.logger.Info("Channel disabled by rules",
					zap.String("customer_id", res.CustomerID),
					zap.String("channel", string(ch)))
				continue
			}
		}
		active[ch] = texts[ch]
		res.Channels = append(res.Channels, cr)
	}
	return active
}

func channelFeature(ev rules.Evaluation, ch models.Channel) (enabled, set bool) {
	if enabled, set = ev.Feature(string(ch)); set {
		return enabled, set
	}
	if ch == models.Voice {
		return ev.Feature("voice_note")
	}
	return false, false
}

// RuleContext is the evaluation context channel rules see
func RuleContext(prof profile.Profile, ins profile.Insights, texts map[models.Channel]string) map[string]interface{} {
	channels := make(map[string]interface{}, len(texts))
	for ch, text := range texts {
		channels[string(ch)] = map[string]interface{}{
			"length": len(text),
			"words":  len(strings.Fields(text)),
		}
	}
	return map[string]interface{}{
		"customer": prof.Fields(),
		"insights": map[string]interface{}{
			"segment":             ins.Segment,
			"life_stage":          ins.LifeStage,
			"financial_profile":   ins.FinancialProfile,
			"digital_persona":     ins.DigitalPersona,
			"communication_style": ins.CommunicationStyle,
			"data_gaps":           len(ins.DataGaps),
		},
		"channels": channels,
	}
}

// decide is ready only when at least one channel was audited and every audit passed
func (p *Pipeline) decide(res *Result, active map[models.Channel]string) bool {
	if len(active) == 0 {
		return false
	}
	for _, cr := range res.Channels {
		if cr.Skipped {
			continue
		}
		if cr.Audit == nil || !cr.Audit.ReadyToSend {
			return false
		}
	}
	return true
}

func (p *Pipeline) saveDecision(ctx context.Context, res *Result, jobID *string) {
	if p.decisions == nil {
		return
	}
	d := NewDecision(res, jobID)
	if err := p.decisions.SaveDecision(ctx, d); err != nil {
		p.logger.Error("Failed to save decision",
			zap.String("customer_id", res.CustomerID),
			zap.Error(err))
	}
}

// NewDecision summarizes a result for storage. Message text is not carried over.
func NewDecision(res *Result, jobID *string) *models.Decision {
	d := &models.Decision{
		JobID:              jobID,
		CustomerID:         res.CustomerID,
		ReadyToSend:        res.ReadyToSend,
		CoveragePercentage: res.CoverageAfter.CoveragePercentage,
		GenerationMethod:   models.MethodNoRefinementNeeded,
		CreatedAt:          time.Now().UTC(),
	}
	if res.ReportAfter != nil {
		d.RiskScore = res.ReportAfter.RiskScore
	}

	methods := make(map[string]bool)
	var before, after float64
	var n int
	for _, cr := range res.Channels {
		if cr.Refinement == nil {
			continue
		}
		before += cr.Refinement.Metrics.QualityScoreBefore
		after += cr.Refinement.Metrics.QualityScoreAfter
		methods[cr.Refinement.Metrics.GenerationMethod] = true
		n++
	}
	if n > 0 {
		d.QualityBefore = before / float64(n)
		d.QualityAfter = after / float64(n)
	}
	d.GenerationMethod = summarizeMethods(methods)
	return d
}

// summarizeMethods prefers the strongest refinement method used on any channel
func summarizeMethods(methods map[string]bool) string {
	for _, m := range []string{models.MethodAIRefinement, models.MethodRuleBased} {
		if methods[m] {
			return m
		}
	}
	return models.MethodNoRefinementNeeded
}

func ordered(texts map[models.Channel]string) []models.Channel {
	out := make([]models.Channel, 0, len(texts))
	for _, ch := range models.AllChannels {
		if _, ok := texts[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

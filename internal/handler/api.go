package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"personalization-service/internal/models"
	"personalization-service/internal/profile"
	"personalization-service/internal/refiner"
	"personalization-service/internal/repository"
	"personalization-service/internal/sentiment"
	"personalization-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	pipeline  *service.Pipeline
	decisions repository.DecisionRepository
	logger    *zap.Logger
}

// NewHandler creates a new API handler. decisions may be nil when no store is configured.
func NewHandler(pipeline *service.Pipeline, decisions repository.DecisionRepository, logger *zap.Logger) *Handler {
	return &Handler{
		pipeline:  pipeline,
		decisions: decisions,
		logger:    logger,
	}
}

// RegisterRoutes registers all API routes. auth guards /api/v1 when not nil.
func (h *Handler) RegisterRoutes(r *gin.Engine, auth gin.HandlerFunc) {
	api := r.Group("/api/v1")
	if auth != nil {
		api.Use(auth)
	}
	{
		// Single stages
		api.POST("/extract", h.Extract)
		api.POST("/coverage", h.Coverage)
		api.POST("/detect", h.Detect)
		api.POST("/inferences", h.Inferences)
		api.POST("/refine", h.Refine)
		api.POST("/audit", h.Audit)

		// Full pipeline
		api.POST("/run", h.Run)
		api.POST("/batch", h.Batch)
		api.GET("/jobs/:id", h.GetJobStatus)
		api.GET("/jobs/:id/decisions", h.GetJobDecisions)
		api.GET("/jobs/:id/export/csv", h.ExportCSV)

		api.GET("/stats", h.GetStats)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Extract returns the key points of a source document
func (h *Handler) Extract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	points := h.pipeline.Components().Extractor.Extract(c.Request.Context(), req.Document)
	c.JSON(http.StatusOK, gin.H{
		"key_points": points,
		"total":      len(points),
	})
}

// Coverage checks which key points each channel carries
func (h *Handler) Coverage(c *gin.Context) {
	var req CoverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	texts, ok := h.channels(c, req.Channels)
	if !ok {
		return
	}

	points, summary := h.pipeline.Components().Validator.Validate(c.Request.Context(), req.KeyPoints, texts)
	c.JSON(http.StatusOK, gin.H{
		"key_points": points,
		"summary":    summary,
	})
}

// Detect reports hallucinations in generated channel texts
func (h *Handler) Detect(c *gin.Context) {
	var req DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	texts, ok := h.channels(c, req.Channels)
	if !ok {
		return
	}

	report := h.pipeline.Components().Detector.Detect(c.Request.Context(), texts, req.Document, profile.New(req.Customer))
	c.JSON(http.StatusOK, report)
}

// Inferences proposes safe demographic statements for a customer
func (h *Handler) Inferences(c *gin.Context) {
	var req InferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prof := profile.New(req.Customer)
	ins := profile.Derive(prof)
	inferences := h.pipeline.Components().Proposer.Propose(c.Request.Context(), prof, ins)
	c.JSON(http.StatusOK, gin.H{
		"insights":   ins,
		"inferences": inferences,
		"total":      len(inferences),
	})
}

// Refine rewrites one channel text
func (h *Handler) Refine(c *gin.Context) {
	var req RefineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := service.ParseChannelName(req.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prof := profile.New(req.Customer)
	res := h.pipeline.Components().Refiner.Refine(c.Request.Context(), req.Text, req.Findings, req.Inferences, refiner.Context{
		Profile:  prof,
		Insights: profile.Derive(prof),
		Channel:  ch,
	})
	c.JSON(http.StatusOK, res)
}

// Audit scores one final message and decides whether it may be sent
func (h *Handler) Audit(c *gin.Context) {
	var req AuditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ch, err := service.ParseChannelName(req.Channel)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	prof := profile.New(req.Customer)
	res := h.pipeline.Components().Auditor.Audit(c.Request.Context(), req.Text, sentiment.AuditContext{
		Profile:  prof,
		Insights: profile.Derive(prof),
		Channel:  ch,
		Findings: req.Findings,
	})
	c.JSON(http.StatusOK, res)
}

// Run executes the full pipeline for one customer
func (h *Handler) Run(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.pipeline.Run(c.Request.Context(), req)
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to run pipeline", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "pipeline failed"})
		return
	}

	c.JSON(http.StatusOK, res)
}

// Batch starts an async job over many customers
func (h *Handler) Batch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobID, err := h.pipeline.StartJob(c.Request.Context(), req.Requests)
	if err != nil {
		h.logger.Error("Failed to start batch job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start batch job"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":  jobID,
		"status":  models.JobPending,
		"message": "Batch started. Check /api/v1/jobs/" + jobID + " for status",
	})
}

// GetJobStatus returns batch job status
func (h *Handler) GetJobStatus(c *gin.Context) {
	job, err := h.pipeline.GetJob(c.Request.Context(), c.Param("id"))
	if errors.Is(err, repository.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// GetJobDecisions returns the stored decisions of a job
func (h *Handler) GetJobDecisions(c *gin.Context) {
	decisions, err := h.pipeline.ListDecisions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.logger.Error("Failed to get decisions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get decisions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"total":     len(decisions),
	})
}

// ExportCSV exports the decisions of a job to CSV
func (h *Handler) ExportCSV(c *gin.Context) {
	jobID := c.Param("id")
	decisions, err := h.pipeline.ListDecisions(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to export CSV", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=decisions-"+jobID+".csv")

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	writer.Write([]string{"customer_id", "ready_to_send", "risk_score", "coverage_percentage", "quality_before", "quality_after", "generation_method"})
	for _, d := range decisions {
		writer.Write([]string{
			d.CustomerID,
			strconv.FormatBool(d.ReadyToSend),
			fmt.Sprintf("%.3f", d.RiskScore),
			fmt.Sprintf("%.1f", d.CoveragePercentage),
			fmt.Sprintf("%.3f", d.QualityBefore),
			fmt.Sprintf("%.3f", d.QualityAfter),
			d.GenerationMethod,
		})
	}
}

// GetStats returns decision statistics
func (h *Handler) GetStats(c *gin.Context) {
	if h.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no decision store configured"})
		return
	}

	stats, err := h.decisions.GetStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to get stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "personalization-service",
		"version": "1.0.0",
	})
}

// channels parses channel names, writing a 400 when none is known
func (h *Handler) channels(c *gin.Context, raw map[string]string) (map[models.Channel]string, bool) {
	texts := make(map[models.Channel]string, len(raw))
	for name, text := range raw {
		ch, err := service.ParseChannelName(name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
		texts[ch] = text
	}
	if len(texts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at least one channel is required"})
		return nil, false
	}
	return texts, true
}

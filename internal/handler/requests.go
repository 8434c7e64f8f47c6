package handler

import (
	"personalization-service/internal/models"
	"personalization-service/internal/service"
)

// ExtractRequest is the body of POST /extract
type ExtractRequest struct {
	Document string `json:"document" binding:"required"`
}

// CoverageRequest is the body of POST /coverage
type CoverageRequest struct {
	KeyPoints []models.KeyPoint `json:"key_points" binding:"required"`
	Channels  map[string]string `json:"channels" binding:"required"`
}

// DetectRequest is the body of POST /detect
type DetectRequest struct {
	Document string                 `json:"document"`
	Customer map[string]interface{} `json:"customer"`
	Channels map[string]string      `json:"channels" binding:"required"`
}

// InferenceRequest is the body of POST /inferences
type InferenceRequest struct {
	Customer map[string]interface{} `json:"customer" binding:"required"`
}

// RefineRequest is the body of POST /refine
type RefineRequest struct {
	Text       string                        `json:"text" binding:"required"`
	Channel    string                        `json:"channel" binding:"required"`
	Customer   map[string]interface{}        `json:"customer"`
	Findings   []models.HallucinationFinding `json:"findings"`
	Inferences []models.InferenceRule        `json:"inferences"`
}

// AuditRequest is the body of POST /audit
type AuditRequest struct {
	Text     string                        `json:"text" binding:"required"`
	Channel  string                        `json:"channel" binding:"required"`
	Customer map[string]interface{}        `json:"customer"`
	Findings []models.HallucinationFinding `json:"findings"`
}

// BatchRequest is the body of POST /batch
type BatchRequest struct {
	Requests []service.Request `json:"requests" binding:"required,min=1,dive"`
}

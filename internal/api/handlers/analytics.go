package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/steamlens/steamlens-go/internal/models"
)

// AnalysisRunner queues analyses and serves their job records.
type AnalysisRunner interface {
	SubmitDiD(ctx context.Context, req *models.DiDRequest) (*models.AnalysisJob, error)
	SubmitSurvival(ctx context.Context, req *models.SurvivalRequest) (*models.AnalysisJob, error)
	SubmitElasticity(ctx context.Context, req *models.ElasticityRequest) (*models.AnalysisJob, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListJobs(ctx context.Context, analysisType string, limit int) ([]models.AnalysisJob, error)
}

// AnalyticsHandler exposes the asynchronous analysis endpoints.
type AnalyticsHandler struct {
	svc AnalysisRunner
}

// NewAnalyticsHandler creates the analytics handler.
func NewAnalyticsHandler(svc AnalysisRunner) *AnalyticsHandler {
	return &AnalyticsHandler{svc: svc}
}

// SubmitDiD queues a difference-in-differences analysis and returns 202
// with the pending job.
func (h *AnalyticsHandler) SubmitDiD(c *gin.Context) {
	var req models.DiDRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.svc.SubmitDiD(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue analysis"})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// SubmitSurvival queues a churn survival analysis.
func (h *AnalyticsHandler) SubmitSurvival(c *gin.Context) {
	var req models.SurvivalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.svc.SubmitSurvival(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue analysis"})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// SubmitElasticity queues a price elasticity analysis.
func (h *AnalyticsHandler) SubmitElasticity(c *gin.Context) {
	var req models.ElasticityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.svc.SubmitElasticity(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue analysis"})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// GetResult returns one analysis job with its result bundle when finished.
func (h *AnalyticsHandler) GetResult(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := h.svc.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListResults returns recent analysis jobs, optionally filtered by type.
func (h *AnalyticsHandler) ListResults(c *gin.Context) {
	analysisType := c.Query("type")
	switch analysisType {
	case "", models.AnalysisTypeDiD, models.AnalysisTypeSurvival, models.AnalysisTypeElasticity:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown analysis type"})
		return
	}
	limit := parseLimit(c.Query("limit"), 50)

	jobs, err := h.svc.ListJobs(c.Request.Context(), analysisType, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 500 {
		return fallback
	}
	return n
}

package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steamlens/steamlens-go/internal/models"
	"github.com/steamlens/steamlens-go/internal/services"
)

// IngestionRunner triggers warehouse refreshes and serves their jobs.
type IngestionRunner interface {
	Trigger(ctx context.Context) (*models.IngestionJob, error)
	ListJobs(ctx context.Context, limit int) ([]models.IngestionJob, error)
}

// IngestionHandler exposes manual ingestion control.
type IngestionHandler struct {
	svc IngestionRunner
}

// NewIngestionHandler creates the ingestion handler.
func NewIngestionHandler(svc IngestionRunner) *IngestionHandler {
	return &IngestionHandler{svc: svc}
}

// Trigger starts a warehouse refresh and returns 202 with the job record,
// or 409 when a run is already in flight.
func (h *IngestionHandler) Trigger(c *gin.Context) {
	job, err := h.svc.Trigger(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrIngestionRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start ingestion"})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

// ListJobs returns recent ingestion jobs, newest first.
func (h *IngestionHandler) ListJobs(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 20)
	jobs, err := h.svc.ListJobs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list ingestion jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

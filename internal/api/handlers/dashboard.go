package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steamlens/steamlens-go/internal/cache"
	"github.com/steamlens/steamlens-go/internal/models"
)

const dashboardCacheKey = "dashboard:summary"

// DashboardHandler serves the cached landing-page aggregate.
type DashboardHandler struct {
	games GameStore
	cache *cache.ResultCache
}

// DashboardSummary is the landing-page payload.
type DashboardSummary struct {
	TopGames    []models.GameSummary `json:"top_games"`
	GenreCounts map[string]int       `json:"genre_counts"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// NewDashboardHandler creates the dashboard handler.
func NewDashboardHandler(games GameStore, resultCache *cache.ResultCache) *DashboardHandler {
	return &DashboardHandler{games: games, cache: resultCache}
}

// GetDashboard returns the top games and genre breakdown, cached between
// requests.
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	ctx := c.Request.Context()

	var summary DashboardSummary
	if h.cache != nil && h.cache.Get(ctx, dashboardCacheKey, &summary) {
		c.JSON(http.StatusOK, summary)
		return
	}

	games, err := h.games.ListGames(ctx, "", 20, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build dashboard"})
		return
	}

	summary = DashboardSummary{
		TopGames:    games,
		GenreCounts: map[string]int{},
		GeneratedAt: time.Now().UTC(),
	}
	for _, g := range games {
		if g.PrimaryGenre != "" {
			summary.GenreCounts[g.PrimaryGenre]++
		}
	}

	if h.cache != nil {
		h.cache.Set(ctx, dashboardCacheKey, summary)
	}
	c.JSON(http.StatusOK, summary)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/steamlens/steamlens-go/internal/models"
)

// GameStore serves the game dimension for the read endpoints.
type GameStore interface {
	GetGame(ctx context.Context, gameID int64) (*models.DimGame, error)
	ListGames(ctx context.Context, genre string, limit, offset int) ([]models.GameSummary, error)
}

// HistoryStore serves the per-game observation history.
type HistoryStore interface {
	FetchPanel(ctx context.Context, gameIDs []int64, genre string, start, end *time.Time) ([]models.PanelRow, error)
}

// GamesHandler exposes the game catalog.
type GamesHandler struct {
	games   GameStore
	history HistoryStore
}

// NewGamesHandler creates the games handler.
func NewGamesHandler(games GameStore, history HistoryStore) *GamesHandler {
	return &GamesHandler{games: games, history: history}
}

// ListGames returns tracked games ordered by player count, optionally
// filtered by genre.
func (h *GamesHandler) ListGames(c *gin.Context) {
	genre := c.Query("genre")
	limit := parseLimit(c.Query("limit"), 50)
	offset := 0
	if raw := c.Query("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	games, err := h.games.ListGames(c.Request.Context(), genre, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list games"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": games, "count": len(games)})
}

// GetGame returns one game with its genres.
func (h *GamesHandler) GetGame(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}
	game, err := h.games.GetGame(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return
	}
	if game == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}
	c.JSON(http.StatusOK, game)
}

// GetHistory returns the player/price history of one game, optionally
// bounded by start and end dates (YYYY-MM-DD).
func (h *GamesHandler) GetHistory(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
		return
	}

	var start, end *time.Time
	for _, bound := range []struct {
		raw  string
		dest **time.Time
	}{
		{c.Query("start"), &start},
		{c.Query("end"), &end},
	} {
		if bound.raw == "" {
			continue
		}
		t, err := time.Parse("2006-01-02", bound.raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "dates must be YYYY-MM-DD"})
			return
		}
		*bound.dest = &t
	}

	game, err := h.games.GetGame(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load game"})
		return
	}
	if game == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
		return
	}

	rows, err := h.history.FetchPanel(c.Request.Context(), []int64{id}, "", start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"game_id": id, "history": rows, "count": len(rows)})
}

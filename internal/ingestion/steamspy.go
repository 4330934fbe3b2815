package ingestion

import (
	"context"
	"fmt"
	"sort"

	"github.com/steamlens/steamlens-go/internal/models"
)

// SteamSpyClient fetches the two-week top list from the SteamSpy API. The
// API returns a single JSON object keyed by app id.
type SteamSpyClient struct {
	client  *Client
	baseURL string
}

// NewSteamSpyClient creates a SteamSpy client against the given base URL.
func NewSteamSpyClient(client *Client, baseURL string) *SteamSpyClient {
	return &SteamSpyClient{client: client, baseURL: baseURL}
}

// TopGames returns the most played games of the last two weeks, ordered by
// concurrent players, at most limit entries.
func (s *SteamSpyClient) TopGames(ctx context.Context, limit int) ([]models.SteamSpyGame, error) {
	url := s.baseURL + "?request=top100in2weeks"

	var payload map[string]models.SteamSpyGame
	if err := s.client.GetJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("steamspy top list: %w", err)
	}

	games := make([]models.SteamSpyGame, 0, len(payload))
	for _, g := range payload {
		if g.AppID == 0 {
			continue
		}
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].CCU != games[j].CCU {
			return games[i].CCU > games[j].CCU
		}
		return games[i].AppID < games[j].AppID
	})
	if limit > 0 && len(games) > limit {
		games = games[:limit]
	}
	return games, nil
}

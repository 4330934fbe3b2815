package ingestion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/steamlens/steamlens-go/internal/models"
)

// ChartsClient fetches concurrent-player history from SteamCharts. The
// chart-data endpoint serves [timestamp_ms, players] pairs at roughly daily
// resolution; the client aggregates them into calendar months.
type ChartsClient struct {
	client  *Client
	baseURL string
}

// NewChartsClient creates a SteamCharts client against the given base URL.
func NewChartsClient(client *Client, baseURL string) *ChartsClient {
	return &ChartsClient{client: client, baseURL: baseURL}
}

// PlayerHistory returns up to months calendar months of player history for
// the app, oldest first. The current partial month is included.
func (c *ChartsClient) PlayerHistory(ctx context.Context, appID int64, months int) ([]models.PlayerHistoryPoint, error) {
	url := fmt.Sprintf("%s/app/%d/chart-data.json", c.baseURL, appID)

	var raw [][2]float64
	if err := c.client.GetJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("steamcharts history for app %d: %w", appID, err)
	}

	type agg struct {
		sum  float64
		peak float64
		n    float64
	}
	byMonth := make(map[time.Time]*agg)
	for _, pair := range raw {
		ts := time.UnixMilli(int64(pair[0])).UTC()
		players := pair[1]
		if players < 0 {
			continue
		}
		month := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
		a := byMonth[month]
		if a == nil {
			a = &agg{}
			byMonth[month] = a
		}
		a.sum += players
		if players > a.peak {
			a.peak = players
		}
		a.n++
	}

	points := make([]models.PlayerHistoryPoint, 0, len(byMonth))
	for month, a := range byMonth {
		points = append(points, models.PlayerHistoryPoint{
			Month:       month,
			AvgPlayers:  a.sum / a.n,
			PeakPlayers: a.peak,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Month.Before(points[j].Month) })

	if months > 0 && len(points) > months {
		points = points[len(points)-months:]
	}
	for i := 1; i < len(points); i++ {
		points[i].Gain = points[i].AvgPlayers - points[i-1].AvgPlayers
	}
	return points, nil
}

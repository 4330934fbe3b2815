package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/steamlens/steamlens-go/internal/models"
)

// ErrNoPriceData is returned when the store knows the app but carries no
// price block, which is the case for free-to-play titles.
var ErrNoPriceData = errors.New("no price data for app")

// StoreClient fetches live pricing from the Steam store appdetails API.
type StoreClient struct {
	client  *Client
	baseURL string
}

// NewStoreClient creates a store API client against the given base URL.
func NewStoreClient(client *Client, baseURL string) *StoreClient {
	return &StoreClient{client: client, baseURL: baseURL}
}

type appDetailsEntry struct {
	Success bool `json:"success"`
	Data    struct {
		PriceOverview *models.StorePriceOverview `json:"price_overview"`
	} `json:"data"`
}

// PriceOverview returns the current price block of an app. Prices arrive in
// cents.
func (s *StoreClient) PriceOverview(ctx context.Context, appID int64) (*models.StorePriceOverview, error) {
	url := fmt.Sprintf("%s/appdetails?appids=%d&filters=price_overview", s.baseURL, appID)

	var payload map[string]appDetailsEntry
	if err := s.client.GetJSON(ctx, url, &payload); err != nil {
		return nil, fmt.Errorf("store price for app %d: %w", appID, err)
	}

	entry, ok := payload[strconv.FormatInt(appID, 10)]
	if !ok || !entry.Success {
		return nil, fmt.Errorf("store price for app %d: %w", appID, ErrNoPriceData)
	}
	if entry.Data.PriceOverview == nil {
		return nil, fmt.Errorf("store price for app %d: %w", appID, ErrNoPriceData)
	}
	return entry.Data.PriceOverview, nil
}

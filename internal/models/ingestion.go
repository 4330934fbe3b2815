package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IngestionJob tracks one scraping run across the external sources.
type IngestionJob struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Source        string     `json:"source" db:"source"`
	Status        string     `json:"status" db:"status"`
	GamesFetched  int        `json:"games_fetched" db:"games_fetched"`
	RowsWritten   int        `json:"rows_written" db:"rows_written"`
	Error         string     `json:"error,omitempty" db:"error"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// NewIngestionJob returns a pending job for the given source.
func NewIngestionJob(source string) *IngestionJob {
	return &IngestionJob{
		ID:        uuid.New(),
		Source:    source,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// SteamSpyGame is the per-app payload of the SteamSpy API.
type SteamSpyGame struct {
	AppID     int64  `json:"appid"`
	Name      string `json:"name"`
	Developer string `json:"developer"`
	Publisher string `json:"publisher"`
	Genre     string `json:"genre"`
	Owners    string `json:"owners"`
	CCU       int64  `json:"ccu"`
	// Prices arrive in cents as strings.
	Price          string  `json:"price"`
	InitialPrice   string  `json:"initialprice"`
	Discount       string  `json:"discount"`
	AveragePlayers float64 `json:"average_forever"`
}

// PlayerHistoryPoint is one month of concurrent-player history scraped from
// SteamCharts.
type PlayerHistoryPoint struct {
	Month       time.Time `json:"month"`
	AvgPlayers  float64   `json:"avg_players"`
	PeakPlayers float64   `json:"peak_players"`
	Gain        float64   `json:"gain"`
}

// StorePriceOverview is the price block of the Steam store appdetails API.
type StorePriceOverview struct {
	Currency        string          `json:"currency"`
	Initial         decimal.Decimal `json:"initial"`
	Final           decimal.Decimal `json:"final"`
	DiscountPercent float64         `json:"discount_percent"`
}

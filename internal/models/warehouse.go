package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DimGame represents one Steam title in the game dimension
type DimGame struct {
	GameID      int64      `json:"game_id" db:"game_id"`
	SteamAppID  int64      `json:"steam_app_id" db:"steam_app_id"`
	Name        string     `json:"name" db:"name"`
	Developer   string     `json:"developer,omitempty" db:"developer"`
	Publisher   string     `json:"publisher,omitempty" db:"publisher"`
	ReleaseDate *time.Time `json:"release_date,omitempty" db:"release_date"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	Genres      []DimGenre `json:"genres,omitempty"`
}

// DimGenre represents a genre label; games carry one primary genre plus any
// number of secondary ones
type DimGenre struct {
	GenreID   int64  `json:"genre_id" db:"genre_id"`
	Name      string `json:"name" db:"name"`
	IsPrimary bool   `json:"is_primary" db:"is_primary"`
}

// DimDate represents one row of the date dimension at daily grain
type DimDate struct {
	DateID  int64     `json:"date_id" db:"date_id"`
	Date    time.Time `json:"date" db:"date"`
	Year    int       `json:"year" db:"year"`
	Month   int       `json:"month" db:"month"`
	Day     int       `json:"day" db:"day"`
	Quarter int       `json:"quarter" db:"quarter"`
}

// FactPlayerPrice is the central fact: observed player counts and pricing
// for one game on one date
type FactPlayerPrice struct {
	FactID           int64           `json:"fact_id" db:"fact_id"`
	GameID           int64           `json:"game_id" db:"game_id"`
	DateID           int64           `json:"date_id" db:"date_id"`
	Date             time.Time       `json:"date" db:"date"`
	AvgPlayers       float64         `json:"avg_players" db:"avg_players"`
	PeakPlayers      float64         `json:"peak_players" db:"peak_players"`
	CurrentPrice     decimal.Decimal `json:"current_price" db:"current_price"`
	OriginalPrice    decimal.Decimal `json:"original_price" db:"original_price"`
	DiscountPct      float64         `json:"discount_pct" db:"discount_pct"`
	IsDiscountActive bool            `json:"is_discount_active" db:"is_discount_active"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// PanelRow is the flattened join of facts, game and genre used by the
// estimators. Prices are carried as float64 here: the statistical layer
// works in floating point.
type PanelRow struct {
	GameID           int64     `json:"game_id" db:"game_id"`
	Date             time.Time `json:"date" db:"date"`
	AvgPlayers       float64   `json:"avg_players" db:"avg_players"`
	CurrentPrice     float64   `json:"current_price" db:"current_price"`
	DiscountPct      float64   `json:"discount_pct" db:"discount_pct"`
	IsDiscountActive bool      `json:"is_discount_active" db:"is_discount_active"`
	GenreName        string    `json:"genre_name" db:"genre_name"`
}

// GameSummary is the lightweight listing shape for the games endpoints
type GameSummary struct {
	GameID       int64           `json:"game_id" db:"game_id"`
	SteamAppID   int64           `json:"steam_app_id" db:"steam_app_id"`
	Name         string          `json:"name" db:"name"`
	PrimaryGenre string          `json:"primary_genre,omitempty" db:"primary_genre"`
	LatestPrice  decimal.Decimal `json:"latest_price" db:"latest_price"`
	AvgPlayers   float64         `json:"avg_players" db:"avg_players"`
	LastSeen     *time.Time      `json:"last_seen,omitempty" db:"last_seen"`
}

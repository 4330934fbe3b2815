package database

import (
	"context"
	"fmt"
	"time"

	"github.com/steamlens/steamlens-go/internal/models"
)

// FactRepository handles the date dimension and the player/price fact table,
// and serves the flattened panel the estimators consume.
type FactRepository struct {
	pool DatabasePool
}

// NewFactRepository creates a new fact repository.
func NewFactRepository(pool DatabasePool) *FactRepository {
	return &FactRepository{pool: pool}
}

// EnsureDate inserts the date-dimension row for a calendar day if missing
// and returns its id.
func (r *FactRepository) EnsureDate(ctx context.Context, day time.Time) (int64, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	query := `
		INSERT INTO dim_date (date, year, month, day, quarter)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET date = EXCLUDED.date
		RETURNING date_id
	`
	var dateID int64
	quarter := (int(day.Month())-1)/3 + 1
	err := r.pool.QueryRow(ctx, query,
		day, day.Year(), int(day.Month()), day.Day(), quarter,
	).Scan(&dateID)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure date %s: %w", day.Format("2006-01-02"), err)
	}
	return dateID, nil
}

// UpsertFact writes one observation, replacing any previous row for the
// same game and date.
func (r *FactRepository) UpsertFact(ctx context.Context, fact *models.FactPlayerPrice) error {
	query := `
		INSERT INTO fact_player_price
			(game_id, date_id, date, avg_players, peak_players,
			 current_price, original_price, discount_pct, is_discount_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (game_id, date_id)
		DO UPDATE SET
			avg_players = EXCLUDED.avg_players,
			peak_players = EXCLUDED.peak_players,
			current_price = EXCLUDED.current_price,
			original_price = EXCLUDED.original_price,
			discount_pct = EXCLUDED.discount_pct,
			is_discount_active = EXCLUDED.is_discount_active
	`
	_, err := r.pool.Exec(ctx, query,
		fact.GameID, fact.DateID, fact.Date,
		fact.AvgPlayers, fact.PeakPlayers,
		fact.CurrentPrice, fact.OriginalPrice,
		fact.DiscountPct, fact.IsDiscountActive,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fact for game %d on %s: %w",
			fact.GameID, fact.Date.Format("2006-01-02"), err)
	}
	return nil
}

// FetchPanel returns the flattened fact/game/genre join the estimators work
// on. gameIDs and genre filter the selection when non-empty; start and end
// bound the date range when non-nil.
func (r *FactRepository) FetchPanel(ctx context.Context, gameIDs []int64, genre string, start, end *time.Time) ([]models.PanelRow, error) {
	query := `
		SELECT f.game_id, f.date, f.avg_players,
			f.current_price::float8, f.discount_pct, f.is_discount_active,
			COALESCE(gn.name, '') AS genre_name
		FROM fact_player_price f
		LEFT JOIN game_genre gg ON gg.game_id = f.game_id AND gg.is_primary
		LEFT JOIN dim_genre gn ON gn.genre_id = gg.genre_id
		WHERE (cardinality($1::bigint[]) = 0 OR f.game_id = ANY($1))
		AND ($2 = '' OR gn.name = $2)
		AND ($3::timestamptz IS NULL OR f.date >= $3)
		AND ($4::timestamptz IS NULL OR f.date <= $4)
		ORDER BY f.game_id, f.date
	`

	if gameIDs == nil {
		gameIDs = []int64{}
	}
	rows, err := r.pool.Query(ctx, query, gameIDs, genre, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch panel: %w", err)
	}
	defer rows.Close()

	var panel []models.PanelRow
	for rows.Next() {
		var row models.PanelRow
		if err := rows.Scan(
			&row.GameID, &row.Date, &row.AvgPlayers,
			&row.CurrentPrice, &row.DiscountPct, &row.IsDiscountActive,
			&row.GenreName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan panel row: %w", err)
		}
		panel = append(panel, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating panel rows: %w", err)
	}
	return panel, nil
}

// DeleteFactsBefore trims old observations, returning the number of rows
// removed.
func (r *FactRepository) DeleteFactsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM fact_player_price WHERE date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old facts: %w", err)
	}
	return result.RowsAffected(), nil
}

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/steamlens/steamlens-go/internal/models"
)

// GameRepository handles database operations on the game and genre
// dimensions.
type GameRepository struct {
	pool DatabasePool
}

// NewGameRepository creates a new game repository.
func NewGameRepository(pool DatabasePool) *GameRepository {
	return &GameRepository{pool: pool}
}

// UpsertGame inserts or refreshes one game keyed on its Steam app id and
// returns the warehouse game_id.
func (r *GameRepository) UpsertGame(ctx context.Context, game *models.DimGame) (int64, error) {
	query := `
		INSERT INTO dim_game (steam_app_id, name, developer, publisher, release_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (steam_app_id)
		DO UPDATE SET
			name = EXCLUDED.name,
			developer = EXCLUDED.developer,
			publisher = EXCLUDED.publisher,
			updated_at = CURRENT_TIMESTAMP
		RETURNING game_id
	`

	var gameID int64
	err := r.pool.QueryRow(ctx, query,
		game.SteamAppID, game.Name, game.Developer, game.Publisher, game.ReleaseDate,
	).Scan(&gameID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert game %d: %w", game.SteamAppID, err)
	}
	return gameID, nil
}

// SetGenres replaces the genre links of a game. The first genre in the list
// is marked primary.
func (r *GameRepository) SetGenres(ctx context.Context, gameID int64, genres []string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM game_genre WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("failed to clear genres for game %d: %w", gameID, err)
	}
	for i, name := range genres {
		var genreID int64
		err := r.pool.QueryRow(ctx, `
			INSERT INTO dim_genre (name) VALUES ($1)
			ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			RETURNING genre_id
		`, name).Scan(&genreID)
		if err != nil {
			return fmt.Errorf("failed to upsert genre %q: %w", name, err)
		}
		_, err = r.pool.Exec(ctx, `
			INSERT INTO game_genre (game_id, genre_id, is_primary)
			VALUES ($1, $2, $3)
			ON CONFLICT (game_id, genre_id) DO UPDATE SET is_primary = EXCLUDED.is_primary
		`, gameID, genreID, i == 0)
		if err != nil {
			return fmt.Errorf("failed to link genre %q to game %d: %w", name, gameID, err)
		}
	}
	return nil
}

// GetGame returns one game with its genre labels, nil when absent.
func (r *GameRepository) GetGame(ctx context.Context, gameID int64) (*models.DimGame, error) {
	var game models.DimGame
	err := r.pool.QueryRow(ctx, `
		SELECT game_id, steam_app_id, name, developer, publisher, release_date, created_at, updated_at
		FROM dim_game
		WHERE game_id = $1
	`, gameID).Scan(
		&game.GameID, &game.SteamAppID, &game.Name,
		&game.Developer, &game.Publisher, &game.ReleaseDate,
		&game.CreatedAt, &game.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get game %d: %w", gameID, err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT g.genre_id, g.name, gg.is_primary
		FROM dim_genre g
		JOIN game_genre gg ON gg.genre_id = g.genre_id
		WHERE gg.game_id = $1
		ORDER BY gg.is_primary DESC, g.name
	`, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to get genres for game %d: %w", gameID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var genre models.DimGenre
		if err := rows.Scan(&genre.GenreID, &genre.Name, &genre.IsPrimary); err != nil {
			return nil, fmt.Errorf("failed to scan genre: %w", err)
		}
		game.Genres = append(game.Genres, genre)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genres: %w", err)
	}
	return &game, nil
}

// ListGames returns game summaries, optionally filtered by genre name,
// ordered by recent player volume.
func (r *GameRepository) ListGames(ctx context.Context, genre string, limit, offset int) ([]models.GameSummary, error) {
	query := `
		SELECT g.game_id, g.steam_app_id, g.name,
			COALESCE(gn.name, '') AS primary_genre,
			COALESCE(f.current_price, 0) AS latest_price,
			COALESCE(f.avg_players, 0) AS avg_players,
			f.date AS last_seen
		FROM dim_game g
		LEFT JOIN game_genre gg ON gg.game_id = g.game_id AND gg.is_primary
		LEFT JOIN dim_genre gn ON gn.genre_id = gg.genre_id
		LEFT JOIN LATERAL (
			SELECT current_price, avg_players, date
			FROM fact_player_price
			WHERE game_id = g.game_id
			ORDER BY date DESC
			LIMIT 1
		) f ON true
		WHERE ($1 = '' OR gn.name = $1)
		ORDER BY f.avg_players DESC NULLS LAST
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, genre, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	defer rows.Close()

	var games []models.GameSummary
	for rows.Next() {
		var g models.GameSummary
		var lastSeen *time.Time
		if err := rows.Scan(
			&g.GameID, &g.SteamAppID, &g.Name,
			&g.PrimaryGenre, &g.LatestPrice, &g.AvgPlayers, &lastSeen,
		); err != nil {
			return nil, fmt.Errorf("failed to scan game summary: %w", err)
		}
		g.LastSeen = lastSeen
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating games: %w", err)
	}
	return games, nil
}

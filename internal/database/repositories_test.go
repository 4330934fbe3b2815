package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamlens/steamlens-go/internal/models"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestGameRepository_UpsertGame(t *testing.T) {
	mock := newMockPool(t)
	repo := NewGameRepository(mock)

	mock.ExpectQuery(`INSERT INTO dim_game`).
		WithArgs(int64(570), "Dota 2", "Valve", "Valve", (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"game_id"}).AddRow(int64(1)))

	id, err := repo.UpsertGame(context.Background(), &models.DimGame{
		SteamAppID: 570,
		Name:       "Dota 2",
		Developer:  "Valve",
		Publisher:  "Valve",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGameRepository_GetGame_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewGameRepository(mock)

	mock.ExpectQuery(`SELECT game_id, steam_app_id`).
		WithArgs(int64(99)).
		WillReturnError(pgx.ErrNoRows)

	game, err := repo.GetGame(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, game)
}

func TestFactRepository_FetchPanel(t *testing.T) {
	mock := newMockPool(t)
	repo := NewFactRepository(mock)

	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"game_id", "date", "avg_players", "current_price",
		"discount_pct", "is_discount_active", "genre_name",
	}).
		AddRow(int64(570), date, 412000.0, 0.0, 0.0, false, "MOBA").
		AddRow(int64(570), date.AddDate(0, 1, 0), 399000.0, 0.0, 0.0, false, "MOBA")

	mock.ExpectQuery(`SELECT f.game_id, f.date`).
		WithArgs([]int64{570}, "", (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnRows(rows)

	panel, err := repo.FetchPanel(context.Background(), []int64{570}, "", nil, nil)
	require.NoError(t, err)
	require.Len(t, panel, 2)
	assert.Equal(t, int64(570), panel[0].GameID)
	assert.Equal(t, "MOBA", panel[0].GenreName)
	assert.Equal(t, 412000.0, panel[0].AvgPlayers)
}

func TestFactRepository_EnsureDate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewFactRepository(mock)

	day := time.Date(2024, 8, 15, 10, 30, 0, 0, time.UTC)
	truncated := time.Date(2024, 8, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`INSERT INTO dim_date`).
		WithArgs(truncated, 2024, 8, 15, 3).
		WillReturnRows(pgxmock.NewRows([]string{"date_id"}).AddRow(int64(42)))

	id, err := repo.EnsureDate(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestAnalysisRepository_SaveAndUpdateJob(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAnalysisRepository(mock)

	job := models.NewAnalysisJob(models.AnalysisTypeDiD, json.RawMessage(`{}`))
	mock.ExpectExec(`INSERT INTO analysis_job`).
		WithArgs(job.ID, job.AnalysisType, job.Status, job.Params, job.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.SaveJob(context.Background(), job))

	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Result = json.RawMessage(`{"att":200}`)
	job.StartedAt = &now
	job.FinishedAt = &now
	mock.ExpectExec(`UPDATE analysis_job`).
		WithArgs(job.ID, job.Status, job.Result, job.Error, job.StartedAt, job.FinishedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.UpdateJob(context.Background(), job))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalysisRepository_UpdateJob_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAnalysisRepository(mock)

	job := models.NewAnalysisJob(models.AnalysisTypeSurvival, nil)
	mock.ExpectExec(`UPDATE analysis_job`).
		WithArgs(job.ID, job.Status, job.Result, job.Error, job.StartedAt, job.FinishedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.UpdateJob(context.Background(), job)
	assert.ErrorContains(t, err, "not found")
}

func TestAnalysisRepository_GetJob_NotFound(t *testing.T) {
	mock := newMockPool(t)
	repo := NewAnalysisRepository(mock)

	id := uuid.New()
	mock.ExpectQuery(`SELECT id, analysis_type`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	job, err := repo.GetJob(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job)
}

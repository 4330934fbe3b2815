package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamlens/steamlens-go/internal/config"
	"github.com/steamlens/steamlens-go/internal/models"
)

type fakeSteamSpy struct {
	games []models.SteamSpyGame
	err   error
}

func (f *fakeSteamSpy) TopGames(_ context.Context, limit int) ([]models.SteamSpyGame, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.games) > limit {
		return f.games[:limit], nil
	}
	return f.games, nil
}

type fakeCharts struct {
	history map[int64][]models.PlayerHistoryPoint
	err     error
}

func (f *fakeCharts) PlayerHistory(_ context.Context, appID int64, _ int) ([]models.PlayerHistoryPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.history[appID], nil
}

type fakeStore struct {
	overview map[int64]*models.StorePriceOverview
}

func (f *fakeStore) PriceOverview(_ context.Context, appID int64) (*models.StorePriceOverview, error) {
	ov, ok := f.overview[appID]
	if !ok {
		return nil, errors.New("no price data")
	}
	return ov, nil
}

type fakeWarehouse struct {
	mu     sync.Mutex
	nextID int64
	games  map[int64]*models.DimGame
	genres map[int64][]string
	facts  []models.FactPlayerPrice
	dates  map[time.Time]int64
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		games:  map[int64]*models.DimGame{},
		genres: map[int64][]string{},
		dates:  map[time.Time]int64{},
	}
}

func (f *fakeWarehouse) UpsertGame(_ context.Context, game *models.DimGame) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.games[f.nextID] = game
	return f.nextID, nil
}

func (f *fakeWarehouse) SetGenres(_ context.Context, gameID int64, genres []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genres[gameID] = genres
	return nil
}

func (f *fakeWarehouse) EnsureDate(_ context.Context, day time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	day = day.UTC().Truncate(24 * time.Hour)
	if id, ok := f.dates[day]; ok {
		return id, nil
	}
	id := int64(len(f.dates) + 1)
	f.dates[day] = id
	return id, nil
}

func (f *fakeWarehouse) UpsertFact(_ context.Context, fact *models.FactPlayerPrice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.facts = append(f.facts, *fact)
	return nil
}

type fakeIngestionJobs struct {
	mu   sync.Mutex
	jobs []models.IngestionJob
}

func (f *fakeIngestionJobs) SaveIngestionJob(_ context.Context, job *models.IngestionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, *job)
	return nil
}

func (f *fakeIngestionJobs) UpdateIngestionJob(_ context.Context, job *models.IngestionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.jobs {
		if f.jobs[i].ID == job.ID {
			f.jobs[i] = *job
			return nil
		}
	}
	return errors.New("ingestion job not found")
}

func (f *fakeIngestionJobs) ListIngestionJobs(_ context.Context, limit int) ([]models.IngestionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.IngestionJob, len(f.jobs))
	copy(out, f.jobs)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIngestionJobs) last() models.IngestionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[len(f.jobs)-1]
}

func testIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		TopGamesLimit: 10,
		HistoryMonths: 12,
		MaxRetries:    3,
	}
}

func monthPoint(year int, month time.Month, avg, peak float64) models.PlayerHistoryPoint {
	return models.PlayerHistoryPoint{
		Month:       time.Date(year, month, 1, 0, 0, 0, 0, time.UTC),
		AvgPlayers:  avg,
		PeakPlayers: peak,
	}
}

func TestIngestService_RunWritesFacts(t *testing.T) {
	spy := &fakeSteamSpy{games: []models.SteamSpyGame{
		{
			AppID: 570, Name: "Dota 2", Developer: "Valve", Publisher: "Valve",
			Genre: "Action, Free To Play", Price: "0", InitialPrice: "0", Discount: "0",
		},
		{
			AppID: 730, Name: "Counter-Strike 2", Developer: "Valve", Publisher: "Valve",
			Genre: "Action", Price: "1499", InitialPrice: "1999", Discount: "25",
		},
	}}
	charts := &fakeCharts{history: map[int64][]models.PlayerHistoryPoint{
		570: {monthPoint(2024, 5, 410000, 800000), monthPoint(2024, 6, 420000, 820000)},
		730: {monthPoint(2024, 5, 900000, 1400000), monthPoint(2024, 6, 950000, 1500000)},
	}}
	store := &fakeStore{overview: map[int64]*models.StorePriceOverview{
		730: {
			Currency:        "USD",
			Initial:         decimal.NewFromInt(1999),
			Final:           decimal.NewFromInt(1499),
			DiscountPercent: 25,
		},
	}}
	warehouse := newFakeWarehouse()
	jobs := &fakeIngestionJobs{}

	svc := NewIngestService(spy, charts, store, warehouse, warehouse, jobs, testIngestionConfig())
	require.NoError(t, svc.Run(context.Background()))

	job := jobs.last()
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.GamesFetched)
	assert.Equal(t, 4, job.RowsWritten)

	assert.Len(t, warehouse.games, 2)
	assert.Equal(t, []string{"Action", "Free To Play"}, warehouse.genres[1])

	// The latest month carries the live discount; older months do not.
	var latest *models.FactPlayerPrice
	for i := range warehouse.facts {
		f := &warehouse.facts[i]
		if f.GameID == 2 && f.Date.Month() == time.June {
			latest = f
		}
	}
	require.NotNil(t, latest)
	assert.True(t, latest.IsDiscountActive)
	assert.InDelta(t, 25.0, latest.DiscountPct, 1e-9)
	assert.True(t, latest.CurrentPrice.Equal(decimal.NewFromFloat(14.99)))
	assert.True(t, latest.OriginalPrice.Equal(decimal.NewFromFloat(19.99)))
}

func TestIngestService_TopListFailureFailsJob(t *testing.T) {
	spy := &fakeSteamSpy{err: errors.New("rate limited")}
	warehouse := newFakeWarehouse()
	jobs := &fakeIngestionJobs{}
	svc := NewIngestService(spy, &fakeCharts{}, nil, warehouse, warehouse, jobs, testIngestionConfig())

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.JobStatusFailed, jobs.last().Status)
	assert.Contains(t, jobs.last().Error, "rate limited")
}

func TestIngestService_PerGameFailureIsSkipped(t *testing.T) {
	spy := &fakeSteamSpy{games: []models.SteamSpyGame{
		{AppID: 570, Name: "Dota 2", Genre: "Action", Price: "0", InitialPrice: "0", Discount: "0"},
		{AppID: 999, Name: "Ghost Game", Genre: "Action", Price: "0", InitialPrice: "0", Discount: "0"},
	}}
	charts := &fakeCharts{history: map[int64][]models.PlayerHistoryPoint{
		570: {monthPoint(2024, 6, 410000, 800000)},
		// 999 has no history and writes nothing, but is not an error.
	}}
	warehouse := newFakeWarehouse()
	jobs := &fakeIngestionJobs{}
	svc := NewIngestService(spy, charts, nil, warehouse, warehouse, jobs, testIngestionConfig())

	require.NoError(t, svc.Run(context.Background()))
	job := jobs.last()
	assert.Equal(t, 2, job.GamesFetched)
	assert.Equal(t, 1, job.RowsWritten)
}

func TestIngestService_RejectsConcurrentRuns(t *testing.T) {
	warehouse := newFakeWarehouse()
	jobs := &fakeIngestionJobs{}
	svc := NewIngestService(&fakeSteamSpy{}, &fakeCharts{}, nil, warehouse, warehouse, jobs, testIngestionConfig())

	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()

	_, err := svc.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrIngestionRunning)
	assert.ErrorIs(t, svc.Run(context.Background()), ErrIngestionRunning)
}

func TestSteamSpyPrices(t *testing.T) {
	price, initial, discount := steamSpyPrices(models.SteamSpyGame{
		Price: "1499", InitialPrice: "1999", Discount: "25",
	})
	assert.True(t, price.Equal(decimal.NewFromFloat(14.99)))
	assert.True(t, initial.Equal(decimal.NewFromFloat(19.99)))
	assert.Equal(t, 25.0, discount)

	// Missing initial price falls back to the current price.
	price, initial, _ = steamSpyPrices(models.SteamSpyGame{Price: "999", InitialPrice: "0"})
	assert.True(t, initial.Equal(price))
}

func TestSplitGenres(t *testing.T) {
	assert.Equal(t, []string{"Action", "Free To Play"}, splitGenres("Action, Free To Play"))
	assert.Nil(t, splitGenres(""))
}

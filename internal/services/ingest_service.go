package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/steamlens/steamlens-go/internal/config"
	"github.com/steamlens/steamlens-go/internal/models"
)

// SteamSpyClient serves the per-app ownership and pricing snapshot.
type SteamSpyClient interface {
	TopGames(ctx context.Context, limit int) ([]models.SteamSpyGame, error)
}

// ChartsClient serves monthly concurrent-player history per app.
type ChartsClient interface {
	PlayerHistory(ctx context.Context, appID int64, months int) ([]models.PlayerHistoryPoint, error)
}

// StoreClient serves the current store price of an app.
type StoreClient interface {
	PriceOverview(ctx context.Context, appID int64) (*models.StorePriceOverview, error)
}

// GameWriter persists the game dimension.
type GameWriter interface {
	UpsertGame(ctx context.Context, game *models.DimGame) (int64, error)
	SetGenres(ctx context.Context, gameID int64, genres []string) error
}

// FactWriter persists the date dimension and observation facts.
type FactWriter interface {
	EnsureDate(ctx context.Context, day time.Time) (int64, error)
	UpsertFact(ctx context.Context, fact *models.FactPlayerPrice) error
}

// IngestionJobStore persists ingestion job progress.
type IngestionJobStore interface {
	SaveIngestionJob(ctx context.Context, job *models.IngestionJob) error
	UpdateIngestionJob(ctx context.Context, job *models.IngestionJob) error
	ListIngestionJobs(ctx context.Context, limit int) ([]models.IngestionJob, error)
}

// IngestService refreshes the warehouse from the external sources: the
// top-game list and prices from SteamSpy, player history from SteamCharts
// and live discounts from the store API.
type IngestService struct {
	steamspy SteamSpyClient
	charts   ChartsClient
	store    StoreClient
	games    GameWriter
	facts    FactWriter
	jobs     IngestionJobStore
	cfg      config.IngestionConfig
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewIngestService wires the ingestion pipeline.
func NewIngestService(
	steamspy SteamSpyClient,
	charts ChartsClient,
	store StoreClient,
	games GameWriter,
	facts FactWriter,
	jobs IngestionJobStore,
	cfg config.IngestionConfig,
) *IngestService {
	return &IngestService{
		steamspy: steamspy,
		charts:   charts,
		store:    store,
		games:    games,
		facts:    facts,
		jobs:     jobs,
		cfg:      cfg,
		logger:   slog.Default().With("component", "ingest_service"),
	}
}

// ErrIngestionRunning is returned when a refresh is already in flight.
var ErrIngestionRunning = errors.New("an ingestion run is already in progress")

// Trigger starts a full refresh in the background and returns its job
// record. Only one run may be in flight at a time.
func (s *IngestService) Trigger(ctx context.Context) (*models.IngestionJob, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrIngestionRunning
	}
	s.running = true
	s.mu.Unlock()

	job := models.NewIngestionJob("steamspy")
	if err := s.jobs.SaveIngestionJob(ctx, job); err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return nil, err
	}

	go func() {
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		s.run(runCtx, job)
	}()

	return job, nil
}

// Run executes a full refresh synchronously. Used by the scheduler.
func (s *IngestService) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrIngestionRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	job := models.NewIngestionJob("steamspy")
	if err := s.jobs.SaveIngestionJob(ctx, job); err != nil {
		return err
	}
	s.run(ctx, job)
	if job.Status == models.JobStatusFailed {
		return fmt.Errorf("ingestion run %s failed: %s", job.ID, job.Error)
	}
	return nil
}

// ListJobs returns recent ingestion jobs, newest first.
func (s *IngestService) ListJobs(ctx context.Context, limit int) ([]models.IngestionJob, error) {
	return s.jobs.ListIngestionJobs(ctx, limit)
}

func (s *IngestService) run(ctx context.Context, job *models.IngestionJob) {
	started := time.Now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &started
	if err := s.jobs.UpdateIngestionJob(ctx, job); err != nil {
		s.logger.Error("failed to mark ingestion job running", "job_id", job.ID, "error", err)
	}

	fetched, written, err := s.refresh(ctx)

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	job.GamesFetched = fetched
	job.RowsWritten = written
	if err != nil {
		job.Status = models.JobStatusFailed
		job.Error = err.Error()
		s.logger.Warn("ingestion run failed", "job_id", job.ID, "error", err)
	} else {
		job.Status = models.JobStatusCompleted
		s.logger.Info("ingestion run finished",
			"job_id", job.ID, "games", fetched, "rows", written,
			"duration_ms", finished.Sub(started).Milliseconds())
	}
	if err := s.jobs.UpdateIngestionJob(ctx, job); err != nil {
		s.logger.Error("failed to finalize ingestion job", "job_id", job.ID, "error", err)
	}
}

// refresh pulls the top-game list and writes one fact row per game and
// month of history. Per-game failures are logged and skipped; only the
// top-list fetch is fatal.
func (s *IngestService) refresh(ctx context.Context) (fetched, written int, err error) {
	games, err := s.steamspy.TopGames(ctx, s.cfg.TopGamesLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch top games: %w", err)
	}

	for _, sg := range games {
		if ctx.Err() != nil {
			return fetched, written, ctx.Err()
		}
		n, gerr := s.ingestGame(ctx, sg)
		if gerr != nil {
			s.logger.Warn("skipping game", "app_id", sg.AppID, "name", sg.Name, "error", gerr)
			continue
		}
		fetched++
		written += n
	}
	return fetched, written, nil
}

func (s *IngestService) ingestGame(ctx context.Context, sg models.SteamSpyGame) (int, error) {
	gameID, err := s.games.UpsertGame(ctx, &models.DimGame{
		SteamAppID: sg.AppID,
		Name:       sg.Name,
		Developer:  sg.Developer,
		Publisher:  sg.Publisher,
	})
	if err != nil {
		return 0, err
	}
	if genres := splitGenres(sg.Genre); len(genres) > 0 {
		if err := s.games.SetGenres(ctx, gameID, genres); err != nil {
			return 0, err
		}
	}

	price, initial, discountPct := steamSpyPrices(sg)
	discountActive := discountPct > 0

	// The store API is authoritative for the live discount when it
	// answers; SteamSpy's snapshot is the fallback.
	if s.store != nil {
		if overview, err := s.store.PriceOverview(ctx, sg.AppID); err != nil {
			s.logger.Debug("store price lookup failed", "app_id", sg.AppID, "error", err)
		} else if overview != nil {
			price = overview.Final.Div(decimal.NewFromInt(100))
			initial = overview.Initial.Div(decimal.NewFromInt(100))
			discountPct = overview.DiscountPercent
			discountActive = overview.DiscountPercent > 0
		}
	}

	history, err := s.charts.PlayerHistory(ctx, sg.AppID, s.cfg.HistoryMonths)
	if err != nil {
		return 0, err
	}
	if len(history) == 0 {
		return 0, nil
	}

	written := 0
	for i, point := range history {
		dateID, err := s.facts.EnsureDate(ctx, point.Month)
		if err != nil {
			return written, err
		}
		fact := &models.FactPlayerPrice{
			GameID:      gameID,
			DateID:      dateID,
			Date:        point.Month.UTC().Truncate(24 * time.Hour),
			AvgPlayers:  point.AvgPlayers,
			PeakPlayers: point.PeakPlayers,
			// Historical prices are unknown; the current price is
			// attached to the latest month only.
			CurrentPrice:  initial,
			OriginalPrice: initial,
		}
		if i == len(history)-1 {
			fact.CurrentPrice = price
			fact.DiscountPct = discountPct
			fact.IsDiscountActive = discountActive
		}
		if err := s.facts.UpsertFact(ctx, fact); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// steamSpyPrices converts SteamSpy's cents-as-strings price fields.
func steamSpyPrices(sg models.SteamSpyGame) (price, initial decimal.Decimal, discountPct float64) {
	price = centsToDecimal(sg.Price)
	initial = centsToDecimal(sg.InitialPrice)
	if initial.IsZero() {
		initial = price
	}
	if d, err := strconv.ParseFloat(sg.Discount, 64); err == nil {
		discountPct = d
	}
	return price, initial, discountPct
}

func centsToDecimal(cents string) decimal.Decimal {
	n, err := strconv.ParseInt(cents, 10, 64)
	if err != nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(n).Div(decimal.NewFromInt(100))
}

func splitGenres(raw string) []string {
	var out []string
	for _, g := range strings.Split(raw, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/steamlens/steamlens-go/internal/analysis"
	"github.com/steamlens/steamlens-go/internal/analysis/table"
	"github.com/steamlens/steamlens-go/internal/cache"
	"github.com/steamlens/steamlens-go/internal/config"
	"github.com/steamlens/steamlens-go/internal/models"
)

// analysisTimeout bounds a single estimator run.
const analysisTimeout = 10 * time.Minute

// JobStore persists analysis jobs across their lifecycle.
type JobStore interface {
	SaveJob(ctx context.Context, job *models.AnalysisJob) error
	UpdateJob(ctx context.Context, job *models.AnalysisJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListJobs(ctx context.Context, analysisType string, limit int) ([]models.AnalysisJob, error)
	CleanupJobs(ctx context.Context, cutoff time.Time) (int64, error)
}

// PanelFetcher serves the flattened observation panel the estimators run on.
type PanelFetcher interface {
	FetchPanel(ctx context.Context, gameIDs []int64, genre string, start, end *time.Time) ([]models.PanelRow, error)
}

// AnalysisService runs the statistical analyses asynchronously. Submissions
// return a pending job immediately; a bounded number of workers execute the
// estimators and write results back through the job store and the result
// cache.
type AnalysisService struct {
	jobs   JobStore
	facts  PanelFetcher
	cache  *cache.ResultCache
	cfg    config.AnalyticsConfig
	logger *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewAnalysisService creates the analysis orchestrator.
func NewAnalysisService(jobs JobStore, facts PanelFetcher, resultCache *cache.ResultCache, cfg config.AnalyticsConfig) *AnalysisService {
	workers := cfg.MaxConcurrentAnalyses
	if workers < 1 {
		workers = 1
	}
	return &AnalysisService{
		jobs:   jobs,
		facts:  facts,
		cache:  resultCache,
		cfg:    cfg,
		logger: slog.Default().With("component", "analysis_service"),
		sem:    make(chan struct{}, workers),
	}
}

// SubmitDiD queues a difference-in-differences run.
func (s *AnalysisService) SubmitDiD(ctx context.Context, req *models.DiDRequest) (*models.AnalysisJob, error) {
	return s.submit(ctx, models.AnalysisTypeDiD, req, func(ctx context.Context) (any, error) {
		return s.runDiD(ctx, req)
	})
}

// SubmitSurvival queues a churn survival run.
func (s *AnalysisService) SubmitSurvival(ctx context.Context, req *models.SurvivalRequest) (*models.AnalysisJob, error) {
	return s.submit(ctx, models.AnalysisTypeSurvival, req, func(ctx context.Context) (any, error) {
		return s.runSurvival(ctx, req)
	})
}

// SubmitElasticity queues a price elasticity run.
func (s *AnalysisService) SubmitElasticity(ctx context.Context, req *models.ElasticityRequest) (*models.AnalysisJob, error) {
	return s.submit(ctx, models.AnalysisTypeElasticity, req, func(ctx context.Context) (any, error) {
		return s.runElasticity(ctx, req)
	})
}

// GetJob returns one job, nil when absent. Completed results are served
// from the cache when present.
func (s *AnalysisService) GetJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	var job models.AnalysisJob
	if s.cache != nil && s.cache.Get(ctx, jobCacheKey(id), &job) {
		return &job, nil
	}
	found, err := s.jobs.GetJob(ctx, id)
	if err != nil || found == nil {
		return found, err
	}
	if s.cache != nil && found.Status == models.JobStatusCompleted {
		s.cache.Set(ctx, jobCacheKey(id), found)
	}
	return found, nil
}

// ListJobs returns recent jobs, optionally filtered by analysis type.
func (s *AnalysisService) ListJobs(ctx context.Context, analysisType string, limit int) ([]models.AnalysisJob, error) {
	return s.jobs.ListJobs(ctx, analysisType, limit)
}

// Cleanup removes finished jobs older than the retention window.
func (s *AnalysisService) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.ResultRetentionHours) * time.Hour)
	removed, err := s.jobs.CleanupJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("cleaned up finished analysis jobs", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// Wait blocks until all in-flight analyses have finished.
func (s *AnalysisService) Wait() {
	s.wg.Wait()
}

func (s *AnalysisService) submit(ctx context.Context, analysisType string, req any, run func(context.Context) (any, error)) (*models.AnalysisJob, error) {
	params, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", analysisType, err)
	}
	job := models.NewAnalysisJob(analysisType, params)
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.execute(job, run)

	s.logger.Info("analysis job queued", "job_id", job.ID, "analysis_type", analysisType)
	return job, nil
}

// execute runs one job through the worker semaphore. It owns the job's
// status transitions from pending to its terminal state.
func (s *AnalysisService) execute(job *models.AnalysisJob, run func(context.Context) (any, error)) {
	defer s.wg.Done()
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
	defer cancel()

	ctx, span := otel.Tracer("analysis").Start(ctx, "analysis."+job.AnalysisType,
		trace.WithAttributes(attribute.String("job_id", job.ID.String())))
	defer span.End()

	now := time.Now().UTC()
	job.Status = models.JobStatusRunning
	job.StartedAt = &now
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to mark job running", "job_id", job.ID, "error", err)
	}

	result, runErr := run(ctx)

	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if runErr != nil {
		span.RecordError(runErr)
		job.Status = models.JobStatusFailed
		job.Error = runErr.Error()
		s.logger.Warn("analysis job failed",
			"job_id", job.ID, "analysis_type", job.AnalysisType, "error", runErr)
	} else {
		payload, err := json.Marshal(result)
		if err != nil {
			job.Status = models.JobStatusFailed
			job.Error = fmt.Sprintf("failed to encode result: %v", err)
		} else {
			job.Status = models.JobStatusCompleted
			job.Result = payload
		}
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		s.logger.Error("failed to finalize job", "job_id", job.ID, "error", err)
		return
	}
	if s.cache != nil && job.Status == models.JobStatusCompleted {
		s.cache.Set(ctx, jobCacheKey(job.ID), job)
	}
	s.logger.Info("analysis job finished",
		"job_id", job.ID, "analysis_type", job.AnalysisType, "status", job.Status,
		"duration_ms", finished.Sub(now).Milliseconds())
}

func (s *AnalysisService) runDiD(ctx context.Context, req *models.DiDRequest) (any, error) {
	treatment, err := s.fetchTable(ctx, req.TreatmentGameIDs, "", req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	control, err := s.fetchTable(ctx, req.ControlGameIDs, "", req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	est := analysis.NewDiDEstimator(treatment, control, analysis.ColAvgPlayers, req.TreatmentDate)
	didResult, err := est.Estimate(req.IncludeCovariates)
	if err != nil {
		return nil, err
	}

	bundle := map[string]any{
		"did":             didResult,
		"parallel_trends": est.ParallelTrendsTest(),
	}

	if req.RunPlacebo {
		if td := est.TreatmentDate(); td != nil {
			fake := td.AddDate(0, -s.cfg.DiDPrePeriods/2, 0)
			placebo, perr := est.PlaceboTest(fake)
			if perr != nil {
				s.logger.Warn("placebo test failed", "error", perr)
				bundle["placebo"] = map[string]string{"error": perr.Error()}
			} else {
				bundle["placebo"] = placebo
			}
		}
	}
	if req.EventStudy {
		points, eerr := est.EventStudy(s.cfg.DiDPrePeriods, s.cfg.DiDPostPeriods)
		if eerr != nil {
			s.logger.Warn("event study failed", "error", eerr)
			bundle["event_study"] = map[string]string{"error": eerr.Error()}
		} else {
			bundle["event_study"] = points
		}
	}
	return bundle, nil
}

func (s *AnalysisService) runSurvival(ctx context.Context, req *models.SurvivalRequest) (any, error) {
	panel, err := s.facts.FetchPanel(ctx, req.GameIDs, req.GenreFilter, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	tbl := panelTable(panel)

	records := analysis.DetectChurnEvents(tbl, s.cfg.ChurnThresholdPct, s.cfg.ChurnLookbackPeriods)
	est := analysis.NewSurvivalEstimator(records)

	km, err := est.KaplanMeier(req.ByGenre, s.cfg.SignificanceLevel)
	if err != nil {
		return nil, err
	}

	bundle := map[string]any{
		"kaplan_meier": km,
		"retention":    est.Retention(),
		"n_records":    len(records),
	}

	if req.FitCox {
		cov := survivalCovariates(panel, records)
		cox, cerr := est.CoxPH(cov, s.cfg.CoxPenalizer)
		if cerr != nil {
			s.logger.Warn("cox fit failed", "error", cerr)
			bundle["cox"] = map[string]string{"error": cerr.Error()}
		} else {
			bundle["cox"] = cox
		}
	}
	return bundle, nil
}

func (s *AnalysisService) runElasticity(ctx context.Context, req *models.ElasticityRequest) (any, error) {
	panel, err := s.facts.FetchPanel(ctx, req.GameIDs, req.GenreFilter, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	tbl := panelTable(panel)

	groupBy := ""
	if req.GroupByGenre {
		groupBy = analysis.ColGenre
	}

	est := analysis.NewElasticityEstimator(tbl, analysis.ColPrice, analysis.ColAvgPlayers)
	logLog, err := est.LogLogElasticity(req.IncludeControls, groupBy)
	if err != nil {
		return nil, err
	}
	bundle := map[string]any{"log_log": logLog}

	arc := est.ArcElasticity(groupBy)
	switch {
	case arc.IsOk():
		bundle["arc"] = arc.Value()
	case arc.Err() != nil:
		s.logger.Warn("arc elasticity failed", "error", arc.Err())
		bundle["arc"] = map[string]string{"error": arc.Err().Error()}
	}

	if req.CurrentPrice > 0 {
		rec, rerr := est.RecommendOptimalPrice(req.CurrentPrice, 0)
		if rerr != nil {
			s.logger.Warn("price recommendation failed", "error", rerr)
		} else {
			bundle["price_recommendation"] = rec
		}
	}
	if req.GroupByGenre {
		hm := analysis.ElasticityHeatmap(tbl, analysis.ColPrice, analysis.ColAvgPlayers, analysis.ColGenre, "")
		if hm.IsOk() {
			bundle["heatmap"] = hm.Value()
		}
	}
	return bundle, nil
}

func (s *AnalysisService) fetchTable(ctx context.Context, gameIDs []int64, genre string, start, end *time.Time) (*table.Table, error) {
	panel, err := s.facts.FetchPanel(ctx, gameIDs, genre, start, end)
	if err != nil {
		return nil, err
	}
	return panelTable(panel), nil
}

// panelTable materializes repository rows into the column table the
// estimators consume.
func panelTable(rows []models.PanelRow) *table.Table {
	n := len(rows)
	ids := make([]int64, n)
	dates := make([]time.Time, n)
	players := make([]float64, n)
	prices := make([]float64, n)
	discounts := make([]float64, n)
	active := make([]bool, n)
	genres := make([]string, n)
	for i, r := range rows {
		ids[i] = r.GameID
		dates[i] = r.Date
		players[i] = r.AvgPlayers
		prices[i] = r.CurrentPrice
		discounts[i] = r.DiscountPct
		active[i] = r.IsDiscountActive
		genres[i] = r.GenreName
	}

	t := table.New()
	t.SetInt(analysis.ColGameID, ids)
	t.SetTime(analysis.ColDate, dates)
	t.SetFloat(analysis.ColAvgPlayers, players)
	t.SetFloat(analysis.ColPrice, prices)
	t.SetFloat(analysis.ColDiscountPct, discounts)
	t.SetBool(analysis.ColDiscountActive, active)
	t.SetString(analysis.ColGenre, genres)
	return t
}

// survivalCovariates derives per-entity covariates from the panel, aligned
// with the duration records: mean price and the share of discounted days.
func survivalCovariates(rows []models.PanelRow, records []analysis.DurationRecord) map[string][]float64 {
	type agg struct {
		priceSum   float64
		discounted float64
		n          float64
	}
	byGame := make(map[int64]*agg)
	for _, r := range rows {
		a := byGame[r.GameID]
		if a == nil {
			a = &agg{}
			byGame[r.GameID] = a
		}
		a.priceSum += r.CurrentPrice
		if r.IsDiscountActive {
			a.discounted++
		}
		a.n++
	}

	avgPrice := make([]float64, len(records))
	discountShare := make([]float64, len(records))
	for i, rec := range records {
		if a := byGame[rec.GameID]; a != nil && a.n > 0 {
			avgPrice[i] = a.priceSum / a.n
			discountShare[i] = a.discounted / a.n
		}
	}
	return map[string][]float64{
		"avg_price":      avgPrice,
		"discount_share": discountShare,
	}
}

func jobCacheKey(id uuid.UUID) string {
	return "analysis:" + id.String()
}

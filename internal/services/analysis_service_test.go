package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamlens/steamlens-go/internal/config"
	"github.com/steamlens/steamlens-go/internal/models"
)

type fakeJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.AnalysisJob
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[uuid.UUID]*models.AnalysisJob{}}
}

func (f *fakeJobStore) SaveJob(_ context.Context, job *models.AnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) UpdateJob(_ context.Context, job *models.AnalysisJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[job.ID]; !ok {
		return fmt.Errorf("analysis job %s not found", job.ID)
	}
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeJobStore) GetJob(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobStore) ListJobs(_ context.Context, analysisType string, limit int) ([]models.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.AnalysisJob
	for _, job := range f.jobs {
		if analysisType == "" || job.AnalysisType == analysisType {
			out = append(out, *job)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobStore) CleanupJobs(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, job := range f.jobs {
		if job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(f.jobs, id)
			removed++
		}
	}
	return removed, nil
}

type fakePanelFetcher struct {
	rows []models.PanelRow
	err  error
}

func (f *fakePanelFetcher) FetchPanel(_ context.Context, gameIDs []int64, genre string, _, _ *time.Time) ([]models.PanelRow, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.PanelRow
	for _, r := range f.rows {
		if len(gameIDs) > 0 && !containsID(gameIDs, r.GameID) {
			continue
		}
		if genre != "" && r.GenreName != genre {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func testAnalyticsConfig() config.AnalyticsConfig {
	return config.AnalyticsConfig{
		MinDiscountPct:        25.0,
		MinDiscountDays:       7,
		DiDPrePeriods:         6,
		DiDPostPeriods:        3,
		ChurnThresholdPct:     0.5,
		ChurnLookbackPeriods:  3,
		CoxPenalizer:          0.1,
		SignificanceLevel:     0.05,
		ResultRetentionHours:  72,
		MaxConcurrentAnalyses: 2,
	}
}

// monthlyRows builds a 12-month panel for the given games where the outcome
// follows pattern(game, month), starting January 2024.
func monthlyRows(gameIDs []int64, pattern func(g, m int) float64) []models.PanelRow {
	var rows []models.PanelRow
	for gi, id := range gameIDs {
		for m := 0; m < 12; m++ {
			rows = append(rows, models.PanelRow{
				GameID:       id,
				Date:         time.Date(2024, time.Month(m+1), 1, 0, 0, 0, 0, time.UTC),
				AvgPlayers:   pattern(gi, m),
				CurrentPrice: 19.99,
				GenreName:    "Action",
			})
		}
	}
	return rows
}

func waitForJob(t *testing.T, svc *AnalysisService, id uuid.UUID) *models.AnalysisJob {
	t.Helper()
	svc.Wait()
	job, err := svc.GetJob(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Contains(t, []string{models.JobStatusCompleted, models.JobStatusFailed}, job.Status)
	return job
}

func TestAnalysisService_DiDJobCompletes(t *testing.T) {
	base := func(g, m int) float64 { return 1000 + float64((g*7+m*3)%5) }
	treated := func(g, m int) float64 {
		v := base(g, m)
		if m >= 6 {
			v += 200
		}
		return v
	}
	fetcher := &fakePanelFetcher{
		rows: append(
			monthlyRows([]int64{1, 2, 3, 4}, treated),
			monthlyRows([]int64{11, 12, 13, 14}, base)...,
		),
	}
	store := newFakeJobStore()
	svc := NewAnalysisService(store, fetcher, nil, testAnalyticsConfig())

	treatmentDate := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	job, err := svc.SubmitDiD(context.Background(), &models.DiDRequest{
		TreatmentGameIDs: []int64{1, 2, 3, 4},
		ControlGameIDs:   []int64{11, 12, 13, 14},
		TreatmentDate:    &treatmentDate,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	done := waitForJob(t, svc, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status, "job error: %s", done.Error)

	var bundle struct {
		DiD struct {
			ATT  float64 `json:"att"`
			NObs int     `json:"n_obs"`
		} `json:"did"`
		ParallelTrends struct {
			Valid bool `json:"parallel_trends_valid"`
		} `json:"parallel_trends"`
	}
	require.NoError(t, json.Unmarshal(done.Result, &bundle))
	assert.InDelta(t, 200.0, bundle.DiD.ATT, 1e-6)
	assert.Equal(t, 96, bundle.DiD.NObs)
}

func TestAnalysisService_SurvivalJobCompletes(t *testing.T) {
	// Games 1-3 collapse after month 5, game 4 stays healthy.
	pattern := func(g, m int) float64 {
		if g < 3 && m >= 5 {
			return 100.0
		}
		return 1000.0
	}
	fetcher := &fakePanelFetcher{rows: monthlyRows([]int64{1, 2, 3, 4}, pattern)}
	store := newFakeJobStore()
	svc := NewAnalysisService(store, fetcher, nil, testAnalyticsConfig())

	job, err := svc.SubmitSurvival(context.Background(), &models.SurvivalRequest{FitCox: true})
	require.NoError(t, err)

	done := waitForJob(t, svc, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status, "job error: %s", done.Error)

	var bundle struct {
		NRecords  int `json:"n_records"`
		Retention struct {
			NChurned int     `json:"n_churned"`
			NActive  int     `json:"n_active"`
			Rate     float64 `json:"churn_rate"`
		} `json:"retention"`
		KaplanMeier struct {
			Overall struct {
				Times []float64 `json:"times"`
			} `json:"overall"`
		} `json:"kaplan_meier"`
	}
	require.NoError(t, json.Unmarshal(done.Result, &bundle))
	assert.Equal(t, 4, bundle.NRecords)
	assert.Equal(t, 3, bundle.Retention.NChurned)
	assert.Equal(t, 1, bundle.Retention.NActive)
	assert.InDelta(t, 0.75, bundle.Retention.Rate, 1e-9)
	assert.NotEmpty(t, bundle.KaplanMeier.Overall.Times)
}

func TestAnalysisService_ElasticityJobCompletes(t *testing.T) {
	var rows []models.PanelRow
	for i := 0; i < 20; i++ {
		price := 10.0 + float64(i)
		rows = append(rows, models.PanelRow{
			GameID:       1,
			Date:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*i),
			AvgPlayers:   1000 * math.Pow(price, -1.5),
			CurrentPrice: price,
			GenreName:    "Action",
		})
	}
	store := newFakeJobStore()
	svc := NewAnalysisService(store, &fakePanelFetcher{rows: rows}, nil, testAnalyticsConfig())

	job, err := svc.SubmitElasticity(context.Background(), &models.ElasticityRequest{CurrentPrice: 20.0})
	require.NoError(t, err)

	done := waitForJob(t, svc, job.ID)
	require.Equal(t, models.JobStatusCompleted, done.Status, "job error: %s", done.Error)

	var bundle struct {
		LogLog struct {
			Overall struct {
				Elasticity float64 `json:"elasticity"`
			} `json:"overall"`
		} `json:"log_log"`
		Recommendation struct {
			Direction string `json:"direction"`
		} `json:"price_recommendation"`
	}
	require.NoError(t, json.Unmarshal(done.Result, &bundle))
	assert.InDelta(t, -1.5, bundle.LogLog.Overall.Elasticity, 0.05)
	assert.Equal(t, "decrease", bundle.Recommendation.Direction)
}

func TestAnalysisService_FetchFailureFailsJob(t *testing.T) {
	store := newFakeJobStore()
	svc := NewAnalysisService(store, &fakePanelFetcher{err: errors.New("connection refused")}, nil, testAnalyticsConfig())

	job, err := svc.SubmitSurvival(context.Background(), &models.SurvivalRequest{})
	require.NoError(t, err)

	done := waitForJob(t, svc, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Contains(t, done.Error, "connection refused")
}

func TestAnalysisService_InsufficientDataFailsJob(t *testing.T) {
	store := newFakeJobStore()
	svc := NewAnalysisService(store, &fakePanelFetcher{}, nil, testAnalyticsConfig())

	job, err := svc.SubmitSurvival(context.Background(), &models.SurvivalRequest{})
	require.NoError(t, err)

	done := waitForJob(t, svc, job.ID)
	assert.Equal(t, models.JobStatusFailed, done.Status)
}

func TestAnalysisService_Cleanup(t *testing.T) {
	store := newFakeJobStore()
	svc := NewAnalysisService(store, &fakePanelFetcher{}, nil, testAnalyticsConfig())

	old := models.NewAnalysisJob(models.AnalysisTypeDiD, nil)
	finished := time.Now().UTC().Add(-100 * time.Hour)
	old.Status = models.JobStatusCompleted
	old.FinishedAt = &finished
	require.NoError(t, store.SaveJob(context.Background(), old))

	removed, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

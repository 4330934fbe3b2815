package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Analysis job lifecycle states.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Analysis types accepted by the analytics endpoints.
const (
	AnalysisTypeDiD        = "did"
	AnalysisTypeSurvival   = "survival"
	AnalysisTypeElasticity = "elasticity"
)

// AnalysisJob tracks one asynchronous analysis run from submission to
// completion. Result holds the raw JSON bundle of the finished estimator.
type AnalysisJob struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AnalysisType string          `json:"analysis_type" db:"analysis_type"`
	Status       string          `json:"status" db:"status"`
	Params       json.RawMessage `json:"params,omitempty" db:"params"`
	Result       json.RawMessage `json:"result,omitempty" db:"result"`
	Error        string          `json:"error,omitempty" db:"error"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// NewAnalysisJob returns a pending job for the given analysis type.
func NewAnalysisJob(analysisType string, params json.RawMessage) *AnalysisJob {
	return &AnalysisJob{
		ID:           uuid.New(),
		AnalysisType: analysisType,
		Status:       JobStatusPending,
		Params:       params,
		CreatedAt:    time.Now().UTC(),
	}
}

// DiDRequest parameterizes a difference-in-differences run.
type DiDRequest struct {
	TreatmentGameIDs  []int64    `json:"treatment_game_ids" binding:"required,min=1"`
	ControlGameIDs    []int64    `json:"control_game_ids" binding:"required,min=1"`
	TreatmentDate     *time.Time `json:"treatment_date,omitempty"`
	IncludeCovariates bool       `json:"include_covariates"`
	RunPlacebo        bool       `json:"run_placebo"`
	EventStudy        bool       `json:"event_study"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	EndDate           *time.Time `json:"end_date,omitempty"`
}

// SurvivalRequest parameterizes a churn survival run.
type SurvivalRequest struct {
	GameIDs     []int64    `json:"game_ids,omitempty"`
	GenreFilter string     `json:"genre,omitempty"`
	ByGenre     bool       `json:"by_genre"`
	FitCox      bool       `json:"fit_cox"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
}

// ElasticityRequest parameterizes a price elasticity run.
type ElasticityRequest struct {
	GameIDs         []int64    `json:"game_ids,omitempty"`
	GenreFilter     string     `json:"genre,omitempty"`
	GroupByGenre    bool       `json:"group_by_genre"`
	IncludeControls bool       `json:"include_controls"`
	CurrentPrice    float64    `json:"current_price,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

// AnalysisResult is the persisted output row of a completed analysis.
type AnalysisResult struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	JobID        uuid.UUID       `json:"job_id" db:"job_id"`
	AnalysisType string          `json:"analysis_type" db:"analysis_type"`
	Result       json.RawMessage `json:"result" db:"result"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

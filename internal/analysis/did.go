package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/steamlens/steamlens-go/internal/analysis/regress"
	"github.com/steamlens/steamlens-go/internal/analysis/table"
)

// Discount-event parameters used when the treatment date has to be inferred
// from the treatment panel itself.
const (
	autoDetectMinDiscountPct  = 30.0
	autoDetectMinDurationDays = 7
)

// DiDEstimator measures the causal effect of a treatment (a discount event)
// on an outcome (player counts) by comparing treatment and control groups
// before and after the treatment date.
//
// Model: Y_it = b0 + b1*Treatment_i + b2*Post_t + b3*(Treatment_i x Post_t) + e_it
// where b3 is the average treatment effect on the treated (ATT).
type DiDEstimator struct {
	treatment     *table.Table
	control       *table.Table
	outcomeCol    string
	treatmentDate *time.Time

	logger *slog.Logger
}

// DiDResult is the main estimation bundle.
type DiDResult struct {
	ATT                      float64            `json:"att"`
	StandardError            float64            `json:"standard_error"`
	PValue                   float64            `json:"p_value"`
	ConfIntLower             float64            `json:"conf_int_lower"`
	ConfIntUpper             float64            `json:"conf_int_upper"`
	RSquared                 float64            `json:"r_squared"`
	AdjRSquared              float64            `json:"adj_r_squared"`
	NObs                     int                `json:"n_obs"`
	TreatmentDate            *time.Time         `json:"treatment_date"`
	HeteroskedasticityPValue float64            `json:"heteroskedasticity_pvalue"`
	ModelParams              map[string]float64 `json:"model_params"`
}

// PlaceboResult reports whether a fake treatment date spuriously produces a
// significant effect.
type PlaceboResult struct {
	PlaceboATT         float64   `json:"placebo_att"`
	PlaceboPValue      float64   `json:"placebo_p_value"`
	PlaceboSignificant bool      `json:"placebo_significant"`
	PlaceboDate        time.Time `json:"placebo_date"`
}

// EventStudyPoint is one event-time coefficient of the event-study
// regression.
type EventStudyPoint struct {
	EventTime   int     `json:"event_time"`
	Coefficient float64 `json:"coefficient"`
	StdError    float64 `json:"std_error"`
	PValue      float64 `json:"p_value"`
}

// NewDiDEstimator prepares both panels and fixes the outcome column. The
// treatment date may be nil; it is then resolved from discount events in the
// treatment panel at estimation time.
func NewDiDEstimator(treatment, control *table.Table, outcomeCol string, treatmentDate *time.Time) *DiDEstimator {
	return &DiDEstimator{
		treatment:     PreparePanel(treatment, ColGameID, ColDate),
		control:       PreparePanel(control, ColGameID, ColDate),
		outcomeCol:    outcomeCol,
		treatmentDate: treatmentDate,
		logger:        slog.Default().With("component", "did"),
	}
}

// TreatmentDate returns the resolved treatment date, nil before resolution.
func (d *DiDEstimator) TreatmentDate() *time.Time { return d.treatmentDate }

// prepareDiDData tags the groups, concatenates them, resolves the treatment
// date and derives the post and interaction indicators.
func (d *DiDEstimator) prepareDiDData() (*table.Table, error) {
	tr := d.treatment.Copy()
	ct := d.control.Copy()
	ones := make([]float64, tr.Len())
	for i := range ones {
		ones[i] = 1
	}
	_ = tr.SetFloat("treatment", ones)
	_ = ct.SetFloat("treatment", make([]float64, ct.Len()))

	combined, err := table.Concat(tr, ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}
	dates, ok := combined.Time(ColDate)
	if !ok || combined.Len() == 0 {
		return nil, fmt.Errorf("%w: no valid data for DiD estimation", ErrEstimation)
	}

	if d.treatmentDate == nil {
		if ev := DetectDiscountEvents(d.treatment, autoDetectMinDiscountPct, autoDetectMinDurationDays); ev.IsOk() {
			starts := make([]time.Time, 0, len(ev.Value()))
			for _, e := range ev.Value() {
				starts = append(starts, e.StartDate)
			}
			md := medianTime(starts)
			d.treatmentDate = &md
		} else {
			md := medianTime(dates)
			d.treatmentDate = &md
		}
	}

	post := make([]float64, combined.Len())
	inter := make([]float64, combined.Len())
	treat, _ := combined.Float("treatment")
	for i := range post {
		if !dates[i].Before(*d.treatmentDate) {
			post[i] = 1
		}
		inter[i] = treat[i] * post[i]
	}
	_ = combined.SetFloat("post", post)
	_ = combined.SetFloat("treatment_post", inter)
	return combined, nil
}

// Estimate runs the DiD OLS regression and returns the ATT with its
// diagnostics. With includeCovariates the price column and one-hot genre
// dummies (reference category dropped) join the design matrix when present.
func (d *DiDEstimator) Estimate(includeCovariates bool) (*DiDResult, error) {
	data, err := d.prepareDiDData()
	if err != nil {
		return nil, err
	}

	outcome, ok := data.Float(d.outcomeCol)
	if !ok {
		return nil, fmt.Errorf("%w: outcome column %q not found", ErrEstimation, d.outcomeCol)
	}
	keep := make([]bool, data.Len())
	for i, v := range outcome {
		keep[i] = !table.IsMissing(v)
	}
	data = data.Filter(keep)
	if data.Len() == 0 {
		return nil, fmt.Errorf("%w: no valid data for DiD estimation", ErrEstimation)
	}

	names := []string{"const", "treatment", "post", "treatment_post"}
	cols := [][]float64{constColumn(data.Len()), mustFloat(data, "treatment"), mustFloat(data, "post"), mustFloat(data, "treatment_post")}

	if includeCovariates {
		if price, ok := data.Float(ColPrice); ok {
			names = append(names, ColPrice)
			cols = append(cols, fillZero(price))
		}
		if genres, ok := data.String(ColGenre); ok {
			dumNames, dumCols := dummyColumns(genres, "genre")
			names = append(names, dumNames...)
			cols = append(cols, dumCols...)
		}
	}

	y, _ := data.Float(d.outcomeCol)
	X := designMatrix(cols)
	fit, err := regress.Fit(names, X, y)
	if err != nil {
		if errors.Is(err, regress.ErrRankDeficient) {
			return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}

	att, _ := fit.Coeff("treatment_post")
	se, _ := fit.StdErr("treatment_post")
	p, _ := fit.PValue("treatment_post")
	lo, hi, _ := fit.ConfInt("treatment_post")

	hetP, hetErr := regress.BreuschPagan(X, fit.Residuals)
	if hetErr != nil {
		d.logger.Warn("heteroskedasticity test failed", "error", hetErr)
	}

	result := &DiDResult{
		ATT:                      att,
		StandardError:            se,
		PValue:                   p,
		ConfIntLower:             lo,
		ConfIntUpper:             hi,
		RSquared:                 fit.RSquared,
		AdjRSquared:              fit.AdjRSquared,
		NObs:                     fit.NObs,
		TreatmentDate:            d.treatmentDate,
		HeteroskedasticityPValue: hetP,
		ModelParams:              fit.Params(),
	}
	d.logger.Info("DiD estimation complete", "att", att, "p_value", p, "n_obs", fit.NObs)
	return result, nil
}

// ParallelTrendsTest checks the parallel-trends assumption over the first
// three pre-treatment periods.
func (d *DiDEstimator) ParallelTrendsTest() TrendReport {
	report := ValidateParallelTrends(d.treatment, d.control, d.outcomeCol, 3)
	d.logger.Info("parallel trends test",
		"slope_difference", report.SlopeDifference, "valid", report.Valid)
	return report
}

// PlaceboTest re-runs the full estimation with a fake treatment date and no
// covariates. Callers pass a date strictly before the real treatment; a
// significant fake ATT points at a confound.
func (d *DiDEstimator) PlaceboTest(fakeDate time.Time) (*PlaceboResult, error) {
	placebo := &DiDEstimator{
		treatment:     d.treatment.Copy(),
		control:       d.control.Copy(),
		outcomeCol:    d.outcomeCol,
		treatmentDate: &fakeDate,
		logger:        d.logger,
	}
	res, err := placebo.Estimate(false)
	if err != nil {
		return nil, err
	}
	return &PlaceboResult{
		PlaceboATT:         res.ATT,
		PlaceboPValue:      res.PValue,
		PlaceboSignificant: res.PValue < 0.05,
		PlaceboDate:        fakeDate,
	}, nil
}

// EventStudy regresses the outcome on per-event-time dummies interacted with
// treatment, with event time measured in whole months relative to the
// treatment date and the earliest offset as reference category. One point
// per remaining offset; a flat pre-treatment profile supports DiD validity.
func (d *DiDEstimator) EventStudy(periodsBefore, periodsAfter int) ([]EventStudyPoint, error) {
	data, err := d.prepareDiDData()
	if err != nil {
		return nil, err
	}
	dates, _ := data.Time(ColDate)
	outcome, ok := data.Float(d.outcomeCol)
	if !ok {
		return nil, fmt.Errorf("%w: outcome column %q not found", ErrEstimation, d.outcomeCol)
	}
	eventTime := make([]int, data.Len())
	keep := make([]bool, data.Len())
	for i := range eventTime {
		eventTime[i] = monthsBetween(*d.treatmentDate, dates[i])
		keep[i] = eventTime[i] >= -periodsBefore && eventTime[i] <= periodsAfter &&
			!table.IsMissing(outcome[i])
	}

	kept := make([]int, 0, data.Len())
	for i, k := range keep {
		if k {
			kept = append(kept, eventTime[i])
		}
	}
	data = data.Filter(keep)
	if data.Len() == 0 {
		return nil, fmt.Errorf("%w: no observations in event window", ErrEstimation)
	}

	distinct := map[int]bool{}
	for _, t := range kept {
		distinct[t] = true
	}
	times := make([]int, 0, len(distinct))
	for t := range distinct {
		times = append(times, t)
	}
	sort.Ints(times)
	if len(times) < 2 {
		return nil, fmt.Errorf("%w: need at least two event-time offsets", ErrEstimation)
	}
	ref := times[0] // dropped as reference category

	treat := mustFloat(data, "treatment")
	names := []string{"const", "treatment"}
	cols := [][]float64{constColumn(data.Len()), treat}
	for _, t := range times[1:] {
		col := make([]float64, data.Len())
		for i := range col {
			if kept[i] == t {
				col[i] = treat[i]
			}
		}
		names = append(names, fmt.Sprintf("treatment_event_t_%d", t))
		cols = append(cols, col)
	}

	y, _ := data.Float(d.outcomeCol)
	fit, err := regress.Fit(names, designMatrix(cols), y)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}

	points := make([]EventStudyPoint, 0, len(times)-1)
	for _, t := range times[1:] {
		name := fmt.Sprintf("treatment_event_t_%d", t)
		c, _ := fit.Coeff(name)
		se, _ := fit.StdErr(name)
		p, _ := fit.PValue(name)
		points = append(points, EventStudyPoint{EventTime: t, Coefficient: c, StdError: se, PValue: p})
	}
	d.logger.Info("event study complete", "n_offsets", len(points), "reference", ref)
	return points, nil
}

func constColumn(n int) []float64 {
	c := make([]float64, n)
	for i := range c {
		c[i] = 1
	}
	return c
}

func mustFloat(t *table.Table, name string) []float64 {
	v, _ := t.Float(name)
	return v
}

// fillZero maps missing values to zero, matching the fillna(0) the design
// matrix build applies to covariates.
func fillZero(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if table.IsMissing(x) {
			out[i] = 0
		} else {
			out[i] = x
		}
	}
	return out
}

// dummyColumns one-hot encodes a categorical column, dropping the first
// category (sorted order) as reference.
func dummyColumns(values []string, prefix string) ([]string, [][]float64) {
	distinct := map[string]bool{}
	for _, v := range values {
		if v != "" {
			distinct[v] = true
		}
	}
	cats := make([]string, 0, len(distinct))
	for v := range distinct {
		cats = append(cats, v)
	}
	sort.Strings(cats)
	if len(cats) < 2 {
		return nil, nil
	}
	names := make([]string, 0, len(cats)-1)
	cols := make([][]float64, 0, len(cats)-1)
	for _, c := range cats[1:] {
		col := make([]float64, len(values))
		for i, v := range values {
			if v == c {
				col[i] = 1
			}
		}
		names = append(names, prefix+"_"+c)
		cols = append(cols, col)
	}
	return names, cols
}

func designMatrix(cols [][]float64) *mat.Dense {
	n := len(cols[0])
	k := len(cols)
	X := mat.NewDense(n, k, nil)
	for j, col := range cols {
		for i, v := range col {
			X.Set(i, j, v)
		}
	}
	return X
}

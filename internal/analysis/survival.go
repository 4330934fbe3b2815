package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/steamlens/steamlens-go/internal/analysis/regress"
)

// coxMinObservations is the minimum number of complete rows a Cox fit needs.
const coxMinObservations = 10

// minGroupSize is the smallest stratification group that gets its own curve.
const minGroupSize = 5

// SurvivalEstimator fits Kaplan-Meier curves and a penalized Cox
// proportional-hazards model over churn duration records.
type SurvivalEstimator struct {
	records []DurationRecord
	km      *KMCurve
	cox     *coxModel
	logger  *slog.Logger
}

// KMCurve is a stepwise product-limit survival curve with two-sided
// confidence bands and the median survival time (nil when the curve never
// crosses 0.5).
type KMCurve struct {
	Times          []float64 `json:"times"`
	Survival       []float64 `json:"survival"`
	CILower        []float64 `json:"ci_lower"`
	CIUpper        []float64 `json:"ci_upper"`
	MedianSurvival *float64  `json:"median_survival_time"`
}

// LogRankResult compares survival distributions across groups.
type LogRankResult struct {
	TestStatistic float64 `json:"test_statistic"`
	PValue        float64 `json:"p_value"`
	Group1        string  `json:"group1,omitempty"`
	Group2        string  `json:"group2,omitempty"`
	NGroups       int     `json:"n_groups,omitempty"`
	Significant   bool    `json:"significant"`
	Error         string  `json:"error,omitempty"`
}

// KMResult bundles the overall or stratified Kaplan-Meier output.
type KMResult struct {
	Overall *KMCurve            `json:"overall,omitempty"`
	GroupBy string              `json:"groupby_column,omitempty"`
	Groups  map[string]*KMCurve `json:"groups,omitempty"`
	LogRank *LogRankResult      `json:"logrank_test,omitempty"`
}

// PHAssumptionCheck reports the proportional-hazards diagnostic. A failed
// computation lands in Error instead of aborting the Cox result.
type PHAssumptionCheck struct {
	PValues map[string]float64 `json:"p_values,omitempty"`
	Valid   bool               `json:"assumptions_valid"`
	Error   string             `json:"error,omitempty"`
}

// CoxResult is the fitted proportional-hazards bundle.
type CoxResult struct {
	Coefficients     map[string]float64 `json:"coefficients"`
	HazardRatios     map[string]float64 `json:"hazard_ratios"`
	StandardErrors   map[string]float64 `json:"standard_errors"`
	PValues          map[string]float64 `json:"p_values"`
	ConcordanceIndex float64            `json:"concordance_index"`
	LogLikelihood    float64            `json:"log_likelihood"`
	AIC              float64            `json:"aic"`
	NObs             int                `json:"n_obs"`
	NEvents          int                `json:"n_events"`
	Proportionality  PHAssumptionCheck  `json:"proportionality_test"`
}

// RetentionMetrics summarizes churn across the full record set.
type RetentionMetrics struct {
	NTotal            int                 `json:"n_total"`
	NChurned          int                 `json:"n_churned"`
	NActive           int                 `json:"n_active"`
	ChurnRate         float64             `json:"churn_rate"`
	RetentionRate     float64             `json:"retention_rate"`
	MedianTimeToChurn *float64            `json:"median_time_to_churn_months"`
	RetentionAtTime   map[string]*float64 `json:"retention_at_time"`
}

// SurvivalPrediction evaluates a fitted Cox model at requested times.
type SurvivalPrediction struct {
	Times         []float64          `json:"times"`
	Probabilities map[string]float64 `json:"survival_probabilities"`
	Covariates    map[string]float64 `json:"covariate_values"`
}

// coxRow is one complete observation in a Cox fit.
type coxRow struct {
	t     float64
	event bool
	x     []float64
}

// coxModel keeps the fitted state needed for predictions.
type coxModel struct {
	names     []string
	coeffs    []float64
	means     []float64
	baseTimes []float64
	baseCumHz []float64
}

// NewSurvivalEstimator wraps a set of duration records. Exactly one record
// per entity per analysis run is expected.
func NewSurvivalEstimator(records []DurationRecord) *SurvivalEstimator {
	return &SurvivalEstimator{
		records: append([]DurationRecord(nil), records...),
		logger:  slog.Default().With("component", "survival"),
	}
}

// KaplanMeier fits the product-limit estimator. With byGroup the records are
// stratified on their group label, groups under five records are skipped,
// and a log-rank test compares the remaining groups when at least two
// survive the cut.
func (s *SurvivalEstimator) KaplanMeier(byGroup bool, alpha float64) (*KMResult, error) {
	if len(s.records) == 0 {
		return nil, fmt.Errorf("%w: no duration records", ErrInsufficientData)
	}
	if !byGroup {
		curve := fitKaplanMeier(s.records, alpha)
		s.km = curve
		s.logger.Info("kaplan-meier fit", "n", len(s.records), "median", curve.MedianSurvival)
		return &KMResult{Overall: curve}, nil
	}

	grouped := map[string][]DurationRecord{}
	for _, r := range s.records {
		grouped[r.Group] = append(grouped[r.Group], r)
	}
	result := &KMResult{GroupBy: ColGenre, Groups: map[string]*KMCurve{}}
	kept := make([]string, 0, len(grouped))
	for g, recs := range grouped {
		if len(recs) < minGroupSize {
			continue
		}
		result.Groups[g] = fitKaplanMeier(recs, alpha)
		kept = append(kept, g)
	}
	sort.Strings(kept)
	if len(kept) >= 2 {
		lr := logRankTest(grouped, kept)
		result.LogRank = &lr
	}
	s.logger.Info("kaplan-meier stratified fit", "groups", len(result.Groups))
	return result, nil
}

// fitKaplanMeier computes the product-limit curve with exponential
// Greenwood confidence bands at level alpha.
func fitKaplanMeier(records []DurationRecord, alpha float64) *KMCurve {
	type point struct {
		t      float64
		deaths int // events at t
		total  int // subjects leaving risk set at t
	}
	byTime := map[float64]*point{}
	times := []float64{}
	for _, r := range records {
		p, ok := byTime[r.Duration]
		if !ok {
			p = &point{t: r.Duration}
			byTime[r.Duration] = p
			times = append(times, r.Duration)
		}
		p.total++
		if r.Event {
			p.deaths++
		}
	}
	sort.Float64s(times)

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(1 - alpha/2)
	curve := &KMCurve{}
	atRisk := len(records)
	surv := 1.0
	greenwood := 0.0
	for _, t := range times {
		p := byTime[t]
		if p.deaths > 0 {
			d, n := float64(p.deaths), float64(atRisk)
			surv *= 1 - d/n
			if n > d {
				greenwood += d / (n * (n - d))
			}
		}
		lo, hi := expGreenwoodCI(surv, greenwood, z)
		curve.Times = append(curve.Times, t)
		curve.Survival = append(curve.Survival, surv)
		curve.CILower = append(curve.CILower, lo)
		curve.CIUpper = append(curve.CIUpper, hi)
		if curve.MedianSurvival == nil && surv <= 0.5 {
			mt := t
			curve.MedianSurvival = &mt
		}
		atRisk -= p.total
	}
	return curve
}

// expGreenwoodCI is the log(-log) transformed Greenwood interval, which
// stays inside [0, 1].
func expGreenwoodCI(surv, greenwood, z float64) (lo, hi float64) {
	if surv <= 0 {
		return 0, 0
	}
	if surv >= 1 {
		return 1, 1
	}
	logS := math.Log(surv)
	v := greenwood / (logS * logS)
	theta := z * math.Sqrt(v)
	return math.Pow(surv, math.Exp(theta)), math.Pow(surv, math.Exp(-theta))
}

// logRankTest runs the pairwise test for two groups and the multivariate
// generalization for three or more.
func logRankTest(grouped map[string][]DurationRecord, kept []string) LogRankResult {
	k := len(kept)
	// Pool all records of the kept groups, remembering group index.
	type obs struct {
		t     float64
		event bool
		g     int
	}
	var all []obs
	for gi, g := range kept {
		for _, r := range grouped[g] {
			all = append(all, obs{t: r.Duration, event: r.Event, g: gi})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].t < all[j].t })

	observed := make([]float64, k)
	expected := make([]float64, k)
	cov := mat.NewDense(k-1, k-1, nil)

	for i := 0; i < len(all); {
		t := all[i].t
		// Risk set sizes at t.
		nAtRisk := make([]float64, k)
		total := 0.0
		for _, o := range all {
			if o.t >= t {
				nAtRisk[o.g]++
				total++
			}
		}
		// Events at t per group.
		dAtT := make([]float64, k)
		dTotal := 0.0
		for ; i < len(all) && all[i].t == t; i++ {
			if all[i].event {
				dAtT[all[i].g]++
				dTotal++
			}
		}
		if dTotal == 0 || total <= 1 {
			continue
		}
		for g := 0; g < k; g++ {
			observed[g] += dAtT[g]
			expected[g] += dTotal * nAtRisk[g] / total
		}
		for g := 0; g < k-1; g++ {
			for h := 0; h < k-1; h++ {
				delta := 0.0
				if g == h {
					delta = 1
				}
				v := nAtRisk[g] * (delta*total - nAtRisk[h]) * dTotal * (total - dTotal) /
					(total * total * (total - 1))
				cov.Set(g, h, cov.At(g, h)+v)
			}
		}
	}

	zv := mat.NewVecDense(k-1, nil)
	for g := 0; g < k-1; g++ {
		zv.SetVec(g, observed[g]-expected[g])
	}
	var solved mat.VecDense
	if err := solved.SolveVec(cov, zv); err != nil {
		return LogRankResult{Error: fmt.Sprintf("log-rank covariance is singular: %v", err)}
	}
	stat := mat.Dot(zv, &solved)
	chi := distuv.ChiSquared{K: float64(k - 1)}
	p := 1 - chi.CDF(stat)

	result := LogRankResult{
		TestStatistic: stat,
		PValue:        p,
		Significant:   p < 0.05,
	}
	if k == 2 {
		result.Group1 = kept[0]
		result.Group2 = kept[1]
	} else {
		result.NGroups = k
	}
	return result
}

// CoxPH fits an L2-penalized Cox proportional-hazards model by
// Newton-Raphson on the Breslow partial likelihood. covariates maps each
// covariate name to a slice aligned with the estimator's records; rows with
// any missing covariate are dropped, and at least ten complete rows must
// remain.
func (s *SurvivalEstimator) CoxPH(covariates map[string][]float64, penalizer float64) (*CoxResult, error) {
	names := make([]string, 0, len(covariates))
	for n := range covariates {
		names = append(names, n)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no covariates supplied", ErrInsufficientData)
	}

	// Drop incomplete rows.
	var rows []coxRow
	for i, r := range s.records {
		x := make([]float64, len(names))
		ok := true
		for j, n := range names {
			col := covariates[n]
			if i >= len(col) || math.IsNaN(col[i]) {
				ok = false
				break
			}
			x[j] = col[i]
		}
		if ok {
			rows = append(rows, coxRow{t: r.Duration, event: r.Event, x: x})
		}
	}
	if len(rows) < coxMinObservations {
		return nil, fmt.Errorf("%w: %d complete rows, need %d for Cox PH",
			ErrInsufficientData, len(rows), coxMinObservations)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].t < rows[j].t })

	n, p := len(rows), len(names)
	beta := make([]float64, p)
	nEvents := 0
	for _, r := range rows {
		if r.event {
			nEvents++
		}
	}
	if nEvents == 0 {
		return nil, fmt.Errorf("%w: all records censored", ErrEstimation)
	}

	// Newton-Raphson on the penalized Breslow partial log-likelihood.
	grad := make([]float64, p)
	hess := mat.NewDense(p, p, nil)
	var ll float64
	evaluate := func(b []float64, penalized bool) float64 {
		for j := range grad {
			grad[j] = 0
		}
		hess.Zero()
		ll = 0
		risks := make([]float64, n)
		for i, r := range rows {
			risks[i] = math.Exp(dot(b, r.x))
		}
		for i := 0; i < n; {
			t := rows[i].t
			var eventSumX []float64 = make([]float64, p)
			d := 0.0
			for ; i < n && rows[i].t == t; i++ {
				if rows[i].event {
					d++
					for j := 0; j < p; j++ {
						eventSumX[j] += rows[i].x[j]
					}
					ll += dot(b, rows[i].x)
				}
			}
			if d == 0 {
				continue
			}
			// Risk set at t: all rows with duration >= t.
			s0 := 0.0
			s1 := make([]float64, p)
			s2 := mat.NewDense(p, p, nil)
			for m := 0; m < n; m++ {
				if rows[m].t < t {
					continue
				}
				w := risks[m]
				s0 += w
				for j := 0; j < p; j++ {
					s1[j] += w * rows[m].x[j]
					for l := 0; l < p; l++ {
						s2.Set(j, l, s2.At(j, l)+w*rows[m].x[j]*rows[m].x[l])
					}
				}
			}
			ll -= d * math.Log(s0)
			for j := 0; j < p; j++ {
				grad[j] += eventSumX[j] - d*s1[j]/s0
				for l := 0; l < p; l++ {
					hess.Set(j, l, hess.At(j, l)-d*(s2.At(j, l)/s0-s1[j]*s1[l]/(s0*s0)))
				}
			}
		}
		if penalized {
			for j := 0; j < p; j++ {
				ll -= 0.5 * penalizer * b[j] * b[j]
				grad[j] -= penalizer * b[j]
				hess.Set(j, j, hess.At(j, j)-penalizer)
			}
		}
		return ll
	}

	const maxIter = 50
	const tol = 1e-8
	for iter := 0; iter < maxIter; iter++ {
		evaluate(beta, true)
		// Solve (-H) step = grad.
		negH := mat.NewDense(p, p, nil)
		negH.Scale(-1, hess)
		gv := mat.NewVecDense(p, append([]float64(nil), grad...))
		var step mat.VecDense
		if err := step.SolveVec(negH, gv); err != nil {
			return nil, fmt.Errorf("%w: singular information matrix in Cox fit", ErrEstimation)
		}
		maxStep := 0.0
		for j := 0; j < p; j++ {
			beta[j] += step.AtVec(j)
			if a := math.Abs(step.AtVec(j)); a > maxStep {
				maxStep = a
			}
		}
		if maxStep < tol {
			break
		}
	}

	// Variance from the inverse penalized information at the optimum.
	evaluate(beta, true)
	negH := mat.NewDense(p, p, nil)
	negH.Scale(-1, hess)
	var info mat.Dense
	if err := info.Inverse(negH); err != nil {
		return nil, fmt.Errorf("%w: information matrix not invertible", ErrEstimation)
	}
	// Unpenalized partial log-likelihood at the fitted coefficients.
	finalLL := evaluate(beta, false)

	normal := distuv.Normal{Mu: 0, Sigma: 1}
	result := &CoxResult{
		Coefficients:   map[string]float64{},
		HazardRatios:   map[string]float64{},
		StandardErrors: map[string]float64{},
		PValues:        map[string]float64{},
		LogLikelihood:  finalLL,
		AIC:            -2*finalLL + 2*float64(p),
		NObs:           n,
		NEvents:        nEvents,
	}
	for j, name := range names {
		se := math.Sqrt(info.At(j, j))
		result.Coefficients[name] = beta[j]
		result.HazardRatios[name] = math.Exp(beta[j])
		result.StandardErrors[name] = se
		z := 0.0
		if se > 0 {
			z = beta[j] / se
		}
		result.PValues[name] = 2 * (1 - normal.CDF(math.Abs(z)))
	}
	result.ConcordanceIndex = concordanceIndex(rows, beta)
	result.Proportionality = s.checkProportionalHazards(rows, names, beta)

	// Breslow baseline cumulative hazard, centered at covariate means.
	means := make([]float64, p)
	for _, r := range rows {
		for j := 0; j < p; j++ {
			means[j] += r.x[j] / float64(n)
		}
	}
	model := &coxModel{names: names, coeffs: beta, means: means}
	cum := 0.0
	for i := 0; i < n; {
		t := rows[i].t
		d := 0.0
		for ; i < n && rows[i].t == t; i++ {
			if rows[i].event {
				d++
			}
		}
		if d == 0 {
			continue
		}
		s0 := 0.0
		for m := 0; m < n; m++ {
			if rows[m].t >= t {
				s0 += math.Exp(dot(beta, diff(rows[m].x, means)))
			}
		}
		cum += d / s0
		model.baseTimes = append(model.baseTimes, t)
		model.baseCumHz = append(model.baseCumHz, cum)
	}
	s.cox = model

	s.logger.Info("cox ph fit", "c_index", result.ConcordanceIndex, "n_events", nEvents)
	return result, nil
}

// checkProportionalHazards correlates each covariate's Schoenfeld residuals
// with event-time rank. A numerical failure is reported, not raised.
func (s *SurvivalEstimator) checkProportionalHazards(rows []coxRow, names []string, beta []float64) PHAssumptionCheck {
	p := len(names)
	var eventTimes []float64
	residuals := make([][]float64, p)
	for _, r := range rows {
		if !r.event {
			continue
		}
		// Weighted covariate mean over the risk set at r.t.
		s0 := 0.0
		s1 := make([]float64, p)
		for m := 0; m < len(rows); m++ {
			if rows[m].t < r.t {
				continue
			}
			w := math.Exp(dot(beta, rows[m].x))
			s0 += w
			for j := 0; j < p; j++ {
				s1[j] += w * rows[m].x[j]
			}
		}
		if s0 == 0 {
			return PHAssumptionCheck{Error: "empty risk set in proportionality check"}
		}
		eventTimes = append(eventTimes, r.t)
		for j := 0; j < p; j++ {
			residuals[j] = append(residuals[j], r.x[j]-s1[j]/s0)
		}
	}
	if len(eventTimes) < 3 {
		return PHAssumptionCheck{Error: "too few events for proportionality check"}
	}
	check := PHAssumptionCheck{PValues: map[string]float64{}, Valid: true}
	for j, name := range names {
		_, pv, err := regress.PearsonCorrelation(eventTimes, residuals[j])
		if err != nil {
			return PHAssumptionCheck{Error: fmt.Sprintf("proportionality check failed: %v", err)}
		}
		check.PValues[name] = pv
		if pv < 0.05 {
			check.Valid = false
		}
	}
	return check
}

// PredictSurvival evaluates the fitted survival function for one covariate
// profile at each requested time, using the nearest available index at or
// below the time. Times defaults to 1..24 months when empty.
func (s *SurvivalEstimator) PredictSurvival(covariateValues map[string]float64, times []float64) (*SurvivalPrediction, error) {
	if s.cox == nil {
		return nil, fmt.Errorf("%w: Cox PH model must be fitted first", ErrModelNotFitted)
	}
	if len(times) == 0 {
		for t := 1.0; t <= 24; t++ {
			times = append(times, t)
		}
	}
	x := make([]float64, len(s.cox.names))
	for j, n := range s.cox.names {
		x[j] = covariateValues[n] - s.cox.means[j]
	}
	riskScore := math.Exp(dot(s.cox.coeffs, x))

	pred := &SurvivalPrediction{
		Times:         times,
		Probabilities: map[string]float64{},
		Covariates:    covariateValues,
	}
	for _, t := range times {
		idx := -1
		for i, bt := range s.cox.baseTimes {
			if bt <= t {
				idx = i
			} else {
				break
			}
		}
		if idx < 0 {
			continue // before the first event time
		}
		surv := math.Exp(-s.cox.baseCumHz[idx] * riskScore)
		pred.Probabilities[fmt.Sprintf("%g", t)] = surv
	}
	return pred, nil
}

// Retention computes churn/retention rates, the median time-to-churn among
// churned records only, and retention probabilities at fixed horizons read
// off the overall Kaplan-Meier curve (nil when the curve is not yet fit or
// the horizon exceeds its support).
func (s *SurvivalEstimator) Retention() RetentionMetrics {
	m := RetentionMetrics{
		NTotal:          len(s.records),
		RetentionAtTime: map[string]*float64{},
	}
	var churnedDurations []float64
	for _, r := range s.records {
		if r.Event {
			m.NChurned++
			churnedDurations = append(churnedDurations, r.Duration)
		}
	}
	m.NActive = m.NTotal - m.NChurned
	if m.NTotal > 0 {
		m.ChurnRate = float64(m.NChurned) / float64(m.NTotal)
		m.RetentionRate = float64(m.NActive) / float64(m.NTotal)
	}
	if len(churnedDurations) > 0 {
		sort.Float64s(churnedDurations)
		var med float64
		n := len(churnedDurations)
		if n%2 == 1 {
			med = churnedDurations[n/2]
		} else {
			med = (churnedDurations[n/2-1] + churnedDurations[n/2]) / 2
		}
		m.MedianTimeToChurn = &med
	}
	for _, horizon := range []float64{3, 6, 12, 24} {
		key := fmt.Sprintf("%d_months", int(horizon))
		m.RetentionAtTime[key] = s.survivalAt(horizon)
	}
	return m
}

// survivalAt reads the overall KM step function at time t, nil when the
// curve is missing or t exceeds its support.
func (s *SurvivalEstimator) survivalAt(t float64) *float64 {
	if s.km == nil || len(s.km.Times) == 0 {
		return nil
	}
	if t > s.km.Times[len(s.km.Times)-1] {
		return nil
	}
	surv := 1.0
	for i, bt := range s.km.Times {
		if bt <= t {
			surv = s.km.Survival[i]
		} else {
			break
		}
	}
	return &surv
}

// concordanceIndex is the fraction of comparable pairs ordered correctly by
// the fitted risk scores. A pair is comparable when the shorter duration ended
// in an observed event; risk-score ties count half.
func concordanceIndex(rows []coxRow, beta []float64) float64 {
	risks := make([]float64, len(rows))
	for i, r := range rows {
		risks[i] = dot(beta, r.x)
	}
	var concordant, comparable float64
	for i := range rows {
		if !rows[i].event {
			continue
		}
		for j := range rows {
			if i == j {
				continue
			}
			longer := rows[j].t > rows[i].t ||
				(rows[j].t == rows[i].t && !rows[j].event)
			if !longer {
				continue
			}
			comparable++
			switch {
			case risks[i] > risks[j]:
				concordant++
			case risks[i] == risks[j]:
				concordant += 0.5
			}
		}
	}
	if comparable == 0 {
		return math.NaN()
	}
	return concordant / comparable
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func diff(a, b []float64) []float64 {
	out := make([]float64, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

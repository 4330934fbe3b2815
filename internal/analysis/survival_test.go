package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func churnRecords(durations []float64, events []bool, group string) []DurationRecord {
	out := make([]DurationRecord, len(durations))
	for i := range durations {
		out[i] = DurationRecord{
			GameID:   int64(i + 1),
			Duration: durations[i],
			Event:    events[i],
			Group:    group,
		}
	}
	return out
}

func allTrue(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func TestKaplanMeier_MedianSurvival(t *testing.T) {
	// Ten distinct event times: survival steps down by 0.1 each, hitting
	// 0.5 at the fifth event.
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	est := NewSurvivalEstimator(churnRecords(durations, allTrue(10), ""))

	res, err := est.KaplanMeier(false, 0.05)
	require.NoError(t, err)
	require.NotNil(t, res.Overall)

	curve := res.Overall
	assert.Len(t, curve.Times, 10)
	assert.InDelta(t, 0.9, curve.Survival[0], 1e-9)
	assert.InDelta(t, 0.5, curve.Survival[4], 1e-9)
	require.NotNil(t, curve.MedianSurvival)
	assert.Equal(t, 5.0, *curve.MedianSurvival)

	for i := range curve.Times {
		assert.LessOrEqual(t, curve.CILower[i], curve.Survival[i])
		assert.GreaterOrEqual(t, curve.CIUpper[i], curve.Survival[i])
	}
}

func TestKaplanMeier_CensoringKeepsSurvivalUp(t *testing.T) {
	durations := []float64{1, 2, 3, 4, 5, 6}
	// Censored observations leave the risk set without a survival drop.
	events := []bool{true, false, true, false, true, false}
	est := NewSurvivalEstimator(churnRecords(durations, events, ""))

	res, err := est.KaplanMeier(false, 0.05)
	require.NoError(t, err)
	curve := res.Overall
	// Three events among six subjects: survival never reaches 0.5 only if
	// censoring shifts the weights; here it ends below 0.5.
	last := curve.Survival[len(curve.Survival)-1]
	assert.Greater(t, last, 0.0)
	assert.Less(t, last, 1.0)
	// Survival is non-increasing.
	for i := 1; i < len(curve.Survival); i++ {
		assert.LessOrEqual(t, curve.Survival[i], curve.Survival[i-1])
	}
}

func TestKaplanMeier_MedianNilWhenNeverCrossed(t *testing.T) {
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	events := make([]bool, 10)
	events[0] = true // one event, survival stays at 0.9
	est := NewSurvivalEstimator(churnRecords(durations, events, ""))

	res, err := est.KaplanMeier(false, 0.05)
	require.NoError(t, err)
	assert.Nil(t, res.Overall.MedianSurvival)
}

func TestKaplanMeier_NoRecords(t *testing.T) {
	est := NewSurvivalEstimator(nil)
	_, err := est.KaplanMeier(false, 0.05)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestKaplanMeier_StratifiedWithLogRank(t *testing.T) {
	fast := churnRecords([]float64{1, 1, 2, 2, 3, 3}, allTrue(6), "Action")
	slow := churnRecords([]float64{10, 11, 12, 13, 14, 15}, allTrue(6), "Strategy")
	tiny := churnRecords([]float64{5, 6}, allTrue(2), "Indie") // below group minimum
	est := NewSurvivalEstimator(append(append(fast, slow...), tiny...))

	res, err := est.KaplanMeier(true, 0.05)
	require.NoError(t, err)
	assert.Len(t, res.Groups, 2)
	assert.NotContains(t, res.Groups, "Indie")

	require.NotNil(t, res.LogRank)
	assert.Empty(t, res.LogRank.Error)
	assert.Equal(t, "Action", res.LogRank.Group1)
	assert.Equal(t, "Strategy", res.LogRank.Group2)
	assert.True(t, res.LogRank.Significant)
	assert.Less(t, res.LogRank.PValue, 0.01)
}

// coxFixture builds interleaved duration records where the single covariate
// raises the hazard.
func coxFixture() ([]DurationRecord, map[string][]float64) {
	short := []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 12}
	long := []float64{5, 7, 9, 11, 13, 14, 15, 16, 17, 18}
	var records []DurationRecord
	var x []float64
	for _, d := range short {
		records = append(records, DurationRecord{Duration: d, Event: true})
		x = append(x, 1)
	}
	for _, d := range long {
		records = append(records, DurationRecord{Duration: d, Event: true})
		x = append(x, 0)
	}
	return records, map[string][]float64{"high_price": x}
}

func TestCoxPH_PositiveHazardCoefficient(t *testing.T) {
	records, covariates := coxFixture()
	est := NewSurvivalEstimator(records)

	res, err := est.CoxPH(covariates, 0.1)
	require.NoError(t, err)

	assert.Equal(t, 20, res.NObs)
	assert.Equal(t, 20, res.NEvents)
	assert.Greater(t, res.Coefficients["high_price"], 0.0)
	assert.Greater(t, res.HazardRatios["high_price"], 1.0)
	assert.Greater(t, res.StandardErrors["high_price"], 0.0)
	assert.Greater(t, res.ConcordanceIndex, 0.6)
	assert.Less(t, res.LogLikelihood, 0.0)
	assert.InDelta(t, -2*res.LogLikelihood+2, res.AIC, 1e-9)
}

func TestCoxPH_ProportionalityCheckReportsPValues(t *testing.T) {
	records, covariates := coxFixture()
	est := NewSurvivalEstimator(records)

	res, err := est.CoxPH(covariates, 0.1)
	require.NoError(t, err)

	assert.Empty(t, res.Proportionality.Error)
	require.Contains(t, res.Proportionality.PValues, "high_price")
	pv := res.Proportionality.PValues["high_price"]
	assert.GreaterOrEqual(t, pv, 0.0)
	assert.LessOrEqual(t, pv, 1.0)
}

func TestCoxPH_DropsIncompleteRows(t *testing.T) {
	records, covariates := coxFixture()
	covariates["high_price"][3] = math.NaN()
	est := NewSurvivalEstimator(records)

	res, err := est.CoxPH(covariates, 0.1)
	require.NoError(t, err)
	assert.Equal(t, 19, res.NObs)
}

func TestCoxPH_TooFewRows(t *testing.T) {
	est := NewSurvivalEstimator(churnRecords([]float64{1, 2, 3}, allTrue(3), ""))
	_, err := est.CoxPH(map[string][]float64{"x": {1, 0, 1}}, 0.1)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCoxPH_AllCensored(t *testing.T) {
	durations := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	est := NewSurvivalEstimator(churnRecords(durations, make([]bool, 10), ""))
	x := make([]float64, 10)
	_, err := est.CoxPH(map[string][]float64{"x": x}, 0.1)
	assert.ErrorIs(t, err, ErrEstimation)
}

func TestPredictSurvival_RequiresFittedModel(t *testing.T) {
	records, _ := coxFixture()
	est := NewSurvivalEstimator(records)

	_, err := est.PredictSurvival(map[string]float64{"high_price": 1}, nil)
	assert.ErrorIs(t, err, ErrModelNotFitted)
}

func TestPredictSurvival_MonotoneAndRiskOrdered(t *testing.T) {
	records, covariates := coxFixture()
	est := NewSurvivalEstimator(records)
	_, err := est.CoxPH(covariates, 0.1)
	require.NoError(t, err)

	times := []float64{2, 5, 10, 15}
	high, err := est.PredictSurvival(map[string]float64{"high_price": 1}, times)
	require.NoError(t, err)
	low, err := est.PredictSurvival(map[string]float64{"high_price": 0}, times)
	require.NoError(t, err)

	prev := 1.0
	for _, tm := range []string{"2", "5", "10", "15"} {
		p := high.Probabilities[tm]
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, prev)
		prev = p
		// Higher risk profile survives less.
		assert.LessOrEqual(t, p, low.Probabilities[tm])
	}
}

func TestRetention(t *testing.T) {
	records := []DurationRecord{
		{GameID: 1, Duration: 2, Event: true},
		{GameID: 2, Duration: 4, Event: true},
		{GameID: 3, Duration: 8, Event: false},
		{GameID: 4, Duration: 12, Event: false},
	}
	est := NewSurvivalEstimator(records)

	m := est.Retention()
	assert.Equal(t, 4, m.NTotal)
	assert.Equal(t, 2, m.NChurned)
	assert.Equal(t, 2, m.NActive)
	assert.InDelta(t, 0.5, m.ChurnRate, 1e-9)
	assert.InDelta(t, 0.5, m.RetentionRate, 1e-9)
	require.NotNil(t, m.MedianTimeToChurn)
	assert.Equal(t, 3.0, *m.MedianTimeToChurn)

	// Horizon retention needs a fitted curve first.
	assert.Nil(t, m.RetentionAtTime["3_months"])

	_, err := est.KaplanMeier(false, 0.05)
	require.NoError(t, err)
	m = est.Retention()
	require.NotNil(t, m.RetentionAtTime["3_months"])
	assert.InDelta(t, 0.75, *m.RetentionAtTime["3_months"], 1e-9)
	// Beyond the observed support the curve says nothing.
	assert.Nil(t, m.RetentionAtTime["24_months"])
}

func TestConcordanceIndex_PerfectOrdering(t *testing.T) {
	rows := []coxRow{
		{t: 1, event: true, x: []float64{3}},
		{t: 2, event: true, x: []float64{2}},
		{t: 3, event: true, x: []float64{1}},
	}
	assert.InDelta(t, 1.0, concordanceIndex(rows, []float64{1}), 1e-9)
	// Flipping the coefficient inverts the ordering.
	assert.InDelta(t, 0.0, concordanceIndex(rows, []float64{-1}), 1e-9)
}

func TestSurvivalPipelineFromChurnEvents(t *testing.T) {
	// End to end: panel -> churn records -> KM.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := monthlyPanel(t, []int64{1, 2, 3, 4, 5, 6}, 8, start, func(g, m int) float64 {
		if g < 3 && m >= 4 {
			return 10
		}
		return 100
	})
	records := DetectChurnEvents(tb, 0.5, 3)
	require.Len(t, records, 6)

	est := NewSurvivalEstimator(records)
	res, err := est.KaplanMeier(false, 0.05)
	require.NoError(t, err)
	require.NotNil(t, res.Overall.MedianSurvival)
	assert.Equal(t, 4.0, *res.Overall.MedianSurvival)
}

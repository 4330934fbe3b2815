package analysis

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamlens/steamlens-go/internal/analysis/table"
)

// demandTable builds rows following q = 1000 * p^elasticity with a small
// deterministic wobble so regression residuals are non-degenerate.
func demandTable(t *testing.T, prices []float64, elasticity float64, genres []string) *table.Table {
	t.Helper()
	n := len(prices)
	qty := make([]float64, n)
	dates := make([]time.Time, n)
	active := make([]bool, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range prices {
		wobble := 1 + 0.01*math.Sin(float64(i))
		qty[i] = 1000 * math.Pow(p, elasticity) * wobble
		dates[i] = start.AddDate(0, 0, i*7)
		active[i] = i%5 == 0
	}
	tb := table.New()
	require.NoError(t, tb.SetFloat(ColPrice, prices))
	require.NoError(t, tb.SetFloat(ColAvgPlayers, qty))
	require.NoError(t, tb.SetTime(ColDate, dates))
	require.NoError(t, tb.SetBool(ColDiscountActive, active))
	if genres != nil {
		require.NoError(t, tb.SetString(ColGenre, genres))
	}
	return tb
}

func priceRange(lo float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)
	}
	return out
}

func TestNewElasticityEstimator_FiltersNonPositive(t *testing.T) {
	tb := table.New()
	require.NoError(t, tb.SetFloat(ColPrice, []float64{10, 0, -5, 20}))
	require.NoError(t, tb.SetFloat(ColAvgPlayers, []float64{100, 100, 100, 0}))

	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)
	assert.Equal(t, 1, est.data.Len())
}

func TestArcElasticity_NegativeForDownwardDemand(t *testing.T) {
	tb := demandTable(t, priceRange(10, 12), -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	out := est.ArcElasticity("")
	require.True(t, out.IsOk())
	stats := out.Value().Overall
	require.NotNil(t, stats)

	assert.Less(t, stats.Elasticity, 0.0)
	assert.InDelta(t, -1.5, stats.Elasticity, 0.3)
	assert.True(t, stats.Elastic)
	assert.Equal(t, 11, stats.NObs) // one pair per consecutive price step
	assert.Contains(t, stats.Interpretation, "Elastic")
}

func TestArcElasticity_Grouped(t *testing.T) {
	prices := priceRange(10, 12)
	genres := make([]string, 12)
	for i := range genres {
		if i < 6 {
			genres[i] = "Action"
		} else {
			genres[i] = "Strategy"
		}
	}
	tb := demandTable(t, prices, -1.2, genres)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	out := est.ArcElasticity(ColGenre)
	require.True(t, out.IsOk())
	res := out.Value()
	assert.Equal(t, ColGenre, res.GroupBy)
	assert.Len(t, res.Groups, 2)
	for _, stats := range res.Groups {
		assert.Less(t, stats.Elasticity, 0.0)
	}
}

func TestArcElasticity_TooFewRows(t *testing.T) {
	tb := demandTable(t, []float64{10}, -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)
	assert.True(t, est.ArcElasticity("").IsEmpty())
}

func TestLogLogElasticity_RecoversExponent(t *testing.T) {
	tb := demandTable(t, priceRange(10, 24), -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	res, err := est.LogLogElasticity(false, "")
	require.NoError(t, err)
	require.NotNil(t, res.Overall)

	assert.InDelta(t, -1.5, res.Overall.Elasticity, 0.05)
	assert.Less(t, res.Overall.PValue, 0.001)
	assert.Greater(t, res.Overall.RSquared, 0.95)
	assert.True(t, res.Overall.Elastic)
	assert.Less(t, res.Overall.ConfIntLower, res.Overall.Elasticity)
	assert.Greater(t, res.Overall.ConfIntUpper, res.Overall.Elasticity)
	assert.Contains(t, res.Overall.Interpretation, "Elastic (inverse)")
}

func TestLogLogElasticity_WithControls(t *testing.T) {
	tb := demandTable(t, priceRange(10, 24), -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	res, err := est.LogLogElasticity(true, "")
	require.NoError(t, err)
	assert.InDelta(t, -1.5, res.Overall.Elasticity, 0.2)
}

func TestLogLogElasticity_InsufficientRows(t *testing.T) {
	tb := demandTable(t, priceRange(10, 5), -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	_, err := est.LogLogElasticity(false, "")
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestLogLogElasticity_GroupedSkipsSmallGroups(t *testing.T) {
	prices := priceRange(10, 16)
	genres := make([]string, 16)
	for i := range genres {
		if i < 12 {
			genres[i] = "Action"
		} else {
			genres[i] = "Indie" // four rows, below the regression floor
		}
	}
	tb := demandTable(t, prices, -1.3, genres)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	res, err := est.LogLogElasticity(false, ColGenre)
	require.NoError(t, err)
	assert.Contains(t, res.Groups, "Action")
	assert.NotContains(t, res.Groups, "Indie")
}

func TestRecommendOptimalPrice(t *testing.T) {
	tb := demandTable(t, priceRange(10, 24), -1.5, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)

	_, err := est.RecommendOptimalPrice(20, 0)
	assert.ErrorIs(t, err, ErrModelNotFitted)

	_, err = est.LogLogElasticity(false, "")
	require.NoError(t, err)

	rec, err := est.RecommendOptimalPrice(20, 0)
	require.NoError(t, err)
	assert.Equal(t, "decrease", rec.Direction)
	assert.InDelta(t, 18.0, rec.OptimalPrice, 1e-9)
	assert.InDelta(t, -10.0, rec.PriceChangePct, 1e-9)
	// Elastic demand: a price cut raises quantity.
	assert.Greater(t, rec.ExpectedQtyChange, 0.0)
	assert.NotEmpty(t, rec.Reasoning)
}

func TestRecommendOptimalPrice_Inelastic(t *testing.T) {
	tb := demandTable(t, priceRange(10, 24), -0.4, nil)
	est := NewElasticityEstimator(tb, ColPrice, ColAvgPlayers)
	_, err := est.LogLogElasticity(false, "")
	require.NoError(t, err)

	rec, err := est.RecommendOptimalPrice(20, 0)
	require.NoError(t, err)
	assert.Equal(t, "increase", rec.Direction)
	assert.InDelta(t, 22.0, rec.OptimalPrice, 1e-9)
}

func TestElasticityHeatmap_SingleDimension(t *testing.T) {
	prices := priceRange(10, 12)
	genres := make([]string, 12)
	for i := range genres {
		if i%2 == 0 {
			genres[i] = "Action"
		} else {
			genres[i] = "Strategy"
		}
	}
	tb := demandTable(t, prices, -1.2, genres)

	out := ElasticityHeatmap(tb, ColPrice, ColAvgPlayers, ColGenre, "")
	require.True(t, out.IsOk())
	hm := out.Value()
	assert.Equal(t, ColGenre, hm.RowGroup)
	assert.Len(t, hm.Values, 2)
	assert.Nil(t, hm.Matrix)
}

func TestElasticityHeatmap_TwoDimensions(t *testing.T) {
	prices := priceRange(10, 24)
	genres := make([]string, 24)
	tiers := make([]string, 24)
	for i := range genres {
		if i < 12 {
			genres[i] = "Action"
		} else {
			genres[i] = "Strategy"
		}
		if i%12 < 6 {
			tiers[i] = "budget"
		} else {
			tiers[i] = "premium"
		}
	}
	tb := demandTable(t, prices, -1.2, genres)
	require.NoError(t, tb.SetString("price_tier", tiers))

	out := ElasticityHeatmap(tb, ColPrice, ColAvgPlayers, ColGenre, "price_tier")
	require.True(t, out.IsOk())
	hm := out.Value()
	assert.Len(t, hm.Matrix, 2)
	for _, row := range hm.Matrix {
		assert.Len(t, row, 2)
	}
}

func TestElasticityHeatmap_MissingColumn(t *testing.T) {
	tb := demandTable(t, priceRange(10, 12), -1.2, nil)
	assert.True(t, ElasticityHeatmap(tb, ColPrice, ColAvgPlayers, ColGenre, "").IsEmpty())
}

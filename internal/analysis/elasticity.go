package analysis

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/steamlens/steamlens-go/internal/analysis/regress"
	"github.com/steamlens/steamlens-go/internal/analysis/table"
)

// logLogMinObservations is the regression sample-size floor.
const logLogMinObservations = 10

// ElasticityEstimator measures how player demand responds to price changes:
// elasticity = % change in quantity / % change in price.
type ElasticityEstimator struct {
	data        *table.Table
	priceCol    string
	quantityCol string

	// elasticity is set by the overall log-log fit and feeds the price
	// recommendation.
	elasticity *float64
	logger     *slog.Logger
}

// ArcStats describes the pairwise midpoint elasticities of one data slice.
type ArcStats struct {
	Elasticity     float64 `json:"elasticity"`
	Median         float64 `json:"median_elasticity"`
	Std            float64 `json:"std_elasticity"`
	NObs           int     `json:"n_observations"`
	Elastic        bool    `json:"elastic"`
	Interpretation string  `json:"interpretation"`
}

// ArcResult is the overall or grouped arc-elasticity bundle.
type ArcResult struct {
	Overall *ArcStats            `json:"overall,omitempty"`
	GroupBy string               `json:"groupby_column,omitempty"`
	Groups  map[string]*ArcStats `json:"elasticities,omitempty"`
}

// LogLogStats is a log-log regression elasticity estimate.
type LogLogStats struct {
	Elasticity     float64 `json:"elasticity"`
	StandardError  float64 `json:"standard_error"`
	PValue         float64 `json:"p_value"`
	ConfIntLower   float64 `json:"conf_int_lower"`
	ConfIntUpper   float64 `json:"conf_int_upper"`
	RSquared       float64 `json:"r_squared"`
	NObs           int     `json:"n_obs"`
	Elastic        bool    `json:"elastic"`
	Interpretation string  `json:"interpretation"`
}

// LogLogResult is the overall or grouped log-log bundle.
type LogLogResult struct {
	Overall *LogLogStats            `json:"overall,omitempty"`
	GroupBy string                  `json:"groupby_column,omitempty"`
	Groups  map[string]*LogLogStats `json:"elasticities,omitempty"`
}

// PriceRecommendation is the flat ±10% pricing heuristic: elastic demand
// gets a decrease, inelastic demand an increase. It is deliberately not a
// revenue-maximizing solve.
type PriceRecommendation struct {
	CurrentPrice        float64 `json:"current_price"`
	OptimalPrice        float64 `json:"optimal_price"`
	PriceChangePct      float64 `json:"price_change_pct"`
	Direction           string  `json:"direction"`
	ExpectedQtyChange   float64 `json:"expected_quantity_change_pct"`
	Elasticity          float64 `json:"elasticity"`
	Reasoning           string  `json:"reasoning"`
}

// Heatmap holds arc elasticities across one or two grouping dimensions.
// With a single dimension Values is populated; with two, Matrix holds the
// pivoted row-by-column cells that met the minimum-rows rule.
type Heatmap struct {
	RowGroup string                        `json:"row_group"`
	ColGroup string                        `json:"col_group,omitempty"`
	Values   map[string]float64            `json:"values,omitempty"`
	Matrix   map[string]map[string]float64 `json:"matrix,omitempty"`
}

// NewElasticityEstimator filters the input to rows with strictly positive
// price and quantity; everything downstream works on that subset.
func NewElasticityEstimator(t *table.Table, priceCol, quantityCol string) *ElasticityEstimator {
	prices, _ := t.Float(priceCol)
	qty, _ := t.Float(quantityCol)
	keep := make([]bool, t.Len())
	for i := range keep {
		keep[i] = prices != nil && qty != nil &&
			!table.IsMissing(prices[i]) && !table.IsMissing(qty[i]) &&
			prices[i] > 0 && qty[i] > 0
	}
	return &ElasticityEstimator{
		data:        t.Filter(keep),
		priceCol:    priceCol,
		quantityCol: quantityCol,
		logger:      slog.Default().With("component", "elasticity"),
	}
}

// ArcElasticity computes midpoint elasticities over consecutive price-sorted
// pairs. groupBy selects a string column to split on; groups with fewer
// than five rows are skipped. Degenerate slices (under two rows, or no valid
// price change) yield Empty.
func (e *ElasticityEstimator) ArcElasticity(groupBy string) Outcome[*ArcResult] {
	if groupBy == "" {
		stats := arcElasticitySingle(e.data, e.priceCol, e.quantityCol)
		if stats == nil {
			return EmptyOutcome[*ArcResult]()
		}
		return Ok(&ArcResult{Overall: stats})
	}
	groups, ok := e.data.String(groupBy)
	if !ok {
		return EmptyOutcome[*ArcResult]()
	}
	result := &ArcResult{GroupBy: groupBy, Groups: map[string]*ArcStats{}}
	for _, g := range distinctStrings(groups) {
		sub := e.filterGroup(groupBy, g)
		if sub.Len() < minGroupSize {
			continue
		}
		if stats := arcElasticitySingle(sub, e.priceCol, e.quantityCol); stats != nil {
			result.Groups[g] = stats
		}
	}
	if len(result.Groups) == 0 {
		return EmptyOutcome[*ArcResult]()
	}
	return Ok(result)
}

func (e *ElasticityEstimator) filterGroup(col, value string) *table.Table {
	groups, _ := e.data.String(col)
	keep := make([]bool, e.data.Len())
	for i := range keep {
		keep[i] = groups[i] == value
	}
	return e.data.Filter(keep)
}

// arcElasticitySingle sorts one slice by price and averages the pairwise
// midpoint elasticities, skipping pairs with a zero average or zero price
// change. Returns nil when nothing can be computed.
func arcElasticitySingle(t *table.Table, priceCol, quantityCol string) *ArcStats {
	if t.Len() < 2 {
		return nil
	}
	prices, _ := t.Float(priceCol)
	qty, _ := t.Float(quantityCol)
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return prices[idx[a]] < prices[idx[b]] })

	var elasticities []float64
	for i := 1; i < len(idx); i++ {
		p1, p2 := prices[idx[i-1]], prices[idx[i]]
		q1, q2 := qty[idx[i-1]], qty[idx[i]]
		pAvg, qAvg := (p1+p2)/2, (q1+q2)/2
		dp, dq := p2-p1, q2-q1
		if pAvg > 0 && qAvg > 0 && dp != 0 {
			elasticities = append(elasticities, (dq/qAvg)/(dp/pAvg))
		}
	}
	if len(elasticities) == 0 {
		return nil
	}

	mean := 0.0
	for _, v := range elasticities {
		mean += v
	}
	mean /= float64(len(elasticities))
	variance := 0.0
	for _, v := range elasticities {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(elasticities))

	sorted := append([]float64(nil), elasticities...)
	sort.Float64s(sorted)
	var median float64
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	return &ArcStats{
		Elasticity:     mean,
		Median:         median,
		Std:            math.Sqrt(variance),
		NObs:           len(elasticities),
		Elastic:        math.Abs(mean) > 1,
		Interpretation: interpretElasticity(mean),
	}
}

// LogLogElasticity regresses log quantity on log price, optionally with a
// discount-active indicator and a linear time trend in months since the
// first observation. At least ten usable rows are required for the overall
// fit; grouped fits silently skip smaller groups.
func (e *ElasticityEstimator) LogLogElasticity(includeControls bool, groupBy string) (*LogLogResult, error) {
	if groupBy == "" {
		stats, err := e.logLogSingle(e.data, includeControls)
		if err != nil {
			return nil, err
		}
		e.elasticity = &stats.Elasticity
		return &LogLogResult{Overall: stats}, nil
	}
	groups, ok := e.data.String(groupBy)
	if !ok {
		return nil, fmt.Errorf("%w: group column %q not found", ErrEstimation, groupBy)
	}
	result := &LogLogResult{GroupBy: groupBy, Groups: map[string]*LogLogStats{}}
	for _, g := range distinctStrings(groups) {
		sub := e.filterGroup(groupBy, g)
		if sub.Len() < logLogMinObservations {
			continue
		}
		stats, err := e.logLogSingle(sub, includeControls)
		if err != nil {
			if errors.Is(err, ErrInsufficientData) {
				continue
			}
			return nil, err
		}
		result.Groups[g] = stats
	}
	return result, nil
}

func (e *ElasticityEstimator) logLogSingle(t *table.Table, includeControls bool) (*LogLogStats, error) {
	prices, _ := t.Float(e.priceCol)
	qty, _ := t.Float(e.quantityCol)

	keep := make([]bool, t.Len())
	for i := range keep {
		lp, lq := math.Log(prices[i]), math.Log(qty[i])
		keep[i] = !math.IsInf(lp, 0) && !math.IsNaN(lp) && !math.IsInf(lq, 0) && !math.IsNaN(lq)
	}
	t = t.Filter(keep)
	if t.Len() < logLogMinObservations {
		return nil, fmt.Errorf("%w: %d rows after log transform, need %d",
			ErrInsufficientData, t.Len(), logLogMinObservations)
	}

	prices, _ = t.Float(e.priceCol)
	qty, _ = t.Float(e.quantityCol)
	logPrice := make([]float64, t.Len())
	logQty := make([]float64, t.Len())
	for i := range logPrice {
		logPrice[i] = math.Log(prices[i])
		logQty[i] = math.Log(qty[i])
	}

	names := []string{"const", "log_price"}
	cols := [][]float64{constColumn(t.Len()), logPrice}
	if includeControls {
		// Constant controls would be collinear with the intercept.
		if active, ok := t.Bool(ColDiscountActive); ok && hasBoolVariation(active) {
			col := make([]float64, t.Len())
			for i, a := range active {
				if a {
					col[i] = 1
				}
			}
			names = append(names, ColDiscountActive)
			cols = append(cols, col)
		}
		if dates, ok := t.Time(ColDate); ok && len(dates) > 0 {
			first, last := dates[0], dates[0]
			for _, d := range dates[1:] {
				if d.Before(first) {
					first = d
				}
				if d.After(last) {
					last = d
				}
			}
			if last.After(first) {
				trend := make([]float64, t.Len())
				for i, d := range dates {
					trend[i] = d.Sub(first).Hours() / 24 / 30 // months
				}
				names = append(names, "time_trend")
				cols = append(cols, trend)
			}
		}
	}

	fit, err := regress.Fit(names, designMatrix(cols), logQty)
	if err != nil {
		if errors.Is(err, regress.ErrRankDeficient) {
			return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}

	el, _ := fit.Coeff("log_price")
	se, _ := fit.StdErr("log_price")
	p, _ := fit.PValue("log_price")
	lo, hi, _ := fit.ConfInt("log_price")
	return &LogLogStats{
		Elasticity:     el,
		StandardError:  se,
		PValue:         p,
		ConfIntLower:   lo,
		ConfIntUpper:   hi,
		RSquared:       fit.RSquared,
		NObs:           fit.NObs,
		Elastic:        math.Abs(el) > 1,
		Interpretation: interpretElasticity(el),
	}, nil
}

// interpretElasticity renders the magnitude category and the sign of the
// price-demand relationship as text.
func interpretElasticity(elasticity float64) string {
	absE := math.Abs(elasticity)
	var category, meaning string
	switch {
	case absE > 1:
		category, meaning = "Elastic", "Demand is sensitive to price changes"
	case absE < 1:
		category, meaning = "Inelastic", "Demand is insensitive to price changes"
	default:
		category, meaning = "Unit elastic", "Demand changes proportionally with price"
	}
	direction := "direct"
	if elasticity < 0 {
		direction = "inverse"
	}
	return fmt.Sprintf("%s (%s): %s", category, direction, meaning)
}

// RecommendOptimalPrice proposes a flat 10% decrease for elastic demand and
// a flat 10% increase otherwise, with the implied quantity change. Requires
// a prior overall log-log fit. The fixed step is a documented heuristic, not
// an optimization.
func (e *ElasticityEstimator) RecommendOptimalPrice(currentPrice, costPerPlayer float64) (*PriceRecommendation, error) {
	if e.elasticity == nil {
		return nil, fmt.Errorf("%w: elasticity must be calculated first", ErrModelNotFitted)
	}
	el := *e.elasticity
	changePct := 10.0
	direction := "increase"
	if math.Abs(el) > 1 {
		changePct = -10.0
		direction = "decrease"
	}
	optimal := currentPrice * (1 + changePct/100)
	qtyChangePct := el * (changePct / 100) * 100
	return &PriceRecommendation{
		CurrentPrice:      currentPrice,
		OptimalPrice:      optimal,
		PriceChangePct:    changePct,
		Direction:         direction,
		ExpectedQtyChange: qtyChangePct,
		Elasticity:        el,
		Reasoning: fmt.Sprintf(
			"Given elasticity of %.2f, a %.0f%% price %s should increase revenue.",
			el, math.Abs(changePct), direction),
	}, nil
}

// ElasticityHeatmap aggregates arc elasticities over one or two grouping
// dimensions. Cells with fewer than five rows stay unpopulated.
func ElasticityHeatmap(t *table.Table, priceCol, quantityCol, rowGroup, colGroup string) Outcome[*Heatmap] {
	rows, ok := t.String(rowGroup)
	if !ok {
		return EmptyOutcome[*Heatmap]()
	}

	if colGroup == "" {
		est := NewElasticityEstimator(t, priceCol, quantityCol)
		arc := est.ArcElasticity(rowGroup)
		if !arc.IsOk() {
			return EmptyOutcome[*Heatmap]()
		}
		hm := &Heatmap{RowGroup: rowGroup, Values: map[string]float64{}}
		for g, stats := range arc.Value().Groups {
			hm.Values[g] = stats.Elasticity
		}
		return Ok(hm)
	}

	cols, ok := t.String(colGroup)
	if !ok {
		return EmptyOutcome[*Heatmap]()
	}
	hm := &Heatmap{RowGroup: rowGroup, ColGroup: colGroup, Matrix: map[string]map[string]float64{}}
	for _, rg := range distinctStrings(rows) {
		for _, cg := range distinctStrings(cols) {
			keep := make([]bool, t.Len())
			count := 0
			for i := range keep {
				keep[i] = rows[i] == rg && cols[i] == cg
				if keep[i] {
					count++
				}
			}
			if count < minGroupSize {
				continue
			}
			est := NewElasticityEstimator(t.Filter(keep), priceCol, quantityCol)
			arc := est.ArcElasticity("")
			if !arc.IsOk() || arc.Value().Overall == nil {
				continue
			}
			if hm.Matrix[rg] == nil {
				hm.Matrix[rg] = map[string]float64{}
			}
			hm.Matrix[rg][cg] = arc.Value().Overall.Elasticity
		}
	}
	if len(hm.Matrix) == 0 {
		return EmptyOutcome[*Heatmap]()
	}
	return Ok(hm)
}

func hasBoolVariation(vs []bool) bool {
	var sawTrue, sawFalse bool
	for _, v := range vs {
		if v {
			sawTrue = true
		} else {
			sawFalse = true
		}
	}
	return sawTrue && sawFalse
}

func distinctStrings(values []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

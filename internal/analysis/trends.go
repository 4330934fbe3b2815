package analysis

import (
	"math"
	"sort"

	"github.com/steamlens/steamlens-go/internal/analysis/table"
	"github.com/steamlens/steamlens-go/internal/analysis/regress"
)

// TrendReport is the parallel-trends pre-check for a DiD run.
type TrendReport struct {
	TreatmentSlope  float64  `json:"treatment_slope"`
	ControlSlope    float64  `json:"control_slope"`
	SlopeDifference float64  `json:"slope_difference"`
	Correlation     *float64 `json:"correlation"`
	PValue          *float64 `json:"p_value"`
	Valid           bool     `json:"parallel_trends_valid"`
}

// ValidateParallelTrends fits linear trends to the pre-period mean outcome of
// each group and compares slopes. The validity rule is the literal
// slope_difference < 0.1*|treatment_slope| threshold; it is asymmetric and
// degenerates when the treatment slope is near zero, which callers should
// treat as a screening heuristic rather than a test. A Pearson correlation
// between the two pre-period series is reported when their lengths match.
func ValidateParallelTrends(treatment, control *table.Table, outcomeCol string, prePeriods int) TrendReport {
	tPre := prePeriodMeans(treatment, outcomeCol, prePeriods)
	cPre := prePeriodMeans(control, outcomeCol, prePeriods)

	report := TrendReport{
		TreatmentSlope: regress.Slope(nil, tPre),
		ControlSlope:   regress.Slope(nil, cPre),
	}
	report.SlopeDifference = math.Abs(report.TreatmentSlope - report.ControlSlope)
	report.Valid = report.SlopeDifference < 0.1*math.Abs(report.TreatmentSlope)

	if len(tPre) == len(cPre) {
		if r, p, err := regress.PearsonCorrelation(tPre, cPre); err == nil {
			report.Correlation = &r
			report.PValue = &p
		}
	}
	return report
}

// prePeriodMeans computes the mean outcome per time_period for periods below
// prePeriods, ordered by period index.
func prePeriodMeans(t *table.Table, outcomeCol string, prePeriods int) []float64 {
	periods, okP := t.Int(ColTimePeriod)
	vals, okV := t.Float(outcomeCol)
	if !okP || !okV {
		return nil
	}
	sums := make(map[int64]float64)
	counts := make(map[int64]int)
	for i := 0; i < t.Len(); i++ {
		if periods[i] >= int64(prePeriods) || table.IsMissing(vals[i]) {
			continue
		}
		sums[periods[i]] += vals[i]
		counts[periods[i]]++
	}
	keys := make([]int64, 0, len(sums))
	for k := range sums {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	means := make([]float64, 0, len(keys))
	for _, k := range keys {
		means = append(means, sums[k]/float64(counts[k]))
	}
	return means
}

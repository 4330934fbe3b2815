// Package analysis implements the statistical core: panel preparation,
// event detection, difference-in-differences estimation, survival analysis
// and price elasticity. Estimators consume in-memory tables and return
// JSON-serializable result bundles; they never touch storage or transport.
package analysis

import (
	"time"

	"github.com/steamlens/steamlens-go/internal/analysis/table"
)

// Canonical column names shared between the warehouse repositories and the
// estimators.
const (
	ColGameID         = "game_id"
	ColDate           = "date"
	ColAvgPlayers     = "avg_players"
	ColPrice          = "current_price"
	ColDiscountPct    = "discount_pct"
	ColDiscountActive = "is_discount_active"
	ColGenre          = "genre_name"
	ColTimePeriod     = "time_period"
)

// lagColumns are the numeric columns that get lag-1/lag-2 variants during
// panel preparation, when present.
var lagColumns = []string{ColAvgPlayers, ColPrice, ColDiscountPct}

// PreparePanel sorts a flat table into per-entity time order, assigns the
// zero-based time_period index per entity and adds _lag1/_lag2 columns for
// the known numeric columns. The first and second rows of each entity get
// missing-value lags. An empty input yields an empty panel with the same
// column set.
func PreparePanel(t *table.Table, entityCol, timeCol string) *table.Table {
	p := t.SortBy(entityCol, timeCol)
	n := p.Len()

	ids, _ := p.Int(entityCol)
	periods := make([]int64, n)
	count := int64(0)
	for i := 0; i < n; i++ {
		if i > 0 && ids != nil && ids[i] == ids[i-1] {
			count++
		} else {
			count = 0
		}
		periods[i] = count
	}
	_ = p.SetInt(ColTimePeriod, periods)

	for _, col := range lagColumns {
		vals, ok := p.Float(col)
		if !ok {
			continue
		}
		lag1 := make([]float64, n)
		lag2 := make([]float64, n)
		for i := 0; i < n; i++ {
			lag1[i] = table.Missing()
			lag2[i] = table.Missing()
			if ids == nil {
				continue
			}
			if i >= 1 && ids[i] == ids[i-1] {
				lag1[i] = vals[i-1]
			}
			if i >= 2 && ids[i] == ids[i-2] {
				lag2[i] = vals[i-2]
			}
		}
		_ = p.SetFloat(col+"_lag1", lag1)
		_ = p.SetFloat(col+"_lag2", lag2)
	}
	return p
}

// monthsBetween counts whole calendar months from a to b, the way cohort
// durations are measured: (Δyear)*12 + Δmonth, ignoring days.
func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// medianTime returns the median of a non-empty slice of times. For an even
// count the midpoint of the two central values is used.
func medianTime(ts []time.Time) time.Time {
	sorted := append([]time.Time(nil), ts...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Before(sorted[j-1]); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	lo, hi := sorted[n/2-1], sorted[n/2]
	return lo.Add(hi.Sub(lo) / 2)
}

package analysis

import (
	"time"

	"github.com/steamlens/steamlens-go/internal/analysis/table"
)

// DiscountEvent is a contiguous run of rows where a discount of at least the
// requested magnitude was active. Immutable once emitted.
type DiscountEvent struct {
	GameID      int64     `json:"game_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	DiscountPct float64   `json:"discount_pct"` // peak magnitude during the run
}

// DurationRecord is one survival observation: how long an entity was
// observed and whether churn was actually seen before observation ended.
type DurationRecord struct {
	GameID   int64   `json:"game_id"`
	Duration float64 `json:"duration_months"`
	Event    bool    `json:"churned"` // false = right-censored
	Group    string  `json:"group,omitempty"`
}

// DetectDiscountEvents scans a panel for contiguous runs where the discount
// flag is set and the magnitude is at least minPct. A run is emitted only if
// it spans at least minDurationDays between its first and last day; its
// magnitude is the maximum seen during the run. Missing required columns
// yield Empty rather than an error: callers relying on discount semantics
// must validate column presence themselves.
func DetectDiscountEvents(t *table.Table, minPct float64, minDurationDays int) Outcome[[]DiscountEvent] {
	if !t.HasColumn(ColDiscountActive) || !t.HasColumn(ColDiscountPct) {
		return EmptyOutcome[[]DiscountEvent]()
	}
	p := t.SortBy(ColGameID, ColDate)
	ids, _ := p.Int(ColGameID)
	dates, _ := p.Time(ColDate)
	active, _ := p.Bool(ColDiscountActive)
	pct, _ := p.Float(ColDiscountPct)
	if ids == nil || dates == nil || active == nil || pct == nil {
		return EmptyOutcome[[]DiscountEvent]()
	}

	var events []DiscountEvent
	var cur *DiscountEvent
	closeRun := func() {
		if cur == nil {
			return
		}
		if int(cur.EndDate.Sub(cur.StartDate).Hours()/24) >= minDurationDays {
			events = append(events, *cur)
		}
		cur = nil
	}

	for i := 0; i < p.Len(); i++ {
		if active[i] && pct[i] >= minPct {
			if cur == nil || cur.GameID != ids[i] {
				closeRun()
				cur = &DiscountEvent{
					GameID:      ids[i],
					StartDate:   dates[i],
					EndDate:     dates[i],
					DiscountPct: pct[i],
				}
			} else {
				cur.EndDate = dates[i]
				if pct[i] > cur.DiscountPct {
					cur.DiscountPct = pct[i]
				}
			}
		} else {
			closeRun()
		}
	}
	closeRun()

	if len(events) == 0 {
		return EmptyOutcome[[]DiscountEvent]()
	}
	return Ok(events)
}

// DetectChurnEvents derives one duration record per entity. An entity churns
// at the first row where the outcome drops below thresholdPct of the maximum
// rolling mean over its history (window = lookbackPeriods, producing values
// from the first row on). Duration counts whole months from the entity's
// first observation to the churn row, or to the last observation for
// censored entities. Entities with fewer than lookbackPeriods+1 rows are
// skipped: too little history to establish a baseline.
func DetectChurnEvents(t *table.Table, thresholdPct float64, lookbackPeriods int) []DurationRecord {
	p := t.SortBy(ColGameID, ColDate)
	ids, okID := p.Int(ColGameID)
	dates, okD := p.Time(ColDate)
	players, okP := p.Float(ColAvgPlayers)
	if !okID || !okD || !okP {
		return nil
	}
	genres, _ := p.String(ColGenre)

	var records []DurationRecord
	n := p.Len()
	for start := 0; start < n; {
		end := start
		for end < n && ids[end] == ids[start] {
			end++
		}
		rows := end - start
		if rows < lookbackPeriods+1 {
			start = end
			continue
		}

		// Rolling mean with min_periods=1: the window grows until it
		// reaches lookbackPeriods.
		maxRolling := 0.0
		for i := start; i < end; i++ {
			lo := i - lookbackPeriods + 1
			if lo < start {
				lo = start
			}
			sum := 0.0
			for j := lo; j <= i; j++ {
				sum += players[j]
			}
			m := sum / float64(i-lo+1)
			if i == start || m > maxRolling {
				maxRolling = m
			}
		}

		threshold := maxRolling * thresholdPct
		rec := DurationRecord{GameID: ids[start]}
		if genres != nil {
			rec.Group = genres[start]
		}
		churnIdx := -1
		for i := start; i < end; i++ {
			if players[i] < threshold {
				churnIdx = i
				break
			}
		}
		if churnIdx >= 0 {
			rec.Duration = float64(monthsBetween(dates[start], dates[churnIdx]))
			rec.Event = true
		} else {
			rec.Duration = float64(monthsBetween(dates[start], dates[end-1]))
			rec.Event = false
		}
		records = append(records, rec)
		start = end
	}
	return records
}

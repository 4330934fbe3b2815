// Package table provides the in-memory column table that the analysis
// estimators consume. The caller (warehouse repositories) materializes query
// results into a Table; the estimators never touch the database.
package table

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Table is a column-oriented table with typed columns. Missing float values
// are represented as NaN. All columns have the same length.
type Table struct {
	n      int
	ints   map[string][]int64
	floats map[string][]float64
	strs   map[string][]string
	bools  map[string][]bool
	times  map[string][]time.Time
}

// New returns an empty table.
func New() *Table {
	return &Table{
		ints:   make(map[string][]int64),
		floats: make(map[string][]float64),
		strs:   make(map[string][]string),
		bools:  make(map[string][]bool),
		times:  make(map[string][]time.Time),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.n }

func (t *Table) checkLen(name string, l int) error {
	if t.numCols() > 0 && l != t.n {
		return fmt.Errorf("column %s has %d rows, table has %d", name, l, t.n)
	}
	return nil
}

func (t *Table) numCols() int {
	return len(t.ints) + len(t.floats) + len(t.strs) + len(t.bools) + len(t.times)
}

// SetInt adds or replaces an int64 column.
func (t *Table) SetInt(name string, vals []int64) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.n = len(vals)
	t.ints[name] = vals
	return nil
}

// SetFloat adds or replaces a float64 column.
func (t *Table) SetFloat(name string, vals []float64) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.n = len(vals)
	t.floats[name] = vals
	return nil
}

// SetString adds or replaces a string column.
func (t *Table) SetString(name string, vals []string) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.n = len(vals)
	t.strs[name] = vals
	return nil
}

// SetBool adds or replaces a bool column.
func (t *Table) SetBool(name string, vals []bool) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.n = len(vals)
	t.bools[name] = vals
	return nil
}

// SetTime adds or replaces a time column.
func (t *Table) SetTime(name string, vals []time.Time) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.n = len(vals)
	t.times[name] = vals
	return nil
}

// Int returns an int64 column.
func (t *Table) Int(name string) ([]int64, bool) {
	v, ok := t.ints[name]
	return v, ok
}

// Float returns a float64 column.
func (t *Table) Float(name string) ([]float64, bool) {
	v, ok := t.floats[name]
	return v, ok
}

// String returns a string column.
func (t *Table) String(name string) ([]string, bool) {
	v, ok := t.strs[name]
	return v, ok
}

// Bool returns a bool column.
func (t *Table) Bool(name string) ([]bool, bool) {
	v, ok := t.bools[name]
	return v, ok
}

// Time returns a time column.
func (t *Table) Time(name string) ([]time.Time, bool) {
	v, ok := t.times[name]
	return v, ok
}

// HasColumn reports whether a column of any type exists.
func (t *Table) HasColumn(name string) bool {
	if _, ok := t.ints[name]; ok {
		return true
	}
	if _, ok := t.floats[name]; ok {
		return true
	}
	if _, ok := t.strs[name]; ok {
		return true
	}
	if _, ok := t.bools[name]; ok {
		return true
	}
	_, ok := t.times[name]
	return ok
}

// Columns returns all column names, sorted for determinism.
func (t *Table) Columns() []string {
	names := make([]string, 0, t.numCols())
	for n := range t.ints {
		names = append(names, n)
	}
	for n := range t.floats {
		names = append(names, n)
	}
	for n := range t.strs {
		names = append(names, n)
	}
	for n := range t.bools {
		names = append(names, n)
	}
	for n := range t.times {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Copy returns a deep copy. Estimators mutate working copies, never the
// caller's table.
func (t *Table) Copy() *Table {
	c := New()
	c.n = t.n
	for n, v := range t.ints {
		c.ints[n] = append([]int64(nil), v...)
	}
	for n, v := range t.floats {
		c.floats[n] = append([]float64(nil), v...)
	}
	for n, v := range t.strs {
		c.strs[n] = append([]string(nil), v...)
	}
	for n, v := range t.bools {
		c.bools[n] = append([]bool(nil), v...)
	}
	for n, v := range t.times {
		c.times[n] = append([]time.Time(nil), v...)
	}
	return c
}

// Filter returns a new table containing the rows where keep[i] is true.
func (t *Table) Filter(keep []bool) *Table {
	idx := make([]int, 0, t.n)
	for i := 0; i < t.n && i < len(keep); i++ {
		if keep[i] {
			idx = append(idx, i)
		}
	}
	return t.take(idx)
}

func (t *Table) take(idx []int) *Table {
	c := New()
	c.n = len(idx)
	for n, v := range t.ints {
		out := make([]int64, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		c.ints[n] = out
	}
	for n, v := range t.floats {
		out := make([]float64, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		c.floats[n] = out
	}
	for n, v := range t.strs {
		out := make([]string, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		c.strs[n] = out
	}
	for n, v := range t.bools {
		out := make([]bool, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		c.bools[n] = out
	}
	for n, v := range t.times {
		out := make([]time.Time, len(idx))
		for j, i := range idx {
			out[j] = v[i]
		}
		c.times[n] = out
	}
	return c
}

// SortBy stably sorts rows by an int64 entity column and a time column,
// both ascending. Rows missing either column keep their relative order.
func (t *Table) SortBy(entityCol, timeCol string) *Table {
	ids, okID := t.ints[entityCol]
	ts, okT := t.times[timeCol]
	idx := make([]int, t.n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		i, j := idx[a], idx[b]
		if okID && ids[i] != ids[j] {
			return ids[i] < ids[j]
		}
		if okT {
			return ts[i].Before(ts[j])
		}
		return false
	})
	return t.take(idx)
}

// Concat appends tables row-wise. All tables must share an identical column
// set; panels built through the same preparation pipeline always do.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New(), nil
	}
	out := tables[0].Copy()
	want := fmt.Sprint(tables[0].Columns())
	for _, t := range tables[1:] {
		if fmt.Sprint(t.Columns()) != want {
			return nil, fmt.Errorf("cannot concat tables with different columns: %v vs %v",
				tables[0].Columns(), t.Columns())
		}
		for n, v := range t.ints {
			out.ints[n] = append(out.ints[n], v...)
		}
		for n, v := range t.floats {
			out.floats[n] = append(out.floats[n], v...)
		}
		for n, v := range t.strs {
			out.strs[n] = append(out.strs[n], v...)
		}
		for n, v := range t.bools {
			out.bools[n] = append(out.bools[n], v...)
		}
		for n, v := range t.times {
			out.times[n] = append(out.times[n], v...)
		}
		out.n += t.n
	}
	return out, nil
}

// IsMissing reports whether a float value represents a missing observation.
func IsMissing(v float64) bool { return math.IsNaN(v) }

// Missing is the float64 missing-value marker.
func Missing() float64 { return math.NaN() }

// Package signals converts indicator tables into per-condition long/short
// eligibility and combines conditions into composite entry rules.
package signals

import (
	"fmt"
	"math"

	"signal-combo-bot-go/internal/indicators"
)

// Matrix holds long/short eligibility per condition per row. Every column is
// Len long and aligned with the source table.
type Matrix struct {
	Len         int
	Unavailable []string // requested conditions that are unknown or whose inputs the table lacks

	names []string
	long  map[string][]bool
	short map[string][]bool
}

// Build evaluates every requested condition over tbl. An empty only list means
// every registered condition. Names the registry does not know, and conditions
// whose inputs tbl lacks, are listed in Unavailable instead of failing the
// build. Build forward-fills tbl in place; a NaN input that survives the fill
// makes the condition false on that row.
func Build(reg *Registry, tbl *indicators.Table, only []string) (*Matrix, error) {
	if reg == nil || tbl == nil {
		return nil, fmt.Errorf("build signals: nil registry or table")
	}
	wanted := only
	if len(wanted) == 0 {
		wanted = reg.Names()
	}

	tbl.ForwardFill()
	n := tbl.Len()
	m := &Matrix{
		Len:   n,
		long:  make(map[string][]bool),
		short: make(map[string][]bool),
	}

	for _, name := range wanted {
		cond, ok := reg.Lookup(name)
		if !ok {
			m.Unavailable = append(m.Unavailable, normalize(name))
			continue
		}
		if _, done := m.long[cond.Name]; done {
			continue
		}

		cols := make([][]float64, len(cond.Inputs))
		missing := false
		for i, in := range cond.Inputs {
			col, ok := tbl.Column(in)
			if !ok {
				missing = true
				break
			}
			cols[i] = col
		}
		if missing {
			m.Unavailable = append(m.Unavailable, cond.Name)
			continue
		}

		long := make([]bool, n)
		short := make([]bool, n)
		args := make([]float64, len(cols))
		for row := 0; row < n; row++ {
			if !gather(cols, row, args) {
				continue
			}
			long[row] = cond.Long(args)
			short[row] = cond.Short(args)
		}
		m.names = append(m.names, cond.Name)
		m.long[cond.Name] = long
		m.short[cond.Name] = short
	}
	return m, nil
}

func gather(cols [][]float64, row int, args []float64) bool {
	for i, col := range cols {
		v := col[row]
		if math.IsNaN(v) {
			return false
		}
		args[i] = v
	}
	return true
}

// Names lists the available conditions in build order.
func (m *Matrix) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Has reports whether the condition was evaluated.
func (m *Matrix) Has(name string) bool {
	_, ok := m.long[normalize(name)]
	return ok
}

// Signals ANDs the combo's member columns into one long and one short sequence.
func (m *Matrix) Signals(c Combo) (long, short []bool, err error) {
	if err := m.check(c); err != nil {
		return nil, nil, err
	}
	long = make([]bool, m.Len)
	short = make([]bool, m.Len)
	copy(long, m.long[c.names[0]])
	copy(short, m.short[c.names[0]])
	for _, name := range c.names[1:] {
		l, s := m.long[name], m.short[name]
		for i := range long {
			long[i] = long[i] && l[i]
			short[i] = short[i] && s[i]
		}
	}
	return long, short, nil
}

// Eligibility evaluates the combo on a single row.
func (m *Matrix) Eligibility(c Combo, row int) (long, short bool, err error) {
	if err := m.check(c); err != nil {
		return false, false, err
	}
	if row < 0 || row >= m.Len {
		return false, false, fmt.Errorf("row %d out of range [0,%d)", row, m.Len)
	}
	long, short = true, true
	for _, name := range c.names {
		long = long && m.long[name][row]
		short = short && m.short[name][row]
	}
	return long, short, nil
}

func (m *Matrix) check(c Combo) error {
	if c.Size() == 0 {
		return ErrEmptyCombo
	}
	for _, name := range c.names {
		if _, ok := m.long[name]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCondition, name)
		}
	}
	return nil
}

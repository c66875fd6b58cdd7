package indicators

import (
	"math"
	"sort"
	"time"
)

// Column names produced by Compute and read by the condition registry.
const (
	ColClose     = "close"
	ColClosePrev = "close_prev"
	ColRSI       = "rsi"
	ColMACDHist  = "macd_hist"
	ColADX       = "adx"
	ColStochK    = "stoch_k"
	ColWillR     = "willr"
	ColEMA20     = "ema_20"
	ColEMA50     = "ema_50"
	ColPSAR      = "psar"
	ColHMA20     = "hma_20"
	ColER10      = "er_10"
	ColAO        = "ao"
	ColMFI       = "mfi"
	ColCCI       = "cci"
	ColMOM       = "mom"
	ColTRIX      = "trix"
	ColUO        = "uo"
	ColSuperDir  = "supert_dir" // +1 up-trend, -1 down-trend
	ColFisher    = "fisher"
	ColVIPlus    = "vi_plus"
	ColVIMinus   = "vi_minus"
	ColCHOP      = "chop"
	ColTSI       = "tsi"
)

// Table is a timestamp-indexed set of named numeric columns. Every column has
// the same length as Times.
type Table struct {
	Times   []time.Time
	Columns map[string][]float64
}

// NewTable creates a table holding the close series and its one-bar lag.
func NewTable(times []time.Time, closes []float64) *Table {
	t := &Table{
		Times:   times,
		Columns: make(map[string][]float64),
	}
	t.Set(ColClose, closes)
	prev := nanSlice(len(closes))
	for i := 1; i < len(closes); i++ {
		prev[i] = closes[i-1]
	}
	t.Set(ColClosePrev, prev)
	return t
}

// Len is the number of rows.
func (t *Table) Len() int {
	return len(t.Times)
}

// Close returns the close price column.
func (t *Table) Close() []float64 {
	return t.Columns[ColClose]
}

// Column returns a named column.
func (t *Table) Column(name string) ([]float64, bool) {
	c, ok := t.Columns[name]
	return c, ok
}

// Set stores a column. Columns of the wrong length are ignored.
func (t *Table) Set(name string, values []float64) {
	if len(values) != len(t.Times) {
		return
	}
	t.Columns[name] = values
}

// Names lists the columns in sorted order.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.Columns))
	for n := range t.Columns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForwardFill replaces NaN cells with the last known value of the same column.
// Leading NaNs stay NaN.
func (t *Table) ForwardFill() {
	for _, col := range t.Columns {
		last := math.NaN()
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = last
				continue
			}
			last = v
		}
	}
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

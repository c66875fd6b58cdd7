package signals

import (
	"errors"
	"math"
	"testing"
	"time"

	"signal-combo-bot-go/internal/indicators"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *Registry {
	return NewRegistry(
		Condition{Name: "osc", Inputs: []string{"osc"}, Long: below(30), Short: above(70)},
		Condition{Name: "trend", Inputs: []string{"fast", "slow"}, Long: firstAboveSecond, Short: firstBelowSecond},
		Condition{Name: "ghost", Inputs: []string{"not_there"}, Long: above(0), Short: below(0)},
	)
}

func testTable() *indicators.Table {
	tbl := indicators.NewTable(make([]time.Time, 5), []float64{1, 2, 3, 4, 5})
	tbl.Set("osc", []float64{math.NaN(), 20, math.NaN(), 80, 25})
	tbl.Set("fast", []float64{2, 2, 2, 1, 1})
	tbl.Set("slow", []float64{1, 1, 1, 2, 2})
	return tbl
}

func TestBuildMatrix(t *testing.T) {
	m, err := Build(testRegistry(), testTable(), nil)
	require.NoError(t, err)

	assert.Equal(t, 5, m.Len)
	assert.Equal(t, []string{"OSC", "TREND"}, m.Names())
	assert.Equal(t, []string{"GHOST"}, m.Unavailable)

	osc, err := NewCombo("osc")
	require.NoError(t, err)
	long, short, err := m.Signals(osc)
	require.NoError(t, err)
	// Row 0 stays NaN after the fill, row 2 is carried from row 1.
	assert.Equal(t, []bool{false, true, true, false, true}, long)
	assert.Equal(t, []bool{false, false, false, true, false}, short)
}

func TestComboSignalsAreANDed(t *testing.T) {
	m, err := Build(testRegistry(), testTable(), nil)
	require.NoError(t, err)

	c, err := NewCombo("trend", "osc", "OSC")
	require.NoError(t, err)
	assert.Equal(t, "OSC+TREND", c.Label())

	long, short, err := m.Signals(c)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true, false, false}, long)
	assert.Equal(t, []bool{false, false, false, true, false}, short)

	l, s, err := m.Eligibility(c, 1)
	require.NoError(t, err)
	assert.True(t, l)
	assert.False(t, s)

	_, _, err = m.Eligibility(c, 5)
	assert.Error(t, err)
}

func TestUnknownConditions(t *testing.T) {
	m, err := Build(testRegistry(), testTable(), []string{"osc", "nope"})
	require.NoError(t, err, "an unknown name is skipped, not fatal")
	assert.Equal(t, []string{"OSC"}, m.Names())
	assert.Equal(t, []string{"NOPE"}, m.Unavailable)

	m, err = Build(testRegistry(), testTable(), nil)
	require.NoError(t, err)
	c, err := NewCombo("osc", "ghost")
	require.NoError(t, err)
	_, _, err = m.Signals(c)
	assert.True(t, errors.Is(err, ErrUnknownCondition), "an unavailable condition cannot be used in a combo")

	_, _, err = m.Signals(Combo{})
	assert.True(t, errors.Is(err, ErrEmptyCombo))
}

func TestNewCombo(t *testing.T) {
	_, err := NewCombo()
	assert.True(t, errors.Is(err, ErrEmptyCombo))
	_, err = NewCombo(" ", "")
	assert.True(t, errors.Is(err, ErrEmptyCombo))

	a, _ := NewCombo("rsi", "macd", "RSI")
	b, _ := NewCombo("MACD", "RSI")
	assert.Equal(t, a.Label(), b.Label())
	assert.Equal(t, 2, a.Size())
}

func TestCombinations(t *testing.T) {
	names := []string{"A", "B", "C", "D", "E"}

	pairs := Combinations(names, 2)
	require.Len(t, pairs, 10)
	assert.Equal(t, "A+B", pairs[0].Label())
	assert.Equal(t, "A+C", pairs[1].Label())
	assert.Equal(t, "D+E", pairs[9].Label())

	assert.Len(t, Combinations(names, 5), 1)
	assert.Nil(t, Combinations(names, 6))
	assert.Nil(t, Combinations(names, 0))
	assert.Len(t, Combinations([]string{"A", "a", "B"}, 2), 1, "duplicates collapse")

	all := PowerSet([]string{"A", "B", "C", "D"}, 2)
	assert.Len(t, all, 10)
	assert.Equal(t, 1, all[0].Size())
	assert.Equal(t, 2, all[9].Size())
}

func TestDefaultRegistry(t *testing.T) {
	reg := DefaultRegistry()

	c, err := reg.Combo("ema", "WillR")
	require.NoError(t, err)
	assert.Equal(t, "EMA_X+WILLR", c.Label())

	_, err = reg.Combo("SUPERTREND")
	assert.True(t, errors.Is(err, ErrUnknownCondition))

	for _, name := range []string{"SUPERT", "FISHER", "VORTEX", "CHOP", "TSI"} {
		_, ok := reg.Lookup(name)
		assert.True(t, ok, "%s is registered", name)
	}

	st, _ := reg.Lookup("SUPERT")
	assert.True(t, st.Long([]float64{1}))
	assert.True(t, st.Short([]float64{-1}))
	assert.False(t, st.Long([]float64{-1}))

	chop, _ := reg.Lookup("CHOP")
	for _, v := range []float64{30, 50} {
		assert.Equal(t, chop.Long([]float64{v}), chop.Short([]float64{v}), "CHOP is direction-free")
	}
	assert.True(t, chop.Long([]float64{30}))
	assert.False(t, chop.Long([]float64{38}))

	vtx, _ := reg.Lookup("VORTEX")
	assert.True(t, vtx.Long([]float64{1.1, 0.9}))
	assert.True(t, vtx.Short([]float64{0.8, 1.0}))

	adx, ok := reg.Lookup("ADX")
	require.True(t, ok)
	for _, v := range []float64{10, 30} {
		assert.Equal(t, adx.Long([]float64{v}), adx.Short([]float64{v}), "ADX is direction-free")
	}

	dir, ok := reg.Lookup("ADX_DIR")
	require.True(t, ok)
	assert.True(t, dir.Long([]float64{30, 101, 100}))
	assert.False(t, dir.Short([]float64{30, 101, 100}))
}

func TestBuildNilInputs(t *testing.T) {
	_, err := Build(nil, testTable(), nil)
	assert.Error(t, err)
	_, err = Build(testRegistry(), nil, nil)
	assert.Error(t, err)
}

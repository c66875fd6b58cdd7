// Package indicators turns OHLCV bars into the named numeric columns that the
// signal registry consumes. The indicator math itself comes from go-talib.
package indicators

import (
	"math"
	"time"

	"signal-combo-bot-go/internal/models"

	talib "github.com/markcheno/go-talib"
)

// Warm-up window of every computed column, in bars.
const (
	lookbackSupertrend = 7
	lookbackFisher     = 8
	lookbackVortex     = 14
	lookbackChop       = 14
	lookbackTSI        = 37 // 1 + (25-1) + (13-1)
	lookbackTRIX       = 88
)

// MaxLookback is the longest warm-up of any column. A series needs more bars
// than this for every condition to have a value on its last row.
const MaxLookback = lookbackTRIX

// Compute builds the full indicator table for bars. Values inside each
// indicator's warm-up window are NaN.
func Compute(bars []models.Kline) *Table {
	n := len(bars)
	times := make([]time.Time, n)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	median := make([]float64, n)
	for i, b := range bars {
		times[i] = b.OpenTime
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
		volume[i] = b.Volume
		median[i] = (b.High + b.Low) / 2
	}

	t := NewTable(times, closes)

	t.Set(ColRSI, calc(n, 14, func() []float64 { return talib.Rsi(closes, 14) }))
	t.Set(ColMACDHist, calc(n, 33, func() []float64 {
		_, _, hist := talib.Macd(closes, 12, 26, 9)
		return hist
	}))
	t.Set(ColADX, calc(n, 27, func() []float64 { return talib.Adx(high, low, closes, 14) }))
	t.Set(ColStochK, calc(n, 17, func() []float64 {
		k, _ := talib.Stoch(high, low, closes, 14, 3, talib.SMA, 3, talib.SMA)
		return k
	}))
	t.Set(ColWillR, calc(n, 13, func() []float64 { return talib.WillR(high, low, closes, 14) }))
	t.Set(ColEMA20, calc(n, 19, func() []float64 { return talib.Ema(closes, 20) }))
	t.Set(ColEMA50, calc(n, 49, func() []float64 { return talib.Ema(closes, 50) }))
	t.Set(ColPSAR, calc(n, 1, func() []float64 { return talib.Sar(high, low, 0.02, 0.2) }))
	t.Set(ColHMA20, calc(n, 22, func() []float64 { return hma(closes, 20) }))
	t.Set(ColER10, calc(n, 10, func() []float64 { return efficiencyRatio(closes, 10) }))
	t.Set(ColAO, calc(n, 33, func() []float64 {
		fast := talib.Sma(median, 5)
		slow := talib.Sma(median, 34)
		out := make([]float64, n)
		for i := range out {
			out[i] = fast[i] - slow[i]
		}
		return out
	}))
	t.Set(ColMFI, calc(n, 14, func() []float64 { return talib.Mfi(high, low, closes, volume, 14) }))
	t.Set(ColCCI, calc(n, 13, func() []float64 { return talib.Cci(high, low, closes, 14) }))
	t.Set(ColMOM, calc(n, 10, func() []float64 { return talib.Mom(closes, 10) }))
	t.Set(ColTRIX, calc(n, lookbackTRIX, func() []float64 { return talib.Trix(closes, 30) }))
	t.Set(ColUO, calc(n, 28, func() []float64 { return talib.UltOsc(high, low, closes, 7, 14, 28) }))
	t.Set(ColSuperDir, calc(n, lookbackSupertrend, func() []float64 { return supertrendDirection(high, low, closes, 7, 3) }))
	t.Set(ColFisher, calc(n, lookbackFisher, func() []float64 { return fisher(high, low, 9) }))
	t.Set(ColVIPlus, calc(n, lookbackVortex, func() []float64 {
		plus, _ := vortex(high, low, closes, 14)
		return plus
	}))
	t.Set(ColVIMinus, calc(n, lookbackVortex, func() []float64 {
		_, minus := vortex(high, low, closes, 14)
		return minus
	}))
	t.Set(ColCHOP, calc(n, lookbackChop, func() []float64 { return choppiness(high, low, closes, 14) }))
	t.Set(ColTSI, calc(n, lookbackTSI, func() []float64 { return tsi(closes, 25, 13) }))

	return t
}

// calc runs fn when there are enough bars past the warm-up window and masks the
// window with NaN. A short or malformed series yields an all-NaN column.
func calc(n, lookback int, fn func() []float64) (out []float64) {
	if n <= lookback {
		return nanSlice(n)
	}
	defer func() {
		if r := recover(); r != nil {
			out = nanSlice(n)
		}
	}()
	out = fn()
	if len(out) != n {
		return nanSlice(n)
	}
	for i := 0; i < lookback; i++ {
		out[i] = math.NaN()
	}
	return out
}

// hma is the Hull moving average: WMA(2*WMA(n/2) - WMA(n), sqrt(n)).
func hma(closes []float64, period int) []float64 {
	half := talib.Wma(closes, period/2)
	full := talib.Wma(closes, period)
	diff := make([]float64, len(closes))
	for i := range diff {
		diff[i] = 2*half[i] - full[i]
	}
	return talib.Wma(diff, int(math.Sqrt(float64(period))))
}

// efficiencyRatio is Kaufman's net change over the sum of absolute changes.
func efficiencyRatio(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	for i := period; i < len(closes); i++ {
		change := math.Abs(closes[i] - closes[i-period])
		var volatility float64
		for j := i - period + 1; j <= i; j++ {
			volatility += math.Abs(closes[j] - closes[j-1])
		}
		if volatility == 0 {
			out[i] = 0
			continue
		}
		out[i] = change / volatility
	}
	return out
}

// supertrendDirection follows the ATR bands around the median price and
// reports +1 while price holds above the lower band, -1 below the upper one.
func supertrendDirection(high, low, closes []float64, period int, mult float64) []float64 {
	n := len(closes)
	atr := talib.Atr(high, low, closes, period)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := range closes {
		mid := (high[i] + low[i]) / 2
		upper[i] = mid + mult*atr[i]
		lower[i] = mid - mult*atr[i]
	}

	dir := nanSlice(n)
	if n <= period {
		return dir
	}
	dir[period] = 1
	for i := period + 1; i < n; i++ {
		switch {
		case closes[i] > upper[i-1]:
			dir[i] = 1
		case closes[i] < lower[i-1]:
			dir[i] = -1
		default:
			dir[i] = dir[i-1]
			if dir[i] > 0 && lower[i] < lower[i-1] {
				lower[i] = lower[i-1]
			}
			if dir[i] < 0 && upper[i] > upper[i-1] {
				upper[i] = upper[i-1]
			}
		}
	}
	return dir
}

// fisher is the Fisher transform of the median price's position inside its
// rolling range.
func fisher(high, low []float64, period int) []float64 {
	n := len(high)
	median := make([]float64, n)
	for i := range median {
		median[i] = (high[i] + low[i]) / 2
	}
	highest := talib.Max(median, period)
	lowest := talib.Min(median, period)

	out := nanSlice(n)
	var v, prev float64
	for i := period - 1; i < n; i++ {
		span := math.Max(highest[i]-lowest[i], 0.001)
		pos := (median[i]-lowest[i])/span - 0.5
		v = math.Max(-0.999, math.Min(0.999, 0.66*pos+0.67*v))
		prev = 0.5*math.Log((1+v)/(1-v)) + 0.5*prev
		out[i] = prev
	}
	return out
}

// vortex returns VI+ and VI-: the summed upward and downward vortex movement
// over the summed true range.
func vortex(high, low, closes []float64, period int) (plus, minus []float64) {
	n := len(closes)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 1; i < n; i++ {
		up[i] = math.Abs(high[i] - low[i-1])
		down[i] = math.Abs(low[i] - high[i-1])
	}
	tr := talib.TRange(high, low, closes)

	plus, minus = nanSlice(n), nanSlice(n)
	for i := period; i < n; i++ {
		var sumUp, sumDown, sumTR float64
		for j := i - period + 1; j <= i; j++ {
			sumUp += up[j]
			sumDown += down[j]
			sumTR += tr[j]
		}
		if sumTR == 0 {
			continue
		}
		plus[i] = sumUp / sumTR
		minus[i] = sumDown / sumTR
	}
	return plus, minus
}

// choppiness is 100 * log10(sum(TR) / (highest high - lowest low)) / log10(n).
// Low values mean trending, high values mean ranging.
func choppiness(high, low, closes []float64, period int) []float64 {
	n := len(closes)
	tr := talib.TRange(high, low, closes)
	highest := talib.Max(high, period)
	lowest := talib.Min(low, period)

	out := nanSlice(n)
	for i := period; i < n; i++ {
		span := highest[i] - lowest[i]
		if span <= 0 {
			continue
		}
		var sumTR float64
		for j := i - period + 1; j <= i; j++ {
			sumTR += tr[j]
		}
		out[i] = 100 * math.Log10(sumTR/span) / math.Log10(float64(period))
	}
	return out
}

// tsi is the true strength index: doubly smoothed momentum over doubly
// smoothed absolute momentum, in percent.
func tsi(closes []float64, slow, fast int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < 1+slow+fast-1 {
		return out
	}
	diff := make([]float64, n-1)
	absDiff := make([]float64, n-1)
	for i := 1; i < n; i++ {
		diff[i-1] = closes[i] - closes[i-1]
		absDiff[i-1] = math.Abs(diff[i-1])
	}
	num := talib.Ema(talib.Ema(diff, slow)[slow-1:], fast)
	den := talib.Ema(talib.Ema(absDiff, slow)[slow-1:], fast)

	// num[j] lines up with closes[j+slow].
	for j := fast - 1; j < len(num); j++ {
		if den[j] == 0 {
			continue
		}
		out[j+slow] = 100 * num[j] / den[j]
	}
	return out
}

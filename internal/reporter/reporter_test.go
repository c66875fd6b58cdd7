package reporter

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signal-combo-bot-go/internal/backtest"
	"signal-combo-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSweep() *backtest.Sweep {
	return &backtest.Sweep{
		Timeframe: "15m",
		ComboSize: 2,
		Evaluated: 40,
		Passed:    2,
		Results: []models.BacktestResult{
			{Combo: "MACD+RSI", Leverage: 20, FinalBalance: 1834.567, Trades: 41, WinRate: 58.5366},
			{Combo: "ADX+EMA_X", Leverage: 7.5, FinalBalance: 1200, Trades: 12, WinRate: 50, OpenAtEnd: true},
		},
		Failures: []backtest.Failure{{Combo: "FOO+RSI", Err: errors.New("unknown condition")}},
	}
}

func TestRenderRanking(t *testing.T) {
	var buf bytes.Buffer
	RenderRanking(&buf, sampleSweep())
	out := buf.String()

	assert.Contains(t, out, "15m")
	assert.Contains(t, out, "combo size 2")
	assert.Contains(t, out, "MACD+RSI")
	assert.Contains(t, out, "1834.57")
	assert.Contains(t, out, "58.54%")
	assert.Contains(t, out, "7.5")
	assert.Contains(t, out, "OPEN")
	assert.Contains(t, out, "40 replays, 2 passed")
	assert.Contains(t, out, "skipped FOO+RSI")
	assert.Less(t, strings.Index(out, "MACD+RSI"), strings.Index(out, "ADX+EMA_X"), "rank order preserved")
}

func TestRenderRankingEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderRanking(&buf, &backtest.Sweep{Timeframe: "1h"})
	assert.Contains(t, buf.String(), "no configuration passed the filters")
	assert.Contains(t, buf.String(), "mixed sizes")
}

func TestAppendRankings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, AppendRankings(path, sampleSweep()))
	require.NoError(t, AppendRankings(path, sampleSweep()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "MACD+RSI"))
}

func TestCalculateMetrics(t *testing.T) {
	stats := backtest.Stats{
		FinalBalance: 280,
		Trades:       3,
		Wins:         2,
		TradeLog: []models.TradeRecord{
			{PnL: 50, Balance: 300},
			{PnL: -60, Balance: 240},
			{PnL: 40, Balance: 280},
		},
	}
	m := CalculateMetrics(250, stats)
	assert.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.WinningTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.InDelta(t, 66.67, m.WinRate, 0.01)
	assert.InDelta(t, 45.0/60.0, m.AvgProfitLoss, 1e-9)
	assert.InDelta(t, 30, m.TotalProfit, 1e-9)
	assert.InDelta(t, 12, m.ProfitPercentage, 1e-9)
	assert.InDelta(t, 20, m.MaxDrawdown, 1e-9)

	var buf bytes.Buffer
	m.Combo, m.Leverage = "RSI", 10
	RenderMetrics(&buf, m)
	assert.Contains(t, buf.String(), "RSI @ 10x")
	assert.Contains(t, buf.String(), "20.00%")

	buf.Reset()
	RenderTrades(&buf, stats.TradeLog)
	assert.Contains(t, buf.String(), "-60.00")
}

func TestCalculateMaxDrawdown(t *testing.T) {
	assert.Zero(t, calculateMaxDrawdown([]float64{100}))
	assert.InDelta(t, 0.5, calculateMaxDrawdown([]float64{100, 200, 100, 150}), 1e-9)
	assert.InDelta(t, 1.0, calculateMaxDrawdown([]float64{250, 0}), 1e-9)
}

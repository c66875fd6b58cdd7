package reporter

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"signal-combo-bot-go/internal/backtest"
	"signal-combo-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/shopspring/decimal"
)

// Metrics summarises one replay's closed trades.
type Metrics struct {
	Combo            string
	Leverage         float64
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalTrades      int
	WinningTrades    int
	LosingTrades     int
	WinRate          float64
	AvgProfitLoss    float64 // average win over average loss
	MaxDrawdown      float64 // percent, over closed-trade balances
	Liquidated       bool
	OpenAtEnd        bool
}

// CalculateMetrics derives Metrics from a replay's trade log.
func CalculateMetrics(initialBalance float64, stats backtest.Stats) Metrics {
	m := Metrics{
		InitialBalance: initialBalance,
		FinalBalance:   stats.FinalBalance,
		TotalTrades:    len(stats.TradeLog),
		Liquidated:     stats.Liquidated,
		OpenAtEnd:      stats.OpenAtEnd,
	}

	var totalProfit, totalLoss float64
	curve := []float64{initialBalance}
	for _, trade := range stats.TradeLog {
		if trade.PnL > 0 {
			m.WinningTrades++
			totalProfit += trade.PnL
		} else {
			m.LosingTrades++
			totalLoss += trade.PnL
		}
		curve = append(curve, trade.Balance)
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.LosingTrades > 0 && m.WinningTrades > 0 && totalLoss != 0 {
		avgWin := totalProfit / float64(m.WinningTrades)
		avgLoss := math.Abs(totalLoss / float64(m.LosingTrades))
		m.AvgProfitLoss = avgWin / avgLoss
	}

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}
	m.MaxDrawdown = calculateMaxDrawdown(curve) * 100
	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}

// RenderRanking writes one table for a sweep: rank, combo, leverage, final
// balance, trades and win rate.
func RenderRanking(w io.Writer, sweep *backtest.Sweep) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(rankingTitle(sweep))
	t.AppendHeader(table.Row{"#", "Combo", "Leverage", "Final balance", "Trades", "Win rate", "Flags"})
	for i, r := range sweep.Results {
		t.AppendRow(table.Row{i + 1, r.Combo, leverage(r.Leverage), money(r.FinalBalance), r.Trades, percent(r.WinRate), flags(r)})
	}
	if len(sweep.Results) == 0 {
		t.AppendRow(table.Row{"-", "no configuration passed the filters", "", "", "", "", ""})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d replays, %d passed", sweep.Evaluated, sweep.Passed), "", "", "", "", ""})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
	})
	t.Render()

	for _, f := range sweep.Failures {
		fmt.Fprintf(w, "skipped %s: %v\n", f.Combo, f.Err)
	}
}

func rankingTitle(sweep *backtest.Sweep) string {
	size := "mixed sizes"
	if sweep.ComboSize > 0 {
		size = fmt.Sprintf("combo size %d", sweep.ComboSize)
	}
	return fmt.Sprintf("Top results | %s | %s | %s", sweep.Timeframe, size, sweep.Duration.Round(time.Millisecond))
}

// AppendRankings appends the rendered sweeps to the report file at path.
func AppendRankings(path string, sweeps ...*backtest.Sweep) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open report file: %w", err)
	}
	defer f.Close()
	for _, s := range sweeps {
		RenderRanking(f, s)
		fmt.Fprintln(f)
	}
	return nil
}

// RenderMetrics writes a two-column summary of one replay.
func RenderMetrics(w io.Writer, m Metrics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s @ %sx", m.Combo, leverage(m.Leverage)))
	t.AppendRows([]table.Row{
		{"Initial balance", money(m.InitialBalance)},
		{"Final balance", money(m.FinalBalance)},
		{"Total profit", money(m.TotalProfit)},
		{"Return", percent(m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Trades", m.TotalTrades},
		{"Winning", m.WinningTrades},
		{"Losing", m.LosingTrades},
		{"Win rate", percent(m.WinRate)},
		{"Avg win / avg loss", decimal.NewFromFloat(m.AvgProfitLoss).StringFixed(2)},
		{"Max drawdown", percent(m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Liquidated", m.Liquidated})
	t.AppendRow(table.Row{"Open at end", m.OpenAtEnd})
	t.Render()
}

// RenderTrades lists closed trades oldest first.
func RenderTrades(w io.Writer, trades []models.TradeRecord) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Side", "Entry", "Entry time", "Exit", "Exit time", "PnL", "Balance", "Reason"})
	for _, tr := range trades {
		t.AppendRow(table.Row{
			tr.Side,
			price(tr.EntryPrice), stamp(tr.EntryTime),
			price(tr.ExitPrice), stamp(tr.ExitTime),
			money(tr.PnL), money(tr.Balance), tr.Reason,
		})
	}
	t.Render()
}

func flags(r models.BacktestResult) string {
	switch {
	case r.Liquidated:
		return "LIQ"
	case r.OpenAtEnd:
		return "OPEN"
	}
	return ""
}

func money(v float64) string {
	return decimal.NewFromFloat(v).Round(2).StringFixed(2)
}

func percent(v float64) string {
	return decimal.NewFromFloat(v).Round(2).StringFixed(2) + "%"
}

func price(v float64) string {
	return decimal.NewFromFloat(v).Round(4).String()
}

func leverage(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

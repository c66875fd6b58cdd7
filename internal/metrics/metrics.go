// Package metrics holds the Prometheus instruments shared by the backtest
// driver, the live scheduler and the state manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed live cycles.
	CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "combo_bot_cycles_total",
		Help: "Completed live scheduler cycles",
	})

	// CycleDuration tracks the wall time of a live cycle including fetches.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "combo_bot_cycle_duration_seconds",
		Help:    "Live cycle duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	})

	// FetchFailures counts timeframes skipped because no fresh data arrived.
	FetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "combo_bot_fetch_failures_total",
		Help: "Market data fetches that failed or timed out, by timeframe",
	}, []string{"timeframe"})

	// TradesClosed counts closed virtual trades by bot and exit reason.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "combo_bot_trades_closed_total",
		Help: "Closed virtual trades by bot and exit reason",
	}, []string{"bot", "reason"})

	// BotBalance is the running balance of each live bot.
	BotBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "combo_bot_balance",
		Help: "Running balance per live bot",
	}, []string{"bot"})

	// BacktestReplays counts (combo, leverage) replays by timeframe.
	BacktestReplays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "combo_bot_backtest_replays_total",
		Help: "Backtest replays by timeframe",
	}, []string{"timeframe"})

	// BacktestFailures counts combos that could not be replayed.
	BacktestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "combo_bot_backtest_failures_total",
		Help: "Backtest combos that failed, by timeframe",
	}, []string{"timeframe"})
)

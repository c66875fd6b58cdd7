package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"signal-combo-bot-go/internal/backtest"
	"signal-combo-bot-go/internal/indicators"
	"signal-combo-bot-go/internal/logger"
	"signal-combo-bot-go/internal/marketdata"
	"signal-combo-bot-go/internal/position"
	"signal-combo-bot-go/internal/reporter"
	"signal-combo-bot-go/internal/signals"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backtestTimeframes []string
	backtestDataFile   string
	backtestCombo      string
	backtestLeverage   float64
	backtestWorkers    int

	backtestCmd = &cobra.Command{
		Use:   "backtest",
		Short: "Sweep every indicator combination and leverage over historical data",
		Long: `Loads one CSV per timeframe, evaluates every registered condition and replays
each combination of up to max_combo_size conditions at every configured leverage.
With --combo the single combination is replayed and its trades are printed.`,
		RunE: runBacktest,
	}
)

func init() {
	f := backtestCmd.Flags()
	f.StringSliceVar(&backtestTimeframes, "timeframe", nil, "timeframes to sweep (default: backtest.timeframes)")
	f.StringVar(&backtestDataFile, "data", "", "csv file to use (requires exactly one timeframe)")
	f.StringVar(&backtestCombo, "combo", "", "replay one combination, e.g. MACD+RSI")
	f.Float64Var(&backtestLeverage, "leverage", 10, "leverage for --combo")
	f.IntVar(&backtestWorkers, "workers", 0, "worker count (default: backtest.workers or NumCPU)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	bc := cfg.Backtest
	timeframes := bc.Timeframes
	if len(backtestTimeframes) > 0 {
		timeframes = backtestTimeframes
	}
	if backtestDataFile != "" && len(timeframes) != 1 {
		return errors.New("--data needs exactly one --timeframe")
	}
	if backtestWorkers > 0 {
		bc.Workers = backtestWorkers
	}

	reg := signals.DefaultRegistry()
	driver := backtest.NewDriver(backtest.ConfigFrom(bc), logger.L())
	var sweeps []*backtest.Sweep

	for _, tf := range timeframes {
		path := backtestDataFile
		if path == "" {
			var err error
			if path, err = dataFile(tf); err != nil {
				return err
			}
		}
		bars, err := marketdata.LoadCSV(path)
		if err != nil {
			return err
		}
		logger.S().Infof("Loaded %d %s bars from %s", len(bars), tf, path)

		tbl := indicators.Compute(bars)
		matrix, err := signals.Build(reg, tbl, bc.Indicators)
		if err != nil {
			return fmt.Errorf("build signals for %s: %w", tf, err)
		}

		if len(matrix.Unavailable) > 0 {
			logger.L().Warn("Conditions left out of the sweep",
				zap.String("timeframe", tf), zap.Strings("conditions", matrix.Unavailable))
		}

		if backtestCombo != "" {
			if err := replayOne(reg, tbl, matrix); err != nil {
				return err
			}
			continue
		}

		names := matrix.Names()
		for r := 1; r <= bc.MaxComboSize && r <= len(names); r++ {
			sweep, err := driver.Run(cmd.Context(), backtest.Job{
				Timeframe: tf,
				Table:     tbl,
				Matrix:    matrix,
				Combos:    signals.Combinations(names, r),
				Leverages: bc.Leverages,
			})
			if err != nil {
				return err
			}
			reporter.RenderRanking(os.Stdout, sweep)
			sweeps = append(sweeps, sweep)
		}
	}

	if bc.ReportFile != "" && len(sweeps) > 0 {
		if err := reporter.AppendRankings(bc.ReportFile, sweeps...); err != nil {
			return err
		}
		logger.S().Infof("Rankings appended to %s", bc.ReportFile)
	}
	return nil
}

// dataFile finds the newest download for tf, either from data_files or by
// the downloader's naming convention inside data_dir.
func dataFile(tf string) (string, error) {
	if p, ok := cfg.Backtest.DataFiles[tf]; ok {
		return p, nil
	}
	pattern := filepath.Join(cfg.Backtest.DataDir, fmt.Sprintf("%s-%s-*.csv", cfg.Symbol, tf))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no data for %s %s (looked for %s); run the download command first", cfg.Symbol, tf, pattern)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func replayOne(reg *signals.Registry, tbl *indicators.Table, matrix *signals.Matrix) error {
	combo, err := reg.Combo(strings.Split(backtestCombo, "+")...)
	if err != nil {
		return err
	}
	long, short, err := matrix.Signals(combo)
	if err != nil {
		return err
	}
	bc := cfg.Backtest
	params := position.Params{
		Bot:              combo.Label(),
		Risk:             bc.Risk,
		Leverage:         backtestLeverage,
		Sizer:            position.FixedMargin{Amount: bc.MarginPerTrade},
		LiquidationFloor: bc.LiquidationFloor,
	}
	stats := backtest.ReplayWithTrades(params, bc.InitialBalance, tbl.Times, tbl.Close(), long, short)
	m := reporter.CalculateMetrics(bc.InitialBalance, stats)
	m.Combo, m.Leverage = combo.Label(), backtestLeverage
	reporter.RenderMetrics(os.Stdout, m)
	reporter.RenderTrades(os.Stdout, stats.TradeLog)
	return nil
}

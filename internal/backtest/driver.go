// Package backtest replays historical price and signal series through one
// isolated position state machine per (indicator combo, leverage) pair.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"signal-combo-bot-go/internal/indicators"
	"signal-combo-bot-go/internal/metrics"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/position"
	"signal-combo-bot-go/internal/signals"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds the parameters shared by every replay of a sweep.
type Config struct {
	InitialBalance   float64
	MarginPerTrade   float64
	LiquidationFloor float64
	Risk             models.RiskPolicy
	MinTrades        int
	MinFinalBalance  float64
	TopN             int // 0 keeps everything that passes the filters
	Workers          int // 0 means runtime.NumCPU()
}

// ConfigFrom maps the file configuration onto a driver configuration.
func ConfigFrom(cfg models.BacktestConfig) Config {
	return Config{
		InitialBalance:   cfg.InitialBalance,
		MarginPerTrade:   cfg.MarginPerTrade,
		LiquidationFloor: cfg.LiquidationFloor,
		Risk:             cfg.Risk,
		MinTrades:        cfg.MinTrades,
		MinFinalBalance:  cfg.MinFinalBalance,
		TopN:             cfg.TopN,
		Workers:          cfg.Workers,
	}
}

// Job is one sweep: a price series, its signal matrix and the combos and
// leverages to replay.
type Job struct {
	Timeframe string
	Table     *indicators.Table
	Matrix    *signals.Matrix
	Combos    []signals.Combo
	Leverages []float64
}

// Failure records a combo that could not be replayed.
type Failure struct {
	Combo string
	Err   error
}

// Sweep is the ranked outcome of one Job.
type Sweep struct {
	Timeframe string
	ComboSize int // 0 when the job mixed sizes
	Evaluated int // replays run
	Passed    int // replays that survived the filters, before the top-N cut
	Results   []models.BacktestResult
	Failures  []Failure
	Duration  time.Duration
}

// Driver runs sweeps. It holds no per-sweep state and is safe for concurrent use.
type Driver struct {
	cfg    Config
	logger *zap.Logger
}

// NewDriver creates a driver.
func NewDriver(cfg Config, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{cfg: cfg, logger: logger}
}

type comboOutcome struct {
	results []models.BacktestResult
	err     error
}

// Run replays every (combo, leverage) pair of job. Combos are split into
// contiguous chunks, one per worker, before any work starts; each worker writes
// only to its own slots, so the outcome does not depend on the worker count.
func (d *Driver) Run(ctx context.Context, job Job) (*Sweep, error) {
	start := time.Now()
	if job.Table == nil || job.Matrix == nil {
		return nil, errors.New("backtest job needs a price table and a signal matrix")
	}
	closes := job.Table.Close()
	if job.Matrix.Len != len(closes) {
		return nil, fmt.Errorf("signal matrix has %d rows, price series has %d", job.Matrix.Len, len(closes))
	}
	if len(job.Leverages) == 0 {
		return nil, errors.New("backtest job has no leverage values")
	}

	slots := make([]comboOutcome, len(job.Combos))
	workers := d.workers(len(job.Combos))
	chunk := (len(job.Combos) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(job.Combos))
		if lo >= hi {
			break
		}
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				slots[i] = d.runCombo(job, closes, job.Combos[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sweep := &Sweep{Timeframe: job.Timeframe, ComboSize: comboSize(job.Combos)}
	var all []models.BacktestResult
	for i, slot := range slots {
		if slot.err != nil {
			sweep.Failures = append(sweep.Failures, Failure{Combo: job.Combos[i].Label(), Err: slot.err})
			continue
		}
		sweep.Evaluated += len(slot.results)
		all = append(all, slot.results...)
	}

	ranked := d.filter(all)
	sweep.Passed = len(ranked)
	Rank(ranked)
	if d.cfg.TopN > 0 && len(ranked) > d.cfg.TopN {
		ranked = ranked[:d.cfg.TopN]
	}
	sweep.Results = ranked
	sweep.Duration = time.Since(start)

	metrics.BacktestReplays.WithLabelValues(job.Timeframe).Add(float64(sweep.Evaluated))
	metrics.BacktestFailures.WithLabelValues(job.Timeframe).Add(float64(len(sweep.Failures)))
	for _, f := range sweep.Failures {
		d.logger.Warn("combo skipped", zap.String("timeframe", job.Timeframe), zap.String("combo", f.Combo), zap.Error(f.Err))
	}
	d.logger.Info("sweep finished",
		zap.String("timeframe", job.Timeframe),
		zap.Int("combo_size", sweep.ComboSize),
		zap.Int("combos", len(job.Combos)),
		zap.Int("workers", workers),
		zap.Int("replays", sweep.Evaluated),
		zap.Int("passed", sweep.Passed),
		zap.Duration("took", sweep.Duration),
	)
	return sweep, nil
}

func (d *Driver) workers(jobs int) int {
	w := d.cfg.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > jobs {
		w = jobs
	}
	if w < 1 {
		w = 1
	}
	return w
}

// runCombo never panics; an unexpected input shape becomes a Failure for this
// combo alone.
func (d *Driver) runCombo(job Job, closes []float64, combo signals.Combo) (out comboOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = comboOutcome{err: fmt.Errorf("replay panicked: %v", r)}
		}
	}()

	long, short, err := job.Matrix.Signals(combo)
	if err != nil {
		return comboOutcome{err: err}
	}

	results := make([]models.BacktestResult, 0, len(job.Leverages))
	for _, lev := range job.Leverages {
		p := position.Params{
			Risk:             d.cfg.Risk,
			Leverage:         lev,
			Sizer:            position.FixedMargin{Amount: d.cfg.MarginPerTrade},
			LiquidationFloor: d.cfg.LiquidationFloor,
		}
		stats := Replay(p, d.cfg.InitialBalance, job.Table.Times, closes, long, short)
		results = append(results, models.BacktestResult{
			Timeframe:    job.Timeframe,
			Combo:        combo.Label(),
			ComboSize:    combo.Size(),
			Leverage:     lev,
			FinalBalance: stats.FinalBalance,
			Trades:       stats.Trades,
			Wins:         stats.Wins,
			WinRate:      stats.WinRate(),
			Liquidated:   stats.Liquidated,
			OpenAtEnd:    stats.OpenAtEnd,
		})
	}
	return comboOutcome{results: results}
}

func (d *Driver) filter(all []models.BacktestResult) []models.BacktestResult {
	out := make([]models.BacktestResult, 0, len(all))
	for _, r := range all {
		if r.Trades < d.cfg.MinTrades || r.FinalBalance < d.cfg.MinFinalBalance {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Rank orders results by final balance, best first. Ties fall back to the combo
// label and then the leverage so the order is total.
func Rank(results []models.BacktestResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.FinalBalance != b.FinalBalance {
			return a.FinalBalance > b.FinalBalance
		}
		if a.Combo != b.Combo {
			return a.Combo < b.Combo
		}
		return a.Leverage < b.Leverage
	})
}

func comboSize(combos []signals.Combo) int {
	if len(combos) == 0 {
		return 0
	}
	size := combos[0].Size()
	for _, c := range combos[1:] {
		if c.Size() != size {
			return 0
		}
	}
	return size
}

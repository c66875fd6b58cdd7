// Package scheduler drives the live virtual-trading loop: on every tick it
// fetches market data once per timeframe, evaluates the indicator conditions
// and hands the resulting snapshots to the state manager.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signal-combo-bot-go/internal/indicators"
	"signal-combo-bot-go/internal/marketdata"
	"signal-combo-bot-go/internal/metrics"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/signals"
	"signal-combo-bot-go/internal/statemanager"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoData marks a timeframe that produced no usable bars this cycle.
var ErrNoData = errors.New("no market data")

// Committer applies one cycle to the bot collection.
type Committer interface {
	Timeframes() []string
	ApplyCycle(ctx context.Context, snaps map[string]statemanager.Snapshot) error
}

// Config controls cadence and fetch bounds.
type Config struct {
	Symbol       string
	Interval     time.Duration
	FetchTimeout time.Duration
	KlineLimit   int
}

// ConfigFrom maps the file configuration onto a scheduler configuration.
func ConfigFrom(symbol string, cfg models.LiveConfig) Config {
	return Config{
		Symbol:       symbol,
		Interval:     time.Duration(cfg.IntervalSec) * time.Second,
		FetchTimeout: time.Duration(cfg.FetchTimeoutSec) * time.Second,
		KlineLimit:   cfg.KlineLimit,
	}
}

// Scheduler runs cycles on a fixed cadence.
type Scheduler struct {
	cfg      Config
	provider marketdata.Provider
	state    Committer
	registry *signals.Registry
	logger   *zap.Logger

	mu        sync.Mutex
	lastCycle CycleReport
}

// CycleReport summarises one cycle.
type CycleReport struct {
	Started  time.Time
	Duration time.Duration
	Fetched  []string
	Missing  map[string]error
	Err      error
}

// New creates a scheduler. A nil registry means signals.DefaultRegistry(). A
// kline limit that cannot cover indicators.MaxLookback is replaced by 100.
func New(cfg Config, provider marketdata.Provider, state Committer, registry *signals.Registry, logger *zap.Logger) *Scheduler {
	if registry == nil {
		registry = signals.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.KlineLimit <= indicators.MaxLookback {
		if cfg.KlineLimit > 0 {
			logger.Warn("Kline limit too short for indicator warm-up, using default",
				zap.Int("requested", cfg.KlineLimit), zap.Int("min", indicators.MaxLookback+1))
		}
		cfg.KlineLimit = 100
	}
	return &Scheduler{
		cfg:      cfg,
		provider: provider,
		state:    state,
		registry: registry,
		logger:   logger,
	}
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled. A cycle in progress when ctx is cancelled runs to completion.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Scheduler started", zap.Duration("interval", s.cfg.Interval), zap.String("symbol", s.cfg.Symbol))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.RunCycle(context.WithoutCancel(ctx))
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// LastCycle returns the report of the most recent cycle.
func (s *Scheduler) LastCycle() CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCycle
}

// RunCycle performs one fetch/evaluate/commit pass. Missing timeframes are
// reported, not fatal.
func (s *Scheduler) RunCycle(ctx context.Context) CycleReport {
	start := time.Now()
	report := CycleReport{Started: start, Missing: make(map[string]error)}

	timeframes := s.state.Timeframes()
	snaps := s.fetchAll(ctx, timeframes, report.Missing)
	for tf := range snaps {
		report.Fetched = append(report.Fetched, tf)
	}
	for tf, err := range report.Missing {
		metrics.FetchFailures.WithLabelValues(tf).Inc()
		s.logger.Warn("Timeframe skipped this cycle", zap.String("timeframe", tf), zap.Error(err))
	}

	if err := s.state.ApplyCycle(ctx, snaps); err != nil {
		report.Err = err
		s.logger.Error("Cycle commit failed", zap.Error(err))
	}

	report.Duration = time.Since(start)
	metrics.CyclesTotal.Inc()
	metrics.CycleDuration.Observe(report.Duration.Seconds())
	s.logger.Debug("Cycle finished",
		zap.Int("timeframes", len(timeframes)),
		zap.Int("fetched", len(snaps)),
		zap.Duration("took", report.Duration),
	)

	s.mu.Lock()
	s.lastCycle = report
	s.mu.Unlock()
	return report
}

// fetchAll fetches every timeframe concurrently, each exactly once and under
// its own deadline. Failures land in missing and never cancel siblings.
func (s *Scheduler) fetchAll(ctx context.Context, timeframes []string, missing map[string]error) map[string]statemanager.Snapshot {
	snaps := make(map[string]statemanager.Snapshot, len(timeframes))
	var mu sync.Mutex

	var g errgroup.Group
	for _, tf := range timeframes {
		tf := tf // per-iteration copy; go directive is 1.21
		g.Go(func() error {
			snap, err := s.snapshot(ctx, tf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				missing[tf] = err
				return nil
			}
			snaps[tf] = snap
			return nil
		})
	}
	_ = g.Wait()
	return snaps
}

func (s *Scheduler) snapshot(ctx context.Context, tf string) (statemanager.Snapshot, error) {
	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	bars, err := s.provider.FetchKlines(fctx, s.cfg.Symbol, tf, s.cfg.KlineLimit)
	if err != nil {
		return statemanager.Snapshot{}, fmt.Errorf("%w: %s: %w", ErrNoData, tf, err)
	}
	if len(bars) == 0 {
		return statemanager.Snapshot{}, fmt.Errorf("%w: %s: empty response", ErrNoData, tf)
	}

	tbl := indicators.Compute(bars)
	matrix, err := signals.Build(s.registry, tbl, nil)
	if err != nil {
		return statemanager.Snapshot{}, fmt.Errorf("build signals for %s: %w", tf, err)
	}
	last := len(bars) - 1
	return statemanager.Snapshot{
		Timeframe: tf,
		Price:     bars[last].Close,
		At:        bars[last].OpenTime,
		Matrix:    matrix,
		Row:       last,
	}, nil
}

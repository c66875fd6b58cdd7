package scheduler

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"signal-combo-bot-go/internal/indicators"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/persistence"
	"signal-combo-bot-go/internal/statemanager"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeProvider serves synthetic bars and counts requests per interval.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	block map[string]bool // intervals that never answer before the deadline
	fail  map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{calls: make(map[string]int), block: make(map[string]bool), fail: make(map[string]error)}
}

func (p *fakeProvider) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	p.mu.Lock()
	p.calls[interval]++
	block, fail := p.block[interval], p.fail[interval]
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if fail != nil {
		return nil, fail
	}
	bars := make([]models.Kline, limit)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := 100 + 5*math.Sin(float64(i)/7)
		bars[i] = models.Kline{OpenTime: start.Add(time.Duration(i) * time.Minute), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	return bars, nil
}

func (p *fakeProvider) count(interval string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[interval]
}

// fakeState records committed cycles.
type fakeState struct {
	mu      sync.Mutex
	tfs     []string
	applied []map[string]statemanager.Snapshot
	err     error
}

func (s *fakeState) Timeframes() []string { return s.tfs }

func (s *fakeState) ApplyCycle(_ context.Context, snaps map[string]statemanager.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = append(s.applied, snaps)
	return s.err
}

func (s *fakeState) cycles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

func testConfig() Config {
	return Config{Symbol: "BTCUSDT", Interval: 10 * time.Millisecond, FetchTimeout: 50 * time.Millisecond, KlineLimit: 120}
}

func TestRunCycleFetchesEachTimeframeOnce(t *testing.T) {
	provider := newFakeProvider()
	state := &fakeState{tfs: []string{"15m", "1h"}}
	s := New(testConfig(), provider, state, nil, zap.NewNop())

	report := s.RunCycle(context.Background())
	assert.Empty(t, report.Missing)
	assert.ElementsMatch(t, []string{"15m", "1h"}, report.Fetched)
	assert.Equal(t, 1, provider.count("15m"))
	assert.Equal(t, 1, provider.count("1h"))

	require.Equal(t, 1, state.cycles())
	snap, ok := state.applied[0]["15m"]
	require.True(t, ok)
	assert.Equal(t, 119, snap.Row)
	assert.Equal(t, 120, snap.Matrix.Len)
	assert.InDelta(t, 100+5*math.Sin(119.0/7), snap.Price, 1e-9)
	assert.True(t, snap.Matrix.Has("RSI"))
}

func TestRunCycleTreatsTimeoutAsNoData(t *testing.T) {
	provider := newFakeProvider()
	provider.block["1h"] = true
	provider.fail["4h"] = errors.New("boom")
	state := &fakeState{tfs: []string{"15m", "1h", "4h"}}
	s := New(testConfig(), provider, state, nil, zap.NewNop())

	start := time.Now()
	report := s.RunCycle(context.Background())
	assert.Less(t, time.Since(start), 2*time.Second, "a stuck fetch is bounded by the timeout")

	require.Contains(t, report.Missing, "1h")
	assert.True(t, errors.Is(report.Missing["1h"], ErrNoData))
	assert.True(t, errors.Is(report.Missing["1h"], context.DeadlineExceeded))
	assert.True(t, errors.Is(report.Missing["4h"], ErrNoData))

	require.Equal(t, 1, state.cycles())
	assert.Len(t, state.applied[0], 1, "only the healthy timeframe is committed")
	assert.Contains(t, state.applied[0], "15m")
}

func TestRunCycleReportsCommitError(t *testing.T) {
	state := &fakeState{tfs: []string{"15m"}, err: errors.New("disk full")}
	s := New(testConfig(), newFakeProvider(), state, nil, zap.NewNop())
	report := s.RunCycle(context.Background())
	assert.Error(t, report.Err)
	assert.Equal(t, report.Err, s.LastCycle().Err)
}

func TestRunStopsOnCancel(t *testing.T) {
	state := &fakeState{tfs: []string{"15m"}}
	s := New(testConfig(), newFakeProvider(), state, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return state.cycles() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// gatedProvider holds every fetch until release is closed, ignoring its
// context, and records whether that context was still live when it returned.
type gatedProvider struct {
	*fakeProvider
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	ctxErrMu sync.Mutex
	ctxErr   error
}

func (p *gatedProvider) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	p.once.Do(func() { close(p.started) })
	<-p.release
	p.ctxErrMu.Lock()
	p.ctxErr = ctx.Err()
	p.ctxErrMu.Unlock()
	return p.fakeProvider.FetchKlines(ctx, symbol, interval, limit)
}

func TestCancelDuringFetchCompletesCycle(t *testing.T) {
	provider := &gatedProvider{fakeProvider: newFakeProvider(), started: make(chan struct{}), release: make(chan struct{})}
	state := &fakeState{tfs: []string{"15m"}}
	cfg := testConfig()
	cfg.Interval = time.Hour
	cfg.FetchTimeout = 5 * time.Second
	s := New(cfg, provider, state, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-provider.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}
	cancel()
	close(provider.release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	require.Equal(t, 1, state.cycles(), "the interrupted cycle still commits")
	assert.Contains(t, state.applied[0], "15m")
	provider.ctxErrMu.Lock()
	assert.NoError(t, provider.ctxErr, "stopping the loop does not cancel an in-flight fetch")
	provider.ctxErrMu.Unlock()
}

func TestNewRaisesShortKlineLimit(t *testing.T) {
	cfg := testConfig()
	cfg.KlineLimit = 50
	s := New(cfg, newFakeProvider(), &fakeState{}, nil, nil)
	assert.Equal(t, 100, s.cfg.KlineLimit)
	assert.Greater(t, s.cfg.KlineLimit, indicators.MaxLookback)

	cfg.KlineLimit = 0
	assert.Equal(t, 100, New(cfg, newFakeProvider(), &fakeState{}, nil, nil).cfg.KlineLimit)

	cfg.KlineLimit = 150
	assert.Equal(t, 150, New(cfg, newFakeProvider(), &fakeState{}, nil, nil).cfg.KlineLimit)
}

func TestSchedulerDrivesStateManager(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	sm := statemanager.NewStateManager(statemanager.BuildState([]models.BotConfig{
		{ID: 1, Name: "rsi", Timeframe: "15m", Indicators: []string{"RSI"}, Leverage: 10, Active: true},
		{ID: 2, Name: "ema", Timeframe: "15m", Indicators: []string{"EMA"}, Leverage: 10, Active: true},
	}, 250, nil), repo, nil, statemanager.Options{InitialBalance: 250, MarginPerTrade: 100, LiquidationFloor: 10}, zap.NewNop())
	sm.Start()
	defer sm.Stop()

	provider := newFakeProvider()
	s := New(testConfig(), provider, sm, nil, zap.NewNop())
	report := s.RunCycle(context.Background())
	require.NoError(t, report.Err)
	assert.Equal(t, 1, provider.count("15m"), "bots sharing a timeframe share one fetch")

	for _, b := range sm.GetStateSnapshot().Bots {
		assert.InDelta(t, 100+5*math.Sin(119.0/7), b.LastPrice, 1e-9)
	}

	saved, err := repo.LoadState()
	require.NoError(t, err)
	require.NotNil(t, saved, "cycle end persists the state")
	assert.Len(t, saved.Bots, 2)
}

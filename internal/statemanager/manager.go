package statemanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"signal-combo-bot-go/internal/metrics"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/persistence"
	"signal-combo-bot-go/internal/position"
	"signal-combo-bot-go/internal/signals"
	"signal-combo-bot-go/internal/storage"

	"go.uber.org/zap"
)

// Options holds the sizing and identity settings applied to every bot.
type Options struct {
	Registry            *signals.Registry
	InitialBalance      float64
	MarginPerTrade      float64
	CompoundThreshold   float64
	CompoundCapFraction float64
	LiquidationFloor    float64
	NewID               func() string
}

// StateManager is responsible for all state mutations and persistence.
// It ensures that all state changes are processed serially by one goroutine;
// readers only ever see published deep copies.
type StateManager struct {
	state        *models.SystemState
	repo         persistence.StateRepository
	trades       storage.TradeLog
	opts         Options
	eventChannel chan NormalizedEvent
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
	logger       *zap.Logger

	mu          sync.RWMutex
	published   *models.SystemState
	subscribers map[int]chan *models.SystemState
	nextSub     int
}

// NewStateManager creates a new StateManager. repo and trades may be nil.
func NewStateManager(initialState *models.SystemState, repo persistence.StateRepository, trades storage.TradeLog, opts Options, logger *zap.Logger) *StateManager {
	if initialState == nil {
		initialState = &models.SystemState{}
	}
	if opts.Registry == nil {
		opts.Registry = signals.DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &StateManager{
		state:        initialState,
		repo:         repo,
		trades:       trades,
		opts:         opts,
		eventChannel: make(chan NormalizedEvent, 64),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		logger:       logger,
		subscribers:  make(map[int]chan *models.SystemState),
	}
	sm.refreshStatus()
	sm.publish()
	return sm
}

// Start begins the state manager's event processing loop.
func (sm *StateManager) Start() {
	go sm.eventLoop()
	sm.logger.Info("StateManager started", zap.Int("bots", len(sm.state.Bots)))
}

// Stop shuts the loop down after the event in progress, if any, and waits for it.
func (sm *StateManager) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopChan)
	})
	<-sm.doneChan
	sm.logger.Info("StateManager stopped")
}

// Dispatch sends an event to the loop and waits until it has been processed.
func (sm *StateManager) Dispatch(ctx context.Context, event NormalizedEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.reply = make(chan error, 1)

	select {
	case sm.eventChannel <- event:
	case <-sm.stopChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-event.reply:
		return err
	case <-sm.doneChan:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyCycle advances every eligible bot with this cycle's snapshots.
func (sm *StateManager) ApplyCycle(ctx context.Context, snaps map[string]Snapshot) error {
	return sm.Dispatch(ctx, NormalizedEvent{Type: CycleEvent, Data: CycleEventData{Snapshots: snaps}})
}

// RequestManualExit flags the bot's open position to be closed on its next step.
func (sm *StateManager) RequestManualExit(ctx context.Context, botID int) error {
	return sm.Dispatch(ctx, NormalizedEvent{Type: ManualExitEvent, Data: BotEventData{BotID: botID}})
}

// ResetBot restores one bot to its initial balance and reactivates it.
func (sm *StateManager) ResetBot(ctx context.Context, botID int) error {
	return sm.Dispatch(ctx, NormalizedEvent{Type: ResetBotEvent, Data: BotEventData{BotID: botID}})
}

// ResetAll resets every bot.
func (sm *StateManager) ResetAll(ctx context.Context) error {
	return sm.Dispatch(ctx, NormalizedEvent{Type: ResetAllEvent})
}

// GetStateSnapshot returns a deep copy of the last published state for safe,
// concurrent reading.
func (sm *StateManager) GetStateSnapshot() *models.SystemState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return deepCopy(sm.published)
}

// Timeframes lists the distinct timeframes of bots that can still trade.
func (sm *StateManager) Timeframes() []string {
	snap := sm.GetStateSnapshot()
	seen := make(map[string]bool)
	var out []string
	for _, b := range snap.Bots {
		if !b.Active || b.Liquidated || seen[b.Timeframe] {
			continue
		}
		seen[b.Timeframe] = true
		out = append(out, b.Timeframe)
	}
	sort.Strings(out)
	return out
}

// Subscribe returns a channel receiving every published state. Slow readers
// miss intermediate states. Call cancel to unsubscribe.
func (sm *StateManager) Subscribe() (<-chan *models.SystemState, func()) {
	ch := make(chan *models.SystemState, 1)
	sm.mu.Lock()
	id := sm.nextSub
	sm.nextSub++
	sm.subscribers[id] = ch
	sm.mu.Unlock()

	cancel := func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		if _, ok := sm.subscribers[id]; ok {
			delete(sm.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// eventLoop is the core processing loop that handles all incoming events serially.
func (sm *StateManager) eventLoop() {
	defer close(sm.doneChan)
	for {
		select {
		case event := <-sm.eventChannel:
			err := sm.processEvent(event)
			if event.reply != nil {
				event.reply <- err
			}
		case <-sm.stopChan:
			return
		}
	}
}

// processEvent contains the logic to mutate the state based on an event.
func (sm *StateManager) processEvent(event NormalizedEvent) error {
	var err error
	switch event.Type {
	case CycleEvent:
		data, ok := event.Data.(CycleEventData)
		if !ok {
			return fmt.Errorf("cycle event with unexpected data type %T", event.Data)
		}
		err = sm.handleCycle(data)
	case ManualExitEvent:
		data, ok := event.Data.(BotEventData)
		if !ok {
			return fmt.Errorf("manual exit event with unexpected data type %T", event.Data)
		}
		err = sm.handleManualExit(data.BotID)
	case ResetBotEvent:
		data, ok := event.Data.(BotEventData)
		if !ok {
			return fmt.Errorf("reset event with unexpected data type %T", event.Data)
		}
		err = sm.handleReset(data.BotID)
	case ResetAllEvent:
		for _, b := range sm.state.Bots {
			sm.resetBot(b)
		}
		sm.logger.Info("All bots reset")
		err = sm.persist()
	default:
		return fmt.Errorf("unknown event type %d", event.Type)
	}

	sm.state.LastUpdateTime = event.Timestamp
	sm.refreshStatus()
	sm.publish()
	return err
}

func (sm *StateManager) handleCycle(data CycleEventData) error {
	var errs []error
	for _, bot := range sm.state.Bots {
		if !bot.Active || bot.Liquidated {
			continue
		}
		snap, ok := data.Snapshots[bot.Timeframe]
		if !ok {
			continue
		}
		changed, err := sm.stepBot(bot, snap)
		if err != nil {
			sm.logger.Error("Bot skipped", zap.Int("bot", bot.ID), zap.String("name", bot.Name), zap.Error(err))
			continue
		}
		metrics.BotBalance.WithLabelValues(bot.Name).Set(bot.Balance)
		if changed {
			if err := sm.persist(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := sm.persist(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// stepBot feeds one snapshot to one bot. It reports whether a position was
// opened or closed.
func (sm *StateManager) stepBot(bot *models.BotState, snap Snapshot) (bool, error) {
	combo, err := sm.opts.Registry.Combo(bot.Indicators...)
	if err != nil {
		return false, err
	}
	long, short, err := snap.Matrix.Eligibility(combo, snap.Row)
	if err != nil {
		return false, err
	}

	m := position.New(sm.params(bot), &bot.Account)
	out := m.Step(position.Input{
		Index:      snap.Row,
		At:         snap.At,
		Price:      snap.Price,
		Long:       long,
		Short:      short,
		ManualExit: bot.ManualExit,
	})
	bot.ManualExit = false
	bot.LastPrice = snap.Price
	bot.UpdatedAt = snap.At

	if pos := out.Opened; pos != nil {
		sm.logger.Info("Position opened",
			zap.Int("bot", bot.ID),
			zap.String("name", bot.Name),
			zap.String("side", string(pos.Side)),
			zap.Float64("entry", pos.EntryPrice),
			zap.Float64("margin", pos.Margin),
		)
	}
	if rec := out.Closed; rec != nil {
		bot.PnL += rec.PnL
		metrics.TradesClosed.WithLabelValues(bot.Name, string(rec.Reason)).Inc()
		sm.logger.Info("Position closed",
			zap.Int("bot", bot.ID),
			zap.String("name", bot.Name),
			zap.String("reason", string(rec.Reason)),
			zap.Float64("entry", rec.EntryPrice),
			zap.Float64("exit", rec.ExitPrice),
			zap.Float64("pnl", rec.PnL),
			zap.Float64("balance", rec.Balance),
		)
		if sm.trades != nil {
			if err := sm.trades.InsertTrade(rec); err != nil {
				sm.logger.Error("Failed to append trade", zap.String("trade", rec.ID), zap.Error(err))
			}
		}
	}
	if out.Liquidated {
		bot.Active = false
		sm.logger.Warn("Bot liquidated", zap.Int("bot", bot.ID), zap.String("name", bot.Name))
	}
	return out.Changed(), nil
}

func (sm *StateManager) params(bot *models.BotState) position.Params {
	var sizer position.MarginSizer = position.FixedMargin{Amount: sm.opts.MarginPerTrade}
	if bot.Compounding {
		sizer = position.CompoundingMargin{
			Base:        sm.opts.MarginPerTrade,
			Threshold:   sm.opts.CompoundThreshold,
			CapFraction: sm.opts.CompoundCapFraction,
		}
	}
	risk := bot.Risk
	if risk.IsZero() {
		risk = models.DefaultRiskPolicy()
	}
	return position.Params{
		BotID:            bot.ID,
		Bot:              bot.Name,
		Risk:             risk,
		Leverage:         bot.Leverage,
		Sizer:            sizer,
		LiquidationFloor: sm.opts.LiquidationFloor,
		NewID:            sm.opts.NewID,
	}
}

func (sm *StateManager) handleManualExit(botID int) error {
	bot := sm.state.FindBot(botID)
	if bot == nil {
		return fmt.Errorf("%w: %d", ErrBotNotFound, botID)
	}
	if bot.ActiveTrade == nil {
		return fmt.Errorf("%w: %d", ErrNoActiveTrade, botID)
	}
	bot.ManualExit = true
	sm.logger.Info("Manual exit requested", zap.Int("bot", bot.ID), zap.String("name", bot.Name))
	return sm.persist()
}

func (sm *StateManager) handleReset(botID int) error {
	bot := sm.state.FindBot(botID)
	if bot == nil {
		return fmt.Errorf("%w: %d", ErrBotNotFound, botID)
	}
	sm.resetBot(bot)
	sm.logger.Info("Bot reset", zap.Int("bot", bot.ID), zap.String("name", bot.Name))
	return sm.persist()
}

func (sm *StateManager) resetBot(bot *models.BotState) {
	bot.Account = models.Account{Balance: sm.opts.InitialBalance}
	bot.PnL = 0
	bot.ManualExit = false
	bot.Active = true
	metrics.BotBalance.WithLabelValues(bot.Name).Set(bot.Balance)
}

func (sm *StateManager) refreshStatus() {
	var total, balance float64
	active := false
	for _, b := range sm.state.Bots {
		total += b.PnL
		balance += b.Balance
		active = active || b.Active
	}
	sm.state.Status = models.SystemStatus{Active: active, TotalPnL: total, GlobalBalance: balance}
}

// persist writes the current state synchronously.
func (sm *StateManager) persist() error {
	if sm.repo == nil {
		return nil
	}
	sm.refreshStatus()
	if err := sm.repo.SaveState(sm.state); err != nil {
		sm.logger.Error("CRITICAL: Failed to save state", zap.Error(err))
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

func (sm *StateManager) publish() {
	snap := deepCopy(sm.state)
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.published = snap
	for _, ch := range sm.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- deepCopy(snap)
	}
}

// deepCopy creates a deep copy of the SystemState to prevent data races.
func deepCopy(s *models.SystemState) *models.SystemState {
	if s == nil {
		return nil
	}
	out := *s
	out.Bots = make([]*models.BotState, len(s.Bots))
	for i, b := range s.Bots {
		bc := *b
		bc.Indicators = append([]string(nil), b.Indicators...)
		if b.ActiveTrade != nil {
			pos := *b.ActiveTrade
			bc.ActiveTrade = &pos
		}
		out.Bots[i] = &bc
	}
	return &out
}

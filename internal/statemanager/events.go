package statemanager

import (
	"errors"
	"time"

	"signal-combo-bot-go/internal/signals"
)

var (
	// ErrBotNotFound is returned for commands naming an unknown bot id.
	ErrBotNotFound = errors.New("bot not found")
	// ErrNoActiveTrade rejects a manual exit for a bot that is flat.
	ErrNoActiveTrade = errors.New("bot has no active trade")
	// ErrStopped is returned once the event loop has exited.
	ErrStopped = errors.New("state manager stopped")
)

// EventType defines the type of a normalized event
type EventType int

const (
	CycleEvent EventType = iota
	ManualExitEvent
	ResetBotEvent
	ResetAllEvent
)

func (t EventType) String() string {
	switch t {
	case CycleEvent:
		return "cycle"
	case ManualExitEvent:
		return "manual_exit"
	case ResetBotEvent:
		return "reset_bot"
	case ResetAllEvent:
		return "reset_all"
	}
	return "unknown"
}

// NormalizedEvent is a standardized internal representation of an event.
// The result of processing is sent on reply when it is non-nil.
type NormalizedEvent struct {
	Type      EventType
	Timestamp time.Time
	Data      interface{}
	reply     chan error
}

// Snapshot is the market view of one timeframe for one cycle. Every bot on the
// timeframe reads the same snapshot.
type Snapshot struct {
	Timeframe string
	Price     float64
	At        time.Time
	Matrix    *signals.Matrix
	Row       int // row of Matrix to evaluate, normally the last
}

// CycleEventData carries the snapshots fetched in one cycle, keyed by
// timeframe. Timeframes without data are absent.
type CycleEventData struct {
	Snapshots map[string]Snapshot
}

// BotEventData targets a single bot.
type BotEventData struct {
	BotID int
}

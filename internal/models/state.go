package models

import "time"

// Side is the direction of a simulated position.
type Side string

const (
	NoSide Side = ""
	Long   Side = "LONG"
	Short  Side = "SHORT"
)

// Opposite returns the other side. NoSide maps to itself.
func (s Side) Opposite() Side {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	}
	return NoSide
}

// ExitReason records which rule closed a position.
type ExitReason string

const (
	StopLoss      ExitReason = "StopLoss"
	TrailingStop  ExitReason = "TrailingStop"
	ReverseSignal ExitReason = "ReverseSignal"
	ManualExit    ExitReason = "ManualExit"
)

// Position is the single open trade of one state machine instance.
type Position struct {
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry"`
	PeakPrice     float64   `json:"peak"` // best price seen in the position's favour
	OpenedAt      time.Time `json:"start_time"`
	OpenedIndex   int       `json:"start_index"`
	Margin        float64   `json:"margin"`
	TrailingArmed bool      `json:"trailing_armed"` // latched once ts_trigger gain has been reached
}

// TradeRecord is an immutable closed-trade fact.
type TradeRecord struct {
	ID         string     `json:"id"`
	BotID      int        `json:"bot_id"`
	Bot        string     `json:"bot"`
	Side       Side       `json:"side"`
	EntryPrice float64    `json:"entry_price"`
	EntryTime  time.Time  `json:"entry_time"`
	ExitPrice  float64    `json:"exit_price"`
	ExitTime   time.Time  `json:"exit_time"`
	Leverage   float64    `json:"leverage"`
	Margin     float64    `json:"margin"`
	PnL        float64    `json:"pnl"`
	Balance    float64    `json:"balance"`
	Reason     ExitReason `json:"reason"`
}

// Account is the mutable ledger a position state machine advances.
type Account struct {
	Balance     float64   `json:"balance"`
	ActiveTrade *Position `json:"active_trade"`
	PendingSide Side      `json:"pending_side,omitempty"` // entry signalled on the previous step
	LastPnL     float64   `json:"last_pnl"`
	Liquidated  bool      `json:"liquidated"`
}

// BotState is the persisted form of one live bot.
type BotState struct {
	BotConfig
	Account
	PnL        float64   `json:"pnl"`
	ManualExit bool      `json:"manual_exit"` // operator asked to close on the next step
	LastPrice  float64   `json:"last_price"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SystemStatus aggregates all bots.
type SystemStatus struct {
	Active        bool    `json:"active"`
	TotalPnL      float64 `json:"total_pnl"`
	GlobalBalance float64 `json:"global_balance"`
}

// SystemState is the full snapshot written to durable storage.
type SystemState struct {
	Version        int          `json:"version"`
	Status         SystemStatus `json:"status"`
	Bots           []*BotState  `json:"bots"`
	LastUpdateTime time.Time    `json:"last_update_time"`
}

// FindBot returns the bot with the given id, or nil.
func (s *SystemState) FindBot(id int) *BotState {
	for _, b := range s.Bots {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// BacktestResult is the aggregate of one full replay for one (combo, leverage) pair.
type BacktestResult struct {
	Timeframe    string  `json:"timeframe"`
	Combo        string  `json:"combo"`
	ComboSize    int     `json:"combo_size"`
	Leverage     float64 `json:"leverage"`
	FinalBalance float64 `json:"final_balance"`
	Trades       int     `json:"trades"`
	Wins         int     `json:"wins"`
	WinRate      float64 `json:"win_rate"` // percent
	Liquidated   bool    `json:"liquidated"`
	OpenAtEnd    bool    `json:"open_at_end"`
}

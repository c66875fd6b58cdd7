// Package position implements the single-position trade lifecycle shared by the
// backtest driver and the live scheduler.
//
// A Machine is either flat or holds exactly one Position. Each call to Step
// consumes one price and one pair of (long, short) eligibility flags:
//
//   - flat: an eligible signal is remembered and the position opens on the
//     following step at that step's price; long wins a tie.
//   - open: the peak is moved first, then stop loss, trailing stop, reverse
//     signal and manual exit are checked in that order.
//
// A step that closes a position never opens another one.
package position

import (
	"math"
	"time"

	"signal-combo-bot-go/internal/models"
)

// Params configures one machine instance. It never changes while the machine runs.
type Params struct {
	BotID            int
	Bot              string
	Risk             models.RiskPolicy
	Leverage         float64
	Sizer            MarginSizer
	LiquidationFloor float64
	NewID            func() string // optional, stamps TradeRecord.ID
}

// Input is everything a machine observes on one step.
type Input struct {
	Index      int
	At         time.Time
	Price      float64
	Long       bool
	Short      bool
	ManualExit bool
}

// Outcome reports the transitions taken on one step. At most one of Opened and
// Closed is set.
type Outcome struct {
	Opened     *models.Position
	Closed     *models.TradeRecord
	Liquidated bool
}

// Changed reports whether the step opened or closed a position.
func (o Outcome) Changed() bool {
	return o.Opened != nil || o.Closed != nil
}

// Machine advances a models.Account one step at a time.
type Machine struct {
	p    Params
	acct *models.Account
}

// New binds a machine to acct. The account is mutated in place so that callers
// can persist it between steps.
func New(p Params, acct *models.Account) *Machine {
	if p.Sizer == nil {
		p.Sizer = FixedMargin{Amount: 0}
	}
	return &Machine{p: p, acct: acct}
}

// Account returns the ledger the machine is advancing.
func (m *Machine) Account() *models.Account {
	return m.acct
}

// Terminal reports whether the account hit the liquidation floor.
func (m *Machine) Terminal() bool {
	return m.acct.Liquidated
}

// Step advances the machine by exactly one price step.
func (m *Machine) Step(in Input) Outcome {
	var out Outcome
	a := m.acct
	if a.Liquidated {
		return out
	}
	// A missing price leaves the account untouched; eligibility is carried
	// forward by the caller.
	if !validPrice(in.Price) {
		return out
	}

	if pos := a.ActiveTrade; pos != nil {
		reason, exit := m.evaluate(pos, in)
		if !exit {
			return out
		}
		out.Closed = m.close(pos, in, reason)
		if a.Liquidated {
			out.Liquidated = true
			return out
		}
		m.arm(in)
		return out
	}

	if side := a.PendingSide; side != models.NoSide {
		a.PendingSide = models.NoSide
		out.Opened = m.open(side, in)
		if out.Opened != nil {
			return out
		}
	}
	m.arm(in)
	return out
}

func (m *Machine) arm(in Input) {
	switch {
	case in.Long:
		m.acct.PendingSide = models.Long
	case in.Short:
		m.acct.PendingSide = models.Short
	default:
		m.acct.PendingSide = models.NoSide
	}
}

func (m *Machine) open(side models.Side, in Input) *models.Position {
	margin := m.p.Sizer.Margin(m.acct.Balance, m.acct.LastPnL)
	if margin <= 0 {
		return nil
	}
	pos := &models.Position{
		Side:        side,
		EntryPrice:  in.Price,
		PeakPrice:   in.Price,
		OpenedAt:    in.At,
		OpenedIndex: in.Index,
		Margin:      margin,
	}
	m.acct.ActiveTrade = pos
	return pos
}

// evaluate moves the peak and returns the first exit rule that fires.
func (m *Machine) evaluate(pos *models.Position, in Input) (models.ExitReason, bool) {
	price := in.Price
	risk := m.p.Risk

	var pnlPct, retrace float64
	var stopHit, reversed bool
	switch pos.Side {
	case models.Long:
		pos.PeakPrice = math.Max(pos.PeakPrice, price)
		pnlPct = (price - pos.EntryPrice) / pos.EntryPrice
		retrace = (pos.PeakPrice - price) / pos.PeakPrice
		stopHit = price <= pos.EntryPrice*(1-risk.StopLossPct)
		reversed = in.Short
	case models.Short:
		pos.PeakPrice = math.Min(pos.PeakPrice, price)
		pnlPct = (pos.EntryPrice - price) / pos.EntryPrice
		retrace = (price - pos.PeakPrice) / pos.PeakPrice
		stopHit = price >= pos.EntryPrice*(1+risk.StopLossPct)
		reversed = in.Long
	}
	if pnlPct >= risk.TrailingTriggerPct {
		pos.TrailingArmed = true
	}

	switch {
	case stopHit:
		return models.StopLoss, true
	case pos.TrailingArmed && retrace >= risk.TrailingOffsetPct:
		return models.TrailingStop, true
	case reversed:
		return models.ReverseSignal, true
	case in.ManualExit:
		return models.ManualExit, true
	}
	return "", false
}

func (m *Machine) close(pos *models.Position, in Input, reason models.ExitReason) *models.TradeRecord {
	a := m.acct
	pnl := PnLFraction(pos.Side, pos.EntryPrice, in.Price) * m.p.Leverage * pos.Margin
	a.Balance += pnl
	a.LastPnL = pnl
	a.ActiveTrade = nil
	if a.Balance <= m.p.LiquidationFloor {
		a.Balance = 0
		a.Liquidated = true
		a.PendingSide = models.NoSide
	}

	rec := &models.TradeRecord{
		BotID:      m.p.BotID,
		Bot:        m.p.Bot,
		Side:       pos.Side,
		EntryPrice: pos.EntryPrice,
		EntryTime:  pos.OpenedAt,
		ExitPrice:  in.Price,
		ExitTime:   in.At,
		Leverage:   m.p.Leverage,
		Margin:     pos.Margin,
		PnL:        pnl,
		Balance:    a.Balance,
		Reason:     reason,
	}
	if m.p.NewID != nil {
		rec.ID = m.p.NewID()
	}
	return rec
}

// PnLFraction is the raw move from entry to exit in the position's favour.
func PnLFraction(side models.Side, entry, exit float64) float64 {
	if side == models.Short {
		return (entry - exit) / entry
	}
	return (exit - entry) / entry
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

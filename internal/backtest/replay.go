package backtest

import (
	"time"

	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/position"
)

// Stats aggregates one replay.
type Stats struct {
	FinalBalance float64
	Trades       int
	Wins         int
	Liquidated   bool
	OpenAtEnd    bool
	TradeLog     []models.TradeRecord
}

// WinRate is the share of closed trades with positive PnL, in percent.
func (s Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// Replay runs one state machine over the full series. long and short must be
// aligned with closes; times may be shorter, in which case steps carry a zero time.
// A position still open after the last bar is left unrealised.
func Replay(p position.Params, balance float64, times []time.Time, closes []float64, long, short []bool) Stats {
	return replay(p, balance, times, closes, long, short, false)
}

// ReplayWithTrades is Replay that also keeps every closed TradeRecord.
func ReplayWithTrades(p position.Params, balance float64, times []time.Time, closes []float64, long, short []bool) Stats {
	return replay(p, balance, times, closes, long, short, true)
}

func replay(p position.Params, balance float64, times []time.Time, closes []float64, long, short []bool, keep bool) Stats {
	acct := &models.Account{Balance: balance}
	m := position.New(p, acct)

	var st Stats
	for i, price := range closes {
		in := position.Input{Index: i, Price: price, Long: long[i], Short: short[i]}
		if i < len(times) {
			in.At = times[i]
		}
		out := m.Step(in)
		if out.Closed != nil {
			st.Trades++
			if out.Closed.PnL > 0 {
				st.Wins++
			}
			if keep {
				st.TradeLog = append(st.TradeLog, *out.Closed)
			}
		}
		if m.Terminal() {
			break
		}
	}

	st.FinalBalance = acct.Balance
	st.Liquidated = acct.Liquidated
	st.OpenAtEnd = acct.ActiveTrade != nil
	return st
}

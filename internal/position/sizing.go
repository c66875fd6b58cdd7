package position

import "math"

// MarginSizer decides how much capital the next trade commits.
type MarginSizer interface {
	Margin(balance, lastPnL float64) float64
}

// FixedMargin commits the same amount to every trade.
type FixedMargin struct {
	Amount float64
}

func (f FixedMargin) Margin(_, _ float64) float64 {
	return f.Amount
}

// CompoundingMargin adds the previous trade's profit to the base margin once the
// balance reaches Threshold, capped at CapFraction of the current balance.
type CompoundingMargin struct {
	Base        float64
	Threshold   float64
	CapFraction float64
}

func (c CompoundingMargin) Margin(balance, lastPnL float64) float64 {
	if balance < c.Threshold {
		return c.Base
	}
	m := c.Base + math.Max(0, lastPnL)
	return math.Min(m, balance*c.CapFraction)
}

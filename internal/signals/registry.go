package signals

import (
	"errors"
	"fmt"
	"strings"

	"signal-combo-bot-go/internal/indicators"
)

var (
	ErrUnknownCondition = errors.New("unknown condition")
	ErrEmptyCombo       = errors.New("empty indicator combo")
)

// Predicate decides eligibility from a condition's inputs, given in the order
// the condition declares them. Inputs are never NaN.
type Predicate func(in []float64) bool

// Condition is one named entry rule.
type Condition struct {
	Name   string
	Inputs []string
	Long   Predicate
	Short  Predicate
}

// Registry is the fixed set of conditions a matrix can be built from.
type Registry struct {
	conds   map[string]Condition
	order   []string
	aliases map[string]string
}

// NewRegistry builds a registry. Later conditions replace earlier ones of the same name.
func NewRegistry(conds ...Condition) *Registry {
	r := &Registry{
		conds:   make(map[string]Condition, len(conds)),
		aliases: make(map[string]string),
	}
	for _, c := range conds {
		name := normalize(c.Name)
		if _, exists := r.conds[name]; !exists {
			r.order = append(r.order, name)
		}
		c.Name = name
		r.conds[name] = c
	}
	return r
}

// Alias maps an alternative spelling onto a registered condition.
func (r *Registry) Alias(alias, name string) *Registry {
	r.aliases[normalize(alias)] = normalize(name)
	return r
}

// Names returns the registered conditions in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Lookup resolves name, following aliases.
func (r *Registry) Lookup(name string) (Condition, bool) {
	name = normalize(name)
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	c, ok := r.conds[name]
	return c, ok
}

// Combo resolves names into a canonical combo.
func (r *Registry) Combo(names ...string) (Combo, error) {
	resolved := make([]string, 0, len(names))
	for _, n := range names {
		c, ok := r.Lookup(n)
		if !ok {
			return Combo{}, fmt.Errorf("%w: %q", ErrUnknownCondition, n)
		}
		resolved = append(resolved, c.Name)
	}
	return NewCombo(resolved...)
}

func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func below(limit float64) Predicate {
	return func(in []float64) bool { return in[0] < limit }
}

func above(limit float64) Predicate {
	return func(in []float64) bool { return in[0] > limit }
}

func firstAboveSecond(in []float64) bool { return in[0] > in[1] }
func firstBelowSecond(in []float64) bool { return in[0] < in[1] }

// DefaultRegistry returns the standard condition set.
//
// ADX, ER and CHOP only measure trend strength, so they are eligible for both
// sides at once; with the long tie-break they favour longs and make an open short
// exit on the next strong bar. ADX_DIR adds the price direction.
func DefaultRegistry() *Registry {
	withDirection := func(limit float64, up bool) Predicate {
		return func(in []float64) bool {
			if up {
				return in[0] > limit && in[1] > in[2]
			}
			return in[0] > limit && in[1] < in[2]
		}
	}
	signed := func(up bool) Predicate {
		return func(in []float64) bool {
			if up {
				return in[0] > 0 && in[1] > in[2]
			}
			return in[0] < 0 && in[1] < in[2]
		}
	}

	return NewRegistry(
		Condition{Name: "RSI", Inputs: []string{indicators.ColRSI}, Long: below(30), Short: above(70)},
		Condition{Name: "MACD", Inputs: []string{indicators.ColMACDHist}, Long: above(0), Short: below(0)},
		Condition{Name: "ADX", Inputs: []string{indicators.ColADX}, Long: above(25), Short: above(25)},
		Condition{
			Name:   "ADX_DIR",
			Inputs: []string{indicators.ColADX, indicators.ColClose, indicators.ColClosePrev},
			Long:   withDirection(25, true),
			Short:  withDirection(25, false),
		},
		Condition{Name: "STOCH", Inputs: []string{indicators.ColStochK}, Long: below(20), Short: above(80)},
		Condition{Name: "WILLR", Inputs: []string{indicators.ColWillR}, Long: below(-80), Short: above(-20)},
		Condition{
			Name:   "EMA_X",
			Inputs: []string{indicators.ColEMA20, indicators.ColEMA50},
			Long:   firstAboveSecond,
			Short:  firstBelowSecond,
		},
		Condition{
			Name:   "PSAR",
			Inputs: []string{indicators.ColClose, indicators.ColPSAR},
			Long:   firstAboveSecond,
			Short:  firstBelowSecond,
		},
		Condition{
			Name:   "HMA",
			Inputs: []string{indicators.ColClose, indicators.ColHMA20},
			Long:   firstAboveSecond,
			Short:  firstBelowSecond,
		},
		Condition{Name: "ER", Inputs: []string{indicators.ColER10}, Long: above(0.5), Short: above(0.5)},
		Condition{Name: "AO", Inputs: []string{indicators.ColAO}, Long: above(0), Short: below(0)},
		Condition{Name: "MFI", Inputs: []string{indicators.ColMFI}, Long: below(20), Short: above(80)},
		Condition{Name: "CCI", Inputs: []string{indicators.ColCCI}, Long: below(-100), Short: above(100)},
		Condition{Name: "MOM", Inputs: []string{indicators.ColMOM}, Long: above(0), Short: below(0)},
		Condition{
			Name:   "TRIX",
			Inputs: []string{indicators.ColTRIX, indicators.ColClose, indicators.ColClosePrev},
			Long:   signed(true),
			Short:  signed(false),
		},
		Condition{Name: "UO", Inputs: []string{indicators.ColUO}, Long: below(30), Short: above(70)},
		Condition{Name: "SUPERT", Inputs: []string{indicators.ColSuperDir}, Long: above(0), Short: below(0)},
		Condition{Name: "FISHER", Inputs: []string{indicators.ColFisher}, Long: above(0), Short: below(0)},
		Condition{
			Name:   "VORTEX",
			Inputs: []string{indicators.ColVIPlus, indicators.ColVIMinus},
			Long:   firstAboveSecond,
			Short:  firstBelowSecond,
		},
		Condition{Name: "CHOP", Inputs: []string{indicators.ColCHOP}, Long: below(38), Short: below(38)},
		Condition{Name: "TSI", Inputs: []string{indicators.ColTSI}, Long: above(0), Short: below(0)},
	).Alias("EMA", "EMA_X")
}

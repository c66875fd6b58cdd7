package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"signal-combo-bot-go/internal/indicators"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/signals"

	"github.com/go-playground/validator/v10"
)

// DefaultLeverages is the backtest sweep used when none is configured.
var DefaultLeverages = []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50}

// LoadConfig reads the JSON config at path over Default, fills per-bot
// defaults and validates the result. A key present in the file always wins,
// even when its value is zero.
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	config := Default()
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	applyBotDefaults(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Default returns a configuration with every setting at its default value.
func Default() *models.Config {
	return &models.Config{
		Symbol:      "BTCUSDT",
		DBPath:      "data/state",
		TradeDBPath: "data/trades.db",
		LogConfig: models.LogConfig{
			Level:      "info",
			Output:     "console",
			File:       "logs/bot.log",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
		Backtest: models.BacktestConfig{
			Timeframes:       []string{"15m", "1h", "4h"},
			DataDir:          "data",
			Leverages:        append([]float64(nil), DefaultLeverages...),
			InitialBalance:   250,
			MarginPerTrade:   100,
			LiquidationFloor: 10,
			MaxComboSize:     3,
			MinTrades:        6,
			MinFinalBalance:  1000,
			TopN:             10,
			Risk:             models.DefaultRiskPolicy(),
		},
		Live: models.LiveConfig{
			IntervalSec:         30,
			FetchTimeoutSec:     10,
			KlineLimit:          100,
			RequestsPerSecond:   5,
			Burst:               5,
			InitialBalance:      250,
			MarginPerTrade:      100,
			CompoundThreshold:   1000,
			CompoundCapFraction: 0.5,
			LiquidationFloor:    10,
			ListenAddr:          ":8080",
		},
	}
}

// applyBotDefaults names unnamed bots and fills unset risk options. A zero
// risk option is never valid, so it always means "not given".
func applyBotDefaults(c *models.Config) {
	def := models.DefaultRiskPolicy()
	for i := range c.Live.Bots {
		bot := &c.Live.Bots[i]
		setFloat(&bot.Risk.StopLossPct, def.StopLossPct)
		setFloat(&bot.Risk.TrailingTriggerPct, def.TrailingTriggerPct)
		setFloat(&bot.Risk.TrailingOffsetPct, def.TrailingOffsetPct)
		if bot.Name == "" {
			bot.Name = fmt.Sprintf("bot-%d", bot.ID)
		}
	}
}

// Validate checks field constraints, unique bot ids and that live bots fetch
// enough bars for every indicator to warm up. Unknown condition names are not
// an error here; see ConditionProblems.
func Validate(c *models.Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid config: %w", verrs)
		}
		return err
	}

	if c.Live.KlineLimit <= indicators.MaxLookback {
		return fmt.Errorf("invalid config: live.kline_limit %d must exceed the longest indicator warm-up (%d bars)",
			c.Live.KlineLimit, indicators.MaxLookback)
	}
	seen := make(map[int]bool)
	for _, bot := range c.Live.Bots {
		if seen[bot.ID] {
			return fmt.Errorf("invalid config: duplicate bot id %d", bot.ID)
		}
		seen[bot.ID] = true
	}
	return nil
}

// ConditionProblems lists every backtest indicator and live bot combo that
// names a condition reg does not know. These only affect their own entry: the
// sweep leaves the indicator out and the state manager skips the bot.
func ConditionProblems(c *models.Config, reg *signals.Registry) []error {
	var problems []error
	for _, name := range c.Backtest.Indicators {
		if _, ok := reg.Lookup(name); !ok {
			problems = append(problems, fmt.Errorf("backtest indicator %q: %w", name, signals.ErrUnknownCondition))
		}
	}
	for _, bot := range c.Live.Bots {
		if _, err := reg.Combo(bot.Indicators...); err != nil {
			problems = append(problems, fmt.Errorf("bot %d (%s) will be skipped: %w", bot.ID, bot.Name, err))
		}
	}
	return problems
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

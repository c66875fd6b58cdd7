package models

import (
	"fmt"
	"time"
)

// Config holds every configurable parameter of the bot.
type Config struct {
	Symbol      string         `json:"symbol" validate:"required"`        // e.g. "BTCUSDT"
	DBPath      string         `json:"db_path" validate:"required"`       // badger directory for state snapshots
	TradeDBPath string         `json:"trade_db_path" validate:"required"` // sqlite file for the trade log
	LogConfig   LogConfig      `json:"log"`
	Backtest    BacktestConfig `json:"backtest"`
	Live        LiveConfig     `json:"live"`
}

// LogConfig defines the logging outputs.
type LogConfig struct {
	Level      string `json:"level"`       // "debug", "info", "warn", "error"
	Output     string `json:"output"`      // "console", "file", "both"
	File       string `json:"file"`        // log file path
	MaxSize    int    `json:"max_size"`    // MB per file
	MaxBackups int    `json:"max_backups"` // rotated files kept
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`
}

// BacktestConfig drives the combinatorial sweep.
type BacktestConfig struct {
	Timeframes       []string          `json:"timeframes" validate:"min=1,dive,required"`
	DataDir          string            `json:"data_dir"`
	DataFiles        map[string]string `json:"data_files,omitempty"` // timeframe -> csv path, overrides DataDir lookup
	Indicators       []string          `json:"indicators,omitempty"` // empty means every available condition
	Leverages        []float64         `json:"leverages" validate:"min=1,dive,gt=0"`
	InitialBalance   float64           `json:"initial_balance" validate:"gt=0"`
	MarginPerTrade   float64           `json:"margin_per_trade" validate:"gt=0"`
	LiquidationFloor float64           `json:"liquidation_floor" validate:"gte=0"`
	MaxComboSize     int               `json:"max_combo_size" validate:"gte=1"`
	MinTrades        int               `json:"min_trades" validate:"gte=0"`
	MinFinalBalance  float64           `json:"min_final_balance"`
	TopN             int               `json:"top_n" validate:"gte=1"`
	Workers          int               `json:"workers" validate:"gte=0"` // 0 means runtime.NumCPU()
	Risk             RiskPolicy        `json:"risk"`
	ReportFile       string            `json:"report_file,omitempty"`
}

// LiveConfig drives the virtual trading loop.
type LiveConfig struct {
	IntervalSec         int         `json:"interval_sec" validate:"gt=0"`
	FetchTimeoutSec     int         `json:"fetch_timeout_sec" validate:"gt=0"`
	KlineLimit          int         `json:"kline_limit" validate:"gt=0"` // must exceed indicators.MaxLookback
	RequestsPerSecond   float64     `json:"requests_per_second" validate:"gt=0"`
	Burst               int         `json:"burst" validate:"gte=1"`
	InitialBalance      float64     `json:"initial_balance" validate:"gt=0"`
	MarginPerTrade      float64     `json:"margin_per_trade" validate:"gt=0"`
	CompoundThreshold   float64     `json:"compound_threshold" validate:"gte=0"`
	CompoundCapFraction float64     `json:"compound_cap_fraction" validate:"gt=0,lte=1"`
	LiquidationFloor    float64     `json:"liquidation_floor" validate:"gte=0"`
	ListenAddr          string      `json:"listen_addr"`
	Bots                []BotConfig `json:"bots" validate:"dive"`
}

// BotConfig binds one timeframe, one indicator combo and one risk policy to a named bot.
type BotConfig struct {
	ID          int        `json:"id" validate:"gt=0"`
	Name        string     `json:"name" validate:"required"`
	Timeframe   string     `json:"timeframe" validate:"required"`
	Indicators  []string   `json:"indicators" validate:"min=1"`
	Leverage    float64    `json:"leverage" validate:"gt=0"`
	Risk        RiskPolicy `json:"settings"`
	Compounding bool       `json:"compounding"`
	Active      bool       `json:"active"`
}

// RiskPolicy is immutable for the lifetime of a bot or a backtest run.
type RiskPolicy struct {
	StopLossPct        float64 `json:"sl" validate:"gt=0,lt=1"`
	TrailingTriggerPct float64 `json:"ts_trigger" validate:"gt=0"`
	TrailingOffsetPct  float64 `json:"ts_offset" validate:"gt=0,lt=1"`
}

// DefaultRiskPolicy mirrors the 2% stop, 1% trigger, 0.5% trail used by most bots.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{StopLossPct: 0.02, TrailingTriggerPct: 0.01, TrailingOffsetPct: 0.005}
}

// IsZero reports whether no option has been set.
func (r RiskPolicy) IsZero() bool {
	return r.StopLossPct == 0 && r.TrailingTriggerPct == 0 && r.TrailingOffsetPct == 0
}

func (r RiskPolicy) String() string {
	return fmt.Sprintf("sl=%.4f ts_trigger=%.4f ts_offset=%.4f", r.StopLossPct, r.TrailingTriggerPct, r.TrailingOffsetPct)
}

// Kline is one OHLCV bar.
type Kline struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

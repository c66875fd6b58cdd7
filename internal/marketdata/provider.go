// Package marketdata supplies OHLCV bars to the live scheduler and the backtest.
package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"signal-combo-bot-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

// Provider fetches the most recent limit bars of symbol at interval. Bars are
// returned oldest first; the last one may still be forming.
type Provider interface {
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error)
}

// BinanceProvider reads public klines from Binance. Every request waits on a
// shared limiter so concurrent fetches stay inside one rate budget.
type BinanceProvider struct {
	client  *binance.Client
	limiter *rate.Limiter
}

// NewBinanceProvider creates a provider. Keys may be empty: klines are public.
// A nil limiter disables rate limiting.
func NewBinanceProvider(apiKey, secretKey string, limiter *rate.Limiter) *BinanceProvider {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &BinanceProvider{
		client:  binance.NewClient(apiKey, secretKey),
		limiter: limiter,
	}
}

// SetBaseURL points the client at another endpoint, e.g. the testnet.
func (p *BinanceProvider) SetBaseURL(u string) {
	p.client.BaseURL = u
}

// FetchKlines implements Provider.
func (p *BinanceProvider) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]models.Kline, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	raw, err := p.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s klines: %w", symbol, interval, err)
	}

	bars := make([]models.Kline, 0, len(raw))
	for _, k := range raw {
		bar, err := ParseKline(k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// ParseKline converts the exchange's string encoded fields into a Kline.
func ParseKline(openTimeMs int64, open, high, low, closePrice, volume string) (models.Kline, error) {
	bar := models.Kline{OpenTime: time.UnixMilli(openTimeMs).UTC()}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", open, &bar.Open},
		{"high", high, &bar.High},
		{"low", low, &bar.Low},
		{"close", closePrice, &bar.Close},
		{"volume", volume, &bar.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return models.Kline{}, fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return bar, nil
}

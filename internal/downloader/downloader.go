package downloader

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// pageSize is the most klines Binance returns per request.
const pageSize = 1000

// Header is the column layout written by DownloadKlines and read by marketdata.LoadCSV.
var Header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader saves historical klines from Binance to CSV files.
type KlineDownloader struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewKlineDownloader creates a downloader. Public endpoints need no API key.
func NewKlineDownloader(limiter *rate.Limiter, logger *zap.Logger) *KlineDownloader {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KlineDownloader{
		client:  binance.NewClient("", ""),
		limiter: limiter,
		logger:  logger,
	}
}

// SetBaseURL points the client at another endpoint.
func (d *KlineDownloader) SetBaseURL(u string) {
	d.client.BaseURL = u
}

// FilePath is the conventional cache location for a download.
func FilePath(dir, symbol, interval string, start, end time.Time) string {
	name := fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, start.Format("20060102"), end.Format("20060102"))
	return filepath.Join(dir, name)
}

// DownloadKlines writes every interval bar of symbol in [startTime, endTime) to
// filePath. An existing file is treated as a cache hit and left untouched.
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, startTime, endTime time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("Using cached klines", zap.String("file", filePath))
		return nil
	}

	d.logger.Info("Downloading klines",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Time("from", startTime),
		zap.Time("to", endTime),
	)

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filePath, err)
	}

	// Write to a temp file so an interrupted download never looks like a cache hit.
	tmp := filePath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer os.Remove(tmp)

	rows, err := d.writeKlines(ctx, file, symbol, interval, startTime, endTime)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("finalize %s: %w", filePath, err)
	}

	d.logger.Info("Klines saved", zap.String("file", filePath), zap.Int("rows", rows))
	return nil
}

func (d *KlineDownloader) writeKlines(ctx context.Context, file *os.File, symbol, interval string, startTime, endTime time.Time) (int, error) {
	writer := csv.NewWriter(file)
	if err := writer.Write(Header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	for t := startTime; t.Before(endTime); {
		if err := d.limiter.Wait(ctx); err != nil {
			return rows, err
		}
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(endTime.UnixMilli() - 1).
			Limit(pageSize).
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("download klines: %w", err)
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("write csv record: %w", err)
			}
			rows++
		}

		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("Downloaded page", zap.Time("through", t))
		if len(klines) < pageSize {
			break
		}
	}

	writer.Flush()
	return rows, writer.Error()
}

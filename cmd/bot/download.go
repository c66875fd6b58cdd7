package main

import (
	"fmt"
	"os"
	"time"

	"signal-combo-bot-go/internal/downloader"
	"signal-combo-bot-go/internal/logger"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	downloadSymbol    string
	downloadIntervals []string
	downloadStart     string
	downloadEnd       string
	downloadDir       string

	downloadCmd = &cobra.Command{
		Use:   "download",
		Short: "Download historical klines to csv for backtesting",
		RunE:  runDownload,
	}
)

func init() {
	f := downloadCmd.Flags()
	f.StringVar(&downloadSymbol, "symbol", "", "symbol (default: config symbol)")
	f.StringSliceVar(&downloadIntervals, "interval", nil, "intervals (default: backtest.timeframes)")
	f.StringVar(&downloadStart, "start", "", "start date, YYYY-MM-DD")
	f.StringVar(&downloadEnd, "end", "", "end date, YYYY-MM-DD (exclusive)")
	f.StringVar(&downloadDir, "dir", "", "output directory (default: backtest.data_dir)")
	_ = downloadCmd.MarkFlagRequired("start")
	_ = downloadCmd.MarkFlagRequired("end")
}

func runDownload(cmd *cobra.Command, args []string) error {
	start, err1 := time.Parse(time.DateOnly, downloadStart)
	end, err2 := time.Parse(time.DateOnly, downloadEnd)
	if err1 != nil || err2 != nil {
		return fmt.Errorf("dates must be YYYY-MM-DD. start: %v, end: %v", err1, err2)
	}
	if !end.After(start) {
		return fmt.Errorf("end %s must be after start %s", downloadEnd, downloadStart)
	}

	symbol := downloadSymbol
	if symbol == "" {
		symbol = cfg.Symbol
	}
	intervals := downloadIntervals
	if len(intervals) == 0 {
		intervals = cfg.Backtest.Timeframes
	}
	dir := downloadDir
	if dir == "" {
		dir = cfg.Backtest.DataDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	d := downloader.NewKlineDownloader(rate.NewLimiter(rate.Limit(cfg.Live.RequestsPerSecond), cfg.Live.Burst), logger.L())
	for _, interval := range intervals {
		path := downloader.FilePath(dir, symbol, interval, start, end)
		logger.S().Infof("Downloading %s %s klines from %s to %s...", symbol, interval, downloadStart, downloadEnd)
		if err := d.DownloadKlines(cmd.Context(), symbol, interval, path, start, end); err != nil {
			return fmt.Errorf("download %s %s: %w", symbol, interval, err)
		}
		logger.S().Infof("Saved %s", path)
	}
	return nil
}

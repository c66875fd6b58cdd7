package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"signal-combo-bot-go/internal/control"
	"signal-combo-bot-go/internal/idgen"
	"signal-combo-bot-go/internal/logger"
	"signal-combo-bot-go/internal/marketdata"
	"signal-combo-bot-go/internal/persistence"
	"signal-combo-bot-go/internal/scheduler"
	"signal-combo-bot-go/internal/statemanager"
	"signal-combo-bot-go/internal/storage"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	liveReplay  map[string]string
	liveBaseURL string
	liveListen  string
	liveMemory  bool

	liveCmd = &cobra.Command{
		Use:   "live",
		Short: "Run the configured bots against live market data (virtual balances only)",
		RunE:  runLive,
	}
)

func init() {
	f := liveCmd.Flags()
	f.StringToStringVar(&liveReplay, "replay", nil, "serve klines from csv files instead of Binance, e.g. 1h=data/BTCUSDT-1h.csv")
	f.StringVar(&liveBaseURL, "base-url", "", "override the Binance REST endpoint")
	f.StringVar(&liveListen, "listen", "", "control server address (default: live.listen_addr)")
	f.BoolVar(&liveMemory, "ephemeral", false, "keep bot state in memory only (nothing survives a restart)")
}

func runLive(cmd *cobra.Command, args []string) error {
	lc := cfg.Live
	if len(lc.Bots) == 0 {
		return fmt.Errorf("no bots configured under live.bots")
	}
	logger.S().Info("--- Starting virtual trading ---")

	repo, err := openStateRepository()
	if err != nil {
		return err
	}
	defer repo.Close()

	loaded, err := repo.LoadState()
	if err != nil {
		logger.S().Warnf("Could not load saved state, starting fresh: %v", err)
		loaded = nil
	}

	db, err := storage.InitDB(cfg.TradeDBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	trades := storage.NewTradeLog(db)

	sm := statemanager.NewStateManager(
		statemanager.BuildState(lc.Bots, lc.InitialBalance, loaded),
		repo,
		trades,
		statemanager.Options{
			InitialBalance:      lc.InitialBalance,
			MarginPerTrade:      lc.MarginPerTrade,
			CompoundThreshold:   lc.CompoundThreshold,
			CompoundCapFraction: lc.CompoundCapFraction,
			LiquidationFloor:    lc.LiquidationFloor,
			NewID:               idgen.New,
		},
		logger.L(),
	)
	sm.Start()
	defer sm.Stop()

	var provider marketdata.Provider
	if len(liveReplay) > 0 {
		logger.S().Infof("Replaying klines from %d csv file(s)", len(liveReplay))
		provider = marketdata.NewCSVProvider(liveReplay)
	} else {
		bp := marketdata.NewBinanceProvider(
			os.Getenv("BINANCE_API_KEY"),
			os.Getenv("BINANCE_SECRET_KEY"),
			rate.NewLimiter(rate.Limit(lc.RequestsPerSecond), lc.Burst),
		)
		if liveBaseURL != "" {
			bp.SetBaseURL(strings.TrimRight(liveBaseURL, "/"))
		}
		provider = bp
	}

	sched := scheduler.New(scheduler.ConfigFrom(cfg.Symbol, lc), provider, sm, nil, logger.L())
	server := control.NewServer(sm, trades, logger.L())
	addr := lc.ListenAddr
	if liveListen != "" {
		addr = liveListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, addr) })
	if err := g.Wait(); err != nil {
		return err
	}

	logger.S().Info("Bots stopped, state saved.")
	return nil
}

func openStateRepository() (persistence.StateRepository, error) {
	if liveMemory {
		logger.S().Warn("Ephemeral mode: bot state will not be saved to disk.")
		return persistence.NewMemoryRepository(), nil
	}
	return persistence.NewBadgerRepository(cfg.DBPath)
}

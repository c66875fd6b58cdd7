package main

import (
	"os"

	"signal-combo-bot-go/internal/config"
	"signal-combo-bot-go/internal/logger"
	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/signals"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *models.Config

	rootCmd = &cobra.Command{
		Use:           "bot",
		Short:         "Indicator-combination backtester and virtual trading bots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Bootstrap logger so .env and config problems are visible.
			logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

			if err := godotenv.Load(); err != nil {
				logger.S().Info("No .env file found, reading settings from the environment.")
			}

			loaded, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logger.InitLogger(cfg.LogConfig)
			for _, problem := range config.ConditionProblems(cfg, signals.DefaultRegistry()) {
				logger.S().Warnf("Config: %v", problem)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the config file")
	rootCmd.AddCommand(backtestCmd, liveCmd, downloadCmd)
}

func main() {
	err := rootCmd.Execute()
	_ = logger.S().Sync()
	if err != nil {
		logger.S().Errorf("%v", err)
		os.Exit(1)
	}
}

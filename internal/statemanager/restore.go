package statemanager

import (
	"signal-combo-bot-go/internal/models"
)

// stateVersion is bumped whenever the persisted layout changes incompatibly.
const stateVersion = 1

// BuildState merges the configured bots with a previously persisted state.
// Static settings always come from configs; the ledger (balance, open trade,
// pending entry, pnl, active flag) survives restarts for bots whose id is
// unchanged. Persisted bots that are no longer configured are dropped.
func BuildState(configs []models.BotConfig, initialBalance float64, loaded *models.SystemState) *models.SystemState {
	state := &models.SystemState{Version: stateVersion}
	if loaded != nil && loaded.Version == stateVersion {
		state.LastUpdateTime = loaded.LastUpdateTime
	} else {
		loaded = nil
	}

	for _, cfg := range configs {
		bot := &models.BotState{
			BotConfig: cfg,
			Account:   models.Account{Balance: initialBalance},
		}
		bot.Indicators = append([]string(nil), cfg.Indicators...)
		if loaded != nil {
			if prev := loaded.FindBot(cfg.ID); prev != nil {
				bot.Account = prev.Account
				bot.PnL = prev.PnL
				bot.ManualExit = prev.ManualExit
				bot.LastPrice = prev.LastPrice
				bot.UpdatedAt = prev.UpdatedAt
				bot.Active = prev.Active
			}
		}
		state.Bots = append(state.Bots, bot)
	}
	return state
}

// Package control exposes the live bots to an operator over HTTP and a
// websocket: read-only snapshots and trade history, plus manual exit and
// reset commands routed through the state manager.
package control

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/statemanager"
	"signal-combo-bot-go/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// commandTimeout bounds how long a request waits for the state manager.
const commandTimeout = 5 * time.Second

// StateAPI is the subset of the state manager the operator surface needs.
type StateAPI interface {
	GetStateSnapshot() *models.SystemState
	RequestManualExit(ctx context.Context, botID int) error
	ResetBot(ctx context.Context, botID int) error
	ResetAll(ctx context.Context) error
	Subscribe() (<-chan *models.SystemState, func())
}

// Server serves the operator API.
type Server struct {
	state  StateAPI
	trades storage.TradeLog
	logger *zap.Logger
	engine *gin.Engine
}

// SellRequest is the body of POST /control/sell.
type SellRequest struct {
	BotID int `json:"bot_id" binding:"required,gt=0"`
}

// NewServer builds the router. trades may be nil, in which case /history
// answers 503.
func NewServer(state StateAPI, trades storage.TradeLog, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{state: state, trades: trades, logger: logger, engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	r := s.engine
	r.GET("/status", s.handleStatus)
	r.GET("/bots", s.handleBots)
	r.GET("/history", s.handleHistory)
	r.GET("/history/:bot", s.handleHistory)
	r.POST("/control/sell", s.handleSell)
	r.POST("/control/reset", s.handleResetAll)
	r.POST("/control/reset/:bot", s.handleResetBot)
	r.GET("/ws", s.handleWebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Control server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleStatus(c *gin.Context) {
	st := s.state.GetStateSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":           st.Status,
		"bots":             len(st.Bots),
		"last_update_time": st.LastUpdateTime,
	})
}

func (s *Server) handleBots(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.GetStateSnapshot().Bots)
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trade log disabled"})
		return
	}
	botID := 0
	if raw := c.Param("bot"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
			return
		}
		botID = id
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	trades, err := s.trades.ListTrades(botID, limit)
	if err != nil {
		s.logger.Error("Failed to list trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read trade log"})
		return
	}
	if trades == nil {
		trades = []models.TradeRecord{}
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) handleSell(c *gin.Context) {
	var req SellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"bot_id\": <id>}"})
		return
	}
	s.command(c, "sell", req.BotID, func(ctx context.Context) error {
		return s.state.RequestManualExit(ctx, req.BotID)
	})
}

func (s *Server) handleResetBot(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("bot"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid bot id"})
		return
	}
	s.command(c, "reset", id, func(ctx context.Context) error {
		return s.state.ResetBot(ctx, id)
	})
}

func (s *Server) handleResetAll(c *gin.Context) {
	s.command(c, "reset_all", 0, s.state.ResetAll)
}

func (s *Server) command(c *gin.Context, action string, botID int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), commandTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.logger.Info("Operator command applied", zap.String("action", action), zap.Int("bot", botID))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "action": action, "bot_id": botID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, statemanager.ErrBotNotFound):
		return http.StatusNotFound
	case errors.Is(err, statemanager.ErrNoActiveTrade):
		return http.StatusConflict
	case errors.Is(err, statemanager.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

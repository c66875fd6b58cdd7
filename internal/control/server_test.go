package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-combo-bot-go/internal/models"
	"signal-combo-bot-go/internal/statemanager"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeState struct {
	mu       sync.Mutex
	state    *models.SystemState
	sold     []int
	resets   []int
	resetAll int
	subs     []chan *models.SystemState
}

func newFakeState() *fakeState {
	return &fakeState{state: &models.SystemState{
		Version: 1,
		Status:  models.SystemStatus{Active: true, GlobalBalance: 500},
		Bots: []*models.BotState{
			{BotConfig: models.BotConfig{ID: 1, Name: "bot-1", Timeframe: "1h"}, Account: models.Account{Balance: 250, ActiveTrade: &models.Position{Side: models.Long, EntryPrice: 100}}},
			{BotConfig: models.BotConfig{ID: 2, Name: "bot-2", Timeframe: "4h"}, Account: models.Account{Balance: 250}},
		},
	}}
}

func (f *fakeState) GetStateSnapshot() *models.SystemState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeState) RequestManualExit(_ context.Context, botID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bot := f.state.FindBot(botID)
	if bot == nil {
		return statemanager.ErrBotNotFound
	}
	if bot.ActiveTrade == nil {
		return statemanager.ErrNoActiveTrade
	}
	f.sold = append(f.sold, botID)
	return nil
}

func (f *fakeState) ResetBot(_ context.Context, botID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.FindBot(botID) == nil {
		return statemanager.ErrBotNotFound
	}
	f.resets = append(f.resets, botID)
	return nil
}

func (f *fakeState) ResetAll(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetAll++
	return nil
}

func (f *fakeState) Subscribe() (<-chan *models.SystemState, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan *models.SystemState, 4)
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeState) broadcast(st *models.SystemState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- st
	}
}

func (f *fakeState) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeTrades struct {
	trades  []models.TradeRecord
	lastBot int
	lastLim int
}

func (f *fakeTrades) InsertTrade(rec *models.TradeRecord) error {
	f.trades = append(f.trades, *rec)
	return nil
}

func (f *fakeTrades) ListTrades(botID, limit int) ([]models.TradeRecord, error) {
	f.lastBot, f.lastLim = botID, limit
	var out []models.TradeRecord
	for _, t := range f.trades {
		if botID == 0 || t.BotID == botID {
			out = append(out, t)
		}
	}
	return out, nil
}

func setupServer() (*Server, *fakeState, *fakeTrades) {
	gin.SetMode(gin.TestMode)
	state := newFakeState()
	trades := &fakeTrades{trades: []models.TradeRecord{
		{ID: "a", BotID: 1, PnL: 10, Reason: models.StopLoss},
		{ID: "b", BotID: 2, PnL: -5, Reason: models.ReverseSignal},
	}}
	return NewServer(state, trades, nil), state, trades
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestStatusAndBots(t *testing.T) {
	s, _, _ := setupServer()

	w := doRequest(s, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Status models.SystemStatus `json:"status"`
		Bots   int                 `json:"bots"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Status.Active)
	assert.Equal(t, 500.0, status.Status.GlobalBalance)
	assert.Equal(t, 2, status.Bots)

	w = doRequest(s, http.MethodGet, "/bots", "")
	require.Equal(t, http.StatusOK, w.Code)
	var bots []models.BotState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bots))
	require.Len(t, bots, 2)
	assert.Equal(t, "bot-1", bots[0].Name)
	require.NotNil(t, bots[0].ActiveTrade)
	assert.Equal(t, models.Long, bots[0].ActiveTrade.Side)
}

func TestHistory(t *testing.T) {
	s, _, trades := setupServer()

	w := doRequest(s, http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, w.Code)
	var all []models.TradeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 2)
	assert.Equal(t, 0, trades.lastBot)
	assert.Equal(t, 100, trades.lastLim)

	w = doRequest(s, http.MethodGet, "/history/2?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	var one []models.TradeRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	require.Len(t, one, 1)
	assert.Equal(t, "b", one[0].ID)
	assert.Equal(t, 5, trades.lastLim)

	w = doRequest(s, http.MethodGet, "/history/9", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/history/x", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/history?limit=-1", "").Code)
}

func TestHistoryWithoutTradeLog(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewServer(newFakeState(), nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, doRequest(s, http.MethodGet, "/history", "").Code)
}

func TestSell(t *testing.T) {
	s, state, _ := setupServer()

	w := doRequest(s, http.MethodPost, "/control/sell", `{"bot_id": 1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int{1}, state.sold)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"flat bot", `{"bot_id": 2}`, http.StatusConflict},
		{"unknown bot", `{"bot_id": 42}`, http.StatusNotFound},
		{"missing id", `{}`, http.StatusBadRequest},
		{"malformed", `{"bot_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, doRequest(s, http.MethodPost, "/control/sell", tt.body).Code)
		})
	}
	assert.Equal(t, []int{1}, state.sold)
}

func TestReset(t *testing.T) {
	s, state, _ := setupServer()

	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/control/reset/2", "").Code)
	assert.Equal(t, http.StatusNotFound, doRequest(s, http.MethodPost, "/control/reset/7", "").Code)
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodPost, "/control/reset/abc", "").Code)
	assert.Equal(t, []int{2}, state.resets)

	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/control/reset", "").Code)
	assert.Equal(t, 1, state.resetAll)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := setupServer()
	w := doRequest(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(statemanager.ErrStopped))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}

func TestWebSocket(t *testing.T) {
	s, state, _ := setupServer()
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.State)
	assert.Len(t, msg.State.Bots, 2)

	require.NoError(t, conn.WriteJSON(WSCommand{Action: "sell", BotID: 1}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "ack", msg.Type)
	assert.True(t, msg.OK)
	assert.Equal(t, 1, msg.BotID)

	require.NoError(t, conn.WriteJSON(WSCommand{Action: "sell", BotID: 2}))
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.False(t, msg.OK)
	assert.Contains(t, msg.Error, statemanager.ErrNoActiveTrade.Error())

	require.NoError(t, conn.WriteJSON(WSCommand{Action: "explode"}))
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.False(t, msg.OK)
	assert.Equal(t, errUnknownAction.Error(), msg.Error)

	require.Eventually(t, func() bool { return state.subscribers() == 1 }, time.Second, 10*time.Millisecond)
	pushed := &models.SystemState{Version: 1, Status: models.SystemStatus{TotalPnL: 12.5}}
	state.broadcast(pushed)
	msg = WSMessage{}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "state", msg.Type)
	require.NotNil(t, msg.State)
	assert.Equal(t, 12.5, msg.State.Status.TotalPnL)
}

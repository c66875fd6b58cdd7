package control

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"signal-combo-bot-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var errUnknownAction = errors.New("unknown action")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSCommand is a client message on /ws.
type WSCommand struct {
	Action string `json:"action"` // "sell", "reset" or "reset_all"
	BotID  int    `json:"bot_id,omitempty"`
}

// WSMessage is every server message on /ws.
type WSMessage struct {
	Type   string              `json:"type"` // "state" or "ack"
	State  *models.SystemState `json:"state,omitempty"`
	Action string              `json:"action,omitempty"`
	BotID  int                 `json:"bot_id,omitempty"`
	OK     bool                `json:"ok,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// wsConn serialises writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) send(msg WSMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteJSON(msg)
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket pushes every published state to the client and applies the
// commands it sends.
func (s *Server) handleWebSocket(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer ws.Close()
	conn := &wsConn{conn: ws}

	updates, unsubscribe := s.state.Subscribe()
	defer unsubscribe()

	if err := conn.send(WSMessage{Type: "state", State: s.state.GetStateSnapshot()}); err != nil {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go s.pushLoop(ctx, conn, updates)

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd WSCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			s.logger.Debug("Websocket client disconnected", zap.Error(err))
			return
		}
		ack := WSMessage{Type: "ack", Action: cmd.Action, BotID: cmd.BotID, OK: true}
		if err := s.apply(ctx, cmd); err != nil {
			ack.OK = false
			ack.Error = err.Error()
		}
		if err := conn.send(ack); err != nil {
			return
		}
	}
}

func (s *Server) pushLoop(ctx context.Context, conn *wsConn, updates <-chan *models.SystemState) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.send(WSMessage{Type: "state", State: st}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) apply(ctx context.Context, cmd WSCommand) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	switch cmd.Action {
	case "sell":
		return s.state.RequestManualExit(ctx, cmd.BotID)
	case "reset":
		return s.state.ResetBot(ctx, cmd.BotID)
	case "reset_all":
		return s.state.ResetAll(ctx)
	}
	return errUnknownAction
}

package notify

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Client is one admitted operator socket. Rooms are guarded by the hub.
type Client struct {
	ID        string
	UserID    string
	CompanyID string

	send      chan []byte
	rooms     map[string]struct{}
	hub       *Hub
	closeOnce sync.Once
}

// Send exposes queued frames; it is closed on disconnect.
func (c *Client) Send() <-chan []byte { return c.send }

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

type ConnConfig struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

func (cfg ConnConfig) withDefaults() ConnConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	return cfg
}

// Serve pumps frames between ws and c until either side goes away. It
// blocks and always disconnects c on return.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, c *Client, cfg ConnConfig) {
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.MaxMessageSize)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(ws, c, cfg)
	}()

	h.readPump(ctx, ws, c, cfg)
	h.Disconnect(c)
	<-done
}

func (h *Hub) readPump(ctx context.Context, ws *websocket.Conn, c *Client, cfg ConnConfig) {
	_ = ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).WithField("client_id", c.ID).Warn("notify: socket read failed")
			}
			return
		}
		h.HandleClientMessage(ctx, c, message)
	}
}

func (h *Hub) writePump(ws *websocket.Conn, c *Client, cfg ConnConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.WithFields(logrus.Fields{"client_id": c.ID}).WithError(err).Debug("notify: socket write failed")
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Reject closes a socket whose handshake failed.
func Reject(ws *websocket.Conn, reason string) {
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
	_ = ws.Close()
}

package media

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type ConnConfig struct {
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// Serve reads vendor frames from ws until it closes. Streams started on this
// socket are stopped when it goes away, so whatever was transcribed is still
// written back.
func (g *Gateway) Serve(ctx context.Context, ws *websocket.Conn, cfg ConnConfig) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	ws.SetReadLimit(cfg.MaxMessageSize)

	owned := make(map[string]struct{})
	defer func() {
		_ = ws.Close()
		for id := range owned {
			g.Stop(ctx, id)
		}
	}()

	for {
		_ = ws.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.log.WithError(err).Warn("media: socket closed unexpectedly")
			}
			return
		}
		if id := g.HandleFrame(ctx, data); id != "" {
			owned[id] = struct{}{}
		}
	}
}

package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/adapters/relay"
	"github.com/dkeye/MusicParty/internal/app"
)

func (h *Hub) writePump(ctx context.Context, c *WsRelayConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "hub").Str("peer", string(c.peer)).Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "hub").Str("peer", string(c.peer)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "hub").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, id app.ConnID, c *WsRelayConn) {
	defer func() {
		log.Info().Str("module", "hub").Str("conn", string(id)).Msg("readPump closing")
		h.Registry.Unbind(id)
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "hub").Str("conn", string(id)).Msg("readPump ctx done")
			return
		default:
			if h.opts.IdleTimeout > 0 {
				_ = c.conn.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
			}
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "hub").Str("conn", string(id)).Msg("readPump read error")
				}
				return
			}
			h.handleFrame(ctx, id, c, data)
		}
	}
}

func (h *Hub) handleFrame(ctx context.Context, id app.ConnID, c *WsRelayConn, data []byte) {
	f, err := relay.ParseFrame(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Msg("bad json")
		h.sendError(c, "bad json")
		return
	}

	switch f.Type {
	case relay.FramePublish:
		h.handlePublish(ctx, c, f)
	case relay.FrameSubscribe:
		h.handleSubscribe(ctx, id, c, f)
	case relay.FramePing:
		h.handlePing(c)
	default:
		log.Warn().Str("module", "hub").Str("type", f.Type).Msg("unknown frame")
		h.sendError(c, "unknown frame type "+f.Type)
	}
}

func (h *Hub) sendJSON(c *WsRelayConn, f relay.Frame) {
	b, err := f.Marshal()
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (h *Hub) sendError(c *WsRelayConn, msg string) {
	h.sendJSON(c, relay.Frame{Type: relay.FrameError, Error: msg})
}

package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/adapters/relay"
	"github.com/dkeye/MusicParty/internal/app"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

func (h *Hub) handlePing(conn *WsRelayConn) {
	h.sendJSON(conn, relay.Frame{Type: relay.FramePong})
}

// handlePublish stores the envelope, then fans it out. The sender's id
// always comes from the connection.
func (h *Hub) handlePublish(ctx context.Context, conn *WsRelayConn, f relay.Frame) {
	if f.Envelope == nil {
		h.sendError(conn, "publish without envelope")
		return
	}
	env := *f.Envelope
	if env.FromID != "" && env.FromID != conn.peer {
		h.sendError(conn, "from_id does not match connection")
		return
	}
	env.FromID = conn.peer
	if h.Limiter != nil && !h.Limiter.Allow(conn.peer) {
		log.Warn().Str("module", "hub").Str("peer", string(conn.peer)).Msg("publish rate limited")
		h.sendError(conn, "rate limited")
		return
	}

	stored, err := h.Store.Insert(ctx, env)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Str("peer", string(conn.peer)).Msg("insert envelope")
		h.sendError(conn, err.Error())
		return
	}
	log.Debug().
		Str("module", "hub").
		Str("from", string(stored.FromID)).
		Str("to", string(stored.ToID)).
		Str("kind", string(stored.Kind)).
		Msg("published")
	h.Deliver(stored)
}

// handleSubscribe registers the filter, then replays stored envelopes newer
// than filter.Since, all retained ones when unset. Registering first can
// duplicate an envelope, never lose one.
func (h *Hub) handleSubscribe(ctx context.Context, id app.ConnID, conn *WsRelayConn, f relay.Frame) {
	if f.Filter == nil {
		h.sendError(conn, "subscribe without filter")
		return
	}
	filter := *f.Filter
	if filter.ToID == "" {
		filter.ToID = conn.peer
	}
	if filter.ToID != conn.peer {
		h.sendError(conn, "can only subscribe to own envelopes")
		return
	}
	conn.addFilter(filter)

	backlog, err := h.Store.Since(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("replay query")
		h.sendError(conn, "replay failed")
		return
	}
	log.Info().Str("module", "hub").Str("peer", string(conn.peer)).Int("backlog", len(backlog)).Msg("replay")
	for _, env := range backlog {
		if !h.sendEnvelope(id, conn, env) {
			return
		}
	}
}

// Deliver fans env out to every subscribed connection.
func (h *Hub) Deliver(env domain.Envelope) {
	for _, sub := range h.Registry.Subscribers(env) {
		h.sendEnvelope(sub.ID, sub.Conn, env)
	}
}

// sendEnvelope applies the backpressure policy and reports whether the
// connection is still usable.
func (h *Hub) sendEnvelope(id app.ConnID, conn core.RelayConn, env domain.Envelope) bool {
	b, err := relay.Frame{Type: relay.FrameEnvelope, Envelope: &env}.Marshal()
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Msg("marshal envelope")
		return true
	}
	err = conn.TrySend(b)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrBackpressure):
	default:
		return false
	}

	drops := h.Registry.Dropped(id)
	action := app.DropFrame
	if h.Policy != nil {
		action = h.Policy.OnBackPressure(conn.Peer(), drops)
	}
	log.Warn().
		Str("module", "hub").
		Str("conn", string(id)).
		Str("peer", string(conn.Peer())).
		Int("drops", drops).
		Str("action", action.String()).
		Msg("backpressure")
	if action == app.KickMember {
		h.Registry.Cancel(id)
		conn.Close()
		return false
	}
	return true
}

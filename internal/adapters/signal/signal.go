package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/app"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type HubOptions struct {
	ReadLimit  int64
	SendBuffer int
	// IdleTimeout closes a client that sent nothing, pings included, for
	// that long. 0 disables it.
	IdleTimeout time.Duration
}

// Hub is the signaling relay server: every published envelope is stored,
// then fanned out to the clients subscribed to its recipient.
type Hub struct {
	Store    core.EnvelopeStore
	Registry *app.Registry
	Policy   app.Policy
	Limiter  *RateLimiter
	opts     HubOptions
}

func NewHub(store core.EnvelopeStore, reg *app.Registry, policy app.Policy, limiter *RateLimiter, opts HubOptions) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &Hub{Store: store, Registry: reg, Policy: policy, Limiter: limiter, opts: opts}
}

type WsRelayConn struct {
	conn *websocket.Conn
	send chan core.Frame
	peer domain.PeerID

	mu      sync.RWMutex
	closed  bool
	filters []domain.EnvelopeFilter
}

var _ core.RelayConn = (*WsRelayConn)(nil)

func (c *WsRelayConn) Peer() domain.PeerID { return c.peer }

func (c *WsRelayConn) Wants(env domain.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, f := range c.filters {
		if f.Match(env) {
			return true
		}
	}
	return false
}

func (c *WsRelayConn) addFilter(f domain.EnvelopeFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, have := range c.filters {
		if have.ToID == f.ToID && have.FromID == f.FromID {
			return
		}
	}
	c.filters = append(c.filters, f)
}

func (c *WsRelayConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsRelayConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleRelay upgrades GET /api/ws/relay?id=<peer>.
func (h *Hub) HandleRelay(ctx context.Context, c *gin.Context) {
	peer, err := domain.ParsePeerID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := app.ConnID(uuid.NewString())
	logger := log.With().
		Str("module", "hub").
		Str("conn", string(id)).
		Str("peer", string(peer)).
		Str("client_token", c.GetString("client_token")).
		Logger()
	logger.Info().Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	if h.opts.ReadLimit > 0 {
		ws.SetReadLimit(h.opts.ReadLimit)
	}

	conn := &WsRelayConn{
		conn: ws,
		send: make(chan core.Frame, h.opts.SendBuffer),
		peer: peer,
	}
	ctx, cancel := context.WithCancel(ctx)
	h.Registry.Bind(id, conn, cancel)

	go h.writePump(ctx, conn)
	go h.readPump(ctx, id, conn)
}

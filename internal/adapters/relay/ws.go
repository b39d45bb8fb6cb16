package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

var ErrClientClosed = errors.New("relay client closed")

type Options struct {
	// PingPeriod between keepalive frames; 0 disables them.
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Client speaks the relay server's websocket protocol.
type Client struct {
	conn *websocket.Conn
	opts Options
	send chan []byte
	done chan struct{}

	mu   sync.Mutex
	subs map[*memSub]struct{}

	closeOnce sync.Once
	log       zerolog.Logger
}

var _ core.Relay = (*Client)(nil)

// Dial connects to rawURL (e.g. ws://host:8080/api/ws/relay) as peer id.
func Dial(ctx context.Context, rawURL string, id domain.PeerID, opts Options) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set("id", string(id))
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", u.Host, err)
	}
	opts = opts.withDefaults()
	c := &Client{
		conn: conn,
		opts: opts,
		send: make(chan []byte, opts.SendBuffer),
		done: make(chan struct{}),
		subs: make(map[*memSub]struct{}),
		log:  log.With().Str("module", "relay").Str("peer", string(id)).Logger(),
	}
	go c.writePump()
	go c.readPump()
	c.log.Info().Str("url", u.Host).Msg("relay connected")
	return c, nil
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Publish(ctx context.Context, env domain.Envelope) error {
	return c.write(ctx, Frame{Type: FramePublish, Envelope: &env})
}

// Subscribe asks the server for matching envelopes. Every envelope the
// connection receives is offered to every local subscription.
func (c *Client) Subscribe(ctx context.Context, f domain.EnvelopeFilter) (<-chan domain.Envelope, func(), error) {
	s := &memSub{
		filter: f,
		out:    make(chan domain.Envelope),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.mu.Lock()
	c.subs[s] = struct{}{}
	c.mu.Unlock()

	cancel := c.unsubscriber(s)
	if err := c.write(ctx, Frame{Type: FrameSubscribe, Filter: &f}); err != nil {
		cancel()
		return nil, nil, err
	}
	go s.pump(ctx)
	return s.out, cancel, nil
}

func (c *Client) unsubscriber(s *memSub) func() {
	return func() {
		c.mu.Lock()
		delete(c.subs, s)
		c.mu.Unlock()
		s.stop()
	}
}

func (c *Client) write(ctx context.Context, f Frame) error {
	b, err := f.Marshal()
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()

		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[*memSub]struct{})
		c.mu.Unlock()
		for s := range subs {
			s.stop()
		}
		c.log.Info().Msg("relay closed")
	})
	return err
}

func (c *Client) writePump() {
	var tick <-chan time.Time
	if c.opts.PingPeriod > 0 {
		t := time.NewTicker(c.opts.PingPeriod)
		defer t.Stop()
		tick = t.C
	}
	ping, _ := Frame{Type: FramePing}.Marshal()
	for {
		var data []byte
		select {
		case <-c.done:
			return
		case data = <-c.send:
		case <-tick:
			data = ping
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			c.log.Error().Err(err).Msg("writePump set deadline")
			_ = c.Close()
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.log.Error().Err(err).Msg("writePump write error")
			_ = c.Close()
			return
		}
	}
}

func (c *Client) readPump() {
	defer func() { _ = c.Close() }()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn().Err(err).Msg("readPump read error")
			}
			return
		}
		f, err := ParseFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad frame")
			continue
		}
		switch f.Type {
		case FrameEnvelope:
			if f.Envelope != nil {
				c.dispatch(*f.Envelope)
			}
		case FramePong:
		case FrameError:
			c.log.Warn().Str("error", f.Error).Msg("relay error")
		default:
			c.log.Warn().Str("type", f.Type).Msg("unknown frame")
		}
	}
}

func (c *Client) dispatch(env domain.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := range c.subs {
		if s.filter.Match(env) {
			s.push(env, -1)
		}
	}
}

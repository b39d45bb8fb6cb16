package rtc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
)

// Options configure the pion API shared by every connection of a process.
type Options struct {
	ICEServers []webrtc.ICEServer
	// IncludeLoopback gathers 127.0.0.1 candidates, for single-host runs.
	IncludeLoopback bool
}

// Factory builds pion peer connections from one API instance.
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func NewFactory(opts Options) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(opts.IncludeLoopback)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{api: api, conf: webrtc.Configuration{ICEServers: opts.ICEServers}}, nil
}

// New satisfies the session's peer factory.
func (f *Factory) New() (core.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	return &Connection{pc: pc}, nil
}

// Connection wraps a pion PeerConnection and reports every callback as a
// core.PeerEvent.
type Connection struct {
	pc     *webrtc.PeerConnection
	mu     sync.Mutex
	emit   func(core.PeerEvent)
	closed atomic.Bool
}

var _ core.PeerConnection = (*Connection)(nil)

func (c *Connection) Start(_ context.Context, emit func(core.PeerEvent)) error {
	if emit == nil {
		return errors.New("rtc: nil event sink")
	}
	c.mu.Lock()
	c.emit = emit
	c.mu.Unlock()

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand == nil {
			return
		}
		c.send(core.PeerEvent{Kind: core.PeerCandidate, Candidate: cand.ToJSON()})
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		c.send(core.PeerEvent{Kind: core.PeerStateChange, State: connState(s)})
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Info().Str("module", "webrtc").Str("label", dc.Label()).Msg("OnDataChannel received")
		ch := c.wrap(dc)
		c.send(core.PeerEvent{Kind: core.PeerDataChannel, Channel: ch})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.send(core.PeerEvent{Kind: core.PeerRemoteTrack, Track: track})
	})
	return nil
}

func (c *Connection) send(ev core.PeerEvent) {
	if c.closed.Load() {
		return
	}
	c.mu.Lock()
	emit := c.emit
	c.mu.Unlock()
	if emit != nil {
		emit(ev)
	}
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (c *Connection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// CreateDataChannel opens the reliable, ordered channel.
func (c *Connection) CreateDataChannel(label string) (core.DataChannel, error) {
	ordered := true
	dc, err := c.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return c.wrap(dc), nil
}

// AddLocalTrack attaches a local track and drains its RTCP.
func (c *Connection) AddLocalTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return err
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.pc.Close()
	if err != nil {
		log.Error().Err(err).Str("module", "webrtc").Msg("close error")
	} else {
		log.Info().Str("module", "webrtc").Msg("closed")
	}
	return err
}

func (c *Connection) wrap(dc *webrtc.DataChannel) *DataChannel {
	ch := &DataChannel{dc: dc}
	dc.OnOpen(func() {
		c.send(core.PeerEvent{Kind: core.PeerChannelOpen, Channel: ch})
	})
	dc.OnClose(func() {
		c.send(core.PeerEvent{Kind: core.PeerChannelClose, Channel: ch})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.send(core.PeerEvent{Kind: core.PeerChannelMessage, Channel: ch, Binary: !msg.IsString, Data: msg.Data})
	})
	return ch
}

func connState(s webrtc.PeerConnectionState) core.ConnState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.ConnFailed
	case webrtc.PeerConnectionStateClosed:
		return core.ConnClosed
	default:
		return core.ConnNew
	}
}

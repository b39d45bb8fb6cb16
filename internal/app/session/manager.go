// Package session runs one peer-to-peer party session: signaling, the
// connection lifecycle, the control channel, transfers and playback sync.
//
// All state is owned by a single loop goroutine. Pion callbacks, relay
// deliveries, data channel frames and local intents are posted to it as
// Events and handled one at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/app/embed"
	"github.com/dkeye/MusicParty/internal/app/library"
	"github.com/dkeye/MusicParty/internal/app/playback"
	"github.com/dkeye/MusicParty/internal/app/signaling"
	"github.com/dkeye/MusicParty/internal/app/transfer"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

const (
	ChannelLabel = "musicPartySync"

	eventBuffer = 256
	endTimeout  = 2 * time.Second
)

var (
	ErrClosed           = errors.New("session closed")
	ErrConnectionFailed = errors.New("peer connection failed")
	ErrNoChannel        = errors.New("data channel not open")
	ErrNoMedia          = errors.New("no local media")
)

type Config struct {
	Role    domain.Role
	LocalID domain.PeerID
	PeerID  domain.PeerID
	// Strict rejects chunks without a start and incomplete transfers.
	Strict          bool
	MaxReceiveBytes int
	Transfer        transfer.Options
	// ReplayWindow asks the relay for envelopes published this long before
	// the subscription, so a late responder still sees the offer.
	ReplayWindow time.Duration
}

// Deps are the collaborators of a session. Relay and Peers are required.
type Deps struct {
	Relay core.Relay
	Peers func() (core.PeerConnection, error)
	// Acquire opens local capture. A failure aborts Open.
	Acquire  func() (core.MediaSource, error)
	Sink     func(trackID string) (core.AudioSink, error)
	Player   core.Player
	Embed    *embed.Controller
	Tracks   core.TrackLibrary
	Observer core.Observer
	Rand     func(n int) int
}

type Manager struct {
	cfg      Config
	sess     *domain.Session
	pc       core.PeerConnection
	relay    core.Relay
	sig      *signaling.Coordinator
	media    core.MediaSource
	channel  core.DataChannel
	play     *playback.Sync
	tracks   core.TrackLibrary
	recv     *transfer.Receiver
	observer core.Observer
	sink     func(trackID string) (core.AudioSink, error)

	events      chan Event
	done        chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	sendCancel  context.CancelFunc
	sending     bool
	sendPct     int
	recvPct     int
	reported    domain.SessionState

	log zerolog.Logger
}

// Open builds the session: local media, the peer connection, the data
// channel for the initiator, and the relay subscription. Nothing is left
// running when it fails.
func Open(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	if deps.Relay == nil || deps.Peers == nil {
		return nil, errors.New("session: relay and peer factory are required")
	}
	sess, err := domain.NewSession(cfg.Role, cfg.LocalID, cfg.PeerID)
	if err != nil {
		return nil, err
	}

	var media core.MediaSource
	if deps.Acquire != nil {
		if media, err = deps.Acquire(); err != nil {
			return nil, fmt.Errorf("acquire media: %w", err)
		}
	}

	pc, err := deps.Peers()
	if err != nil {
		stopMedia(media)
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &Manager{
		cfg:         cfg,
		sess:        sess,
		pc:          pc,
		relay:       deps.Relay,
		sig:         signaling.New(sess, pc, deps.Relay),
		media:       media,
		tracks:      deps.Tracks,
		recv:        transfer.NewReceiver(cfg.Strict, cfg.MaxReceiveBytes),
		observer:    deps.Observer,
		sink:        deps.Sink,
		events:      make(chan Event, eventBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		unsubscribe: func() {},
		reported:    sess.State,
		log: log.With().
			Str("module", "session").
			Str("local", string(cfg.LocalID)).
			Str("peer", string(cfg.PeerID)).
			Str("role", cfg.Role.String()).
			Logger(),
	}
	if m.tracks == nil {
		m.tracks = library.New("", nil)
	}
	if m.observer == nil {
		m.observer = core.NopObserver{}
	}
	player := deps.Player
	if player == nil {
		var clock core.Player = playback.NewClock(func(id string) {
			m.post(Event{Kind: EventTrackEnded, TrackID: id})
		})
		if deps.Embed != nil {
			clock = playback.NewRouter(clock, deps.Embed)
		}
		player = clock
	}
	opts := []playback.Option{playback.WithNotify(m.observer.OnPlayback)}
	if deps.Rand != nil {
		opts = append(opts, playback.WithRand(deps.Rand))
	}
	m.play = playback.New(player, m.tracks, m.sendControl, opts...)

	if err := m.setup(ctx); err != nil {
		m.release()
		return nil, err
	}
	m.log.Info().Msg("session opened")
	return m, nil
}

func (m *Manager) setup(ctx context.Context) error {
	if err := m.pc.Start(ctx, func(ev core.PeerEvent) {
		m.post(Event{Kind: EventPeer, Peer: ev})
	}); err != nil {
		return fmt.Errorf("start peer connection: %w", err)
	}
	if m.media != nil {
		if err := m.pc.AddLocalTrack(m.media.Track()); err != nil {
			return fmt.Errorf("attach local track: %w", err)
		}
		go func() {
			if err := m.media.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.log.Warn().Err(err).Msg("local capture stopped")
			}
		}()
	}
	if m.sess.Role == domain.Initiator {
		ch, err := m.pc.CreateDataChannel(ChannelLabel)
		if err != nil {
			return fmt.Errorf("create data channel: %w", err)
		}
		m.channel = ch
	}

	filter := domain.EnvelopeFilter{ToID: m.sess.LocalID, FromID: m.sess.PeerID}
	if m.cfg.ReplayWindow > 0 {
		filter.Since = time.Now().Add(-m.cfg.ReplayWindow)
	}
	envs, unsubscribe, err := m.relay.Subscribe(ctx, filter)
	if err != nil {
		return fmt.Errorf("subscribe relay: %w", err)
	}
	m.unsubscribe = unsubscribe
	go func() {
		for env := range envs {
			if !m.post(Event{Kind: EventEnvelope, Envelope: env}) {
				return
			}
		}
	}()
	return nil
}

// Session returns a copy of the session record. Only meaningful from the
// loop or after Run returned.
func (m *Manager) Session() domain.Session { return *m.sess }

func (m *Manager) Tracks() core.TrackLibrary { return m.tracks }

// Done is closed when Run returns.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Run processes events until the session reaches a terminal state or ctx
// ends. The initiator publishes its offer first.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	if m.sess.Role == domain.Initiator {
		if err := m.sig.Initiate(m.ctx); err != nil {
			m.teardown(domain.StateFailed, err, true)
			return
		}
		m.reportState()
	}
	for !m.sess.State.Terminal() {
		select {
		case <-ctx.Done():
			m.teardown(domain.StateClosed, nil, true)
		case <-m.ctx.Done():
			m.teardown(domain.StateClosed, nil, true)
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// Close tears the session down and waits for the loop to exit.
func (m *Manager) Close(ctx context.Context) error {
	if !m.post(Event{Kind: EventClose}) {
		return nil
	}
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do posts a local intent and waits for its result.
func (m *Manager) Do(ctx context.Context, in Intent) error {
	reply := make(chan error, 1)
	if !m.post(Event{Kind: EventIntent, Intent: in, reply: reply}) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) post(ev Event) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handle(ev Event) {
	switch ev.Kind {
	case EventEnvelope:
		if m.sig.OnEnvelope(m.ctx, ev.Envelope) == signaling.Ended {
			m.teardown(domain.StateClosed, nil, false)
		}
	case EventPeer:
		m.handlePeer(ev.Peer)
	case EventIntent:
		err := m.handleIntent(ev.Intent)
		if ev.reply != nil {
			ev.reply <- err
		}
	case EventSendProgress:
		if m.sending && ev.Percent > m.sendPct {
			m.sendPct = ev.Percent
			m.observer.OnTransferProgress(domain.Send, ev.Percent)
		}
	case EventSendDone:
		m.sending = false
		m.sendCancel = nil
		if ev.Err != nil {
			m.observer.OnTransferInterrupted(domain.Send, ev.Err)
		} else {
			m.observer.OnTransferComplete(domain.Send, ev.Track)
		}
	case EventTrackEnded:
		if ev.TrackID == m.play.State().CurrentTrackID {
			if err := m.play.Ended(); err != nil {
				m.log.Warn().Err(err).Msg("track end handling")
			}
		}
	case EventClose:
		m.teardown(domain.StateClosed, nil, true)
	}
	m.reportState()
}

func (m *Manager) handlePeer(ev core.PeerEvent) {
	switch ev.Kind {
	case core.PeerCandidate:
		m.sig.OnLocalCandidate(m.ctx, ev.Candidate)
	case core.PeerStateChange:
		m.log.Debug().Str("conn", ev.State.String()).Msg("transport state")
		switch ev.State {
		case core.ConnConnected:
			m.sess.Advance(domain.StateConnected)
		case core.ConnFailed:
			m.teardown(domain.StateFailed, ErrConnectionFailed, true)
		case core.ConnClosed:
			m.teardown(domain.StateClosed, nil, false)
		}
	case core.PeerDataChannel:
		if ev.Channel == nil || ev.Channel.Label() != ChannelLabel || m.channel != nil {
			m.log.Warn().Msg("unexpected inbound data channel")
			return
		}
		m.channel = ev.Channel
	case core.PeerChannelOpen:
		m.log.Info().Msg("data channel open")
	case core.PeerChannelMessage:
		if err := control.Route(ev.Binary, ev.Data, inbound{m}); err != nil {
			m.log.Warn().Err(err).Msg("dropped control frame")
		}
	case core.PeerChannelClose:
		m.log.Info().Msg("data channel closed")
		if m.recv.Active() {
			m.recv.Abort()
			m.observer.OnTransferInterrupted(domain.Receive, transfer.ErrChannelClosed)
		}
	case core.PeerRemoteTrack:
		if m.sink == nil || ev.Track == nil {
			return
		}
		sink, err := m.sink(ev.Track.ID())
		if err != nil {
			m.log.Warn().Err(err).Msg("open audio sink")
			return
		}
		go playout(m.ctx, ev.Track, sink, m.log.With().Str("track", ev.Track.ID()).Logger())
	}
}

func (m *Manager) handleIntent(in Intent) error {
	if m.sess.State.Terminal() {
		return ErrClosed
	}
	switch in.Op {
	case OpTogglePlay:
		return m.play.TogglePlay()
	case OpPlay:
		return m.play.Play(in.Position)
	case OpPause:
		return m.play.Pause(in.Position)
	case OpSeek:
		return m.play.Seek(in.Position)
	case OpPlayTrack:
		return m.play.PlayTrack(in.TrackID)
	case OpNext:
		return m.play.Next()
	case OpPrevious:
		return m.play.Previous()
	case OpEnded:
		return m.play.Ended()
	case OpShuffle:
		m.play.SetShuffle(in.On)
	case OpRepeat:
		m.play.SetRepeat(in.On)
	case OpMute:
		if m.media == nil {
			return ErrNoMedia
		}
		m.media.SetMuted(in.On)
	case OpChat:
		return m.chat(in.Text)
	case OpSendFile:
		return m.sendFile(in.Path)
	case OpAddEmbed:
		return m.addEmbed(in.URL)
	default:
		return fmt.Errorf("unknown intent %d", in.Op)
	}
	return nil
}

func (m *Manager) chat(text string) error {
	if text == "" {
		return errors.New("empty chat message")
	}
	if !m.channelOpen() {
		return ErrNoChannel
	}
	m.sendControl(control.Chat{Text: text})
	m.observer.OnChat(domain.ChatMessage{ID: uuid.NewString(), Text: text, Sender: m.sess.LocalID, At: time.Now()})
	return nil
}

// sendFile starts the single outbound transfer on its own goroutine.
func (m *Manager) sendFile(path string) error {
	if m.sending {
		return transfer.ErrBusy
	}
	if !m.channelOpen() {
		return ErrNoChannel
	}
	p, closeFile, err := transfer.OpenFile(path)
	if err != nil {
		return err
	}
	p.TrackID = uuid.NewString()
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	track := m.tracks.Add(domain.Track{
		ID:   p.TrackID,
		Name: library.DisplayName(path),
		URL:  "file://" + abs,
		Kind: domain.TrackLocal,
		MIME: p.MIME,
	})
	m.trackAdded(track, false)

	ctx, cancel := context.WithCancel(m.ctx)
	m.sending, m.sendPct, m.sendCancel = true, 0, cancel
	sender := transfer.NewSender(m.channel, m.cfg.Transfer)
	go func() {
		defer cancel()
		err := sender.Send(ctx, p, func(pct int) {
			m.post(Event{Kind: EventSendProgress, Percent: pct})
		})
		if cerr := closeFile(); cerr != nil {
			m.log.Warn().Err(cerr).Msg("close sent file")
		}
		m.post(Event{Kind: EventSendDone, Track: track, Err: err})
	}()
	return nil
}

func (m *Manager) addEmbed(url string) error {
	id, ok := embed.ExtractID(url)
	if !ok {
		return embed.ErrNoVideoID
	}
	track := m.tracks.Add(domain.Track{Name: "Embedded video", URL: url, Kind: domain.TrackEmbed, EmbedID: id})
	m.trackAdded(track, false)
	m.sendControl(control.AnnounceOf(track))
	return nil
}

// trackAdded notifies and selects the track. Local additions are only
// selected when nothing is loaded yet; tracks from the peer always are.
func (m *Manager) trackAdded(t domain.Track, fromPeer bool) {
	m.observer.OnTrackAdded(t)
	if fromPeer || m.play.Phase() == domain.PhaseIdle {
		if err := m.play.Load(t); err != nil {
			m.log.Warn().Err(err).Str("track", t.ID).Msg("load track")
		}
	}
}

func (m *Manager) channelOpen() bool { return m.channel != nil && m.channel.IsOpen() }

// sendControl is the playback emitter. Messages are dropped while the
// channel is not open.
func (m *Manager) sendControl(msg control.Message) {
	if !m.channelOpen() {
		m.log.Debug().Str("action", string(msg.Action())).Msg("channel not open, control message dropped")
		return
	}
	text, err := control.Encode(msg)
	if err != nil {
		m.log.Error().Err(err).Msg("encode control message")
		return
	}
	if err := m.channel.SendText(text); err != nil {
		m.log.Warn().Err(err).Str("action", string(msg.Action())).Msg("send control message")
	}
}

// teardown is the single exit path for Failed, remote End and local close.
// Only the first call has any effect.
func (m *Manager) teardown(state domain.SessionState, cause error, announce bool) {
	if !m.sess.Advance(state) {
		return
	}
	m.log.Info().Str("state", state.String()).AnErr("cause", cause).Msg("session teardown")
	if m.sendCancel != nil {
		m.sendCancel()
	}
	m.recv.Abort()
	m.release()
	if announce {
		ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
		m.sig.End(ctx)
		cancel()
	}
	m.reportState()
	if state == domain.StateFailed {
		m.observer.OnConnectionFailed(cause)
	}
}

// release stops capture, closes the channel and the primitive, and drops
// the relay subscription.
func (m *Manager) release() {
	stopMedia(m.media)
	if m.channel != nil {
		if err := m.channel.Close(); err != nil {
			m.log.Debug().Err(err).Msg("close data channel")
		}
	}
	if err := m.pc.Close(); err != nil {
		m.log.Warn().Err(err).Msg("close peer connection")
	}
	m.unsubscribe()
	m.cancel()
}

func (m *Manager) reportState() {
	if m.sess.State == m.reported {
		return
	}
	m.reported = m.sess.State
	m.observer.OnConnectionState(m.sess.State)
}

func stopMedia(src core.MediaSource) {
	if src != nil {
		src.Stop()
	}
}

// inbound adapts the manager to control.Handler.
type inbound struct{ m *Manager }

func (h inbound) OnControl(msg control.Message) {
	m := h.m
	switch msg := msg.(type) {
	case control.Play, control.Pause, control.Seek:
		if err := m.play.ApplyRemote(msg); err != nil {
			m.log.Warn().Err(err).Str("action", string(msg.Action())).Msg("remote playback")
		}
	case control.TrackAnnounce:
		m.trackAdded(m.tracks.Add(msg.Track()), true)
	case control.Chat:
		m.observer.OnChat(domain.ChatMessage{ID: uuid.NewString(), Text: msg.Text, Sender: m.sess.PeerID, At: time.Now()})
	case control.TransferStart:
		m.recvPct = 0
		replaced, err := m.recv.Begin(msg)
		switch {
		case err != nil:
			m.observer.OnTransferInterrupted(domain.Receive, err)
		case replaced:
			m.observer.OnTransferInterrupted(domain.Receive, transfer.ErrRestarted)
		}
	case control.TransferEnd:
		res, err := m.recv.Finish()
		if errors.Is(err, transfer.ErrAborted) {
			m.log.Debug().Msg("end of aborted transfer")
			return
		}
		if err != nil {
			m.observer.OnTransferInterrupted(domain.Receive, err)
			return
		}
		name := res.Name
		if name != "" {
			name = library.DisplayName(name)
		}
		track, err := m.tracks.AddShared(res.TrackID, name, res.MIME, res.Data)
		if err != nil {
			m.observer.OnTransferInterrupted(domain.Receive, err)
			return
		}
		m.log.Info().Str("track", track.ID).Int("bytes", len(res.Data)).Msg("transfer received")
		m.observer.OnTransferComplete(domain.Receive, track)
		m.trackAdded(track, true)
	}
}

func (h inbound) OnChunk(b []byte) {
	m := h.m
	pct, ok, err := m.recv.Chunk(b)
	if err != nil {
		m.observer.OnTransferInterrupted(domain.Receive, err)
		return
	}
	if ok && pct > m.recvPct {
		m.recvPct = pct
		m.observer.OnTransferProgress(domain.Receive, pct)
	}
}

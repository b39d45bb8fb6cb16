package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw payload for a data channel or a websocket peer.
type Frame []byte

type PeerEventKind int

const (
	PeerCandidate PeerEventKind = iota
	PeerStateChange
	PeerDataChannel
	PeerChannelOpen
	PeerChannelMessage
	PeerChannelClose
	PeerRemoteTrack
)

type ConnState int

const (
	ConnNew ConnState = iota
	ConnConnecting
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "new"
	}
}

// PeerEvent is the single event stream a PeerConnection reports through.
type PeerEvent struct {
	Kind      PeerEventKind
	Candidate webrtc.ICECandidateInit
	State     ConnState
	Channel   DataChannel
	// Binary is false for text (control) frames.
	Binary bool
	Data   Frame
	Track  RemoteTrack
}

// PeerConnection is the negotiation/transport primitive.
type PeerConnection interface {
	// Start registers the event sink. Must be called before negotiation.
	Start(ctx context.Context, emit func(PeerEvent)) error
	// CreateOffer creates an offer and sets it as local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer creates an answer and sets it as local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	CreateDataChannel(label string) (DataChannel, error)
	AddLocalTrack(track webrtc.TrackLocal) error
	Close() error
}

// DataChannel is the reliable ordered pipe. Safe for concurrent use.
type DataChannel interface {
	Label() string
	Send(Frame) error
	SendText(string) error
	BufferedAmount() uint64
	IsOpen() bool
	Close() error
}

// RemoteTrack is the read side of an inbound media track.
type RemoteTrack interface {
	ID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// AudioSink consumes remote RTP audio, e.g. an ogg writer.
type AudioSink interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// MediaSource is the local capture handle.
type MediaSource interface {
	Track() webrtc.TrackLocal
	// Start pumps samples until ctx ends or Stop is called.
	Start(ctx context.Context) error
	Stop()
	// SetMuted toggles the capability flag; capture keeps running.
	SetMuted(bool)
	Muted() bool
}

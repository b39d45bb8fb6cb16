// Package signaling drives the offer/answer/candidate exchange over a relay
// that may duplicate and reorder envelopes.
package signaling

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

var (
	ErrWrongRole       = errors.New("operation not valid for this role")
	ErrAlreadyStarted  = errors.New("negotiation already started")
	ErrSessionFinished = errors.New("session finished")
)

// Outcome says what OnEnvelope did with an envelope.
type Outcome int

const (
	Ignored Outcome = iota
	Applied
	Queued
	Ended
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Queued:
		return "queued"
	case Ended:
		return "ended"
	default:
		return "ignored"
	}
}

type Coordinator struct {
	sess  *domain.Session
	pc    core.PeerConnection
	relay core.Relay
	queue []webrtc.ICECandidateInit
	log   zerolog.Logger
}

func New(sess *domain.Session, pc core.PeerConnection, relay core.Relay) *Coordinator {
	return &Coordinator{
		sess:  sess,
		pc:    pc,
		relay: relay,
		log: log.With().
			Str("module", "signaling").
			Str("local", string(sess.LocalID)).
			Str("peer", string(sess.PeerID)).
			Logger(),
	}
}

// Pending returns the number of queued remote candidates.
func (c *Coordinator) Pending() int { return len(c.queue) }

// Initiate creates and publishes the offer.
func (c *Coordinator) Initiate(ctx context.Context) error {
	if c.sess.Role != domain.Initiator {
		return ErrWrongRole
	}
	if c.sess.State.Terminal() {
		return ErrSessionFinished
	}
	if c.sess.Negotiation != domain.NegotiationIdle {
		return ErrAlreadyStarted
	}
	offer, err := c.pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	c.sess.Negotiation = domain.NegotiationAwaitingAnswer
	c.sess.Advance(domain.StateNegotiating)
	c.publish(ctx, domain.KindOffer, domain.SignalPayload{SDP: &offer})
	c.log.Info().Msg("offer published")
	return nil
}

// Respond applies an offer, drains queued candidates and publishes the answer.
func (c *Coordinator) Respond(ctx context.Context, offer webrtc.SessionDescription) error {
	if c.sess.Role != domain.Responder {
		return ErrWrongRole
	}
	if !c.sess.CanAcceptOffer() {
		return ErrAlreadyStarted
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	c.sess.Negotiation = domain.NegotiationStable
	c.sess.Advance(domain.StateNegotiating)
	c.drain()

	answer, err := c.pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	c.publish(ctx, domain.KindAnswer, domain.SignalPayload{SDP: &answer})
	c.log.Info().Msg("answer published")
	return nil
}

// OnEnvelope dispatches one inbound envelope. Noise is ignored, never fatal.
func (c *Coordinator) OnEnvelope(ctx context.Context, env domain.Envelope) Outcome {
	if env.FromID != c.sess.PeerID || env.ToID != c.sess.LocalID {
		c.log.Debug().Str("from", string(env.FromID)).Str("kind", string(env.Kind)).Msg("envelope for another session")
		return Ignored
	}
	if c.sess.State.Terminal() {
		return Ignored
	}
	p, err := env.Signal()
	if err != nil {
		c.log.Warn().Err(err).Str("kind", string(env.Kind)).Msg("bad envelope payload")
		return Ignored
	}

	switch env.Kind {
	case domain.KindOffer:
		if p.SDP == nil || !c.sess.CanAcceptOffer() {
			return Ignored
		}
		if err := c.Respond(ctx, *p.SDP); err != nil {
			c.log.Warn().Err(err).Msg("respond to offer")
			return Ignored
		}
		return Applied
	case domain.KindAnswer:
		if p.SDP == nil || !c.sess.CanAcceptAnswer() {
			c.log.Debug().Str("negotiation", c.sess.Negotiation.String()).Msg("answer ignored")
			return Ignored
		}
		if err := c.pc.SetRemoteDescription(*p.SDP); err != nil {
			c.log.Warn().Err(err).Msg("set remote answer")
			return Ignored
		}
		c.sess.Negotiation = domain.NegotiationStable
		c.drain()
		c.log.Info().Msg("answer applied")
		return Applied
	case domain.KindCandidate:
		if p.Candidate == nil {
			return Ignored
		}
		if !c.sess.RemoteDescriptionSet() {
			c.queue = append(c.queue, *p.Candidate)
			return Queued
		}
		if err := c.pc.AddICECandidate(*p.Candidate); err != nil {
			c.log.Warn().Err(err).Msg("add ice candidate")
		}
		return Applied
	case domain.KindEnd:
		c.log.Info().Msg("remote ended session")
		return Ended
	default:
		c.log.Warn().Str("kind", string(env.Kind)).Msg("unknown envelope kind")
		return Ignored
	}
}

// OnLocalCandidate trickles one gathered candidate to the peer.
func (c *Coordinator) OnLocalCandidate(ctx context.Context, cand webrtc.ICECandidateInit) {
	if c.sess.State.Terminal() {
		return
	}
	c.publish(ctx, domain.KindCandidate, domain.SignalPayload{Candidate: &cand})
}

// End publishes the End envelope, best-effort.
func (c *Coordinator) End(ctx context.Context) {
	c.publish(ctx, domain.KindEnd, domain.SignalPayload{})
}

func (c *Coordinator) drain() {
	queued := c.queue
	c.queue = nil
	for _, cand := range queued {
		if err := c.pc.AddICECandidate(cand); err != nil {
			c.log.Warn().Err(err).Msg("add queued ice candidate")
		}
	}
	if len(queued) > 0 {
		c.log.Debug().Int("count", len(queued)).Msg("drained queued candidates")
	}
}

func (c *Coordinator) publish(ctx context.Context, kind domain.EnvelopeKind, p domain.SignalPayload) {
	env, err := domain.NewEnvelope(c.sess.LocalID, c.sess.PeerID, kind, p)
	if err != nil {
		c.log.Error().Err(err).Str("kind", string(kind)).Msg("encode envelope")
		return
	}
	if err := c.relay.Publish(ctx, env); err != nil {
		c.log.Warn().Err(err).Str("kind", string(kind)).Msg("publish envelope")
	}
}

package rtc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/dkeye/MusicParty/internal/core"
)

// OggSink records the remote voice track to an Ogg/Opus file.
type OggSink struct {
	w *oggwriter.OggWriter
}

var _ core.AudioSink = (*OggSink)(nil)

func NewOggSink(path string) (*OggSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sink dir: %w", err)
	}
	w, err := oggwriter.New(path, opusClockRate, 2)
	if err != nil {
		return nil, fmt.Errorf("open ogg sink: %w", err)
	}
	return &OggSink{w: w}, nil
}

func (s *OggSink) WriteRTP(p *rtp.Packet) error { return s.w.WriteRTP(p) }
func (s *OggSink) Close() error                 { return s.w.Close() }

// DiscardSink drops packets and counts them.
type DiscardSink struct {
	packets atomic.Int64
}

func (s *DiscardSink) WriteRTP(*rtp.Packet) error {
	s.packets.Add(1)
	return nil
}

func (s *DiscardSink) Close() error   { return nil }
func (s *DiscardSink) Packets() int64 { return s.packets.Load() }

// SinkFactory returns a session sink constructor. An empty dir discards.
func SinkFactory(dir string) func(trackID string) (core.AudioSink, error) {
	return func(trackID string) (core.AudioSink, error) {
		if dir == "" {
			return &DiscardSink{}, nil
		}
		return NewOggSink(filepath.Join(dir, trackID+".ogg"))
	}
}

package rtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/core"
)

const (
	opusClockRate = 48000
	pageDuration  = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus silence frame.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// AudioSource captures the local voice track from an Ogg/Opus file, looping
// at the end, or sends silence when no file is given.
type AudioSource struct {
	track  *webrtc.TrackLocalStaticSample
	path   string
	muted  atomic.Bool
	stopMu sync.Mutex
	stop   chan struct{}
}

var _ core.MediaSource = (*AudioSource)(nil)

// OpenAudio acquires the local audio. An unreadable or non-Opus file fails
// here, before any session is created.
func OpenAudio(path string) (*AudioSource, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open audio: %w", err)
		}
		_, _, err = oggreader.NewWith(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read ogg header %s: %w", path, err)
		}
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusClockRate, Channels: 2},
		"audio", "musicparty",
	)
	if err != nil {
		return nil, err
	}
	return &AudioSource{track: track, path: path, stop: make(chan struct{})}, nil
}

func (a *AudioSource) Track() webrtc.TrackLocal { return a.track }

func (a *AudioSource) SetMuted(m bool) { a.muted.Store(m) }
func (a *AudioSource) Muted() bool     { return a.muted.Load() }

// Stop ends Start. Safe to call more than once.
func (a *AudioSource) Stop() {
	a.stopMu.Lock()
	defer a.stopMu.Unlock()
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// Start paces samples onto the track until ctx ends or Stop is called.
func (a *AudioSource) Start(ctx context.Context) error {
	ticker := time.NewTicker(pageDuration)
	defer ticker.Stop()

	var pages *pageLoop
	if a.path != "" {
		pages = &pageLoop{path: a.path}
		defer pages.close()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stop:
			return nil
		case <-ticker.C:
		}

		sample := media.Sample{Data: opusSilence, Duration: pageDuration}
		if pages != nil {
			data, dur, err := pages.next()
			if err != nil {
				return err
			}
			if !a.Muted() {
				sample = media.Sample{Data: data, Duration: dur}
			} else {
				sample.Duration = dur
			}
		}
		if err := a.track.WriteSample(sample); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			log.Warn().Str("module", "webrtc").Err(err).Msg("write sample")
		}
	}
}

// pageLoop yields Ogg pages with their durations, rewinding at EOF.
type pageLoop struct {
	path        string
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func (p *pageLoop) open() error {
	f, err := os.Open(p.path)
	if err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		_ = f.Close()
		return err
	}
	p.f, p.r, p.lastGranule = f, r, 0
	return nil
}

func (p *pageLoop) next() ([]byte, time.Duration, error) {
	rewound := false
	for {
		if p.r == nil {
			if err := p.open(); err != nil {
				return nil, 0, err
			}
		}
		data, hdr, err := p.r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if rewound {
				return nil, 0, errors.New("ogg file has no audio pages")
			}
			p.close()
			rewound = true
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		// header pages carry no samples
		if hdr.GranulePosition == 0 {
			continue
		}
		var count uint64
		if hdr.GranulePosition > p.lastGranule {
			count = hdr.GranulePosition - p.lastGranule
		}
		p.lastGranule = hdr.GranulePosition
		if count == 0 || count > opusClockRate {
			count = opusClockRate / 50
		}
		rewound = false
		return data, time.Duration(count) * time.Second / opusClockRate, nil
	}
}

func (p *pageLoop) close() {
	if p.f != nil {
		_ = p.f.Close()
	}
	p.f, p.r = nil, nil
}

// OggDuration returns the playing time of an Ogg/Opus payload in seconds,
// or 0 when data is not Ogg/Opus.
func OggDuration(data []byte) float64 {
	r, hdr, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	var last uint64
	for {
		_, page, err := r.ParseNextPage()
		if err != nil {
			break
		}
		if page.GranulePosition > last {
			last = page.GranulePosition
		}
	}
	skip := uint64(hdr.PreSkip)
	if last <= skip {
		return 0
	}
	return float64(last-skip) / opusClockRate
}

// ProbeDuration is a library.DurationProbe for Ogg payloads.
func ProbeDuration(mime string, data []byte) float64 {
	switch mime {
	case "audio/ogg", "application/ogg", "audio/opus":
		return OggDuration(data)
	}
	return 0
}

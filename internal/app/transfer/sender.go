// Package transfer moves whole files over the data channel as ordered binary
// chunks framed by TransferStart/TransferEnd control messages.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

const (
	ChunkSize     = 16 * 1024
	HighWaterMark = 1024 * 1024
	PollInterval  = 50 * time.Millisecond
)

var (
	ErrChannelClosed = errors.New("data channel closed")
	ErrBusy          = errors.New("transfer already in progress")
	ErrNoStart       = errors.New("transfer data without start")
	ErrIncomplete    = errors.New("transfer incomplete")
	ErrTooLarge      = errors.New("transfer exceeds size limit")
	ErrRestarted     = errors.New("transfer restarted before end")
	ErrAborted       = errors.New("transfer already aborted")
)

type Options struct {
	ChunkSize     int
	HighWaterMark uint64
	PollInterval  time.Duration
}

func DefaultOptions() Options {
	return Options{ChunkSize: ChunkSize, HighWaterMark: HighWaterMark, PollInterval: PollInterval}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.HighWaterMark == 0 {
		o.HighWaterMark = d.HighWaterMark
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// ChunkCount is ceil(size / chunk).
func ChunkCount(size int64, chunk int) int {
	if size <= 0 || chunk <= 0 {
		return 0
	}
	c := int64(chunk)
	return int((size + c - 1) / c)
}

// Payload is an outbound file. Data is read chunk by chunk.
type Payload struct {
	Name    string
	MIME    string
	TrackID string
	Size    int64
	Data    io.ReaderAt
}

// OpenFile prepares a file payload; close must be called after the send.
func OpenFile(path string) (Payload, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return Payload{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return Payload{}, nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.IsDir() {
		_ = f.Close()
		return Payload{}, nil, fmt.Errorf("%s is a directory", path)
	}
	mime, err := mimetype.DetectReader(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		_ = f.Close()
		return Payload{}, nil, fmt.Errorf("detect mime: %w", err)
	}
	return Payload{
		Name: filepath.Base(path),
		MIME: mime.String(),
		Size: st.Size(),
		Data: f,
	}, f.Close, nil
}

// Sender writes one payload at a time to a data channel.
type Sender struct {
	ch   core.DataChannel
	opts Options
}

func NewSender(ch core.DataChannel, opts Options) *Sender {
	return &Sender{ch: ch, opts: opts.withDefaults()}
}

// Send emits TransferStart, every chunk in order, then TransferEnd.
// Before each chunk it yields while the channel buffers more than the
// high-water mark. A closed channel aborts without TransferEnd.
func (s *Sender) Send(ctx context.Context, p Payload, progress func(percent int)) error {
	if !s.ch.IsOpen() {
		return ErrChannelClosed
	}
	total := ChunkCount(p.Size, s.opts.ChunkSize)
	logger := log.With().
		Str("module", "transfer").
		Str("name", p.Name).
		Int("chunks", total).
		Logger()

	if err := s.sendControl(control.TransferStart{
		TotalBytes:  p.Size,
		TotalChunks: total,
		Name:        p.Name,
		MIME:        p.MIME,
		TrackID:     p.TrackID,
	}); err != nil {
		return err
	}
	logger.Info().Int64("bytes", p.Size).Msg("transfer started")

	job := domain.TransferJob{Direction: domain.Send, Name: p.Name, TotalBytes: p.Size, TotalChunks: total}
	for i := 0; i < total; i++ {
		if err := s.waitDrain(ctx); err != nil {
			logger.Warn().Err(err).Int("chunk", i).Msg("transfer aborted")
			return err
		}
		off := int64(i) * int64(s.opts.ChunkSize)
		n := int64(s.opts.ChunkSize)
		if off+n > p.Size {
			n = p.Size - off
		}
		chunk := make([]byte, n)
		if read, err := p.Data.ReadAt(chunk, off); err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
			return fmt.Errorf("read chunk %d: %w", i, err)
		}
		if err := s.ch.Send(chunk); err != nil {
			logger.Warn().Err(err).Int("chunk", i).Msg("transfer aborted")
			return s.sendErr(err)
		}
		job.CompletedChunks++
		if pct, ok := job.Percent(); ok && progress != nil {
			progress(pct)
		}
	}
	if err := s.sendControl(control.TransferEnd{}); err != nil {
		return err
	}
	if total == 0 && progress != nil {
		progress(100)
	}
	logger.Info().Msg("transfer sent")
	return nil
}

func (s *Sender) waitDrain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.ch.IsOpen() {
		return ErrChannelClosed
	}
	if s.ch.BufferedAmount() <= s.opts.HighWaterMark {
		return nil
	}
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for s.ch.BufferedAmount() > s.opts.HighWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if !s.ch.IsOpen() {
			return ErrChannelClosed
		}
	}
	return nil
}

func (s *Sender) sendControl(m control.Message) error {
	text, err := control.Encode(m)
	if err != nil {
		return err
	}
	if err := s.ch.SendText(text); err != nil {
		return s.sendErr(err)
	}
	return nil
}

func (s *Sender) sendErr(err error) error {
	if !s.ch.IsOpen() {
		return fmt.Errorf("%w: %v", ErrChannelClosed, err)
	}
	return err
}

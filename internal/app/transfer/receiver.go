package transfer

import (
	"bytes"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/app/control"
	"github.com/dkeye/MusicParty/internal/domain"
)

// Result is a reassembled inbound payload.
type Result struct {
	Name     string
	MIME     string
	TrackID  string
	Data     []byte
	Expected int
	Received int
}

// Receiver reassembles the single active inbound transfer.
// Strict mode rejects chunks without a start and ends with a missing count;
// otherwise whatever arrived is assembled. Once a job fails, the rest of its
// frames are swallowed until the next start.
type Receiver struct {
	job      *domain.TransferJob
	aborted  bool
	strict   bool
	maxBytes int
}

// preallocChunks bounds the buffer capacity taken from a peer-supplied count.
const preallocChunks = 1024

func NewReceiver(strict bool, maxBytes int) *Receiver {
	return &Receiver{strict: strict, maxBytes: maxBytes}
}

func (r *Receiver) Active() bool { return r.job != nil }

// Begin resets the buffer and counters. replaced reports that an unfinished
// job was discarded. A start announcing more than the size limit, or a
// restart in strict mode, fails and aborts the new job.
func (r *Receiver) Begin(m control.TransferStart) (replaced bool, err error) {
	replaced = r.job != nil
	if replaced {
		log.Warn().Str("module", "transfer").Str("name", r.job.Name).
			Int("received", r.job.CompletedChunks).Int("expected", r.job.TotalChunks).
			Msg("transfer restarted before end")
	}
	r.job = nil
	r.aborted = false
	switch {
	case r.maxBytes > 0 && m.TotalBytes > int64(r.maxBytes):
		r.aborted = true
		return replaced, fmt.Errorf("%w: announced %d bytes", ErrTooLarge, m.TotalBytes)
	case replaced && r.strict:
		r.aborted = true
		return replaced, ErrRestarted
	}
	r.job = &domain.TransferJob{
		Direction:   domain.Receive,
		Name:        m.Name,
		MIME:        m.MIME,
		TrackID:     m.TrackID,
		TotalBytes:  m.TotalBytes,
		TotalChunks: m.TotalChunks,
		Buffer:      make([][]byte, 0, min(max(m.TotalChunks, 0), preallocChunks)),
	}
	return replaced, nil
}

// Chunk appends one binary frame. ok is false when progress is unknown.
// Chunks of an aborted job are dropped without error.
func (r *Receiver) Chunk(b []byte) (percent int, ok bool, err error) {
	if r.aborted {
		return 0, false, nil
	}
	if r.job == nil {
		if r.strict {
			return 0, false, ErrNoStart
		}
		r.job = &domain.TransferJob{Direction: domain.Receive}
	}
	if r.maxBytes > 0 && r.job.Size()+len(b) > r.maxBytes {
		r.job = nil
		r.aborted = true
		return 0, false, ErrTooLarge
	}
	r.job.Buffer = append(r.job.Buffer, b)
	r.job.CompletedChunks++
	percent, ok = r.job.Percent()
	return percent, ok, nil
}

// Finish concatenates the buffer and clears it.
func (r *Receiver) Finish() (Result, error) {
	job := r.job
	r.job = nil
	if r.aborted {
		r.aborted = false
		return Result{}, ErrAborted
	}
	if job == nil {
		return Result{}, ErrNoStart
	}
	if job.CompletedChunks != job.TotalChunks {
		if r.strict {
			return Result{}, fmt.Errorf("%w: got %d of %d chunks", ErrIncomplete, job.CompletedChunks, job.TotalChunks)
		}
		log.Warn().Str("module", "transfer").Str("name", job.Name).
			Int("received", job.CompletedChunks).Int("expected", job.TotalChunks).
			Msg("assembling incomplete transfer")
	}
	return Result{
		Name:     job.Name,
		MIME:     job.MIME,
		TrackID:  job.TrackID,
		Data:     bytes.Join(job.Buffer, nil),
		Expected: job.TotalChunks,
		Received: job.CompletedChunks,
	}, nil
}

// Abort drops the active job.
func (r *Receiver) Abort() {
	r.job = nil
	r.aborted = false
}

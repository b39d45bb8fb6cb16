// Package library holds the shared track list of one session.
package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/MusicParty/internal/domain"
)

// DurationProbe estimates the length of a payload in seconds, or 0.
type DurationProbe func(mime string, data []byte) float64

type Library struct {
	mu     sync.RWMutex
	order  []string
	tracks map[string]domain.Track
	blobs  map[string][]byte
	spool  string
	probe  DurationProbe
}

// New creates an empty library. A non-empty spool dir receives shared
// payloads as files; otherwise they are kept in memory.
func New(spool string, probe DurationProbe) *Library {
	if probe == nil {
		probe = func(string, []byte) float64 { return 0 }
	}
	return &Library{
		tracks: make(map[string]domain.Track),
		blobs:  make(map[string][]byte),
		spool:  spool,
		probe:  probe,
	}
}

// Add appends a track. A track with a known ID is not added twice; the
// stored entry is returned instead.
func (l *Library) Add(t domain.Track) domain.Track {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(t)
}

func (l *Library) addLocked(t domain.Track) domain.Track {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if old, ok := l.tracks[t.ID]; ok {
		return old
	}
	l.tracks[t.ID] = t
	l.order = append(l.order, t.ID)
	log.Info().Str("module", "library").Str("track", t.ID).Str("kind", string(t.Kind)).Str("name", t.Name).Msg("track added")
	return t
}

func (l *Library) AddShared(id, name, mime string, data []byte) (domain.Track, error) {
	if mime == "" {
		mime = mimetype.Detect(data).String()
	}
	t := domain.Track{
		ID:       id,
		Name:     name,
		Kind:     domain.TrackShared,
		MIME:     mime,
		Duration: l.probe(mime, data),
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if old, ok := l.tracks[t.ID]; ok {
		return old, nil
	}
	if l.spool != "" {
		path := filepath.Join(l.spool, t.ID+extension(mime))
		if err := os.MkdirAll(l.spool, 0o755); err != nil {
			return domain.Track{}, fmt.Errorf("spool dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return domain.Track{}, fmt.Errorf("spool %s: %w", t.ID, err)
		}
		t.URL = "file://" + path
	} else {
		l.blobs[t.ID] = data
		t.URL = "mem://" + t.ID
	}
	return l.addLocked(t), nil
}

// AddFile adds a local file as a track the peer will receive by transfer.
func (l *Library) AddFile(id, path string) (domain.Track, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.Track{}, fmt.Errorf("detect %s: %w", path, err)
	}
	var dur float64
	if data, err := os.ReadFile(path); err == nil {
		dur = l.probe(mt.String(), data)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return l.Add(domain.Track{
		ID:       id,
		Name:     DisplayName(path),
		URL:      "file://" + abs,
		Kind:     domain.TrackLocal,
		MIME:     mt.String(),
		Duration: dur,
	}), nil
}

// Data returns an in-memory payload for mem:// tracks.
func (l *Library) Data(id string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.blobs[id]
	return b, ok
}

func (l *Library) Get(id string) (domain.Track, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tracks[id]
	return t, ok
}

func (l *Library) List() []domain.Track {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Track, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.tracks[id])
	}
	return out
}

// Index returns the list position of id, or -1.
func (l *Library) Index(id string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, v := range l.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// DisplayName strips directory and extension from a file name.
func DisplayName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = base[:len(base)-len(ext)]
	}
	return base
}

func extension(mime string) string {
	if mt := mimetype.Lookup(mime); mt != nil {
		return mt.Extension()
	}
	return ""
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/MusicParty/internal/core"
	"github.com/dkeye/MusicParty/internal/domain"
)

var ErrMissingRecipient = errors.New("envelope has no recipient")

// Store keeps signaling envelopes in SQLite so late subscribers can replay
// what was published before they connected.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

var _ core.EnvelopeStore = (*Store)(nil)

// Open opens (or creates) the envelope database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS envelopes (
		id         TEXT PRIMARY KEY,
		from_id    TEXT NOT NULL,
		to_id      TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS envelopes_to_created ON envelopes (to_id, created_at)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("module", "store").Str("path", path).Msg("envelope store open")
	return &Store{db: db, now: time.Now}, nil
}

// Insert stores env with a fresh id and creation time and returns the
// stored copy.
func (s *Store) Insert(ctx context.Context, env domain.Envelope) (domain.Envelope, error) {
	if env.ToID == "" {
		return domain.Envelope{}, ErrMissingRecipient
	}
	if !env.Kind.Valid() {
		return domain.Envelope{}, fmt.Errorf("%w: kind %q", domain.ErrBadEnvelope, env.Kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	env.CreatedAt = s.now().UTC()
	env.ID = ulid.MustNew(ulid.Timestamp(env.CreatedAt), ulid.DefaultEntropy()).String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO envelopes (id, from_id, to_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		env.ID, string(env.FromID), string(env.ToID), string(env.Kind), string(env.Payload), env.CreatedAt.UnixNano())
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("insert envelope: %w", err)
	}
	return env, nil
}

// Since returns the envelopes matching f created after f.Since, oldest
// first.
func (s *Store) Since(ctx context.Context, f domain.EnvelopeFilter) ([]domain.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var since int64
	if !f.Since.IsZero() {
		since = f.Since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, kind, payload, created_at FROM envelopes
		WHERE to_id = ? AND (? = '' OR from_id = ?) AND created_at > ?
		ORDER BY created_at, id`,
		string(f.ToID), string(f.FromID), string(f.FromID), since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Envelope
	for rows.Next() {
		var (
			env            domain.Envelope
			from, to, kind string
			payload        string
			created        int64
		)
		if err := rows.Scan(&env.ID, &from, &to, &kind, &payload, &created); err != nil {
			return nil, err
		}
		env.FromID, env.ToID, env.Kind = domain.PeerID(from), domain.PeerID(to), domain.EnvelopeKind(kind)
		if payload != "" {
			env.Payload = []byte(payload)
		}
		env.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, env)
	}
	return out, rows.Err()
}

// Prune deletes envelopes created before t.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE created_at < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Str("module", "store").Int64("deleted", n).Msg("pruned envelopes")
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

package identity

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Identity is the (userId, signature) pair the server issues once per
// device. The signature is opaque to the client; it is sent back as a
// header with every vote.
type Identity struct {
	UserID    string `json:"userId"`
	Signature string `json:"signature"`
}

// Local reports whether this identity was generated on the device
// because the server could not issue one. Local identities carry no
// signature and are never persisted.
func (id Identity) Local() bool {
	return id.Signature == ""
}

// Store persists the voter identity and the per-poll "has voted" flag
// across sessions (the device-side equivalent of the browser's local
// storage).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS identity (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    user_id TEXT NOT NULL,
    signature TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS voted_polls (
    poll_id TEXT PRIMARY KEY,
    voted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Identity returns the stored identity, if any.
func (s *Store) Identity(ctx context.Context) (Identity, bool, error) {
	var id Identity
	row := s.db.QueryRowContext(ctx, `SELECT user_id, signature FROM identity WHERE id = 1`)
	if err := row.Scan(&id.UserID, &id.Signature); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Identity{}, false, nil
		}
		return Identity{}, false, err
	}
	return id, true, nil
}

func (s *Store) SaveIdentity(ctx context.Context, id Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity (id, user_id, signature) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, signature = excluded.signature`,
		id.UserID, id.Signature)
	return err
}

// Ensure returns the device identity, issuing and persisting one via
// issue on first use. If issuing fails, a throwaway local identity is
// returned so voting can still be attempted; it is not persisted, so
// the next call retries the server.
func (s *Store) Ensure(ctx context.Context, issue func(context.Context) (Identity, error)) (Identity, error) {
	id, ok, err := s.Identity(ctx)
	if err != nil {
		return Identity{}, err
	}
	if ok {
		return id, nil
	}

	id, err = issue(ctx)
	if err != nil {
		local := Identity{UserID: "anonymous-" + uuid.NewString()}
		s.logger.Warn("identity issue failed, using local identity",
			"error", err, "user_id", local.UserID)
		return local, nil
	}

	if err := s.SaveIdentity(ctx, id); err != nil {
		return Identity{}, err
	}
	return id, nil
}

func (s *Store) HasVoted(ctx context.Context, pollID string) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM voted_polls WHERE poll_id = ?`, pollID)
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) MarkVoted(ctx context.Context, pollID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voted_polls (poll_id) VALUES (?) ON CONFLICT(poll_id) DO NOTHING`, pollID)
	return err
}

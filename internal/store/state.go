package store

import (
	"context"
	"database/sql"
	"time"
)

// LoadState returns the value stored under key. The boolean is false when the key is
// missing or expired.
func (s *Store) LoadState(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	var expires int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM session_state WHERE key = $1`, key,
	).Scan(&value, &expires)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if time.Now().After(fromUnix(expires)) {
		_ = s.DeleteState(ctx, key)
		return nil, false, nil
	}
	return []byte(value), true, nil
}

// SaveState stores value under key until ttl elapses.
func (s *Store) SaveState(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_state (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, string(value), unix(time.Now().Add(ttl)),
	)
	return err
}

// DeleteState removes key.
func (s *Store) DeleteState(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE key = $1`, key)
	return err
}

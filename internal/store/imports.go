package store

import (
	"context"
	"database/sql"
)

// GetImportedFileHash returns the content hash recorded for an imported file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = $1`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET hash = EXCLUDED.hash`,
		path, hash,
	)
	return err
}

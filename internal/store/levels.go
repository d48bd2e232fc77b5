package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/learnhub/learnhub/internal/model"
)

// InsertLevelQuestion stores a level-test question.
func (s *Store) InsertLevelQuestion(ctx context.Context, q model.LevelQuestion) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO level_questions (text, option_a, option_b, option_c, option_d, correct, band)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		q.Text, q.Options["A"], q.Options["B"], q.Options["C"], q.Options["D"], q.Correct, string(q.Band),
	).Scan(&id)
	return id, err
}

// InsertLevelQuestions stores a batch of level-test questions in one transaction.
func (s *Store) InsertLevelQuestions(ctx context.Context, qs []model.LevelQuestion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, q := range qs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO level_questions (text, option_a, option_b, option_c, option_d, correct, band)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			q.Text, q.Options["A"], q.Options["B"], q.Options["C"], q.Options["D"], q.Correct, string(q.Band),
		)
		if err != nil {
			return fmt.Errorf("insert level question %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// ListLevelQuestions returns all level-test questions ordered by ID.
func (s *Store) ListLevelQuestions(ctx context.Context) ([]model.LevelQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, option_a, option_b, option_c, option_d, correct, band
		 FROM level_questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.LevelQuestion
	for rows.Next() {
		var q model.LevelQuestion
		var a, b, c, d string
		if err := rows.Scan(&q.ID, &q.Text, &a, &b, &c, &d, &q.Correct, &q.Band); err != nil {
			return nil, err
		}
		q.Options = map[string]string{"A": a, "B": b, "C": c, "D": d}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// LevelQuestionCounts returns the number of stored questions per band.
func (s *Store) LevelQuestionCounts(ctx context.Context) (map[model.Band]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT band, COUNT(*) FROM level_questions GROUP BY band`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[model.Band]int)
	for rows.Next() {
		var band model.Band
		var n int
		if err := rows.Scan(&band, &n); err != nil {
			return nil, err
		}
		counts[band] = n
	}
	return counts, rows.Err()
}

// SaveLevelResult appends a test result and overwrites the user's current level
// in a single transaction. Either both writes commit or neither does. A test ID that
// was already recorded is not written again; the stored result is returned instead.
func (s *Store) SaveLevelResult(ctx context.Context, testID string, userID int64, score int, level model.Band, at time.Time) (*model.TestResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO test_results (test_id, user_id, score, level, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (test_id) DO NOTHING RETURNING id`,
		testID, userID, score, string(level), unix(at),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return s.levelResultByTest(ctx, tx, testID)
	}
	if err != nil {
		return nil, fmt.Errorf("insert test result: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO user_levels (user_id, level, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET level = EXCLUDED.level, updated_at = EXCLUDED.updated_at`,
		userID, string(level), unix(at),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &model.TestResult{
		ID:        id,
		TestID:    testID,
		UserID:    userID,
		Score:     score,
		Level:     level,
		CreatedAt: fromUnix(unix(at)),
	}, nil
}

func (s *Store) levelResultByTest(ctx context.Context, tx *sql.Tx, testID string) (*model.TestResult, error) {
	r := model.TestResult{TestID: testID}
	var created int64
	err := tx.QueryRowContext(ctx,
		`SELECT id, user_id, score, level, created_at FROM test_results WHERE test_id = $1`, testID,
	).Scan(&r.ID, &r.UserID, &r.Score, &r.Level, &created)
	if err != nil {
		return nil, fmt.Errorf("read recorded test result: %w", err)
	}
	r.CreatedAt = fromUnix(created)
	return &r, nil
}

// GetUserLevel returns the user's current level, or "" if no test was finalized.
func (s *Store) GetUserLevel(ctx context.Context, userID int64) (model.Band, error) {
	var level model.Band
	err := s.db.QueryRowContext(ctx, `SELECT level FROM user_levels WHERE user_id = $1`, userID).Scan(&level)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return level, err
}

// ListTestResults returns a user's level-test history, newest first.
func (s *Store) ListTestResults(ctx context.Context, userID int64) ([]model.TestResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, user_id, score, level, created_at FROM test_results
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.TestResult
	for rows.Next() {
		var r model.TestResult
		var created int64
		if err := rows.Scan(&r.ID, &r.TestID, &r.UserID, &r.Score, &r.Level, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnix(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListAllTestResults returns every level-test result joined with its user, newest first.
func (s *Store) ListAllTestResults(ctx context.Context) ([]model.ResultRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.username, u.display_name, r.level, r.score, r.created_at
		 FROM test_results r JOIN users u ON u.id = r.user_id
		 ORDER BY r.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ResultRow
	for rows.Next() {
		var row model.ResultRow
		var score int
		var created int64
		if err := rows.Scan(&row.Username, &row.DisplayName, &row.Label, &score, &created); err != nil {
			return nil, err
		}
		row.Score = float64(score)
		row.CreatedAt = fromUnix(created)
		out = append(out, row)
	}
	return out, rows.Err()
}

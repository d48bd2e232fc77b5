package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/learnhub/learnhub/internal/model"
)

// CreateQuiz inserts a quiz together with its questions. Question positions follow slice order.
func (s *Store) CreateQuiz(ctx context.Context, q model.Quiz, questions []model.QuizQuestion) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var quizID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO quizzes (title, description, difficulty) VALUES ($1, $2, $3) RETURNING id`,
		q.Title, q.Description, int(q.Difficulty),
	).Scan(&quizID)
	if err != nil {
		return 0, fmt.Errorf("insert quiz: %w", err)
	}

	for i, qq := range questions {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO quiz_questions (quiz_id, position, text, type, options_json, correct_answer)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			quizID, i, qq.Text, int(qq.Type), string(qq.Options), qq.CorrectAnswer,
		)
		if err != nil {
			return 0, fmt.Errorf("insert question %d: %w", i, err)
		}
	}

	return quizID, tx.Commit()
}

// GetQuiz returns a quiz by ID, or nil if none exists.
func (s *Store) GetQuiz(ctx context.Context, id int64) (*model.Quiz, error) {
	var q model.Quiz
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, difficulty FROM quizzes WHERE id = $1`, id,
	).Scan(&q.ID, &q.Title, &q.Description, &q.Difficulty)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuizzes returns all quizzes ordered by difficulty then title.
func (s *Store) ListQuizzes(ctx context.Context) ([]model.Quiz, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, difficulty FROM quizzes ORDER BY difficulty, title, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var quizzes []model.Quiz
	for rows.Next() {
		var q model.Quiz
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &q.Difficulty); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, q)
	}
	return quizzes, rows.Err()
}

// ListQuizQuestions returns a quiz's questions in position order.
func (s *Store) ListQuizQuestions(ctx context.Context, quizID int64) ([]model.QuizQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, quiz_id, position, text, type, options_json, correct_answer
		 FROM quiz_questions WHERE quiz_id = $1 ORDER BY position, id`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.QuizQuestion
	for rows.Next() {
		var q model.QuizQuestion
		var options string
		if err := rows.Scan(&q.ID, &q.QuizID, &q.Position, &q.Text, &q.Type, &options, &q.CorrectAnswer); err != nil {
			return nil, err
		}
		q.Options = []byte(options)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

const attemptColumns = `id, quiz_id, user_id, score, status, started_at, completed_at`

func scanAttempt(row interface{ Scan(...any) error }) (*model.QuizAttempt, error) {
	var a model.QuizAttempt
	var started int64
	var completed sql.NullInt64
	if err := row.Scan(&a.ID, &a.QuizID, &a.UserID, &a.Score, &a.Status, &started, &completed); err != nil {
		return nil, err
	}
	a.StartedAt = fromUnix(started)
	a.CompletedAt = fromNullUnix(completed)
	return &a, nil
}

func (s *Store) queryAttempt(ctx context.Context, query string, args ...any) (*model.QuizAttempt, error) {
	a, err := scanAttempt(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// GetAttempt returns an attempt by ID, or nil if none exists.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*model.QuizAttempt, error) {
	return s.queryAttempt(ctx, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id)
}

// InProgressAttempt returns the user's open attempt for a quiz, or nil.
func (s *Store) InProgressAttempt(ctx context.Context, userID, quizID int64) (*model.QuizAttempt, error) {
	return s.queryAttempt(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = $2 AND status = $3
		 ORDER BY id DESC LIMIT 1`,
		userID, quizID, int(model.AttemptInProgress))
}

// LastCompletedAttempt returns the user's most recently completed attempt for a quiz, or nil.
func (s *Store) LastCompletedAttempt(ctx context.Context, userID, quizID int64) (*model.QuizAttempt, error) {
	return s.queryAttempt(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = $2 AND status = $3
		 ORDER BY completed_at DESC, id DESC LIMIT 1`,
		userID, quizID, int(model.AttemptCompleted))
}

// LatestAttempt returns the user's newest attempt for a quiz in any state, or nil.
func (s *Store) LatestAttempt(ctx context.Context, userID, quizID int64) (*model.QuizAttempt, error) {
	return s.queryAttempt(ctx,
		`SELECT `+attemptColumns+` FROM quiz_attempts
		 WHERE user_id = $1 AND quiz_id = $2 ORDER BY id DESC LIMIT 1`,
		userID, quizID)
}

// CreateAttempt opens a new in-progress attempt with score 0. The partial unique
// index on open attempts rejects a second concurrent open attempt.
func (s *Store) CreateAttempt(ctx context.Context, userID, quizID int64, at time.Time) (*model.QuizAttempt, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO quiz_attempts (quiz_id, user_id, score, status, started_at)
		 VALUES ($1, $2, 0, $3, $4) RETURNING id`,
		quizID, userID, int(model.AttemptInProgress), unix(at),
	).Scan(&id)
	if err != nil {
		return nil, err
	}
	return &model.QuizAttempt{
		ID:        id,
		QuizID:    quizID,
		UserID:    userID,
		Status:    model.AttemptInProgress,
		StartedAt: fromUnix(unix(at)),
	}, nil
}

// ExpireAttempt marks an in-progress attempt as expired.
func (s *Store) ExpireAttempt(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quiz_attempts SET status = $1 WHERE id = $2 AND status = $3`,
		int(model.AttemptExpired), id, int(model.AttemptInProgress))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrAttemptNotInProgress
	}
	return nil
}

// UpsertAnswer inserts or replaces the answer for (attempt, question). Last write wins.
func (s *Store) UpsertAnswer(ctx context.Context, a model.QuizAnswer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quiz_answers (attempt_id, question_id, raw, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE SET raw = EXCLUDED.raw, updated_at = EXCLUDED.updated_at`,
		a.AttemptID, a.QuestionID, a.Raw, unix(a.UpdatedAt),
	)
	return err
}

// ListAnswers returns all saved answers of an attempt.
func (s *Store) ListAnswers(ctx context.Context, attemptID int64) ([]model.QuizAnswer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attempt_id, question_id, raw, updated_at FROM quiz_answers
		 WHERE attempt_id = $1 ORDER BY question_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.QuizAnswer
	for rows.Next() {
		var a model.QuizAnswer
		var updated int64
		if err := rows.Scan(&a.AttemptID, &a.QuestionID, &a.Raw, &updated); err != nil {
			return nil, err
		}
		a.UpdatedAt = fromUnix(updated)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CompleteAttempt moves an in-progress attempt to completed with the given score and
// appends its result row, in one transaction. It returns ErrAttemptNotInProgress when
// the attempt was already completed, including by a concurrent caller.
func (s *Store) CompleteAttempt(ctx context.Context, attemptID int64, score float64, at time.Time) (*model.QuizResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var quizID, userID int64
	var status model.AttemptStatus
	err = tx.QueryRowContext(ctx,
		`SELECT quiz_id, user_id, status FROM quiz_attempts WHERE id = $1`+s.forUpdate(), attemptID,
	).Scan(&quizID, &userID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read attempt: %w", err)
	}
	if status != model.AttemptInProgress {
		return nil, ErrAttemptNotInProgress
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE quiz_attempts SET score = $1, status = $2, completed_at = $3
		 WHERE id = $4 AND status = $5`,
		score, int(model.AttemptCompleted), unix(at), attemptID, int(model.AttemptInProgress),
	)
	if err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update attempt: %w", err)
	}
	if n != 1 {
		return nil, ErrAttemptNotInProgress
	}

	var resultID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO quiz_results (attempt_id, quiz_id, user_id, score, created_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		attemptID, quizID, userID, score, unix(at),
	).Scan(&resultID)
	if err != nil {
		return nil, fmt.Errorf("insert quiz result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &model.QuizResult{
		ID:        resultID,
		AttemptID: attemptID,
		QuizID:    quizID,
		UserID:    userID,
		Score:     score,
		CreatedAt: fromUnix(unix(at)),
	}, nil
}

// ListQuizResults returns a user's finalized quiz results, newest first.
func (s *Store) ListQuizResults(ctx context.Context, userID int64) ([]model.QuizResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, attempt_id, quiz_id, user_id, score, created_at FROM quiz_results
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.QuizResult
	for rows.Next() {
		var r model.QuizResult
		var created int64
		if err := rows.Scan(&r.ID, &r.AttemptID, &r.QuizID, &r.UserID, &r.Score, &created); err != nil {
			return nil, err
		}
		r.CreatedAt = fromUnix(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountQuizResults returns the number of result rows for an attempt.
func (s *Store) CountQuizResults(ctx context.Context, attemptID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quiz_results WHERE attempt_id = $1`, attemptID).Scan(&n)
	return n, err
}

// ListAllQuizResults returns every quiz result joined with user and quiz, newest first.
func (s *Store) ListAllQuizResults(ctx context.Context) ([]model.ResultRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.username, u.display_name, q.title, r.score, r.created_at
		 FROM quiz_results r
		 JOIN users u ON u.id = r.user_id
		 JOIN quizzes q ON q.id = r.quiz_id
		 ORDER BY r.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ResultRow
	for rows.Next() {
		var row model.ResultRow
		var created int64
		if err := rows.Scan(&row.Username, &row.DisplayName, &row.Label, &row.Score, &created); err != nil {
			return nil, err
		}
		row.CreatedAt = fromUnix(created)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Package assessment administers the CEFR level test: it draws a fixed band composition,
// records answers in per-session state and assigns a level when the test is finalized.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/validate"
)

// BandCount is how many questions a test draws from one band.
type BandCount struct {
	Band  model.Band
	Count int
}

// Composition is the per-band question count of every level test, in band order.
var Composition = []BandCount{
	{model.BandA1, 4},
	{model.BandA2, 4},
	{model.BandB1, 5},
	{model.BandB2, 5},
	{model.BandC1, 4},
	{model.BandC2, 3},
}

// TestLength is the total number of questions in a level test.
const TestLength = 25

// Advancement thresholds: moving from band cur to the next band requires at least
// CurrentBandPass percent on cur and NextBandPass percent on the next band.
const (
	CurrentBandPass = 60.0
	NextBandPass    = 50.0
)

var (
	// ErrInsufficientQuestions means a band's pool is smaller than the composition requires.
	ErrInsufficientQuestions = errors.New("not enough level questions")
	// ErrNoTest means the session has no level test in progress.
	ErrNoTest = errors.New("no level test in progress")
)

// IncompleteTestError is returned by Finalize while some answers are still empty.
type IncompleteTestError struct {
	FirstUnanswered int
	Answered        int
	Total           int
}

func (e *IncompleteTestError) Error() string {
	return fmt.Sprintf("level test incomplete: %d of %d answered, first unanswered is %d",
		e.Answered, e.Total, e.FirstUnanswered)
}

// QuestionSource supplies the level-question pool.
type QuestionSource interface {
	ListLevelQuestions(ctx context.Context) ([]model.LevelQuestion, error)
}

// ResultWriter persists a finalized test atomically: the result row and the user's
// current level commit together or not at all.
type ResultWriter interface {
	SaveLevelResult(ctx context.Context, testID string, userID int64, score int, level model.Band, at time.Time) (*model.TestResult, error)
}

// Repository is the persistence the level test needs.
type Repository interface {
	QuestionSource
	ResultWriter
}

// Service runs level tests.
type Service struct {
	repo     Repository
	sessions *Sessions
	metrics  *metrics.Metrics

	shuffle func(n int, swap func(i, j int))
	now     func() time.Time
}

// New creates a Service.
func New(repo Repository, sessions *Sessions, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		metrics:  m,
		shuffle:  rand.Shuffle,
		now:      time.Now,
	}
}

// BuildTest returns the session's test, drawing a new one only when none exists.
func (s *Service) BuildTest(ctx context.Context, sessionID string) (*model.TestSession, error) {
	existing, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	pool, err := s.repo.ListLevelQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list level questions: %w", err)
	}
	byBand := make(map[model.Band][]model.LevelQuestion)
	for _, q := range pool {
		byBand[q.Band] = append(byBand[q.Band], q)
	}

	selected := make([]model.LevelQuestion, 0, TestLength)
	for _, bc := range Composition {
		candidates := append([]model.LevelQuestion(nil), byBand[bc.Band]...)
		if len(candidates) < bc.Count {
			return nil, fmt.Errorf("%w: band %s has %d, needs %d",
				ErrInsufficientQuestions, bc.Band, len(candidates), bc.Count)
		}
		s.shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		selected = append(selected, candidates[:bc.Count]...)
	}
	s.shuffle(len(selected), func(i, j int) {
		selected[i], selected[j] = selected[j], selected[i]
	})

	ts := &model.TestSession{
		ID:        uuid.NewString(),
		Questions: selected,
		Answers:   make([]string, len(selected)),
		StartedAt: s.now(),
	}
	if err := s.sessions.Create(ctx, sessionID, ts); err != nil {
		return nil, err
	}
	slog.Info("built level test", "test_id", ts.ID, "questions", len(selected))
	return ts, nil
}

// Current returns the session's test or ErrNoTest.
func (s *Service) Current(ctx context.Context, sessionID string) (*model.TestSession, error) {
	ts, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, ErrNoTest
	}
	return ts, nil
}

// RecordAnswer overwrites the answer at index with label ("" clears it) and moves the
// cursor to the following question. Invalid input leaves the state untouched.
func (s *Service) RecordAnswer(ctx context.Context, sessionID string, index int, label string) (*model.TestSession, error) {
	ts, err := s.Current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ts.Answers) {
		return nil, model.NewValidationError("index", "must be in [0,%d), got %d", len(ts.Answers), index)
	}
	if err := validate.Var("answer", label, "omitempty,oneof=A B C D"); err != nil {
		return nil, err
	}

	ts.Answers[index] = label
	ts.Cursor = min(index+1, len(ts.Answers)-1)
	if err := s.sessions.Update(ctx, sessionID, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// Seek moves the cursor to index.
func (s *Service) Seek(ctx context.Context, sessionID string, index int) (*model.TestSession, error) {
	ts, err := s.Current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(ts.Questions) {
		return nil, model.NewValidationError("index", "must be in [0,%d), got %d", len(ts.Questions), index)
	}
	if ts.Cursor == index {
		return ts, nil
	}
	ts.Cursor = index
	if err := s.sessions.Update(ctx, sessionID, ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// Finalize scores a complete test, persists the result and the user's new level in one
// transaction, and only then clears the session's test. When persistence fails the test
// stays in the session so Finalize can be retried. Results are keyed by the test ID, so a
// retry after a failed clear returns the stored result instead of recording it twice.
func (s *Service) Finalize(ctx context.Context, sessionID string, userID int64) (*model.LevelReport, error) {
	ts, err := s.Current(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ts.IsComplete() {
		return nil, &IncompleteTestError{
			FirstUnanswered: ts.FirstUnanswered(),
			Answered:        ts.Answered(),
			Total:           len(ts.Answers),
		}
	}

	report := Score(ts)
	result, err := s.repo.SaveLevelResult(ctx, ts.ID, userID, report.TotalCorrect, report.Assigned, s.now())
	if err != nil {
		slog.Error("failed to save level result", "user_id", userID, "test_id", ts.ID, "error", err)
		return nil, fmt.Errorf("save level result: %w", err)
	}

	if err := s.sessions.Clear(ctx, sessionID); err != nil {
		slog.Error("failed to clear level test", "test_id", ts.ID, "error", err)
	}
	s.metrics.LevelTestsFinalized.WithLabelValues(string(report.Assigned)).Inc()
	slog.Info("finalized level test",
		"user_id", userID,
		"test_id", ts.ID,
		"result_id", result.ID,
		"correct", report.TotalCorrect,
		"level", report.Assigned,
	)
	return &report, nil
}

// Discard drops the session's test without scoring it.
func (s *Service) Discard(ctx context.Context, sessionID string) error {
	return s.sessions.Clear(ctx, sessionID)
}

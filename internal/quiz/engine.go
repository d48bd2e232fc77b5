// Package quiz runs vocabulary and grammar quizzes: it opens and resumes attempts, stores
// answers as they are given and grades an attempt exactly once.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/store"
)

// DefaultCooldown is the minimum time between completing a quiz and starting it again.
const DefaultCooldown = 24 * time.Hour

var (
	ErrQuizNotFound    = errors.New("quiz not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAttemptExpired  = errors.New("attempt expired")
)

// CooldownError is returned by StartOrResume while a recent completion blocks a retake.
type CooldownError struct {
	RetryAt time.Time
}

func (e *CooldownError) Error() string {
	return "quiz completed recently, retake opens at " + e.RetryAt.UTC().Format(time.RFC3339)
}

// AlreadyCompletedError is returned when an attempt is no longer in progress.
type AlreadyCompletedError struct {
	AttemptID int64
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("attempt %d is already completed", e.AttemptID)
}

// IncompleteQuizError names the first question, in quiz order, without a complete answer.
type IncompleteQuizError struct {
	Index      int
	QuestionID int64
}

func (e *IncompleteQuizError) Error() string {
	return fmt.Sprintf("question %d is not answered", e.Index+1)
}

// Repository is the persistence the engine needs.
type Repository interface {
	GetQuiz(ctx context.Context, id int64) (*model.Quiz, error)
	ListQuizQuestions(ctx context.Context, quizID int64) ([]model.QuizQuestion, error)
	GetAttempt(ctx context.Context, id int64) (*model.QuizAttempt, error)
	InProgressAttempt(ctx context.Context, userID, quizID int64) (*model.QuizAttempt, error)
	LastCompletedAttempt(ctx context.Context, userID, quizID int64) (*model.QuizAttempt, error)
	CreateAttempt(ctx context.Context, userID, quizID int64, at time.Time) (*model.QuizAttempt, error)
	ExpireAttempt(ctx context.Context, id int64) error
	UpsertAnswer(ctx context.Context, a model.QuizAnswer) error
	ListAnswers(ctx context.Context, attemptID int64) ([]model.QuizAnswer, error)
	CompleteAttempt(ctx context.Context, attemptID int64, score float64, at time.Time) (*model.QuizResult, error)
}

// Options tunes attempt lifetimes. Zero values select the defaults; a negative
// AttemptTTL or zero disables expiry.
type Options struct {
	Cooldown   time.Duration
	AttemptTTL time.Duration
}

// Engine coordinates quiz attempts.
type Engine struct {
	repo       Repository
	metrics    *metrics.Metrics
	cooldown   time.Duration
	attemptTTL time.Duration

	now func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(repo Repository, m *metrics.Metrics, opts Options) *Engine {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	return &Engine{
		repo:       repo,
		metrics:    m,
		cooldown:   opts.Cooldown,
		attemptTTL: opts.AttemptTTL,
		now:        time.Now,
	}
}

// Progress is an attempt with its quiz, questions in order and saved answers.
type Progress struct {
	Attempt   model.QuizAttempt
	Quiz      model.Quiz
	Questions []model.QuizQuestion
	Answers   map[int64]string
}

// Answered counts the questions whose saved answer is complete.
func (p *Progress) Answered() int {
	n := 0
	for _, q := range p.Questions {
		if completeFor(q, p.Answers[q.ID]) {
			n++
		}
	}
	return n
}

// ReviewItem is one graded question.
type ReviewItem struct {
	Question model.QuizQuestion
	Given    Answer
	Expected string
	Correct  bool
}

// Review is a graded attempt.
type Review struct {
	Attempt model.QuizAttempt
	Quiz    model.Quiz
	Correct int
	Total   int
	Items   []ReviewItem
}

// StartOrResume returns the user's open attempt on a quiz, creating one when none exists.
// A completion within the cooldown window blocks a new attempt with a CooldownError.
func (e *Engine) StartOrResume(ctx context.Context, userID, quizID int64) (*Progress, error) {
	quiz, questions, err := e.loadQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, model.NewValidationError("quiz", "quiz %d has no questions", quizID)
	}
	now := e.now()

	last, err := e.repo.LastCompletedAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("last completed attempt: %w", err)
	}
	if last != nil && last.CompletedAt != nil && now.Sub(*last.CompletedAt) < e.cooldown {
		e.metrics.QuizCooldownRejects.Inc()
		return nil, &CooldownError{RetryAt: last.CompletedAt.Add(e.cooldown)}
	}

	open, err := e.repo.InProgressAttempt(ctx, userID, quizID)
	if err != nil {
		return nil, fmt.Errorf("open attempt: %w", err)
	}
	if open != nil && e.attemptTTL > 0 && now.Sub(open.StartedAt) > e.attemptTTL {
		if err := e.repo.ExpireAttempt(ctx, open.ID); err != nil && !errors.Is(err, store.ErrAttemptNotInProgress) {
			return nil, fmt.Errorf("expire attempt: %w", err)
		}
		slog.Info("quiz attempt expired", "attempt", open.ID, "user", userID, "quiz", quizID)
		open = nil
	}

	if open == nil {
		open, err = e.repo.CreateAttempt(ctx, userID, quizID, now)
		if err != nil {
			// A concurrent start may have won the one-open-attempt index.
			existing, rerr := e.repo.InProgressAttempt(ctx, userID, quizID)
			if rerr != nil || existing == nil {
				return nil, fmt.Errorf("create attempt: %w", err)
			}
			open = existing
		} else {
			slog.Info("quiz attempt started", "attempt", open.ID, "user", userID, "quiz", quizID)
		}
	}

	answers, err := e.answerMap(ctx, open.ID)
	if err != nil {
		return nil, err
	}
	return &Progress{Attempt: *open, Quiz: *quiz, Questions: questions, Answers: answers}, nil
}

// Load returns an attempt owned by userID in any state.
func (e *Engine) Load(ctx context.Context, userID, attemptID int64) (*Progress, error) {
	attempt, err := e.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	quiz, questions, err := e.loadQuiz(ctx, attempt.QuizID)
	if err != nil {
		return nil, err
	}
	answers, err := e.answerMap(ctx, attempt.ID)
	if err != nil {
		return nil, err
	}
	return &Progress{Attempt: *attempt, Quiz: *quiz, Questions: questions, Answers: answers}, nil
}

// SaveAnswer stores the answer for one question of an in-progress attempt. The last
// write wins; correctness is not checked until Finalize.
func (e *Engine) SaveAnswer(ctx context.Context, userID, attemptID, questionID int64, raw string) error {
	attempt, err := e.ownedAttempt(ctx, userID, attemptID)
	if err != nil {
		return err
	}
	switch attempt.Status {
	case model.AttemptCompleted:
		return &AlreadyCompletedError{AttemptID: attemptID}
	case model.AttemptExpired:
		return ErrAttemptExpired
	}

	questions, err := e.repo.ListQuizQuestions(ctx, attempt.QuizID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	var question *model.QuizQuestion
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return model.NewValidationError("question", "question %d is not part of this quiz", questionID)
	}
	answer, err := DecodeAnswer(question.Type, raw)
	if err != nil {
		return err
	}

	err = e.repo.UpsertAnswer(ctx, model.QuizAnswer{
		AttemptID:  attemptID,
		QuestionID: questionID,
		Raw:        answer.Raw(),
		UpdatedAt:  e.now(),
	})
	if err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Finalize grades an in-progress attempt and records the result. Every question must
// have a complete answer. Only one call per attempt can succeed; later or concurrent
// calls get an AlreadyCompletedError.
func (e *Engine) Finalize(ctx context.Context, userID, attemptID int64) (*Review, error) {
	p, err := e.Load(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	switch p.Attempt.Status {
	case model.AttemptCompleted:
		e.metrics.QuizDoubleSubmits.Inc()
		return nil, &AlreadyCompletedError{AttemptID: attemptID}
	case model.AttemptExpired:
		return nil, ErrAttemptExpired
	}

	for i, q := range p.Questions {
		if !completeFor(q, p.Answers[q.ID]) {
			return nil, &IncompleteQuizError{Index: i, QuestionID: q.ID}
		}
	}

	review, err := grade(p)
	if err != nil {
		return nil, err
	}
	score := percentage(review.Correct, review.Total)

	result, err := e.repo.CompleteAttempt(ctx, attemptID, score, e.now())
	if errors.Is(err, store.ErrAttemptNotInProgress) {
		e.metrics.QuizDoubleSubmits.Inc()
		return nil, &AlreadyCompletedError{AttemptID: attemptID}
	}
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	e.metrics.QuizAttemptsFinalized.Inc()

	completed := result.CreatedAt
	review.Attempt.Score = score
	review.Attempt.Status = model.AttemptCompleted
	review.Attempt.CompletedAt = &completed
	slog.Info("quiz attempt finalized", "attempt", attemptID, "user", userID,
		"quiz", p.Quiz.ID, "score", score, "correct", review.Correct, "total", review.Total)
	return review, nil
}

// Review regrades a completed attempt from its stored answers.
func (e *Engine) Review(ctx context.Context, userID, attemptID int64) (*Review, error) {
	p, err := e.Load(ctx, userID, attemptID)
	if err != nil {
		return nil, err
	}
	if p.Attempt.Status != model.AttemptCompleted {
		return nil, model.NewValidationError("attempt", "attempt %d is not completed", attemptID)
	}
	return grade(p)
}

func grade(p *Progress) (*Review, error) {
	r := &Review{Attempt: p.Attempt, Quiz: p.Quiz, Total: len(p.Questions)}
	for _, q := range p.Questions {
		k, err := decodeKey(q)
		if err != nil {
			return nil, err
		}
		given, err := DecodeAnswer(q.Type, p.Answers[q.ID])
		if err != nil {
			return nil, err
		}
		ok := k.grade(given)
		if ok {
			r.Correct++
		}
		r.Items = append(r.Items, ReviewItem{Question: q, Given: given, Expected: k.expected(), Correct: ok})
	}
	return r, nil
}

func (e *Engine) loadQuiz(ctx context.Context, quizID int64) (*model.Quiz, []model.QuizQuestion, error) {
	quiz, err := e.repo.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("get quiz: %w", err)
	}
	if quiz == nil {
		return nil, nil, ErrQuizNotFound
	}
	questions, err := e.repo.ListQuizQuestions(ctx, quizID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	return quiz, questions, nil
}

// ownedAttempt hides other users' attempts behind ErrAttemptNotFound.
func (e *Engine) ownedAttempt(ctx context.Context, userID, attemptID int64) (*model.QuizAttempt, error) {
	attempt, err := e.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt == nil || attempt.UserID != userID {
		return nil, ErrAttemptNotFound
	}
	return attempt, nil
}

func (e *Engine) answerMap(ctx context.Context, attemptID int64) (map[int64]string, error) {
	answers, err := e.repo.ListAnswers(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	m := make(map[int64]string, len(answers))
	for _, a := range answers {
		m[a.QuestionID] = a.Raw
	}
	return m, nil
}

// completeFor applies IsAnswerComplete with the question's own left-item count.
func completeFor(q model.QuizQuestion, raw string) bool {
	left := 0
	if q.Type == model.QuestionMatching {
		k, err := decodeKey(q)
		if err != nil {
			return false
		}
		left = k.leftItems()
	}
	return IsAnswerComplete(raw, q.Type, left)
}

func percentage(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return 100 * float64(n) / float64(of)
}

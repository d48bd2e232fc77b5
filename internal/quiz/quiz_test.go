package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/store"
)

const learner int64 = 10

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleImport() model.QuizImport {
	return model.QuizImport{
		Title:      "Animals",
		Difficulty: model.DifficultyBeginner,
		Questions: []model.QuizQuestionImport{
			{
				Text:          "Translate 'dog'",
				Type:          model.QuestionMultipleChoice,
				Options:       json.RawMessage(`{"A":"gato","B":"perro","C":"pájaro"}`),
				CorrectAnswer: json.RawMessage(`"B"`),
			},
			{
				Text:          "Match the animals",
				Type:          model.QuestionMatching,
				Options:       json.RawMessage(`[{"left":"dog","right":"perro"},{"left":"cat","right":"gato"},{"left":"bird","right":"pájaro"}]`),
				CorrectAnswer: json.RawMessage(`[{"left":"dog","right":"perro"},{"left":"cat","right":"gato"},{"left":"bird","right":"pájaro"}]`),
			},
			{
				Text:          "Fix the sentence",
				Type:          model.QuestionGrammar,
				Options:       json.RawMessage(`{"sentence":"She go to school.","correct":"She goes to school."}`),
				CorrectAnswer: json.RawMessage(`"She goes to school."`),
			},
		},
	}
}

// seedQuiz stores the sample quiz and returns its ID and questions.
func seedQuiz(t *testing.T, s *store.Store) (int64, []model.QuizQuestion) {
	t.Helper()
	ctx := context.Background()
	q, questions, err := FromImport(sampleImport())
	require.NoError(t, err)
	id, err := s.CreateQuiz(ctx, q, questions)
	require.NoError(t, err)
	stored, err := s.ListQuizQuestions(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	return id, stored
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newEngine(repo Repository, c *clock) *Engine {
	e := NewEngine(repo, metrics.NewNop(), Options{AttemptTTL: 7 * 24 * time.Hour})
	e.now = c.Now
	return e
}

func answerAll(t *testing.T, e *Engine, attemptID int64, qs []model.QuizQuestion, grammar string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.SaveAnswer(ctx, learner, attemptID, qs[0].ID, "B"))
	require.NoError(t, e.SaveAnswer(ctx, learner, attemptID, qs[1].ID, `["perro","gato","pájaro"]`))
	require.NoError(t, e.SaveAnswer(ctx, learner, attemptID, qs[2].ID, grammar))
}

func TestIsAnswerComplete(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		typ  model.QuestionType
		left int
		want bool
	}{
		{"choice set", "A", model.QuestionMultipleChoice, 0, true},
		{"choice empty", "", model.QuestionMultipleChoice, 0, false},
		{"grammar set", "She goes.", model.QuestionGrammar, 0, true},
		{"grammar empty", "", model.QuestionGrammar, 0, false},
		{"matching full", `["x","y","z"]`, model.QuestionMatching, 3, true},
		{"matching empty slot", `["x","","z"]`, model.QuestionMatching, 3, false},
		{"matching null slot", `["x",null,"z"]`, model.QuestionMatching, 3, false},
		{"matching short", `["x","y"]`, model.QuestionMatching, 3, false},
		{"matching long", `["x","y","z","w"]`, model.QuestionMatching, 3, false},
		{"matching not json", `x,y,z`, model.QuestionMatching, 3, false},
		{"matching blank", ``, model.QuestionMatching, 3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAnswerComplete(tt.raw, tt.typ, tt.left))
		})
	}
}

func TestGrading(t *testing.T) {
	_, questions, err := FromImport(sampleImport())
	require.NoError(t, err)
	mc, matching, grammar := questions[0], questions[1], questions[2]

	tests := []struct {
		name string
		q    model.QuizQuestion
		raw  string
		want bool
	}{
		{"choice exact", mc, "B", true},
		{"choice is case sensitive", mc, "b", false},
		{"choice wrong", mc, "A", false},
		{"matching all right", matching, `["perro","gato","pájaro"]`, true},
		{"matching one swapped", matching, `["gato","perro","pájaro"]`, false},
		{"grammar trims and folds case", grammar, "  she GOES to school.  ", true},
		{"grammar different text", grammar, "She goes to the school.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := decodeKey(tt.q)
			require.NoError(t, err)
			a, err := DecodeAnswer(tt.q.Type, tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.grade(a))
		})
	}
}

func TestMatchingKeyAsRightColumn(t *testing.T) {
	q := model.QuizQuestion{
		Text:          "Match",
		Type:          model.QuestionMatching,
		Options:       json.RawMessage(`[{"left":"one","right":"uno"},{"left":"two","right":"dos"}]`),
		CorrectAnswer: `["uno","dos"]`,
	}
	require.NoError(t, ValidateQuestion(q))
	k, err := decodeKey(q)
	require.NoError(t, err)
	assert.True(t, k.grade(Matches{"uno", "dos"}))
	assert.Equal(t, "one → uno; two → dos", k.expected())
}

func TestMatchingKeyInAnyPairOrder(t *testing.T) {
	imp := sampleImport()
	imp.Questions[1].CorrectAnswer = json.RawMessage(`[{"left":"bird","right":"pájaro"},{"left":"dog","right":"perro"},{"left":"cat","right":"gato"}]`)
	q, questions, err := FromImport(imp)
	require.NoError(t, err)

	k, err := decodeKey(questions[1])
	require.NoError(t, err)
	assert.Equal(t, 3, k.leftItems())
	assert.True(t, k.grade(Matches{"perro", "gato", "pájaro"}))
	assert.False(t, k.grade(Matches{"pájaro", "perro", "gato"}))
	assert.Equal(t, "dog → perro; cat → gato; bird → pájaro", k.expected())

	s := newTestStore(t)
	ctx := context.Background()
	quizID, err := s.CreateQuiz(ctx, q, questions)
	require.NoError(t, err)
	stored, err := s.ListQuizQuestions(ctx, quizID)
	require.NoError(t, err)

	e := newEngine(s, &clock{now: t0})
	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	answerAll(t, e, p.Attempt.ID, stored, "She goes to school.")

	review, err := e.Finalize(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)
	assert.True(t, review.Items[1].Correct)
	assert.Equal(t, 3, review.Correct)
	assert.InDelta(t, 100, review.Attempt.Score, 0.0001)
}

func TestMatchingKeyMustCoverLeftItems(t *testing.T) {
	keys := map[string]string{
		"empty":         `[]`,
		"missing pair":  `[{"left":"dog","right":"perro"},{"left":"cat","right":"gato"}]`,
		"unknown left":  `[{"left":"dog","right":"perro"},{"left":"cat","right":"gato"},{"left":"fish","right":"pez"}]`,
		"repeated left": `[{"left":"dog","right":"perro"},{"left":"dog","right":"gato"},{"left":"bird","right":"pájaro"}]`,
		"short column":  `["perro","gato"]`,
	}
	for name, raw := range keys {
		t.Run(name, func(t *testing.T) {
			imp := sampleImport()
			imp.Questions[1].CorrectAnswer = json.RawMessage(raw)
			_, _, err := FromImport(imp)
			assert.True(t, model.IsValidation(err), "got %v", err)
		})
	}
}

func TestFromImportRejectsBadQuestions(t *testing.T) {
	bad := sampleImport()
	bad.Questions[0].CorrectAnswer = json.RawMessage(`"E"`)
	_, _, err := FromImport(bad)
	assert.True(t, model.IsValidation(err), "got %v", err)

	noQuestions := sampleImport()
	noQuestions.Questions = nil
	_, _, err = FromImport(noQuestions)
	assert.True(t, model.IsValidation(err))

	badMatching := sampleImport()
	badMatching.Questions[1].CorrectAnswer = json.RawMessage(`["perro"]`)
	_, _, err = FromImport(badMatching)
	assert.Error(t, err)
}

func TestStartOrResumeReusesOpenAttempt(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	c := &clock{now: t0}
	e := newEngine(s, c)
	ctx := context.Background()

	first, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, first.Attempt.Status)
	assert.Zero(t, first.Attempt.Score)
	assert.Empty(t, first.Answers)

	require.NoError(t, e.SaveAnswer(ctx, learner, first.Attempt.ID, qs[0].ID, "A"))

	c.now = t0.Add(time.Hour)
	second, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	assert.Equal(t, first.Attempt.ID, second.Attempt.ID)
	assert.Equal(t, "A", second.Answers[qs[0].ID])

	_, err = e.StartOrResume(ctx, learner, 999)
	assert.ErrorIs(t, err, ErrQuizNotFound)
}

func TestSaveAnswerLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	e := newEngine(s, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	for _, label := range []string{"A", "C", "B"} {
		require.NoError(t, e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[0].ID, label))
	}

	answers, err := s.ListAnswers(ctx, p.Attempt.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "B", answers[0].Raw)
}

func TestSaveAnswerChecks(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	e := newEngine(s, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)

	err = e.SaveAnswer(ctx, learner+1, p.Attempt.ID, qs[0].ID, "B")
	assert.ErrorIs(t, err, ErrAttemptNotFound, "other users cannot see the attempt")

	err = e.SaveAnswer(ctx, learner, p.Attempt.ID, 9999, "B")
	assert.True(t, model.IsValidation(err))

	err = e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[1].ID, "perro")
	assert.True(t, model.IsValidation(err), "matching payload must be a JSON array")

	answerAll(t, e, p.Attempt.ID, qs, "She goes to school.")
	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)

	err = e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[0].ID, "A")
	var done *AlreadyCompletedError
	assert.ErrorAs(t, err, &done)
}

func TestFinalizeIncompleteGate(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	e := newEngine(s, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	require.NoError(t, e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[0].ID, "B"))
	require.NoError(t, e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[1].ID, `["perro","","pájaro"]`))
	require.NoError(t, e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[2].ID, "x"))

	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	var incomplete *IncompleteQuizError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, 1, incomplete.Index)
	assert.Equal(t, qs[1].ID, incomplete.QuestionID)

	a, err := s.GetAttempt(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, a.Status)
	n, err := s.CountQuizResults(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFinalizeScoresAndRejectsSecondSubmit(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	e := newEngine(s, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	answerAll(t, e, p.Attempt.ID, qs, "She go to school.")

	review, err := e.Finalize(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, review.Correct)
	assert.Equal(t, 3, review.Total)
	assert.InDelta(t, 66.666, review.Attempt.Score, 0.01)
	require.Len(t, review.Items, 3)
	assert.True(t, review.Items[0].Correct)
	assert.Equal(t, "B) perro", review.Items[0].Expected)
	assert.False(t, review.Items[2].Correct)
	assert.Equal(t, Text("She go to school."), review.Items[2].Given)

	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	var done *AlreadyCompletedError
	require.ErrorAs(t, err, &done)

	n, err := s.CountQuizResults(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a, err := s.GetAttempt(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptCompleted, a.Status)
	assert.InDelta(t, review.Attempt.Score, a.Score, 0.0001)

	again, err := e.Review(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, review.Correct, again.Correct)
}

func TestConcurrentFinalizeRecordsOneResult(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	e := newEngine(s, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	answerAll(t, e, p.Attempt.ID, qs, "She goes to school.")

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.Finalize(ctx, learner, p.Attempt.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var done *AlreadyCompletedError
		assert.ErrorAs(t, err, &done)
	}
	assert.Equal(t, 1, succeeded)
	n, err := s.CountQuizResults(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCooldown(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	c := &clock{now: t0}
	e := newEngine(s, c)
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	answerAll(t, e, p.Attempt.ID, qs, "She goes to school.")
	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)

	c.now = t0.Add(time.Hour)
	_, err = e.StartOrResume(ctx, learner, quizID)
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.True(t, cooldown.RetryAt.Equal(t0.Add(24*time.Hour)), "retry at %s", cooldown.RetryAt)

	// Another learner is unaffected.
	other, err := e.StartOrResume(ctx, learner+1, quizID)
	require.NoError(t, err)
	assert.NotEqual(t, p.Attempt.ID, other.Attempt.ID)

	c.now = t0.Add(25 * time.Hour)
	retake, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	assert.NotEqual(t, p.Attempt.ID, retake.Attempt.ID)
	assert.Equal(t, model.AttemptInProgress, retake.Attempt.Status)
	assert.Empty(t, retake.Answers)
}

func TestStaleAttemptExpires(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	c := &clock{now: t0}
	e := newEngine(s, c)
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	require.NoError(t, e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[0].ID, "B"))

	c.now = t0.Add(8 * 24 * time.Hour)
	fresh, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	assert.NotEqual(t, p.Attempt.ID, fresh.Attempt.ID)
	assert.Empty(t, fresh.Answers)

	old, err := s.GetAttempt(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptExpired, old.Status)

	err = e.SaveAnswer(ctx, learner, p.Attempt.ID, qs[0].ID, "A")
	assert.ErrorIs(t, err, ErrAttemptExpired)
	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptExpired)
}

// mockCompletion routes CompleteAttempt to a sqlmock-backed store and everything else
// to a real one.
type mockCompletion struct {
	*store.Store
	mock *store.Store
}

func (m mockCompletion) CompleteAttempt(ctx context.Context, attemptID int64, score float64, at time.Time) (*model.QuizResult, error) {
	return m.mock.CompleteAttempt(ctx, attemptID, score, at)
}

func TestFinalizeRollbackLeavesAttemptOpen(t *testing.T) {
	s := newTestStore(t)
	quizID, qs := seedQuiz(t, s)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := newEngine(mockCompletion{Store: s, mock: store.NewWithDB(db, store.DriverSQLite)}, &clock{now: t0})
	ctx := context.Background()

	p, err := e.StartOrResume(ctx, learner, quizID)
	require.NoError(t, err)
	answerAll(t, e, p.Attempt.ID, qs, "She goes to school.")

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT quiz_id, user_id, status FROM quiz_attempts").
		WithArgs(p.Attempt.ID).
		WillReturnRows(sqlmock.NewRows([]string{"quiz_id", "user_id", "status"}).
			AddRow(quizID, learner, int(model.AttemptInProgress)))
	mock.ExpectExec("UPDATE quiz_attempts SET score").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO quiz_results").
		WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	_, err = e.Finalize(ctx, learner, p.Attempt.ID)
	require.Error(t, err)
	var done *AlreadyCompletedError
	assert.False(t, errors.As(err, &done))
	require.NoError(t, mock.ExpectationsWereMet())

	// The failed completion left the real attempt open, so a normal finalize succeeds.
	a, err := s.GetAttempt(ctx, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AttemptInProgress, a.Status)

	healthy := newEngine(s, &clock{now: t0})
	review, err := healthy.Finalize(ctx, learner, p.Attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, review.Correct)
}

func TestCompleteAttemptGuardedUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := store.NewWithDB(db, store.DriverSQLite)

	// The row reads as open but a racing writer completes it before the update lands.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT quiz_id, user_id, status FROM quiz_attempts").
		WillReturnRows(sqlmock.NewRows([]string{"quiz_id", "user_id", "status"}).AddRow(1, learner, 0))
	mock.ExpectExec("UPDATE quiz_attempts SET score").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = s.CompleteAttempt(context.Background(), 5, 100, t0)
	assert.ErrorIs(t, err, store.ErrAttemptNotInProgress)
	require.NoError(t, mock.ExpectationsWereMet())
}

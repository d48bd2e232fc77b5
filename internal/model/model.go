package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a learner.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is an instructor who can see everyone's results.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin manages users and content.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type sessionIDCtxKey struct{}

// ContextWithSessionID stores the auth session token in context.
func ContextWithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDCtxKey{}, id)
}

// SessionIDFromContext retrieves the auth session token (empty string if not set).
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDCtxKey{}).(string)
	return id
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// Band is a CEFR proficiency band.
type Band string

const (
	BandA1 Band = "A1"
	BandA2 Band = "A2"
	BandB1 Band = "B1"
	BandB2 Band = "B2"
	BandC1 Band = "C1"
	BandC2 Band = "C2"
)

// Bands lists all CEFR bands in increasing order of proficiency.
var Bands = []Band{BandA1, BandA2, BandB1, BandB2, BandC1, BandC2}

// Valid reports whether b is one of the six CEFR bands.
func (b Band) Valid() bool {
	for _, x := range Bands {
		if b == x {
			return true
		}
	}
	return false
}

// OptionLabels are the labels of a level-test question's options, in display order.
var OptionLabels = []string{"A", "B", "C", "D"}

// LevelQuestion is a leveled multiple-choice question used by the level test.
type LevelQuestion struct {
	ID      int64             `json:"id"`
	Text    string            `json:"text"`
	Options map[string]string `json:"options"`
	Correct string            `json:"correct"`
	Band    Band              `json:"band"`
}

// TestSession is the in-progress state of one level test, owned by a single auth session.
type TestSession struct {
	ID        string          `json:"id"`
	Questions []LevelQuestion `json:"questions"`
	Answers   []string        `json:"answers"`
	Cursor    int             `json:"cursor"`
	StartedAt time.Time       `json:"started_at"`
}

// IsComplete reports whether every question has an answer.
func (ts *TestSession) IsComplete() bool {
	return ts.FirstUnanswered() < 0
}

// FirstUnanswered returns the index of the first empty answer slot, or -1.
func (ts *TestSession) FirstUnanswered() int {
	for i, a := range ts.Answers {
		if a == "" {
			return i
		}
	}
	return -1
}

// Answered returns the number of non-empty answer slots.
func (ts *TestSession) Answered() int {
	n := 0
	for _, a := range ts.Answers {
		if a != "" {
			n++
		}
	}
	return n
}

// BandScore holds one band's share of a finalized level test.
type BandScore struct {
	Band       Band    `json:"band"`
	Correct    int     `json:"correct"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// LevelReport is the outcome of a finalized level test.
type LevelReport struct {
	TotalCorrect      int         `json:"total_correct"`
	OverallPercentage float64     `json:"overall_percentage"`
	Bands             []BandScore `json:"bands"`
	Assigned          Band        `json:"assigned"`
}

// TestResult is a persisted level-test outcome.
type TestResult struct {
	ID        int64     `json:"id"`
	TestID    string    `json:"test_id"`
	UserID    int64     `json:"user_id"`
	Score     int       `json:"score"`
	Level     Band      `json:"level"`
	CreatedAt time.Time `json:"created_at"`
}

// Difficulty is a quiz difficulty tier.
type Difficulty int

const (
	DifficultyBeginner     Difficulty = 0
	DifficultyIntermediate Difficulty = 1
	DifficultyAdvanced     Difficulty = 2
)

func (d Difficulty) String() string {
	switch d {
	case DifficultyIntermediate:
		return "Intermediate"
	case DifficultyAdvanced:
		return "Advanced"
	default:
		return "Beginner"
	}
}

// Quiz is a titled set of questions.
type Quiz struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Difficulty  Difficulty `json:"difficulty"`
}

// QuestionType discriminates quiz question kinds.
type QuestionType int

const (
	QuestionMultipleChoice QuestionType = 0
	QuestionMatching       QuestionType = 1
	QuestionGrammar        QuestionType = 2
)

// MatchPair is one left/right pair of a matching question.
type MatchPair struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

// GrammarOptions is the options payload of a grammar question.
type GrammarOptions struct {
	Sentence string `json:"sentence"`
	Correct  string `json:"correct"`
}

// QuizQuestion is one question of a quiz. Options and CorrectAnswer carry type-specific payloads.
type QuizQuestion struct {
	ID            int64           `json:"id"`
	QuizID        int64           `json:"quiz_id"`
	Position      int             `json:"position"`
	Text          string          `json:"text"`
	Type          QuestionType    `json:"type"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
}

// AttemptStatus is the lifecycle state of a quiz attempt.
type AttemptStatus int

const (
	AttemptInProgress AttemptStatus = 0
	AttemptCompleted  AttemptStatus = 1
	AttemptExpired    AttemptStatus = 2
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptInProgress:
		return "in_progress"
	case AttemptCompleted:
		return "completed"
	case AttemptExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// QuizAttempt is one user's pass at a quiz.
type QuizAttempt struct {
	ID          int64         `json:"id"`
	QuizID      int64         `json:"quiz_id"`
	UserID      int64         `json:"user_id"`
	Score       float64       `json:"score"`
	Status      AttemptStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// QuizAnswer is the latest saved answer for one question of an attempt.
type QuizAnswer struct {
	AttemptID  int64     `json:"attempt_id"`
	QuestionID int64     `json:"question_id"`
	Raw        string    `json:"raw"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// QuizResult is the historical record of a finalized attempt.
type QuizResult struct {
	ID        int64     `json:"id"`
	AttemptID int64     `json:"attempt_id"`
	QuizID    int64     `json:"quiz_id"`
	UserID    int64     `json:"user_id"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatRole is the author of a tutor chat message.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatMessage is one turn in a tutor conversation.
type ChatMessage struct {
	Role    ChatRole `json:"role" validate:"required,oneof=user assistant"`
	Content string   `json:"content" validate:"required,max=4000"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath      string        // URL prefix for sub-path deployments (e.g. "/en")
	SecureCookies bool          // Set Secure flag on cookies (disable for local dev)
	QuizCooldown  time.Duration // Minimum time between a completed attempt and a retake
	AttemptTTL    time.Duration // In-progress attempts older than this expire; 0 disables
	AllowRegister bool          // Allow self-registration of student accounts
}

// LevelQuestionImport is used for loading level-test questions from JSON.
type LevelQuestionImport struct {
	Text    string            `json:"text" validate:"required"`
	Options map[string]string `json:"options" validate:"len=4,dive,keys,oneof=A B C D,endkeys,required"`
	Correct string            `json:"correct" validate:"required,oneof=A B C D"`
	Band    Band              `json:"band" validate:"required,oneof=A1 A2 B1 B2 C1 C2"`
}

// QuizImport is used for loading quizzes from JSON.
type QuizImport struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Difficulty  Difficulty           `json:"difficulty"`
	Questions   []QuizQuestionImport `json:"questions"`
}

// QuizQuestionImport is one question inside a QuizImport.
type QuizQuestionImport struct {
	Text          string          `json:"text"`
	Type          QuestionType    `json:"type"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer json.RawMessage `json:"correct_answer"`
}

// QuizSummary combines a quiz with the viewing user's latest attempt.
type QuizSummary struct {
	Quiz          Quiz
	QuestionCount int
	Latest        *QuizAttempt
}

// ResultRow is a flattened result line for instructor listings.
type ResultRow struct {
	Username    string
	DisplayName string
	Label       string
	Score       float64
	CreatedAt   time.Time
}

// Package content imports level-test questions and quizzes from JSON files.
// Every imported file is tracked by name and content hash so unchanged files are skipped.
package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
	"github.com/learnhub/learnhub/internal/validate"
)

// Kind is the type of content a file holds.
type Kind string

const (
	KindLevelQuestions Kind = "level-questions"
	KindQuizzes        Kind = "quizzes"
)

// Store is the persistence the importer needs.
type Store interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error
	InsertLevelQuestions(ctx context.Context, qs []model.LevelQuestion) error
	CreateQuiz(ctx context.Context, q model.Quiz, questions []model.QuizQuestion) (int64, error)
}

// Result describes one import.
type Result struct {
	Name    string
	Count   int
	Skipped bool
}

// Importer loads content files into a Store.
type Importer struct {
	store Store
}

// NewImporter creates an Importer.
func NewImporter(s Store) *Importer {
	return &Importer{store: s}
}

// ImportFile imports a file from disk. A file whose content changed since it was
// last imported is skipped, so existing attempts keep pointing at the questions they used.
func (im *Importer) ImportFile(ctx context.Context, kind Kind, path string) (Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	stored, err := im.store.GetImportedFileHash(ctx, path)
	if err != nil {
		return Result{}, fmt.Errorf("check import status for %s: %w", path, err)
	}
	hash := sha256sum(data)
	if stored == hash {
		slog.Info("content file unchanged, skipping", "path", path)
		return Result{Name: path, Skipped: true}, nil
	}
	if stored != "" {
		slog.Warn("content file changed since last import, skipping", "path", path)
		return Result{Name: path, Skipped: true}, nil
	}
	return im.load(ctx, kind, path, data, hash)
}

// Import imports uploaded data under name unless identical content was imported before.
func (im *Importer) Import(ctx context.Context, kind Kind, name string, data []byte) (Result, error) {
	stored, err := im.store.GetImportedFileHash(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("check import status for %s: %w", name, err)
	}
	hash := sha256sum(data)
	if stored == hash {
		return Result{Name: name, Skipped: true}, nil
	}
	return im.load(ctx, kind, name, data, hash)
}

func (im *Importer) load(ctx context.Context, kind Kind, name string, data []byte, hash string) (Result, error) {
	var (
		n   int
		err error
	)
	switch kind {
	case KindLevelQuestions:
		n, err = im.loadLevelQuestions(ctx, data)
	case KindQuizzes:
		n, err = im.loadQuizzes(ctx, data)
	default:
		return Result{}, fmt.Errorf("unknown content kind %q", kind)
	}
	if err != nil {
		return Result{}, fmt.Errorf("import %s: %w", name, err)
	}
	if err := im.store.SetImportedFileHash(ctx, name, hash); err != nil {
		return Result{}, fmt.Errorf("record import for %s: %w", name, err)
	}
	slog.Info("imported content", "name", name, "kind", kind, "count", n)
	return Result{Name: name, Count: n}, nil
}

// ParseLevelQuestions decodes and validates a level-question file.
func ParseLevelQuestions(data []byte) ([]model.LevelQuestion, error) {
	var imports []model.LevelQuestionImport
	if err := json.Unmarshal(data, &imports); err != nil {
		return nil, model.NewValidationError("file", "invalid JSON: %v", err)
	}
	if len(imports) == 0 {
		return nil, model.NewValidationError("file", "no questions")
	}
	qs := make([]model.LevelQuestion, 0, len(imports))
	for i, qi := range imports {
		if err := validate.Struct(qi); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
		if _, ok := qi.Options[qi.Correct]; !ok {
			return nil, fmt.Errorf("question %d: %w", i+1, model.NewValidationError("correct", "no option %s", qi.Correct))
		}
		qs = append(qs, model.LevelQuestion{Text: qi.Text, Options: qi.Options, Correct: qi.Correct, Band: qi.Band})
	}
	return qs, nil
}

func (im *Importer) loadLevelQuestions(ctx context.Context, data []byte) (int, error) {
	qs, err := ParseLevelQuestions(data)
	if err != nil {
		return 0, err
	}
	if err := im.store.InsertLevelQuestions(ctx, qs); err != nil {
		return 0, err
	}
	return len(qs), nil
}

// ParseQuizzes decodes a quiz file holding either one quiz object or an array of them.
func ParseQuizzes(data []byte) ([]model.QuizImport, error) {
	data = bytes.TrimSpace(data)
	var quizzes []model.QuizImport
	if len(data) > 0 && data[0] == '{' {
		var one model.QuizImport
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, model.NewValidationError("file", "invalid JSON: %v", err)
		}
		quizzes = append(quizzes, one)
	} else if err := json.Unmarshal(data, &quizzes); err != nil {
		return nil, model.NewValidationError("file", "invalid JSON: %v", err)
	}
	if len(quizzes) == 0 {
		return nil, model.NewValidationError("file", "no quizzes")
	}
	return quizzes, nil
}

func (im *Importer) loadQuizzes(ctx context.Context, data []byte) (int, error) {
	imports, err := ParseQuizzes(data)
	if err != nil {
		return 0, err
	}
	// Validate everything before writing anything.
	type row struct {
		quiz      model.Quiz
		questions []model.QuizQuestion
	}
	rows := make([]row, 0, len(imports))
	for _, qi := range imports {
		q, questions, err := quiz.FromImport(qi)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row{q, questions})
	}
	for _, r := range rows {
		if _, err := im.store.CreateQuiz(ctx, r.quiz, r.questions); err != nil {
			return 0, fmt.Errorf("create quiz %q: %w", r.quiz.Title, err)
		}
	}
	return len(rows), nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

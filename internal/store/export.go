package store

import (
	"context"
	"fmt"
	"time"

	"github.com/learnhub/learnhub/internal/model"
)

// ExportResults builds export-ready histories for every user who has at least one result.
func (s *Store) ExportResults(ctx context.Context) (*model.ResultsExport, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	// Quiz titles are looked up once.
	quizzes, err := s.ListQuizzes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	titles := make(map[int64]string, len(quizzes))
	for _, q := range quizzes {
		titles[q.ID] = q.Title
	}

	export := &model.ResultsExport{ExportedAt: time.Now().UTC()}
	for _, u := range users {
		tests, err := s.ListTestResults(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("test results for user %d: %w", u.ID, err)
		}
		quizResults, err := s.ListQuizResults(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("quiz results for user %d: %w", u.ID, err)
		}
		if len(tests) == 0 && len(quizResults) == 0 {
			continue
		}
		level, err := s.GetUserLevel(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("level for user %d: %w", u.ID, err)
		}

		le := model.LearnerExport{
			Username:     u.Username,
			DisplayName:  u.DisplayName,
			CurrentLevel: level,
			LevelTests:   tests,
			Quizzes:      []model.QuizResultExport{},
		}
		if le.LevelTests == nil {
			le.LevelTests = []model.TestResult{}
		}
		for _, r := range quizResults {
			le.Quizzes = append(le.Quizzes, model.QuizResultExport{
				QuizTitle:   titles[r.QuizID],
				AttemptID:   r.AttemptID,
				Score:       r.Score,
				CompletedAt: r.CreatedAt,
			})
		}
		export.LevelTests += len(tests)
		export.QuizResults += len(quizResults)
		export.Learners = append(export.Learners, le)
	}
	return export, nil
}

package model

import "time"

// ResultsExport is the top-level JSON structure for result export.
type ResultsExport struct {
	ExportedAt  time.Time       `json:"exported_at"`
	Learners    []LearnerExport `json:"learners"`
	LevelTests  int             `json:"level_tests"`
	QuizResults int             `json:"quiz_results"`
}

// LearnerExport holds one user's history for export.
type LearnerExport struct {
	Username     string             `json:"username"`
	DisplayName  string             `json:"display_name"`
	CurrentLevel Band               `json:"current_level,omitempty"`
	LevelTests   []TestResult       `json:"level_tests"`
	Quizzes      []QuizResultExport `json:"quizzes"`
}

// QuizResultExport is one finalized quiz attempt for export.
type QuizResultExport struct {
	QuizTitle   string    `json:"quiz_title"`
	AttemptID   int64     `json:"attempt_id"`
	Score       float64   `json:"score"`
	CompletedAt time.Time `json:"completed_at"`
}

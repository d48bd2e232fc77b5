package quiz

import (
	"encoding/json"
	"strings"

	"github.com/learnhub/learnhub/internal/model"
)

// Answer is a learner's response to one quiz question. The concrete type follows the
// question type: Choice for multiple choice, Matches for matching, Text for grammar.
type Answer interface {
	// Raw is the storage encoding of the answer.
	Raw() string
	isAnswer()
}

// Choice is the selected option label of a multiple-choice question.
type Choice string

// Matches holds, for each left item of a matching question in order, the chosen right item.
type Matches []string

// Text is the free-text sentence of a grammar question.
type Text string

func (c Choice) Raw() string { return string(c) }
func (t Text) Raw() string   { return string(t) }

func (m Matches) Raw() string {
	if m == nil {
		return "[]"
	}
	b, _ := json.Marshal([]string(m))
	return string(b)
}

func (Choice) isAnswer()  {}
func (Matches) isAnswer() {}
func (Text) isAnswer()    {}

// DecodeAnswer parses a stored or submitted payload according to the question type.
// An empty payload decodes to the empty answer of that type.
func DecodeAnswer(t model.QuestionType, raw string) (Answer, error) {
	switch t {
	case model.QuestionMultipleChoice:
		return Choice(raw), nil
	case model.QuestionGrammar:
		return Text(raw), nil
	case model.QuestionMatching:
		if strings.TrimSpace(raw) == "" {
			return Matches(nil), nil
		}
		var m []string
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, model.NewValidationError("answer", "matching answer must be a JSON array of strings")
		}
		return Matches(m), nil
	default:
		return nil, model.NewValidationError("type", "unknown question type %d", t)
	}
}

// IsAnswerComplete reports whether raw is a gradable answer for a question of type t.
// Multiple-choice and grammar answers must be non-empty. A matching answer must be a
// JSON array with exactly leftItems elements, none of them empty.
func IsAnswerComplete(raw string, t model.QuestionType, leftItems int) bool {
	a, err := DecodeAnswer(t, raw)
	if err != nil {
		return false
	}
	return isComplete(a, leftItems)
}

func isComplete(a Answer, leftItems int) bool {
	switch v := a.(type) {
	case Choice:
		return v != ""
	case Text:
		return v != ""
	case Matches:
		if len(v) != leftItems {
			return false
		}
		for _, m := range v {
			if m == "" {
				return false
			}
		}
		return true
	default:
		return false
	}
}

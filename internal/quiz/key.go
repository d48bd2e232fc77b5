package quiz

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/learnhub/learnhub/internal/model"
)

// key is the decoded grading key of a question.
type key struct {
	typ      model.QuestionType
	choices  map[string]string
	label    string
	lefts    []string
	rights   map[string]string
	sentence string
	correct  string
}

// decodeKey parses a question's options and correct-answer payloads.
func decodeKey(q model.QuizQuestion) (key, error) {
	k := key{typ: q.Type}
	switch q.Type {
	case model.QuestionMultipleChoice:
		if err := json.Unmarshal(q.Options, &k.choices); err != nil {
			return k, fmt.Errorf("question %d: options must map labels to text: %w", q.ID, err)
		}
		k.label = q.CorrectAnswer
		if _, ok := k.choices[k.label]; !ok {
			return k, fmt.Errorf("question %d: correct label %q is not an option", q.ID, k.label)
		}

	case model.QuestionMatching:
		var options []model.MatchPair
		if err := json.Unmarshal(q.Options, &options); err != nil {
			return k, fmt.Errorf("question %d: options must be a list of pairs: %w", q.ID, err)
		}
		if len(options) == 0 {
			return k, fmt.Errorf("question %d: matching question has no pairs", q.ID)
		}
		k.rights = make(map[string]string, len(options))
		for _, p := range options {
			if _, dup := k.rights[p.Left]; dup {
				return k, fmt.Errorf("question %d: left item %q appears twice", q.ID, p.Left)
			}
			k.lefts = append(k.lefts, p.Left)
			k.rights[p.Left] = p.Right
		}
		if err := k.decodeMatchKey(q); err != nil {
			return k, err
		}

	case model.QuestionGrammar:
		var opts model.GrammarOptions
		if err := json.Unmarshal(q.Options, &opts); err != nil {
			return k, fmt.Errorf("question %d: options must be {sentence, correct}: %w", q.ID, err)
		}
		k.sentence = opts.Sentence
		k.correct = q.CorrectAnswer
		if k.correct == "" {
			k.correct = opts.Correct
		}
		if k.correct == "" {
			return k, fmt.Errorf("question %d: grammar question has no correct sentence", q.ID)
		}

	default:
		return k, fmt.Errorf("question %d: unknown type %d", q.ID, q.Type)
	}
	return k, nil
}

// decodeMatchKey fills k.rights from the correct-answer payload. The key is either
// pairs in any order covering exactly the options' left items, or the right column
// in the options' left order.
func (k *key) decodeMatchKey(q model.QuizQuestion) error {
	var keyPairs []model.MatchPair
	if err := json.Unmarshal([]byte(q.CorrectAnswer), &keyPairs); err == nil {
		if len(keyPairs) != len(k.lefts) {
			return fmt.Errorf("question %d: key has %d pairs for %d left items", q.ID, len(keyPairs), len(k.lefts))
		}
		seen := make(map[string]bool, len(keyPairs))
		for _, p := range keyPairs {
			if _, ok := k.rights[p.Left]; !ok {
				return fmt.Errorf("question %d: key pairs unknown left item %q", q.ID, p.Left)
			}
			if seen[p.Left] {
				return fmt.Errorf("question %d: key pairs left item %q twice", q.ID, p.Left)
			}
			seen[p.Left] = true
			k.rights[p.Left] = p.Right
		}
		return nil
	}

	var rights []string
	if err := json.Unmarshal([]byte(q.CorrectAnswer), &rights); err != nil {
		return fmt.Errorf("question %d: correct answer must be pairs or a list of strings", q.ID)
	}
	if len(rights) != len(k.lefts) {
		return fmt.Errorf("question %d: key has %d items for %d pairs", q.ID, len(rights), len(k.lefts))
	}
	for i, l := range k.lefts {
		k.rights[l] = rights[i]
	}
	return nil
}

// leftItems is the number of answers a matching question expects; 0 for other types.
func (k key) leftItems() int {
	return len(k.lefts)
}

// grade applies the type's equivalence rule. Multiple choice is an exact label match.
// Matching answers are indexed by the options' left order and every left item must map
// to its key right value. Grammar compares trimmed lower case.
func (k key) grade(a Answer) bool {
	switch v := a.(type) {
	case Choice:
		return string(v) == k.label
	case Matches:
		if len(v) != len(k.lefts) {
			return false
		}
		for i, l := range k.lefts {
			if v[i] != k.rights[l] {
				return false
			}
		}
		return true
	case Text:
		return strings.TrimSpace(strings.ToLower(string(v))) == strings.TrimSpace(strings.ToLower(k.correct))
	default:
		return false
	}
}

// expected renders the correct answer for review screens.
func (k key) expected() string {
	switch k.typ {
	case model.QuestionMultipleChoice:
		return k.label + ") " + k.choices[k.label]
	case model.QuestionMatching:
		parts := make([]string, len(k.lefts))
		for i, l := range k.lefts {
			parts[i] = l + " → " + k.rights[l]
		}
		return strings.Join(parts, "; ")
	default:
		return k.correct
	}
}

// ChoiceLabels returns the sorted option labels of a multiple-choice question.
func ChoiceLabels(q model.QuizQuestion) []string {
	var choices map[string]string
	if err := json.Unmarshal(q.Options, &choices); err != nil {
		return nil
	}
	labels := make([]string, 0, len(choices))
	for l := range choices {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// ValidateQuestion checks that a question's payloads decode for its type.
func ValidateQuestion(q model.QuizQuestion) error {
	if strings.TrimSpace(q.Text) == "" {
		return model.NewValidationError("text", "question text is required")
	}
	if _, err := decodeKey(q); err != nil {
		return model.NewValidationError("question", "%s", err.Error())
	}
	return nil
}

// FromImport converts an imported quiz into storable rows and validates every question.
func FromImport(qi model.QuizImport) (model.Quiz, []model.QuizQuestion, error) {
	quiz := model.Quiz{Title: qi.Title, Description: qi.Description, Difficulty: qi.Difficulty}
	if strings.TrimSpace(qi.Title) == "" {
		return quiz, nil, model.NewValidationError("title", "quiz title is required")
	}
	if qi.Difficulty < model.DifficultyBeginner || qi.Difficulty > model.DifficultyAdvanced {
		return quiz, nil, model.NewValidationError("difficulty", "must be 0, 1 or 2")
	}
	if len(qi.Questions) == 0 {
		return quiz, nil, model.NewValidationError("questions", "quiz %q has no questions", qi.Title)
	}

	questions := make([]model.QuizQuestion, 0, len(qi.Questions))
	for i, qq := range qi.Questions {
		correct := string(qq.CorrectAnswer)
		// Plain JSON strings are stored unquoted; arrays are stored as JSON text.
		var s string
		if err := json.Unmarshal(qq.CorrectAnswer, &s); err == nil {
			correct = s
		}
		q := model.QuizQuestion{
			Position:      i,
			Text:          qq.Text,
			Type:          qq.Type,
			Options:       qq.Options,
			CorrectAnswer: correct,
		}
		if err := ValidateQuestion(q); err != nil {
			return quiz, nil, fmt.Errorf("quiz %q question %d: %w", qi.Title, i+1, err)
		}
		questions = append(questions, q)
	}
	return quiz, questions, nil
}

// MatchItems returns a matching question's left items in order and its right items
// sorted for display.
func MatchItems(q model.QuizQuestion) (left, right []string) {
	var pairs []model.MatchPair
	if err := json.Unmarshal(q.Options, &pairs); err != nil {
		return nil, nil
	}
	for _, p := range pairs {
		left = append(left, p.Left)
		right = append(right, p.Right)
	}
	sort.Strings(right)
	return left, right
}

// ChoiceText returns the text of a multiple-choice option.
func ChoiceText(q model.QuizQuestion, label string) string {
	var choices map[string]string
	if err := json.Unmarshal(q.Options, &choices); err != nil {
		return ""
	}
	return choices[label]
}

// GrammarSentence returns the sentence a grammar question asks the learner to correct.
func GrammarSentence(q model.QuizQuestion) string {
	var opts model.GrammarOptions
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return ""
	}
	return opts.Sentence
}

// Display renders an answer for people.
func Display(a Answer) string {
	switch v := a.(type) {
	case Matches:
		return strings.Join(v, "; ")
	case nil:
		return ""
	default:
		return a.Raw()
	}
}

package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/learnhub/learnhub/internal/model"
)

//go:embed templates/*.txt
var templateFS embed.FS

const maxInputRunes = 2000

var (
	learnerMessageRegex     = regexp.MustCompile(`(?i)</?\s*learner-(message|transcript)\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// TutorStyle selects the tutor's chat persona.
type TutorStyle string

const (
	// StyleFriendly corrects gently and keeps the conversation going. It is the default.
	StyleFriendly TutorStyle = "friendly"
	// StyleStrict lists every mistake before answering.
	StyleStrict TutorStyle = "strict"
	// StyleImmersive never explains grammar and stays in English.
	StyleImmersive TutorStyle = "immersive"
)

var validStyles = map[TutorStyle]bool{
	StyleFriendly:  true,
	StyleStrict:    true,
	StyleImmersive: true,
}

var (
	loadOnce      sync.Once
	loadErr       error
	chatTemplates map[TutorStyle]*template.Template
	pronTemplate  *template.Template
)

// IsValidStyle checks if a tutor style name is valid.
func IsValidStyle(s string) bool {
	return validStyles[TutorStyle(s)]
}

// ChatData holds template data for tutor system prompts.
type ChatData struct {
	Level string
}

// PronunciationData holds template data for pronunciation prompts.
type PronunciationData struct {
	Target     string
	Transcript string
}

// Load parses prompt templates from fsys. Only the first call has any effect.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		chatTemplates = make(map[TutorStyle]*template.Template)
		for _, s := range []TutorStyle{StyleFriendly, StyleStrict, StyleImmersive} {
			tmpl, err := parseFile(fsys, "templates/chat_"+string(s)+".txt")
			if err != nil {
				loadErr = err
				return
			}
			chatTemplates[s] = tmpl
		}
		pronTemplate, loadErr = parseFile(fsys, "templates/pronunciation.txt")
	})
	return loadErr
}

// LoadDefault loads the templates compiled into the binary.
func LoadDefault() error {
	return Load(templateFS)
}

func parseFile(fsys fs.FS, name string) (*template.Template, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read prompt file %s: %w", name, err)
	}
	tmpl, err := template.New(name).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return tmpl, nil
}

// BuildChatPrompt renders the tutor system prompt for a style and learner level.
// An unassessed learner is treated as A2.
func BuildChatPrompt(style TutorStyle, level model.Band) (string, error) {
	if chatTemplates == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	tmpl, ok := chatTemplates[style]
	if !ok {
		return "", errors.New("invalid tutor style: " + string(style))
	}
	if !level.Valid() {
		level = model.BandA2
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ChatData{Level: string(level)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildPronunciationPrompt renders the pronunciation coach prompt.
func BuildPronunciationPrompt(target, transcript string) (string, error) {
	if pronTemplate == nil {
		return "", errors.New("templates not initialized: call Load first")
	}
	var buf bytes.Buffer
	err := pronTemplate.Execute(&buf, PronunciationData{
		Target:     Sanitize(target),
		Transcript: Sanitize(transcript),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// WrapLearner sanitizes a learner message and wraps it in the tags the prompts refer to.
func WrapLearner(msg string) string {
	return "<learner-message>\n" + Sanitize(msg) + "\n</learner-message>"
}

// Sanitize strips prompt delimiter tags and truncates long input.
func Sanitize(s string) string {
	s = learnerMessageRegex.ReplaceAllString(s, "")
	s = systemInstructionsRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)

	if s == "" {
		return "[empty]"
	}
	if utf8.RuneCountInString(s) > maxInputRunes {
		runes := []rune(s)
		s = string(runes[:maxInputRunes]) + "\n\n[truncated]"
	}
	return s
}

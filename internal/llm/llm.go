package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/learnhub/learnhub/internal/llm/prompts"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
)

// MaxHistory is how many earlier chat turns are sent along with a new message.
const MaxHistory = 20

// ErrEmptyReply is returned when the model answers with no choices or blank content.
var ErrEmptyReply = errors.New("LLM returned an empty reply")

// PronunciationResult is the coach's assessment of one spoken attempt.
type PronunciationResult struct {
	Score    int      `json:"score"`
	Feedback string   `json:"feedback"`
	Tips     []string `json:"tips"`
}

// Config holds connection and generation settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Style     prompts.TutorStyle
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api       *openai.Client
	model     string
	maxTokens int
	style     prompts.TutorStyle
	metrics   *metrics.Metrics
}

// New creates a new LLM client.
func New(cfg Config, m *metrics.Metrics) *Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Style == "" {
		cfg.Style = prompts.StyleFriendly
	}
	return &Client{
		api:       openai.NewClientWithConfig(config),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		style:     cfg.Style,
		metrics:   m,
	}
}

// Chat sends a learner message with its recent history to the tutor and returns the reply.
func (c *Client) Chat(ctx context.Context, level model.Band, history []model.ChatMessage, message string) (reply string, err error) {
	defer func() { c.metrics.LLMCall("chat", err) }()

	systemPrompt, err := prompts.BuildChatPrompt(c.style, level)
	if err != nil {
		return "", err
	}
	msgs := buildChatMessages(systemPrompt, history, message)

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	reply = strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	slog.Debug("tutor reply", "level", level, "chars", len(reply))
	return reply, nil
}

// Pronunciation compares a speech transcript with the sentence the learner meant to say.
func (c *Client) Pronunciation(ctx context.Context, target, transcript string) (result *PronunciationResult, err error) {
	defer func() { c.metrics.LLMCall("pronunciation", err) }()

	prompt, err := prompts.BuildPronunciationPrompt(target, transcript)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM pronunciation call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyReply
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("pronunciation response", "raw", raw)

	var r PronunciationResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse pronunciation response: %w (raw: %s)", err, raw)
	}
	r.Score = min(max(r.Score, 0), 100)
	return &r, nil
}

// buildChatMessages keeps the last MaxHistory turns and wraps learner text in delimiter tags.
func buildChatMessages(systemPrompt string, history []model.ChatMessage, message string) []openai.ChatCompletionMessage {
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, m := range history {
		if m.Role == model.ChatRoleAssistant {
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompts.WrapLearner(m.Content)})
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompts.WrapLearner(message)})
}

package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/learnhub/learnhub/internal/llm/prompts"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
)

func TestMain(m *testing.M) {
	if err := prompts.LoadDefault(); err != nil {
		panic(err)
	}
	m.Run()
}

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeAPI serves /chat/completions with a fixed content and records the last request.
func fakeAPI(t *testing.T, content string, status int) (*httptest.Server, *chatRequest) {
	t.Helper()
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprint(w, `{"error":{"message":"model overloaded","type":"server_error"}}`)
			return
		}
		body, _ := json.Marshal(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  last.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	if err := c.Write(&pb); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return pb.GetCounter().GetValue()
}

func newClient(url string, m *metrics.Metrics) *Client {
	return New(Config{BaseURL: url, APIKey: "test", Model: "tutor-small", MaxTokens: 128}, m)
}

func TestChat(t *testing.T) {
	srv, last := fakeAPI(t, "  Great! What did you do next?  ", http.StatusOK)
	m := metrics.NewNop()
	c := newClient(srv.URL, m)

	history := []model.ChatMessage{
		{Role: model.ChatRoleUser, Content: "I go to park yesterday."},
		{Role: model.ChatRoleAssistant, Content: "You went to the park! Nice."},
	}
	reply, err := c.Chat(t.Context(), model.BandB1, history, "Yes, with my dog.")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Great! What did you do next?" {
		t.Errorf("reply = %q", reply)
	}

	if last.Model != "tutor-small" || last.MaxTokens != 128 {
		t.Errorf("request model/max_tokens = %q/%d", last.Model, last.MaxTokens)
	}
	if len(last.Messages) != 4 {
		t.Fatalf("sent %d messages, want 4", len(last.Messages))
	}
	if last.Messages[0].Role != "system" || !strings.Contains(last.Messages[0].Content, "B1") {
		t.Errorf("system prompt should name the level: %q", last.Messages[0].Content)
	}
	if !strings.Contains(last.Messages[3].Content, "<learner-message>") {
		t.Error("learner text should be wrapped in delimiter tags")
	}
	if got := counterValue(t, m.LLMRequests.WithLabelValues("chat", "ok")); got != 1 {
		t.Errorf("chat ok counter = %v, want 1", got)
	}
}

func TestChatAPIError(t *testing.T) {
	srv, _ := fakeAPI(t, "", http.StatusInternalServerError)
	m := metrics.NewNop()
	c := newClient(srv.URL, m)

	if _, err := c.Chat(t.Context(), model.BandA1, nil, "hello"); err == nil {
		t.Fatal("expected error from failing API")
	}
	if got := counterValue(t, m.LLMRequests.WithLabelValues("chat", "error")); got != 1 {
		t.Errorf("chat error counter = %v, want 1", got)
	}
}

func TestChatEmptyReply(t *testing.T) {
	srv, _ := fakeAPI(t, "   ", http.StatusOK)
	c := newClient(srv.URL, metrics.NewNop())
	if _, err := c.Chat(t.Context(), model.BandA1, nil, "hello"); err != ErrEmptyReply {
		t.Errorf("err = %v, want ErrEmptyReply", err)
	}
}

func TestPronunciation(t *testing.T) {
	srv, last := fakeAPI(t, `{"score": 140, "feedback": "Mostly clear.", "tips": ["Stress the first syllable of 'comfortable'."]}`, http.StatusOK)
	c := newClient(srv.URL, metrics.NewNop())

	r, err := c.Pronunciation(t.Context(), "This chair is comfortable.", "This chair is come for table.")
	if err != nil {
		t.Fatalf("Pronunciation: %v", err)
	}
	if r.Score != 100 {
		t.Errorf("score should be clamped to 100, got %d", r.Score)
	}
	if len(r.Tips) != 1 {
		t.Errorf("tips = %v", r.Tips)
	}
	if !strings.Contains(last.Messages[0].Content, "come for table") {
		t.Error("prompt should contain the transcript")
	}
}

func TestPronunciationBadJSON(t *testing.T) {
	srv, _ := fakeAPI(t, "not json", http.StatusOK)
	c := newClient(srv.URL, metrics.NewNop())
	if _, err := c.Pronunciation(t.Context(), "Hello.", "Hello."); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestBuildChatMessagesTrimsHistory(t *testing.T) {
	var history []model.ChatMessage
	for i := 0; i < MaxHistory+5; i++ {
		history = append(history, model.ChatMessage{Role: model.ChatRoleUser, Content: fmt.Sprintf("m%d", i)})
	}
	msgs := buildChatMessages("sys", history, "last")
	if len(msgs) != MaxHistory+2 {
		t.Fatalf("len = %d, want %d", len(msgs), MaxHistory+2)
	}
	if !strings.Contains(msgs[1].Content, "m5") {
		t.Errorf("oldest kept turn = %q, want m5", msgs[1].Content)
	}
}

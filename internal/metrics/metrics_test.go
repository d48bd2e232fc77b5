package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/quizzes/{quizID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quizzes/42", nil))
	m.LLMCall("chat", nil)
	m.LLMCall("chat", errors.New("boom"))
	m.LevelTestsFinalized.WithLabelValues("B1").Inc()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	assert.Contains(t, out, `learnhub_http_request_duration_seconds_count{method="GET",route="/quizzes/{quizID}",status="418"} 1`)
	assert.Contains(t, out, `learnhub_llm_requests_total{kind="chat",outcome="ok"} 1`)
	assert.Contains(t, out, `learnhub_llm_requests_total{kind="chat",outcome="error"} 1`)
	assert.Contains(t, out, `learnhub_level_tests_finalized_total{level="B1"} 1`)
	assert.False(t, strings.Contains(out, "go_goroutines"), "private registry should not carry runtime collectors")
}

func TestNopIsIndependent(t *testing.T) {
	a, b := NewNop(), NewNop()
	a.QuizDoubleSubmits.Inc()

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotContains(t, rec.Body.String(), "learnhub_quiz_double_submits_total 1")
}

// Package metrics exposes Prometheus instruments for learning activity and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "learnhub"

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	LevelTestsFinalized   *prometheus.CounterVec
	QuizAttemptsFinalized prometheus.Counter
	QuizDoubleSubmits     prometheus.Counter
	QuizCooldownRejects   prometheus.Counter
	LLMRequests           *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LevelTestsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "level_tests_finalized_total",
			Help:      "Finalized level tests by assigned level",
		}, []string{"level"}),
		QuizAttemptsFinalized: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_attempts_finalized_total",
			Help:      "Quiz attempts moved to completed",
		}),
		QuizDoubleSubmits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_double_submits_total",
			Help:      "Finalize calls rejected because the attempt was already completed",
		}),
		QuizCooldownRejects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quiz_cooldown_rejects_total",
			Help:      "Quiz starts rejected by the retake cooldown",
		}),
		LLMRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM calls by kind and outcome",
		}, []string{"kind", "outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
}

// NewNop returns Metrics backed by a private registry that is never served.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request durations labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RequestDuration.WithLabelValues(r.Method, route, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// LLMCall records the outcome of one LLM request.
func (m *Metrics) LLMCall(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.LLMRequests.WithLabelValues(kind, outcome).Inc()
}

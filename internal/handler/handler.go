package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/learnhub/learnhub/internal/assessment"
	"github.com/learnhub/learnhub/internal/content"
	"github.com/learnhub/learnhub/internal/dictionary"
	"github.com/learnhub/learnhub/internal/handler/views"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/llm"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
	"github.com/learnhub/learnhub/internal/store"
)

// Tutor answers chat messages and coaches pronunciation.
type Tutor interface {
	Chat(ctx context.Context, level model.Band, history []model.ChatMessage, message string) (string, error)
	Pronunciation(ctx context.Context, target, transcript string) (*llm.PronunciationResult, error)
}

// Dictionary looks up word definitions.
type Dictionary interface {
	Lookup(ctx context.Context, word string) (*dictionary.Entry, error)
}

// Deps are the services the HTTP layer is built on.
type Deps struct {
	Store       *store.Store
	Levels      *assessment.Service
	Quizzes     *quiz.Engine
	Importer    *content.Importer
	Tutor       Tutor
	Dictionary  Dictionary
	Metrics     *metrics.Metrics
	Config      model.AppConfig
	CORSOrigins []string
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store      *store.Store
	levels     *assessment.Service
	quizzes    *quiz.Engine
	importer   *content.Importer
	tutor      Tutor
	dictionary Dictionary
	metrics    *metrics.Metrics
	config     model.AppConfig
	origins    []string
}

// New creates a new Handler.
func New(d Deps) (*Handler, error) {
	if d.Store == nil || d.Levels == nil || d.Quizzes == nil || d.Importer == nil {
		return nil, errors.New("handler: store, level, quiz and import services are required")
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	return &Handler{
		store:      d.Store,
		levels:     d.Levels,
		quizzes:    d.Quizzes,
		importer:   d.Importer,
		tutor:      d.Tutor,
		dictionary: d.Dictionary,
		metrics:    d.Metrics,
		config:     d.Config,
		origins:    d.CORSOrigins,
	}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Use(h.csrfMiddleware)

	r.Get("/healthz", h.handleHealth)
	r.Get("/login", h.handleLoginPage)
	r.Post("/login", h.handleLogin)
	r.Post("/lang", h.handleSetLanguage)
	if h.config.AllowRegister {
		r.Get("/register", h.handleRegisterPage)
		r.Post("/register", h.handleRegister)
	}

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Get("/", h.handleDashboard)
		r.Post("/logout", h.handleLogout)

		r.Get("/level", h.handleLevelPage)
		r.Post("/level/start", h.handleLevelStart)
		r.Get("/level/{index}", h.handleLevelSeek)
		r.Post("/level/answer", h.handleLevelAnswer)
		r.Post("/level/finish", h.handleLevelFinish)

		r.Post("/quizzes/{quizID}/start", h.handleQuizStart)
		r.Get("/attempts/{attemptID}", h.handleAttemptPage)
		r.Post("/attempts/{attemptID}/answers/{questionID}", h.handleSaveAnswer)
		r.Post("/attempts/{attemptID}/finish", h.handleQuizFinish)
		r.Get("/attempts/{attemptID}/review", h.handleQuizReview)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
			r.Get("/results", h.handleResults)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.UserRoleAdmin))
			r.Get("/admin/users", h.handleAdminUsersPage)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.Get("/admin/content", h.handleAdminContentPage)
			r.Post("/admin/content", h.handleUploadContent)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.origins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", csrfHeaderName},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(h.requireAPIAuth)
		r.Get("/session", h.apiSession)
		r.Post("/chat", h.apiChat)
		r.Post("/pronunciation", h.apiPronunciation)
		r.Get("/dictionary/{word}", h.apiDictionary)
		r.Put("/attempts/{attemptID}/answers/{questionID}", h.apiSaveAnswer)
	})
}

// BasePathMiddleware stores the deployment prefix in the request context for views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	lang := appI18n.Match(r.FormValue("lang"))
	http.SetCookie(w, &http.Cookie{
		Name:     appI18n.CookieName,
		Value:    lang,
		Path:     h.cookiePath(),
		MaxAge:   365 * 24 * 3600,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	target := h.path("/")
	if ref := r.Referer(); ref != "" {
		target = ref
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)

	level, err := h.store.GetUserLevel(ctx, user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	quizzes, err := h.store.ListQuizzes(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data := views.DashboardData{Level: level, QuizTitles: make(map[int64]string, len(quizzes))}
	for _, q := range quizzes {
		data.QuizTitles[q.ID] = q.Title
		questions, err := h.store.ListQuizQuestions(ctx, q.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		latest, err := h.store.LatestAttempt(ctx, user.ID, q.ID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		data.Quizzes = append(data.Quizzes, model.QuizSummary{Quiz: q, QuestionCount: len(questions), Latest: latest})
	}
	if data.LevelTests, err = h.store.ListTestResults(ctx, user.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	if data.QuizResults, err = h.store.ListQuizResults(ctx, user.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.DashboardPage(data))
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		cooldown *quiz.CooldownError
		done     *quiz.AlreadyCompletedError
		quizGap  *quiz.IncompleteQuizError
		levelGap *assessment.IncompleteTestError
	)
	switch {
	case model.IsValidation(err):
		return http.StatusBadRequest
	case errors.As(err, &cooldown):
		return http.StatusTooManyRequests
	case errors.As(err, &done):
		return http.StatusConflict
	case errors.As(err, &quizGap), errors.As(err, &levelGap):
		return http.StatusUnprocessableEntity
	case errors.Is(err, quiz.ErrQuizNotFound), errors.Is(err, quiz.ErrAttemptNotFound),
		errors.Is(err, assessment.ErrNoTest), errors.Is(err, dictionary.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, quiz.ErrAttemptExpired):
		return http.StatusGone
	case errors.Is(err, assessment.ErrInsufficientQuestions):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the localized text shown for err.
func userMessage(ctx context.Context, err error) string {
	var cooldown *quiz.CooldownError
	var ve *model.ValidationError
	switch {
	case errors.As(err, &cooldown):
		return appI18n.Td(ctx, "QuizCooldown", map[string]any{
			"Time": cooldown.RetryAt.Local().Format("2006-01-02 15:04"),
		})
	case errors.As(err, &ve):
		return ve.Error()
	}
	switch statusFor(err) {
	case http.StatusConflict:
		return appI18n.T(ctx, "AlreadyCompleted")
	case http.StatusNotFound:
		return appI18n.T(ctx, "NotFound")
	case http.StatusGone:
		return appI18n.T(ctx, "AttemptExpired")
	case http.StatusServiceUnavailable:
		return appI18n.T(ctx, "NotEnoughQuestions")
	default:
		return appI18n.T(ctx, "InternalError")
	}
}

// fail renders err as an HTML error page.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	var cooldown *quiz.CooldownError
	if errors.As(err, &cooldown) {
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(cooldown.RetryAt).Seconds())+1))
	}
	h.render(w, r, status, views.ErrorPage(userMessage(r.Context(), err)))
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, model.NewValidationError(name, "invalid ID %q", chi.URLParam(r, name))
	}
	return id, nil
}

// ParseOrigins splits a comma-separated CORS origin list.
func ParseOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func redirectf(w http.ResponseWriter, r *http.Request, format string, args ...any) {
	http.Redirect(w, r, fmt.Sprintf(format, args...), http.StatusSeeOther)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/learnhub/learnhub/internal/handler/views"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
)

// answerFromForm reads a submitted answer. Matching questions post one "match"
// select per left item; the other types post a single "answer" field.
func answerFromForm(r *http.Request) string {
	if err := r.ParseForm(); err == nil {
		if picks, ok := r.Form["match"]; ok {
			return quiz.Matches(picks).Raw()
		}
	}
	return r.FormValue("answer")
}

func (h *Handler) handleQuizStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quizID, err := idParam(r, "quizID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.quizzes.StartOrResume(ctx, model.UserFromContext(ctx).ID, quizID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	redirectf(w, r, "%s/attempts/%d", h.config.BasePath, pr.Attempt.ID)
}

func (h *Handler) handleAttemptPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pr, err := h.quizzes.Load(ctx, model.UserFromContext(ctx).ID, attemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	switch pr.Attempt.Status {
	case model.AttemptCompleted:
		redirectf(w, r, "%s/attempts/%d/review", h.config.BasePath, attemptID)
		return
	case model.AttemptExpired:
		h.fail(w, r, quiz.ErrAttemptExpired)
		return
	}
	h.render(w, r, http.StatusOK, views.QuizPage(pr, "", -1))
}

func (h *Handler) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	questionID, err := idParam(r, "questionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID := model.UserFromContext(ctx).ID
	err = h.quizzes.SaveAnswer(ctx, userID, attemptID, questionID, answerFromForm(r))
	var done *quiz.AlreadyCompletedError
	switch {
	case errors.As(err, &done):
		redirectf(w, r, "%s/attempts/%d/review", h.config.BasePath, attemptID)
		return
	case model.IsValidation(err):
		pr, lerr := h.quizzes.Load(ctx, userID, attemptID)
		if lerr != nil {
			h.fail(w, r, lerr)
			return
		}
		h.render(w, r, http.StatusBadRequest, views.QuizPage(pr, userMessage(ctx, err), -1))
		return
	case err != nil:
		h.fail(w, r, err)
		return
	}
	redirectf(w, r, "%s/attempts/%d#q%d", h.config.BasePath, attemptID, questionID)
}

func (h *Handler) handleQuizFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	userID := model.UserFromContext(ctx).ID
	_, err = h.quizzes.Finalize(ctx, userID, attemptID)
	var (
		done       *quiz.AlreadyCompletedError
		incomplete *quiz.IncompleteQuizError
	)
	switch {
	case err == nil, errors.As(err, &done):
		redirectf(w, r, "%s/attempts/%d/review", h.config.BasePath, attemptID)
	case errors.As(err, &incomplete):
		pr, lerr := h.quizzes.Load(ctx, userID, attemptID)
		if lerr != nil {
			h.fail(w, r, lerr)
			return
		}
		msg := appI18n.Td(ctx, "IncompleteQuiz", map[string]any{"N": incomplete.Index + 1})
		h.render(w, r, http.StatusUnprocessableEntity, views.QuizPage(pr, msg, incomplete.Index))
	default:
		h.fail(w, r, err)
	}
}

func (h *Handler) handleQuizReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	review, err := h.quizzes.Review(ctx, model.UserFromContext(ctx).ID, attemptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.QuizReviewPage(review))
}

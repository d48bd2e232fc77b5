package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/learnhub/learnhub/internal/assessment"
	"github.com/learnhub/learnhub/internal/handler/views"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

func (h *Handler) handleLevelPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ts, err := h.levels.Current(ctx, model.SessionIDFromContext(ctx))
	if errors.Is(err, assessment.ErrNoTest) {
		h.renderLevelStart(w, r, http.StatusOK, "")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.LevelQuestionPage(ts, ""))
}

func (h *Handler) renderLevelStart(w http.ResponseWriter, r *http.Request, status int, msg string) {
	ctx := r.Context()
	current, err := h.store.GetUserLevel(ctx, model.UserFromContext(ctx).ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, status, views.LevelStartPage(current, msg))
}

func (h *Handler) handleLevelStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := h.levels.BuildTest(ctx, model.SessionIDFromContext(ctx)); err != nil {
		if errors.Is(err, assessment.ErrInsufficientQuestions) {
			slog.Warn("level test unavailable", "error", err)
			h.renderLevelStart(w, r, http.StatusServiceUnavailable, userMessage(ctx, err))
			return
		}
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, h.path("/level"), http.StatusSeeOther)
}

func (h *Handler) handleLevelSeek(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		h.fail(w, r, model.NewValidationError("index", "not a number"))
		return
	}
	ts, err := h.levels.Seek(ctx, model.SessionIDFromContext(ctx), index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.LevelQuestionPage(ts, ""))
}

func (h *Handler) handleLevelAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := model.SessionIDFromContext(ctx)
	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		h.fail(w, r, model.NewValidationError("index", "not a number"))
		return
	}
	if _, err := h.levels.RecordAnswer(ctx, sid, index, r.FormValue("answer")); err != nil {
		if !model.IsValidation(err) {
			h.fail(w, r, err)
			return
		}
		ts, cerr := h.levels.Current(ctx, sid)
		if cerr != nil {
			h.fail(w, r, cerr)
			return
		}
		h.render(w, r, http.StatusBadRequest, views.LevelQuestionPage(ts, userMessage(ctx, err)))
		return
	}
	http.Redirect(w, r, h.path("/level"), http.StatusSeeOther)
}

func (h *Handler) handleLevelFinish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := model.SessionIDFromContext(ctx)
	report, err := h.levels.Finalize(ctx, sid, model.UserFromContext(ctx).ID)
	var incomplete *assessment.IncompleteTestError
	if errors.As(err, &incomplete) {
		ts, serr := h.levels.Seek(ctx, sid, incomplete.FirstUnanswered)
		if serr != nil {
			h.fail(w, r, serr)
			return
		}
		msg := appI18n.Td(ctx, "IncompleteLevel", map[string]any{
			"Answered": incomplete.Answered, "Total": incomplete.Total,
		})
		h.render(w, r, http.StatusUnprocessableEntity, views.LevelQuestionPage(ts, msg))
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.LevelResultPage(report))
}

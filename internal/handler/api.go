package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
	"github.com/learnhub/learnhub/internal/validate"
)

const maxAPIBody = 64 << 10

type apiError struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	RetryAt string `json:"retry_at,omitempty"`
	Index   *int   `json:"index,omitempty"`
}

type sessionResponse struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	DisplayName string     `json:"display_name"`
	Role        string     `json:"role"`
	Level       model.Band `json:"level,omitempty"`
	Lang        string     `json:"lang"`
	CSRFToken   string     `json:"csrf_token"`
}

type chatRequest struct {
	Message string              `json:"message" validate:"required,max=2000"`
	History []model.ChatMessage `json:"history" validate:"max=100,dive"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type pronunciationRequest struct {
	Target     string `json:"target" validate:"required,max=500"`
	Transcript string `json:"transcript" validate:"required,max=2000"`
}

type answerRequest struct {
	Answer json.RawMessage `json:"answer"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeAPIError writes err as a JSON body with its mapped status.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := apiError{Error: userMessage(r.Context(), err)}
	var (
		ve         *model.ValidationError
		cooldown   *quiz.CooldownError
		incomplete *quiz.IncompleteQuizError
	)
	switch {
	case errors.As(err, &ve):
		body.Field = ve.Field
		body.Error = ve.Message
	case errors.As(err, &cooldown):
		body.RetryAt = cooldown.RetryAt.UTC().Format(time.RFC3339)
		w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(cooldown.RetryAt).Seconds())+1))
	case errors.As(err, &incomplete):
		body.Index = &incomplete.Index
	}
	if status == http.StatusInternalServerError {
		slog.Error("api request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAPIBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return model.NewValidationError("body", "invalid JSON: %v", err)
	}
	return validate.Struct(v)
}

func (h *Handler) apiSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := model.UserFromContext(ctx)
	level, err := h.store.GetUserLevel(ctx, user.ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		Role:        string(user.Role),
		Level:       level,
		Lang:        appI18n.Lang(ctx),
		CSRFToken:   model.CSRFTokenFromContext(ctx),
	})
}

func (h *Handler) apiChat(w http.ResponseWriter, r *http.Request) {
	if h.tutor == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "tutor is not configured"})
		return
	}
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	ctx := r.Context()
	level, err := h.store.GetUserLevel(ctx, model.UserFromContext(ctx).ID)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	reply, err := h.tutor.Chat(ctx, level, req.History, req.Message)
	if err != nil {
		slog.Error("tutor chat failed", "error", err)
		writeJSON(w, http.StatusBadGateway, apiError{Error: appI18n.T(ctx, "TutorUnavailable")})
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (h *Handler) apiPronunciation(w http.ResponseWriter, r *http.Request) {
	if h.tutor == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "tutor is not configured"})
		return
	}
	var req pronunciationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	res, err := h.tutor.Pronunciation(r.Context(), req.Target, req.Transcript)
	if err != nil {
		slog.Error("pronunciation check failed", "error", err)
		writeJSON(w, http.StatusBadGateway, apiError{Error: appI18n.T(r.Context(), "TutorUnavailable")})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) apiDictionary(w http.ResponseWriter, r *http.Request) {
	if h.dictionary == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "dictionary is not configured"})
		return
	}
	entry, err := h.dictionary.Lookup(r.Context(), chi.URLParam(r, "word"))
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			slog.Error("dictionary lookup failed", "error", err)
			writeJSON(w, http.StatusBadGateway, apiError{Error: appI18n.T(r.Context(), "DictionaryUnavailable")})
			return
		}
		writeAPIError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// apiSaveAnswer takes {"answer": "B"} for choice and grammar questions and
// {"answer": ["x", "y"]} for matching questions.
func (h *Handler) apiSaveAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := idParam(r, "attemptID")
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	questionID, err := idParam(r, "questionID")
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	raw, err := rawAnswer(req.Answer)
	if err != nil {
		writeAPIError(w, r, err)
		return
	}
	if err := h.quizzes.SaveAnswer(ctx, model.UserFromContext(ctx).ID, attemptID, questionID, raw); err != nil {
		writeAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func rawAnswer(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	switch {
	case len(v) == 0, bytes.Equal(v, []byte("null")):
		return "", nil
	case v[0] == '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", model.NewValidationError("answer", "invalid string")
		}
		return s, nil
	case v[0] == '[':
		return string(v), nil
	default:
		return "", model.NewValidationError("answer", "must be a string or an array of strings")
	}
}

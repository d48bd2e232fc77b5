package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/learnhub/learnhub/internal/content"
	"github.com/learnhub/learnhub/internal/handler/views"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

const maxUploadSize = 10 << 20

func (h *Handler) renderUsers(w http.ResponseWriter, r *http.Request, status int, msg string, ok bool) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, status, views.AdminUsersPage(users, msg, ok))
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	h.renderUsers(w, r, http.StatusOK, "", false)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	f := readAccountForm(r)
	user, err := h.createAccount(r, f)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			slog.Error("failed to create user", "username", f.Username, "error", err)
		}
		h.renderUsers(w, r, statusFor(err), userMessage(r.Context(), err), false)
		return
	}
	slog.Info("admin created user", "admin", model.UserFromContext(r.Context()).Username,
		"username", user.Username, "role", user.Role)
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := idParam(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if id == model.UserFromContext(ctx).ID {
		h.renderUsers(w, r, http.StatusBadRequest, appI18n.T(ctx, "CannotDeactivateSelf"), false)
		return
	}
	if err := h.store.ToggleUserActive(ctx, id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		h.fail(w, r, err)
		return
	}
	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) renderContent(w http.ResponseWriter, r *http.Request, status int, msg string, ok bool) {
	ctx := r.Context()
	counts, err := h.store.LevelQuestionCounts(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	quizzes, err := h.store.ListQuizzes(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, status, views.AdminContentPage(counts, quizzes, msg, ok))
}

func (h *Handler) handleAdminContentPage(w http.ResponseWriter, r *http.Request) {
	h.renderContent(w, r, http.StatusOK, "", false)
}

// handleUploadContent imports an uploaded level-question or quiz file.
func (h *Handler) handleUploadContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		h.renderContent(w, r, http.StatusBadRequest, appI18n.T(ctx, "UploadTooLarge"), false)
		return
	}
	kind := content.Kind(r.FormValue("kind"))
	if kind != content.KindLevelQuestions && kind != content.KindQuizzes {
		h.renderContent(w, r, http.StatusBadRequest, appI18n.T(ctx, "UploadUnknownKind"), false)
		return
	}

	file, header, err := r.FormFile("content_file")
	if err != nil {
		h.renderContent(w, r, http.StatusBadRequest, appI18n.T(ctx, "UploadMissingFile"), false)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.importer.Import(ctx, kind, "upload/"+string(kind)+"/"+header.Filename, data)
	if err != nil {
		if model.IsValidation(err) {
			h.renderContent(w, r, http.StatusBadRequest, userMessage(ctx, err), false)
			return
		}
		slog.Error("content upload failed", "filename", header.Filename, "error", err)
		h.fail(w, r, err)
		return
	}
	if res.Skipped {
		h.renderContent(w, r, http.StatusOK, appI18n.T(ctx, "UploadDuplicate"), true)
		return
	}
	slog.Info("uploaded content via admin", "filename", header.Filename, "kind", kind, "count", res.Count)
	msg := appI18n.Tp(ctx, "UploadImported", res.Count)
	h.renderContent(w, r, http.StatusOK, msg, true)
}

func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	levels, err := h.store.ListAllTestResults(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	quizzes, err := h.store.ListAllQuizResults(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, http.StatusOK, views.ResultsPage(levels, quizzes))
}

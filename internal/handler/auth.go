package handler

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/learnhub/learnhub/internal/handler/views"
	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/validate"
)

const (
	sessionCookieName = "session"
	csrfCookieName    = "csrf_token"
	csrfHeaderName    = "X-CSRF-Token"
)

// accountForm is the shared shape of the registration and admin create-user forms.
type accountForm struct {
	Username    string `form:"username" validate:"required,min=3,max=32,alphanum"`
	DisplayName string `form:"display_name" validate:"max=64"`
	Password    string `form:"password" validate:"required,min=8,max=72"`
	Role        string `form:"role" validate:"omitempty,oneof=student teacher admin"`
}

func readAccountForm(r *http.Request) accountForm {
	f := accountForm{
		Username:    strings.TrimSpace(r.FormValue("username")),
		DisplayName: strings.TrimSpace(r.FormValue("display_name")),
		Password:    r.FormValue("password"),
		Role:        r.FormValue("role"),
	}
	if f.DisplayName == "" {
		f.DisplayName = f.Username
	}
	return f
}

func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (h *Handler) setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: false,
		Secure:   h.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// csrfMiddleware implements the double-submit cookie pattern. Form posts carry the
// token in csrf_token and get a fresh one; script clients send it in X-CSRF-Token
// and keep the current one.
func (h *Handler) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			token := ""
			if c, err := r.Cookie(csrfCookieName); err == nil && c.Value != "" && strings.HasPrefix(r.URL.Path, h.path("/api/")) {
				token = c.Value
			}
			if token == "" {
				var err error
				if token, err = generateCSRFToken(); err != nil {
					slog.Error("failed to generate CSRF token", "error", err)
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				h.setCSRFCookie(w, token)
			}
			next.ServeHTTP(w, r.WithContext(model.ContextWithCSRFToken(r.Context(), token)))
			return
		}

		cookie, err := r.Cookie(csrfCookieName)
		if err != nil || cookie.Value == "" {
			slog.Warn("CSRF cookie missing", "path", r.URL.Path)
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}

		sent := r.Header.Get(csrfHeaderName)
		fromHeader := sent != ""
		if !fromHeader {
			sent = r.FormValue("csrf_token")
		}
		if sent == "" {
			slog.Warn("CSRF request token missing", "path", r.URL.Path)
			http.Error(w, "csrf token missing", http.StatusForbidden)
			return
		}
		if len(sent) != len(cookie.Value) || subtle.ConstantTimeCompare([]byte(sent), []byte(cookie.Value)) != 1 {
			slog.Warn("CSRF token mismatch", "path", r.URL.Path)
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}

		token := cookie.Value
		if !fromHeader {
			if token, err = generateCSRFToken(); err != nil {
				slog.Error("failed to generate CSRF token", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			h.setCSRFCookie(w, token)
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithCSRFToken(r.Context(), token)))
	})
}

// authenticate resolves the session cookie to an active user.
func (h *Handler) authenticate(r *http.Request) (*model.User, string) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ""
	}
	ctx := r.Context()
	authSess, err := h.store.GetAuthSession(ctx, cookie.Value)
	if err != nil {
		slog.Error("failed to get auth session", "error", err)
		return nil, ""
	}
	if authSess == nil {
		return nil, ""
	}
	user, err := h.store.GetUserByID(ctx, authSess.UserID)
	if err != nil || user == nil || !user.Active {
		return nil, ""
	}
	return user, authSess.ID
}

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, sid := h.authenticate(r)
		if user == nil {
			h.redirectToLogin(w, r)
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithSessionID(ctx, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAPIAuth is requireAuth for JSON clients: no redirects.
func (h *Handler) requireAPIAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		user, sid := h.authenticate(r)
		if user == nil {
			writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized"})
			return
		}
		ctx := model.ContextWithUser(r.Context(), user)
		ctx = model.ContextWithSessionID(ctx, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

func (h *Handler) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	loginPath := h.path("/login")
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", loginPath)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, loginPath, http.StatusSeeOther)
}

func (h *Handler) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, views.LoginPage("", h.config.AllowRegister))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	user, err := h.store.GetUserByUsername(ctx, username)
	if err != nil {
		slog.Error("failed to get user", "error", err)
		h.renderLoginError(w, r)
		return
	}
	if user == nil || !user.Active {
		h.renderLoginError(w, r)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		h.renderLoginError(w, r)
		return
	}
	h.startSession(w, r, user)
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request, user *model.User) {
	token, err := h.store.CreateAuthSession(r.Context(), user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     h.cookiePath(),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username)
	http.Redirect(w, r, h.path("/"), http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if sid := model.SessionIDFromContext(ctx); sid != "" {
		// Any level test tied to this session goes with it.
		if err := h.levels.Discard(ctx, sid); err != nil {
			slog.Warn("failed to discard level test", "error", err)
		}
		if err := h.store.DeleteAuthSession(ctx, sid); err != nil {
			slog.Error("failed to delete auth session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     h.cookiePath(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	http.Redirect(w, r, h.path("/login"), http.StatusSeeOther)
}

func (h *Handler) renderLoginError(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusUnauthorized, views.LoginPage(appI18n.T(r.Context(), "LoginError"), h.config.AllowRegister))
}

func (h *Handler) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, views.RegisterPage("", "", ""))
}

// handleRegister creates a student account and signs it in.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	f := readAccountForm(r)
	f.Role = string(model.UserRoleStudent)
	user, err := h.createAccount(r, f)
	if err != nil {
		status := statusFor(err)
		h.render(w, r, status, views.RegisterPage(userMessage(r.Context(), err), f.Username, f.DisplayName))
		return
	}
	h.startSession(w, r, user)
}

// createAccount validates f, rejects taken usernames and stores the user.
func (h *Handler) createAccount(r *http.Request, f accountForm) (*model.User, error) {
	ctx := r.Context()
	if err := validate.Struct(f); err != nil {
		return nil, err
	}
	existing, err := h.store.GetUserByUsername(ctx, f.Username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, model.NewValidationError("username", "%s", appI18n.T(ctx, "UsernameTaken"))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(f.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	role := model.UserRole(f.Role)
	if role == "" {
		role = model.UserRoleStudent
	}
	u := model.User{
		Username:     f.Username,
		DisplayName:  f.DisplayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	}
	if u.ID, err = h.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

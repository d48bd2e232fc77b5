package i18n

import "net/http"

// CookieName holds the language a user picked explicitly.
const CookieName = "lang"

// Middleware negotiates the request language from the lang cookie and the
// Accept-Language header and stores its localizer in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var prefs []string
		if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
			prefs = append(prefs, c.Value)
		}
		prefs = append(prefs, r.Header.Get("Accept-Language"))
		ctx := WithLanguage(r.Context(), Match(prefs...))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

package views

import (
	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
)

// LoginPage renders the sign-in form with an optional error message.
func LoginPage(errMsg string, allowRegister bool) templ.Component {
	return LayoutT("LoginTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, errMsg, false)
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/login"))
		p.csrf()
		p.rawf(`<p><label>%s<br><input name="username" autocomplete="username" required></label></p>`, appI18n.T(ctx, "Username"))
		p.rawf(`<p><label>%s<br><input type="password" name="password" autocomplete="current-password" required></label></p>`, appI18n.T(ctx, "Password"))
		p.rawf(`<p><button>%s</button></p></form>`, appI18n.T(ctx, "LoginButton"))
		if allowRegister {
			p.rawf(`<p><a href="%s">%s</a></p>`, url(ctx, "/register"), appI18n.T(ctx, "RegisterLink"))
		}
	}))
}

// RegisterPage renders the self-registration form.
func RegisterPage(errMsg, username, displayName string) templ.Component {
	return LayoutT("RegisterTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, errMsg, false)
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/register"))
		p.csrf()
		p.rawf(`<p><label>%s<br><input name="username" value="%s" required></label></p>`, appI18n.T(ctx, "Username"), username)
		p.rawf(`<p><label>%s<br><input name="display_name" value="%s"></label></p>`, appI18n.T(ctx, "DisplayName"), displayName)
		p.rawf(`<p><label>%s<br><input type="password" name="password" autocomplete="new-password" required></label></p>`, appI18n.T(ctx, "Password"))
		p.rawf(`<p><button>%s</button></p></form>`, appI18n.T(ctx, "RegisterButton"))
	}))
}

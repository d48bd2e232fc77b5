// Package views renders the HTML pages of the web UI as templ components.
package views

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

// printer writes HTML fragments and keeps the first write error.
type printer struct {
	ctx context.Context
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

// text writes escaped text.
func (p *printer) text(s string) {
	p.raw(templ.EscapeString(s))
}

// rawf formats with every argument escaped.
func (p *printer) rawf(format string, args ...any) {
	for i, a := range args {
		args[i] = templ.EscapeString(fmt.Sprint(a))
	}
	p.raw(fmt.Sprintf(format, args...))
}

// t writes an escaped translation.
func (p *printer) t(id string) {
	p.text(appI18n.T(p.ctx, id))
}

func (p *printer) render(c templ.Component) {
	if p.err == nil {
		p.err = c.Render(p.ctx, p.w)
	}
}

// csrf writes the hidden CSRF form field.
func (p *printer) csrf() {
	p.rawf(`<input type="hidden" name="csrf_token" value="%s">`, model.CSRFTokenFromContext(p.ctx))
}

func component(fn func(p *printer)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{ctx: ctx, w: w}
		fn(p)
		return p.err
	})
}

// url prefixes an application path with the deployment base path.
func url(ctx context.Context, path string) string {
	return model.BasePathFromContext(ctx) + path
}

const style = `body{font-family:system-ui,sans-serif;max-width:60rem;margin:0 auto;padding:1rem;color:#222}
nav{display:flex;gap:1rem;align-items:center;border-bottom:1px solid #ddd;padding-bottom:.5rem;margin-bottom:1rem}
nav .spacer{flex:1}
table{border-collapse:collapse;width:100%}td,th{border-bottom:1px solid #eee;padding:.4rem;text-align:left}
.error{color:#a00}.ok{color:#070}.muted{color:#777}
.card{border:1px solid #ddd;border-radius:6px;padding:1rem;margin-bottom:1rem}
.card.missing{border-color:#a00}
button{cursor:pointer}
form.inline{display:inline}`

// Layout wraps body in the page chrome.
func Layout(title string, body templ.Component) templ.Component {
	return layout(func(context.Context) string { return title }, body)
}

// LayoutT is Layout with a translated title.
func LayoutT(titleID string, body templ.Component) templ.Component {
	return layout(func(ctx context.Context) string { return appI18n.T(ctx, titleID) }, body)
}

func layout(titleFn func(context.Context) string, body templ.Component) templ.Component {
	return component(func(p *printer) {
		ctx := p.ctx
		title := titleFn(ctx)
		p.rawf(`<!DOCTYPE html><html lang="%s"><head><meta charset="utf-8">`, appI18n.Lang(ctx))
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.rawf(`<meta name="csrf-token" content="%s">`, model.CSRFTokenFromContext(ctx))
		p.rawf(`<title>%s · %s</title>`, title, appI18n.T(ctx, "AppTitle"))
		p.raw(`<style>` + style + `</style></head><body>`)
		nav(p)
		p.raw(`<main>`)
		p.rawf(`<h1>%s</h1>`, title)
		p.render(body)
		p.raw(`</main></body></html>`)
	})
}

func nav(p *printer) {
	ctx := p.ctx
	p.raw(`<nav>`)
	p.rawf(`<strong>%s</strong>`, appI18n.T(ctx, "AppTitle"))
	user := model.UserFromContext(ctx)
	if user != nil {
		p.rawf(`<a href="%s">%s</a>`, url(ctx, "/"), appI18n.T(ctx, "NavDashboard"))
		p.rawf(`<a href="%s">%s</a>`, url(ctx, "/level"), appI18n.T(ctx, "NavLevelTest"))
		if user.Role == model.UserRoleTeacher || user.Role == model.UserRoleAdmin {
			p.rawf(`<a href="%s">%s</a>`, url(ctx, "/results"), appI18n.T(ctx, "NavResults"))
		}
		if user.Role == model.UserRoleAdmin {
			p.rawf(`<a href="%s">%s</a>`, url(ctx, "/admin/users"), appI18n.T(ctx, "NavUsers"))
			p.rawf(`<a href="%s">%s</a>`, url(ctx, "/admin/content"), appI18n.T(ctx, "NavContent"))
		}
	}
	p.raw(`<span class="spacer"></span>`)
	for _, tag := range appI18n.Supported() {
		lang, _ := tag.Base()
		p.rawf(`<form class="inline" method="post" action="%s">`, url(ctx, "/lang"))
		p.csrf()
		p.rawf(`<button name="lang" value="%s">%s</button></form>`, lang.String(), strings.ToUpper(lang.String()))
	}
	if user != nil {
		p.rawf(`<span>%s</span>`, user.DisplayName)
		p.rawf(`<form class="inline" method="post" action="%s">`, url(ctx, "/logout"))
		p.csrf()
		p.rawf(`<button>%s</button></form>`, appI18n.T(ctx, "Logout"))
	}
	p.raw(`</nav>`)
}

// ErrorPage shows a failure message with a link back to the dashboard.
func ErrorPage(message string) templ.Component {
	return LayoutT("ErrorTitle", component(func(p *printer) {
		p.rawf(`<p class="error">%s</p>`, message)
		p.rawf(`<p><a href="%s">%s</a></p>`, url(p.ctx, "/"), appI18n.T(p.ctx, "BackToDashboard"))
	}))
}

func flash(p *printer, msg string, ok bool) {
	if msg == "" {
		return
	}
	class := "error"
	if ok {
		class = "ok"
	}
	p.rawf(`<p class="%s">%s</p>`, class, msg)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

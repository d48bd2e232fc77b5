package views

import (
	"fmt"

	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

// LevelStartPage explains the level test and offers to start it.
func LevelStartPage(current model.Band, msg string) templ.Component {
	return LayoutT("LevelTestTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, msg, false)
		p.rawf(`<p>%s</p>`, appI18n.T(ctx, "LevelTestIntro"))
		if current != "" {
			p.rawf(`<p class="muted">%s</p>`, appI18n.Td(ctx, "YourLevel", map[string]any{"Level": current}))
		}
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/level/start"))
		p.csrf()
		p.rawf(`<button>%s</button></form>`, appI18n.T(ctx, "StartLevelTest"))
	}))
}

// LevelQuestionPage shows the question under the test's cursor and a navigator.
func LevelQuestionPage(ts *model.TestSession, msg string) templ.Component {
	return LayoutT("LevelTestTitle", component(func(p *printer) {
		ctx := p.ctx
		i := ts.Cursor
		q := ts.Questions[i]
		flash(p, msg, false)

		p.rawf(`<p class="muted">%s</p>`, appI18n.Td(ctx, "QuestionOf", map[string]any{"N": i + 1, "Total": len(ts.Questions)}))
		p.raw(`<div class="card">`)
		p.rawf(`<p><strong>%s</strong></p>`, q.Text)
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/level/answer"))
		p.csrf()
		p.rawf(`<input type="hidden" name="index" value="%d">`, i)
		for _, label := range model.OptionLabels {
			checked := ""
			if ts.Answers[i] == label {
				checked = " checked"
			}
			p.rawf(`<p><label><input type="radio" name="answer" value="%s"`, label)
			p.raw(checked)
			p.rawf(`> %s) %s</label></p>`, label, q.Options[label])
		}
		p.rawf(`<button>%s</button></form></div>`, appI18n.T(ctx, "SaveAnswer"))

		p.raw(`<p>`)
		for j := range ts.Questions {
			marker := "○"
			if ts.Answers[j] != "" {
				marker = "●"
			}
			if j == i {
				p.rawf(`<strong>%d%s</strong> `, j+1, marker)
				continue
			}
			p.rawf(`<a href="%s">%d%s</a> `, url(ctx, fmt.Sprintf("/level/%d", j)), j+1, marker)
		}
		p.raw(`</p>`)

		p.rawf(`<p class="muted">%s</p>`, appI18n.Td(ctx, "AnsweredOf", map[string]any{"N": ts.Answered(), "Total": len(ts.Questions)}))
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/level/finish"))
		p.csrf()
		p.rawf(`<button>%s</button></form>`, appI18n.T(ctx, "FinishLevelTest"))
	}))
}

// LevelResultPage shows the per-band breakdown and the assigned level.
func LevelResultPage(r *model.LevelReport) templ.Component {
	return LayoutT("LevelResultTitle", component(func(p *printer) {
		ctx := p.ctx
		p.rawf(`<p><strong>%s</strong></p>`, appI18n.Td(ctx, "AssignedLevel", map[string]any{"Level": r.Assigned}))
		p.rawf(`<p>%s</p>`, appI18n.Td(ctx, "OverallScore", map[string]any{
			"Correct": r.TotalCorrect, "Percent": formatScore(r.OverallPercentage),
		}))
		p.rawf(`<table><tr><th>%s</th><th>%s</th><th>%%</th></tr>`, appI18n.T(ctx, "Band"), appI18n.T(ctx, "Correct"))
		for _, b := range r.Bands {
			p.rawf(`<tr><td>%s</td><td>%d/%d</td><td>%s</td></tr>`, b.Band, b.Correct, b.Total, formatScore(b.Percentage))
		}
		p.raw(`</table>`)
		p.rawf(`<p><a href="%s">%s</a></p>`, url(ctx, "/"), appI18n.T(ctx, "BackToDashboard"))
	}))
}

package views

import (
	"fmt"

	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

// AdminUsersPage lists users and offers a create form.
func AdminUsersPage(users []model.User, msg string, ok bool) templ.Component {
	return LayoutT("UsersTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, msg, ok)
		p.rawf(`<table><tr><th>%s</th><th>%s</th><th>%s</th><th>%s</th><th></th></tr>`,
			appI18n.T(ctx, "Username"), appI18n.T(ctx, "DisplayName"), appI18n.T(ctx, "Role"), appI18n.T(ctx, "Status"))
		for _, u := range users {
			status, toggle := "Active", "Deactivate"
			if !u.Active {
				status, toggle = "Inactive", "Activate"
			}
			p.rawf(`<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>`,
				u.Username, u.DisplayName, appI18n.T(ctx, "Role_"+string(u.Role)), appI18n.T(ctx, status))
			p.rawf(`<form method="post" action="%s">`, url(ctx, fmt.Sprintf("/admin/users/%d/toggle", u.ID)))
			p.csrf()
			p.rawf(`<button>%s</button></form></td></tr>`, appI18n.T(ctx, toggle))
		}
		p.raw(`</table>`)

		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "CreateUser"))
		p.rawf(`<form method="post" action="%s">`, url(ctx, "/admin/users"))
		p.csrf()
		p.rawf(`<p><label>%s<br><input name="username" required></label></p>`, appI18n.T(ctx, "Username"))
		p.rawf(`<p><label>%s<br><input name="display_name"></label></p>`, appI18n.T(ctx, "DisplayName"))
		p.rawf(`<p><label>%s<br><input type="password" name="password" required></label></p>`, appI18n.T(ctx, "Password"))
		p.rawf(`<p><label>%s<br><select name="role">`, appI18n.T(ctx, "Role"))
		for _, r := range []model.UserRole{model.UserRoleStudent, model.UserRoleTeacher, model.UserRoleAdmin} {
			p.rawf(`<option value="%s">%s</option>`, r, appI18n.T(ctx, "Role_"+string(r)))
		}
		p.rawf(`</select></label></p><p><button>%s</button></p></form>`, appI18n.T(ctx, "CreateUser"))
	}))
}

// AdminContentPage shows pool sizes and upload forms for level questions and quizzes.
func AdminContentPage(counts map[model.Band]int, quizzes []model.Quiz, msg string, ok bool) templ.Component {
	return LayoutT("ContentTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, msg, ok)

		p.rawf(`<h2>%s</h2><table><tr>`, appI18n.T(ctx, "LevelQuestionPool"))
		for _, b := range model.Bands {
			p.rawf(`<th>%s</th>`, b)
		}
		p.raw(`</tr><tr>`)
		for _, b := range model.Bands {
			p.rawf(`<td>%d</td>`, counts[b])
		}
		p.raw(`</tr></table>`)
		upload(p, "level-questions", "UploadLevelQuestions")

		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "QuizzesHeading"))
		p.raw(`<ul>`)
		for _, q := range quizzes {
			p.rawf(`<li>%s <span class="muted">(%s)</span></li>`, q.Title, appI18n.T(ctx, "Difficulty"+q.Difficulty.String()))
		}
		p.raw(`</ul>`)
		upload(p, "quizzes", "UploadQuizzes")
	}))
}

func upload(p *printer, kind, labelID string) {
	p.rawf(`<form method="post" enctype="multipart/form-data" action="%s">`, url(p.ctx, "/admin/content"))
	p.csrf()
	p.rawf(`<input type="hidden" name="kind" value="%s">`, kind)
	p.rawf(`<p><label>%s<br><input type="file" name="content_file" accept=".json,application/json" required></label></p>`, appI18n.T(p.ctx, labelID))
	p.rawf(`<p><button>%s</button></p></form>`, appI18n.T(p.ctx, "Upload"))
}

// ResultsPage is the instructor overview of all level tests and quiz results.
func ResultsPage(levels, quizzes []model.ResultRow) templ.Component {
	return LayoutT("ResultsTitle", component(func(p *printer) {
		ctx := p.ctx
		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "LevelTests"))
		resultTable(p, levels, false)
		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "QuizzesHeading"))
		resultTable(p, quizzes, true)
	}))
}

func resultTable(p *printer, rows []model.ResultRow, percent bool) {
	if len(rows) == 0 {
		p.rawf(`<p class="muted">%s</p>`, appI18n.T(p.ctx, "NoHistory"))
		return
	}
	p.rawf(`<table><tr><th>%s</th><th></th><th>%s</th><th></th></tr>`, appI18n.T(p.ctx, "Learner"), appI18n.T(p.ctx, "Score"))
	for _, r := range rows {
		score := fmt.Sprintf("%.0f/25", r.Score)
		if percent {
			score = formatScore(r.Score)
		}
		p.rawf(`<tr><td>%s <span class="muted">(%s)</span></td><td>%s</td><td>%s</td><td>%s</td></tr>`,
			r.DisplayName, r.Username, r.Label, score, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	p.raw(`</table>`)
}

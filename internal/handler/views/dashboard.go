package views

import (
	"fmt"

	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
)

// DashboardData is everything the learner's home page shows.
type DashboardData struct {
	Level       model.Band
	Quizzes     []model.QuizSummary
	LevelTests  []model.TestResult
	QuizResults []model.QuizResult
	QuizTitles  map[int64]string
	Message     string
}

// DashboardPage renders the learner's home page.
func DashboardPage(d DashboardData) templ.Component {
	return LayoutT("DashboardTitle", component(func(p *printer) {
		ctx := p.ctx
		flash(p, d.Message, false)

		p.raw(`<section class="card">`)
		if d.Level == "" {
			p.rawf(`<p>%s</p>`, appI18n.T(ctx, "NoLevelYet"))
		} else {
			p.rawf(`<p>%s</p>`, appI18n.Td(ctx, "YourLevel", map[string]any{"Level": d.Level}))
		}
		p.rawf(`<p><a href="%s">%s</a></p>`, url(ctx, "/level"), appI18n.T(ctx, "TakeLevelTest"))
		p.raw(`</section>`)

		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "QuizzesHeading"))
		if len(d.Quizzes) == 0 {
			p.rawf(`<p class="muted">%s</p>`, appI18n.T(ctx, "NoQuizzes"))
		} else {
			p.rawf(`<table><tr><th>%s</th><th>%s</th><th>%s</th><th></th></tr>`,
				appI18n.T(ctx, "Quiz"), appI18n.T(ctx, "Difficulty"), appI18n.T(ctx, "Status"))
			for _, qs := range d.Quizzes {
				p.rawf(`<tr><td>%s<br><span class="muted">%s · %s</span></td><td>%s</td><td>`,
					qs.Quiz.Title, qs.Quiz.Description, appI18n.Tp(ctx, "QuestionCount", qs.QuestionCount),
					appI18n.T(ctx, "Difficulty"+qs.Quiz.Difficulty.String()))
				attemptStatus(p, qs.Latest)
				p.raw(`</td><td>`)
				p.rawf(`<form method="post" action="%s">`, url(ctx, fmt.Sprintf("/quizzes/%d/start", qs.Quiz.ID)))
				p.csrf()
				label := "StartQuiz"
				if qs.Latest != nil && qs.Latest.Status == model.AttemptInProgress {
					label = "ResumeQuiz"
				}
				p.rawf(`<button>%s</button></form>`, appI18n.T(ctx, label))
				if qs.Latest != nil && qs.Latest.Status == model.AttemptCompleted {
					p.rawf(` <a href="%s">%s</a>`, url(ctx, fmt.Sprintf("/attempts/%d/review", qs.Latest.ID)), appI18n.T(ctx, "Review"))
				}
				p.raw(`</td></tr>`)
			}
			p.raw(`</table>`)
		}

		p.rawf(`<h2>%s</h2>`, appI18n.T(ctx, "HistoryHeading"))
		if len(d.LevelTests) == 0 && len(d.QuizResults) == 0 {
			p.rawf(`<p class="muted">%s</p>`, appI18n.T(ctx, "NoHistory"))
			return
		}
		p.raw(`<table>`)
		for _, r := range d.LevelTests {
			p.rawf(`<tr><td>%s</td><td>%s</td><td>%d/25</td><td>%s</td></tr>`,
				appI18n.T(ctx, "LevelTest"), r.Level, r.Score, r.CreatedAt.Format("2006-01-02 15:04"))
		}
		for _, r := range d.QuizResults {
			p.rawf(`<tr><td>%s</td><td></td><td>%s</td><td>%s</td></tr>`,
				d.QuizTitles[r.QuizID], formatScore(r.Score), r.CreatedAt.Format("2006-01-02 15:04"))
		}
		p.raw(`</table>`)
	}))
}

func attemptStatus(p *printer, a *model.QuizAttempt) {
	switch {
	case a == nil:
		p.t("NotStarted")
	case a.Status == model.AttemptCompleted:
		p.rawf(`%s (%s)`, appI18n.T(p.ctx, "Completed"), formatScore(a.Score))
	case a.Status == model.AttemptInProgress:
		p.t("InProgress")
	default:
		p.t("Expired")
	}
}

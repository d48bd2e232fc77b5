package views

import (
	"fmt"

	"github.com/a-h/templ"

	appI18n "github.com/learnhub/learnhub/internal/i18n"
	"github.com/learnhub/learnhub/internal/model"
	"github.com/learnhub/learnhub/internal/quiz"
)

// QuizPage renders every question of an in-progress attempt with its saved answer.
// missing is the index of a question to highlight, or -1.
func QuizPage(pr *quiz.Progress, msg string, missing int) templ.Component {
	return Layout(pr.Quiz.Title, component(func(p *printer) {
		ctx := p.ctx
		flash(p, msg, false)
		if pr.Quiz.Description != "" {
			p.rawf(`<p class="muted">%s</p>`, pr.Quiz.Description)
		}
		p.rawf(`<p class="muted">%s</p>`, appI18n.Td(ctx, "AnsweredOf", map[string]any{"N": pr.Answered(), "Total": len(pr.Questions)}))

		for i, q := range pr.Questions {
			class := "card"
			if i == missing {
				class = "card missing"
			}
			p.rawf(`<div class="%s" id="q%d">`, class, q.ID)
			p.rawf(`<p><strong>%d. %s</strong></p>`, i+1, q.Text)
			p.rawf(`<form method="post" action="%s">`, url(ctx, fmt.Sprintf("/attempts/%d/answers/%d", pr.Attempt.ID, q.ID)))
			p.csrf()
			saved := pr.Answers[q.ID]
			switch q.Type {
			case model.QuestionMultipleChoice:
				for _, label := range quiz.ChoiceLabels(q) {
					p.rawf(`<p><label><input type="radio" name="answer" value="%s"`, label)
					if saved == label {
						p.raw(` checked`)
					}
					p.rawf(`> %s) %s</label></p>`, label, quiz.ChoiceText(q, label))
				}
			case model.QuestionMatching:
				matchInputs(p, q, saved)
			case model.QuestionGrammar:
				p.rawf(`<p><em>%s</em></p>`, quiz.GrammarSentence(q))
				p.rawf(`<p><input name="answer" size="60" value="%s"></p>`, saved)
			}
			p.rawf(`<button>%s</button></form></div>`, appI18n.T(ctx, "SaveAnswer"))
		}

		p.rawf(`<form method="post" action="%s">`, url(ctx, fmt.Sprintf("/attempts/%d/finish", pr.Attempt.ID)))
		p.csrf()
		p.rawf(`<button>%s</button></form>`, appI18n.T(ctx, "FinishQuiz"))
	}))
}

func matchInputs(p *printer, q model.QuizQuestion, saved string) {
	left, right := quiz.MatchItems(q)
	var chosen quiz.Matches
	if a, err := quiz.DecodeAnswer(model.QuestionMatching, saved); err == nil {
		chosen, _ = a.(quiz.Matches)
	}
	p.raw(`<table>`)
	for i, l := range left {
		p.rawf(`<tr><td>%s</td><td><select name="match"><option value="">—</option>`, l)
		for _, r := range right {
			p.rawf(`<option value="%s"`, r)
			if i < len(chosen) && chosen[i] == r {
				p.raw(` selected`)
			}
			p.rawf(`>%s</option>`, r)
		}
		p.raw(`</select></td></tr>`)
	}
	p.raw(`</table>`)
}

// QuizReviewPage shows a graded attempt.
func QuizReviewPage(r *quiz.Review) templ.Component {
	return Layout(r.Quiz.Title, component(func(p *printer) {
		ctx := p.ctx
		p.rawf(`<p><strong>%s</strong></p>`, appI18n.Td(ctx, "QuizScore", map[string]any{
			"Correct": r.Correct, "Total": r.Total, "Percent": formatScore(r.Attempt.Score),
		}))
		for i, item := range r.Items {
			class := "ok"
			mark := "✓"
			if !item.Correct {
				class, mark = "error", "✗"
			}
			p.raw(`<div class="card">`)
			p.rawf(`<p><strong>%d. %s</strong> <span class="%s">%s</span></p>`, i+1, item.Question.Text, class, mark)
			p.rawf(`<p>%s: %s</p>`, appI18n.T(ctx, "YourAnswer"), quiz.Display(item.Given))
			if !item.Correct {
				p.rawf(`<p>%s: %s</p>`, appI18n.T(ctx, "CorrectAnswer"), item.Expected)
			}
			p.raw(`</div>`)
		}
		p.rawf(`<p><a href="%s">%s</a></p>`, url(ctx, "/"), appI18n.T(ctx, "BackToDashboard"))
	}))
}

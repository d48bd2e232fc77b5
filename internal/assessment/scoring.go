package assessment

import "github.com/learnhub/learnhub/internal/model"

// Score computes per-band statistics, the overall percentage and the assigned level
// of a test. It does not check completeness; empty answers count as wrong.
func Score(ts *model.TestSession) model.LevelReport {
	correct := make(map[model.Band]int)
	total := make(map[model.Band]int)
	totalCorrect := 0
	for i, q := range ts.Questions {
		total[q.Band]++
		if i < len(ts.Answers) && ts.Answers[i] != "" && ts.Answers[i] == q.Correct {
			correct[q.Band]++
			totalCorrect++
		}
	}

	bands := make([]model.BandScore, 0, len(model.Bands))
	for _, b := range model.Bands {
		bands = append(bands, model.BandScore{
			Band:       b,
			Correct:    correct[b],
			Total:      total[b],
			Percentage: percentage(correct[b], total[b]),
		})
	}

	return model.LevelReport{
		TotalCorrect:      totalCorrect,
		OverallPercentage: percentage(totalCorrect, len(ts.Questions)),
		Bands:             bands,
		Assigned:          AssignLevel(bands),
	}
}

// AssignLevel walks the bands in order starting at A1 and advances to the next band
// while the current band reaches CurrentBandPass and the next reaches NextBandPass.
// The walk stops at the first pair that fails. bands must be in model.Bands order.
func AssignLevel(bands []model.BandScore) model.Band {
	if len(bands) == 0 {
		return model.BandA1
	}
	assigned := bands[0].Band
	for i := 0; i+1 < len(bands); i++ {
		cur, next := bands[i], bands[i+1]
		if cur.Percentage < CurrentBandPass || next.Percentage < NextBandPass {
			break
		}
		assigned = next.Band
	}
	return assigned
}

func percentage(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return 100 * float64(n) / float64(of)
}

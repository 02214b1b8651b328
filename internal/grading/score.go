package grading

import (
	"github.com/mind-engage/mindengage-exams/internal/question"
	"github.com/mind-engage/mindengage-exams/internal/result"
)

// Score awards one point per exact match of the selected index against the
// question's correct answer. The breakdown follows order; questions missing
// from answers, or missing from the bank, are incorrect with no selection.
// Answers for ids outside order are ignored.
func Score(order []string, bank []question.Question, answers map[string]int) (int, []result.Outcome) {
	byID := make(map[string]question.Question, len(bank))
	for _, q := range bank {
		byID[q.ID] = q
	}
	score := 0
	out := make([]result.Outcome, 0, len(order))
	for _, qid := range order {
		o := result.Outcome{QuestionID: qid}
		if sel, ok := answers[qid]; ok {
			v := sel
			o.Selected = &v
			if q, known := byID[qid]; known && sel == q.CorrectAnswer {
				o.Correct = true
				score++
			}
		}
		out = append(out, o)
	}
	return score, out
}

package exam

import (
	"strings"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/question"
)

// Exam is an assembled test identified by a human-entered code. It owns its
// list of question ids, never copies of the questions.
type Exam struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	Code            string     `json:"code"`
	QuestionIDs     []string   `json:"question_ids"`
	DurationMinutes int        `json:"duration_minutes"`
	ClassID         string     `json:"class_id,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (e Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// CheckWindow rejects attempts outside the optional availability window.
func (e Exam) CheckWindow(now time.Time) error {
	if e.StartTime != nil && now.Before(*e.StartTime) {
		return apperr.Conflict("exam %s opens at %s", e.Code, e.StartTime.Format(time.RFC3339))
	}
	if e.EndTime != nil && !now.Before(*e.EndTime) {
		return apperr.Conflict("exam %s closed at %s", e.Code, e.EndTime.Format(time.RFC3339))
	}
	return nil
}

func (e Exam) Has(questionID string) bool {
	for _, id := range e.QuestionIDs {
		if id == questionID {
			return true
		}
	}
	return false
}

// Input is the admin payload for create and update.
type Input struct {
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Code            string     `json:"code"`
	DurationMinutes int        `json:"duration_minutes"`
	QuestionIDs     []string   `json:"question_ids"`
	ClassID         string     `json:"class_id"`
	StartTime       *time.Time `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
}

// normalize trims text fields and de-duplicates question ids. Codes keep
// their case.
func (in Input) normalize() Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Code = strings.TrimSpace(in.Code)
	in.ClassID = strings.TrimSpace(in.ClassID)
	ids := make([]string, len(in.QuestionIDs))
	for i, id := range in.QuestionIDs {
		ids[i] = strings.TrimSpace(id)
	}
	in.QuestionIDs = question.Dedupe(ids)
	return in
}

// validate checks required fields first, then the question list.
func (in Input) validate() error {
	switch {
	case in.Title == "":
		return apperr.Validation("title is required")
	case in.Code == "":
		return apperr.Validation("code is required")
	case in.DurationMinutes <= 0:
		return apperr.Validation("duration_minutes must be positive")
	}
	if len(in.QuestionIDs) == 0 {
		return apperr.Validation("question_ids must not be empty")
	}
	if in.StartTime != nil && in.EndTime != nil && !in.EndTime.After(*in.StartTime) {
		return apperr.Validation("end_time must be after start_time")
	}
	return nil
}

type ListOpts struct {
	Q      string // title or code substring
	Limit  int
	Offset int
}

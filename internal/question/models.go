package question

import (
	"strings"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

type Level string

const (
	LevelEasy   Level = "easy"
	LevelMedium Level = "medium"
	LevelHard   Level = "hard"
)

func (l Level) Valid() bool {
	switch l {
	case LevelEasy, LevelMedium, LevelHard:
		return true
	}
	return false
}

type Question struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Options       []string  `json:"options"`
	CorrectAnswer int       `json:"correct_answer"`
	Explanation   string    `json:"explanation,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Level         Level     `json:"level,omitempty"`
	Duration      int       `json:"duration,omitempty"` // optional per-question weight, seconds
	CreatedAt     time.Time `json:"created_at"`
}

// Public is the exam-taker view of a question; the answer key and the
// explanation never leave the server while an attempt is running.
type Public struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Options []string `json:"options"`
}

func (q Question) Public() Public {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return Public{ID: q.ID, Content: q.Content, Options: opts}
}

// Input is the admin payload for create/update.
type Input struct {
	Content       string   `json:"content"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correct_answer"`
	Explanation   string   `json:"explanation"`
	Subject       string   `json:"subject"`
	Level         Level    `json:"level"`
	Duration      int      `json:"duration"`
}

func (in Input) Validate() error {
	if strings.TrimSpace(in.Content) == "" {
		return apperr.Validation("content is required")
	}
	if len(in.Options) < 2 {
		return apperr.Validation("at least two options are required")
	}
	for i, o := range in.Options {
		if strings.TrimSpace(o) == "" {
			return apperr.Validation("option %d is empty", i)
		}
	}
	if in.CorrectAnswer == nil {
		return apperr.Validation("correct_answer is required")
	}
	if *in.CorrectAnswer < 0 || *in.CorrectAnswer >= len(in.Options) {
		return apperr.Validation("correct_answer %d out of range for %d options", *in.CorrectAnswer, len(in.Options))
	}
	if in.Level != "" && !in.Level.Valid() {
		return apperr.Validation("level must be easy, medium or hard")
	}
	if in.Duration < 0 {
		return apperr.Validation("duration must not be negative")
	}
	return nil
}

// Filter drives the manual search used when an admin hand-picks questions.
type Filter struct {
	Keyword string
	Subject string
	Level   Level
	Page    int
	Limit   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (f Filter) normalized() Filter {
	f.Keyword = strings.TrimSpace(f.Keyword)
	f.Subject = strings.TrimSpace(f.Subject)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	return f
}

type Page struct {
	Items      []Question `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"total_pages"`
}

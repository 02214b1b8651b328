// Package attempt runs timed exam sessions: open, start, answer, submit, and
// the sweeper that submits sessions whose deadline has passed.
package attempt

import (
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
)

// ErrAlreadySubmitted is returned, together with the original outcome, when
// a submitted attempt is submitted again.
var ErrAlreadySubmitted = fmt.Errorf("%w: attempt already submitted", apperr.ErrConflict)

// Session is one user's attempt at one exam. The exam fields are a snapshot
// taken at open time; Answers holds the latest selection per question.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	ExamID string `json:"exam_id"`
	Status Status `json:"status"`

	QuestionIDs     []string       `json:"question_ids"`
	OptionCounts    map[string]int `json:"option_counts"`
	DurationSeconds int            `json:"duration_seconds"`

	Answers map[string]int `json:"answers"`

	OpenedAt    time.Time `json:"opened_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Deadline    time.Time `json:"deadline,omitempty"`
	SubmittedAt time.Time `json:"submitted_at,omitempty"`

	Auto     bool   `json:"auto_submitted,omitempty"`
	ResultID string `json:"result_id,omitempty"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
}

// Remaining is the whole seconds left before the deadline, never negative.
// Sessions that have not started report their full duration.
func (s Session) Remaining(now time.Time) int {
	switch s.Status {
	case StatusNotStarted:
		return s.DurationSeconds
	case StatusSubmitted:
		return 0
	}
	left := s.Deadline.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

func (s Session) Outcome() Outcome {
	return Outcome{
		AttemptID:   s.ID,
		ResultID:    s.ResultID,
		Score:       s.Score,
		Total:       s.Total,
		Auto:        s.Auto,
		SubmittedAt: s.SubmittedAt,
	}
}

func (s Session) clone() Session {
	c := s
	c.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	c.OptionCounts = make(map[string]int, len(s.OptionCounts))
	for k, v := range s.OptionCounts {
		c.OptionCounts[k] = v
	}
	c.Answers = make(map[string]int, len(s.Answers))
	for k, v := range s.Answers {
		c.Answers[k] = v
	}
	return c
}

// validAnswer checks that qid is part of the snapshot and selected indexes
// one of its options.
func (s Session) validAnswer(qid string, selected int) error {
	n, ok := s.OptionCounts[qid]
	if !ok {
		return apperr.Validation("question %s is not part of this exam", qid)
	}
	if selected < 0 || selected >= n {
		return apperr.Validation("option %d out of range for question %s", selected, qid)
	}
	return nil
}

type Outcome struct {
	AttemptID   string    `json:"attempt_id"`
	ResultID    string    `json:"result_id"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Auto        bool      `json:"auto_submitted"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type SubmitOptions struct {
	// Auto marks a client-reported timeout. A submit at or past the deadline
	// is auto regardless.
	Auto bool
	// Answers are merged over the recorded ones when they arrive in time.
	Answers map[string]int
}

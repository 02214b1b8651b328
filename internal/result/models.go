package result

import "time"

// Outcome is one question's line in a result breakdown. Selected is nil for
// an unanswered question.
type Outcome struct {
	QuestionID string `json:"question_id"`
	Selected   *int   `json:"selected"`
	Correct    bool   `json:"correct"`
}

// Result is the immutable record of one scored attempt.
type Result struct {
	ID          string    `json:"id"`
	AttemptID   string    `json:"attempt_id"`
	UserID      string    `json:"user_id"`
	ExamID      string    `json:"exam_id"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	Answers     []Outcome `json:"answers,omitempty"`
	Auto        bool      `json:"auto_submitted"`
	StartedAt   time.Time `json:"started_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type History struct {
	Total   int      `json:"total"`
	Average float64  `json:"average"`
	Results []Result `json:"results"`
}

type ReportRow struct {
	ResultID    string    `json:"result_id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Score       int       `json:"score"`
	Total       int       `json:"total"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Report struct {
	ExamID    string      `json:"exam_id"`
	ExamTitle string      `json:"exam_title"`
	ExamCode  string      `json:"exam_code"`
	Total     int         `json:"total"`
	Rows      []ReportRow `json:"rows"`
}

type ExamSummary struct {
	ExamID       string `json:"exam_id"`
	Title        string `json:"title"`
	Code         string `json:"code"`
	TotalResults int    `json:"total_results"`
}

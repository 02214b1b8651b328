// Package grading scores submitted attempts and persists their results.
package grading

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mind-engage/mindengage-exams/internal/events"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
	"github.com/mind-engage/mindengage-exams/internal/question"
	"github.com/mind-engage/mindengage-exams/internal/result"
)

type ExamSource interface {
	Get(ctx context.Context, id string) (exam.Exam, error)
}

type QuestionSource interface {
	FetchByIDs(ctx context.Context, ids []string) ([]question.Question, error)
}

// Submission is a frozen answer map handed over by the session layer.
// QuestionIDs is the exam's question list as the session saw it when it was
// opened; it decides what is scored and the total.
type Submission struct {
	AttemptID   string
	UserID      string
	ExamID      string
	QuestionIDs []string
	Answers     map[string]int
	StartedAt time.Time
	Auto      bool
}

type Engine struct {
	exams     ExamSource
	questions QuestionSource
	results   result.Store
	onCommit  func()
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Engine)

// WithCommitHook runs fn after each result commits, typically events.Relay.Kick.
func WithCommitHook(fn func()) Option       { return func(e *Engine) { e.onCommit = fn } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(e *Engine) { e.log = l } }

func NewEngine(exams ExamSource, questions QuestionSource, results result.Store, opts ...Option) *Engine {
	e := &Engine{
		exams:     exams,
		questions: questions,
		results:   results,
		onCommit:  func() {},
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Grade scores sub against the authoritative questions and stores one
// result. Either the result, its breakdown and its outbox event are all
// written or nothing is. A second grade for the same attempt fails with
// ErrConflict.
func (e *Engine) Grade(ctx context.Context, sub Submission) (result.Result, error) {
	timer := prometheus.NewTimer(metrics.GradeDuration)
	defer timer.ObserveDuration()

	ex, err := e.exams.Get(ctx, sub.ExamID)
	if err != nil {
		return result.Result{}, err
	}
	order := sub.QuestionIDs
	if len(order) == 0 {
		order = ex.QuestionIDs
	}
	if edited := countMissing(ex, order); edited > 0 {
		e.log.Warn("exam questions changed during attempt; scoring the attempt's copy",
			"attempt_id", sub.AttemptID, "exam_id", ex.ID, "removed", edited)
	}
	bank, err := e.questions.FetchByIDs(ctx, order)
	if err != nil {
		return result.Result{}, err
	}
	if len(bank) != len(order) {
		e.log.Warn("exam references missing questions",
			"exam_id", ex.ID, "want", len(order), "found", len(bank))
	}

	score, outcomes := Score(order, bank, sub.Answers)
	now := e.now().UTC()
	res := result.Result{
		ID:          uuid.NewString(),
		AttemptID:   sub.AttemptID,
		UserID:      sub.UserID,
		ExamID:      ex.ID,
		Score:       score,
		Total:       len(order),
		Answers:     outcomes,
		Auto:        sub.Auto,
		StartedAt:   sub.StartedAt.UTC(),
		SubmittedAt: now,
	}
	evt, err := events.New(events.TypeResultSubmitted, res.AttemptID, res, now)
	if err != nil {
		return result.Result{}, err
	}
	if err := e.results.Create(ctx, res, evt); err != nil {
		return result.Result{}, err
	}
	e.onCommit()

	metrics.ObserveResult(res.Score, res.Total, res.Auto)
	e.log.Info("attempt scored",
		"attempt_id", res.AttemptID, "exam_id", res.ExamID, "user_id", res.UserID,
		"score", res.Score, "total", res.Total, "auto", res.Auto)
	return res, nil
}

// countMissing counts ids no longer part of ex.
func countMissing(ex exam.Exam, ids []string) int {
	n := 0
	for _, id := range ids {
		if !ex.Has(id) {
			n++
		}
	}
	return n
}

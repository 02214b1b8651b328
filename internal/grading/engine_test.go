package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/events"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/question"
	"github.com/mind-engage/mindengage-exams/internal/result"
)

type fixture struct {
	engine  *Engine
	exams   *exam.Service
	results *result.SQLStore
	outbox  *events.EventRepo
	commits *int
	exam    exam.Exam
	qA, qB  question.Question
}

func intp(v int) *int { return &v }

// setup builds the JS-01 exam: qA answers 1, qB answers 0.
func setup(t *testing.T) fixture {
	t.Helper()
	dbh := db.OpenTest(t)
	ctx := context.Background()
	qs := question.NewSQLStore(dbh)
	qA, err := qs.Create(ctx, question.Input{Content: "qA", Options: []string{"a", "b", "c"}, CorrectAnswer: intp(1)})
	if err != nil {
		t.Fatal(err)
	}
	qB, err := qs.Create(ctx, question.Input{Content: "qB", Options: []string{"a", "b", "c"}, CorrectAnswer: intp(0)})
	if err != nil {
		t.Fatal(err)
	}
	exams := exam.NewService(exam.NewSQLStore(dbh), qs, nil)
	ex, err := exams.Create(ctx, exam.Input{Title: "JS Basics", Code: "JS-01", DurationMinutes: 10, QuestionIDs: []string{qA.ID, qB.ID}})
	if err != nil {
		t.Fatal(err)
	}
	results := result.NewSQLStore(dbh)
	commits := new(int)
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	eng := NewEngine(exams, qs, results,
		WithCommitHook(func() { *commits++ }), WithClock(func() time.Time { return now }))
	return fixture{engine: eng, exams: exams, results: results, outbox: events.NewEventRepo(dbh), commits: commits, exam: ex, qA: qA, qB: qB}
}

func (f fixture) pending(t *testing.T) []events.Event {
	t.Helper()
	evts, err := f.outbox.Pending(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	return evts
}

func TestGradeScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	res, err := f.engine.Grade(ctx, Submission{
		AttemptID: "a1", UserID: "u1", ExamID: f.exam.ID,
		Answers: map[string]int{f.qA.ID: 1, f.qB.ID: 2},
	})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if res.Score != 1 || res.Total != 2 {
		t.Fatalf("score %d/%d, want 1/2", res.Score, res.Total)
	}
	want := []result.Outcome{
		{QuestionID: f.qA.ID, Selected: intp(1), Correct: true},
		{QuestionID: f.qB.ID, Selected: intp(2), Correct: false},
	}
	stored, err := f.results.GetByAttempt(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	for i, o := range stored.Answers {
		if o.QuestionID != want[i].QuestionID || *o.Selected != *want[i].Selected || o.Correct != want[i].Correct {
			t.Fatalf("breakdown[%d] = %+v, want %+v", i, o, want[i])
		}
	}
	if evts := f.pending(t); len(evts) != 1 || evts[0].Key != "a1" || evts[0].Type != events.TypeResultSubmitted {
		t.Fatalf("outbox %+v", evts)
	}
	if *f.commits != 1 {
		t.Fatalf("commit hook ran %d times", *f.commits)
	}
}

func TestGradeUnansweredAndForeignAnswers(t *testing.T) {
	f := setup(t)
	res, err := f.engine.Grade(context.Background(), Submission{
		AttemptID: "a1", UserID: "u1", ExamID: f.exam.ID,
		Answers: map[string]int{"not-in-exam": 0},
	})
	if err != nil {
		t.Fatalf("empty answers must not fail: %v", err)
	}
	if res.Score != 0 || len(res.Answers) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	for _, o := range res.Answers {
		if o.Selected != nil || o.Correct {
			t.Fatalf("unanswered outcome %+v", o)
		}
	}
}

func TestGradeTwiceConflicts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := Submission{AttemptID: "a1", UserID: "u1", ExamID: f.exam.ID, Answers: map[string]int{f.qA.ID: 1}}
	if _, err := f.engine.Grade(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Grade(ctx, sub); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if evts := f.pending(t); len(evts) != 1 {
		t.Fatalf("duplicate outbox rows: %d", len(evts))
	}
	if *f.commits != 1 {
		t.Fatalf("commit hook ran %d times", *f.commits)
	}
}

func TestGradeUsesAttemptQuestionList(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	// the exam now holds only qB, but the attempt was opened with both
	if _, err := f.exams.Update(ctx, f.exam.ID, exam.Input{
		Title: "JS Basics", Code: "JS-01", DurationMinutes: 10, QuestionIDs: []string{f.qB.ID},
	}); err != nil {
		t.Fatal(err)
	}
	res, err := f.engine.Grade(ctx, Submission{
		AttemptID: "a1", UserID: "u1", ExamID: f.exam.ID,
		QuestionIDs: []string{f.qA.ID, f.qB.ID},
		Answers:     map[string]int{f.qA.ID: 1, f.qB.ID: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Score != 2 || res.Total != 2 || len(res.Answers) != 2 || res.Answers[0].QuestionID != f.qA.ID {
		t.Fatalf("result %+v", res)
	}
}

func TestGradeUnknownExam(t *testing.T) {
	f := setup(t)
	if _, err := f.engine.Grade(context.Background(), Submission{AttemptID: "a1", ExamID: "nope"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

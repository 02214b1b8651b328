package exam

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/question"
)

// QuestionSource is the slice of the question bank exam assembly needs.
type QuestionSource interface {
	FetchByIDs(ctx context.Context, ids []string) ([]question.Question, error)
}

// LiveAttempts counts the running attempts of an exam.
type LiveAttempts interface {
	CountLive(ctx context.Context, examID string) (int, error)
}

type Service struct {
	store     Store
	questions QuestionSource
	live      LiveAttempts
	now       func() time.Time
	log       *slog.Logger
}

type Option func(*Service)

// WithLiveAttempts makes Delete refuse exams that still have attempts in
// progress.
func WithLiveAttempts(l LiveAttempts) Option { return func(s *Service) { s.live = l } }

func NewService(store Store, questions QuestionSource, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{store: store, questions: questions, now: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates in (required fields, question list, references, code) and
// persists a new exam.
func (s *Service) Create(ctx context.Context, in Input) (Exam, error) {
	in = in.normalize()
	if err := s.check(ctx, in, ""); err != nil {
		return Exam{}, err
	}
	e := Exam{
		ID:              uuid.NewString(),
		Title:           in.Title,
		Description:     in.Description,
		Code:            in.Code,
		QuestionIDs:     in.QuestionIDs,
		DurationMinutes: in.DurationMinutes,
		ClassID:         in.ClassID,
		StartTime:       in.StartTime,
		EndTime:         in.EndTime,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Insert(ctx, e); err != nil {
		return Exam{}, err
	}
	s.log.Info("exam created", "exam_id", e.ID, "code", e.Code, "questions", len(e.QuestionIDs))
	return e, nil
}

// Update replaces the editable fields of id. The code may stay the same.
func (s *Service) Update(ctx context.Context, id string, in Input) (Exam, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return Exam{}, err
	}
	in = in.normalize()
	if err := s.check(ctx, in, id); err != nil {
		return Exam{}, err
	}
	cur.Title = in.Title
	cur.Description = in.Description
	cur.Code = in.Code
	cur.QuestionIDs = in.QuestionIDs
	cur.DurationMinutes = in.DurationMinutes
	cur.ClassID = in.ClassID
	cur.StartTime = in.StartTime
	cur.EndTime = in.EndTime
	if err := s.store.Update(ctx, cur); err != nil {
		return Exam{}, err
	}
	s.log.Info("exam updated", "exam_id", cur.ID, "code", cur.Code)
	return cur, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if s.live != nil {
		n, err := s.live.CountLive(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("exam has %d attempts in progress", n)
		}
	}
	if err := s.store.DeleteUnreferenced(ctx, id); err != nil {
		return err
	}
	s.log.Info("exam deleted", "exam_id", id)
	return nil
}

// ResolveCode finds the exam for a code as entered; no case folding.
func (s *Service) ResolveCode(ctx context.Context, code string) (Exam, error) {
	if code == "" {
		return Exam{}, apperr.NotFound("exam code")
	}
	return s.store.GetByCode(ctx, code)
}

func (s *Service) Get(ctx context.Context, id string) (Exam, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, opts ListOpts) ([]Exam, error) {
	return s.store.List(ctx, opts)
}

func (s *Service) check(ctx context.Context, in Input, selfID string) error {
	if err := in.validate(); err != nil {
		return err
	}
	found, err := s.questions.FetchByIDs(ctx, in.QuestionIDs)
	if err != nil {
		return err
	}
	if len(found) != len(in.QuestionIDs) {
		have := make(map[string]bool, len(found))
		for _, q := range found {
			have[q.ID] = true
		}
		for _, id := range in.QuestionIDs {
			if !have[id] {
				return apperr.Validation("unknown question %s", id)
			}
		}
	}
	taken, err := s.store.CodeTaken(ctx, in.Code, selfID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %q", apperr.ErrDuplicateCode, in.Code)
	}
	return nil
}

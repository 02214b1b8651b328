package attempt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
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

// Scorer turns a frozen answer map into a stored result.
type Scorer interface {
	Grade(ctx context.Context, sub grading.Submission) (result.Result, error)
}

type ResultLookup interface {
	GetByAttempt(ctx context.Context, attemptID string) (result.Result, error)
}

// View is what a taker sees of an exam. Correct answers are never part of it.
type View struct {
	ExamID          string            `json:"exam_id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	DurationSeconds int               `json:"duration_seconds"`
	Questions       []question.Public `json:"questions"`
}

type Service struct {
	store     SessionStore
	exams     ExamSource
	questions QuestionSource
	scorer    Scorer
	results   ResultLookup

	grace     time.Duration
	retention time.Duration
	now       func() time.Time
	log       *slog.Logger

	attemptLocks keyedMutex
	openLocks    keyedMutex
}

type Option func(*Service)

// WithGrace sets how long after the deadline answers and submits are still
// accepted, to absorb request latency.
func WithGrace(d time.Duration) Option { return func(s *Service) { s.grace = d } }

// WithRetention sets how long idle and submitted sessions are kept.
func WithRetention(d time.Duration) Option  { return func(s *Service) { s.retention = d } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.log = l } }

func NewService(store SessionStore, exams ExamSource, questions QuestionSource, scorer Scorer, results ResultLookup, opts ...Option) *Service {
	s := &Service{
		store:     store,
		exams:     exams,
		questions: questions,
		scorer:    scorer,
		results:   results,
		grace:     2 * time.Second,
		retention: time.Hour,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ExamForAttempt expands the exam's questions for display, without answers.
func (s *Service) ExamForAttempt(ctx context.Context, examID string) (View, error) {
	ex, err := s.exams.Get(ctx, examID)
	if err != nil {
		return View{}, err
	}
	qs, err := s.questions.FetchByIDs(ctx, ex.QuestionIDs)
	if err != nil {
		return View{}, err
	}
	v := View{
		ExamID:          ex.ID,
		Title:           ex.Title,
		Description:     ex.Description,
		DurationSeconds: int(ex.Duration() / time.Second),
		Questions:       make([]question.Public, 0, len(qs)),
	}
	for _, q := range qs {
		v.Questions = append(v.Questions, q.Public())
	}
	return v, nil
}

// Open returns the user's unsubmitted session for the exam, creating a
// not-started one if there is none. No clock runs until Start.
func (s *Service) Open(ctx context.Context, userID, examID string) (Session, error) {
	unlock := s.openLocks.lock(activeKey(userID, examID))
	defer unlock()
	return s.open(ctx, userID, examID)
}

func (s *Service) open(ctx context.Context, userID, examID string) (Session, error) {
	if userID == "" {
		return Session{}, apperr.Forbidden("missing user")
	}
	if cur, err := s.store.Active(ctx, userID, examID); err == nil {
		return cur, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Session{}, err
	}

	ex, err := s.exams.Get(ctx, examID)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if err := ex.CheckWindow(now); err != nil {
		return Session{}, err
	}
	qs, err := s.questions.FetchByIDs(ctx, ex.QuestionIDs)
	if err != nil {
		return Session{}, err
	}
	sess := Session{
		ID:              uuid.NewString(),
		UserID:          userID,
		ExamID:          ex.ID,
		Status:          StatusNotStarted,
		QuestionIDs:     append([]string(nil), ex.QuestionIDs...),
		OptionCounts:    make(map[string]int, len(qs)),
		DurationSeconds: int(ex.Duration() / time.Second),
		Answers:         map[string]int{},
		OpenedAt:        now,
		Total:           len(ex.QuestionIDs),
	}
	for _, q := range qs {
		sess.OptionCounts[q.ID] = len(q.Options)
	}
	if err := s.store.Put(ctx, sess, s.retention); err != nil {
		return Session{}, err
	}
	s.log.Info("attempt opened", "attempt_id", sess.ID, "exam_id", sess.ExamID, "user_id", userID)
	return sess, nil
}

// Start moves the user's session for the exam to in_progress and fixes its
// deadline. A session that is already running comes back unchanged.
func (s *Service) Start(ctx context.Context, userID, examID string) (Session, error) {
	unlock := s.openLocks.lock(activeKey(userID, examID))
	defer unlock()

	sess, err := s.open(ctx, userID, examID)
	if err != nil {
		return Session{}, err
	}
	release := s.attemptLocks.lock(sess.ID)
	defer release()
	if sess, err = s.store.Get(ctx, sess.ID); err != nil {
		return Session{}, err
	}
	if sess.Status != StatusNotStarted {
		return sess, nil
	}

	ex, err := s.exams.Get(ctx, examID)
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	if err := ex.CheckWindow(now); err != nil {
		return Session{}, err
	}
	sess.Status = StatusInProgress
	sess.StartedAt = now
	sess.Deadline = now.Add(time.Duration(sess.DurationSeconds) * time.Second)
	if err := s.store.Put(ctx, sess, s.liveTTL(sess, now)); err != nil {
		return Session{}, err
	}
	metrics.AttemptsStarted.Inc()
	s.log.Info("attempt started", "attempt_id", sess.ID, "exam_id", sess.ExamID, "user_id", userID,
		"deadline", sess.Deadline)
	return sess, nil
}

// Get returns the caller's own session.
func (s *Service) Get(ctx context.Context, userID, attemptID string) (Session, error) {
	sess, err := s.store.Get(ctx, attemptID)
	if err != nil {
		return Session{}, err
	}
	if sess.UserID != userID {
		return Session{}, apperr.Forbidden("attempt belongs to another user")
	}
	return sess, nil
}

func (s *Service) Now() time.Time { return s.now() }

// RecordAnswer overwrites the selection for one question.
func (s *Service) RecordAnswer(ctx context.Context, userID, attemptID, questionID string, selected int) error {
	unlock := s.attemptLocks.lock(attemptID)
	defer unlock()

	now := s.now().UTC()
	_, err := s.store.Update(ctx, attemptID, func(sess *Session) (time.Duration, error) {
		if sess.UserID != userID {
			return 0, apperr.Forbidden("attempt belongs to another user")
		}
		switch sess.Status {
		case StatusNotStarted:
			return 0, apperr.Conflict("attempt has not started")
		case StatusSubmitted:
			return 0, ErrAlreadySubmitted
		}
		if s.late(*sess, now) {
			return 0, apperr.Conflict("time is up for attempt %s", attemptID)
		}
		if err := sess.validAnswer(questionID, selected); err != nil {
			return 0, err
		}
		sess.Answers[questionID] = selected
		return s.liveTTL(*sess, now), nil
	})
	return err
}

// Submit freezes the session and hands its answers to the scorer. A session
// that is already submitted yields its original outcome with
// ErrAlreadySubmitted.
func (s *Service) Submit(ctx context.Context, userID, attemptID string, opts SubmitOptions) (Outcome, error) {
	if userID == "" {
		return Outcome{}, apperr.Forbidden("missing user")
	}
	return s.submit(ctx, userID, attemptID, opts)
}

// AutoSubmit submits a session on behalf of the system once time is up.
func (s *Service) AutoSubmit(ctx context.Context, attemptID string) (Outcome, error) {
	return s.submit(ctx, "", attemptID, SubmitOptions{Auto: true})
}

func (s *Service) submit(ctx context.Context, userID, attemptID string, opts SubmitOptions) (Outcome, error) {
	unlock := s.attemptLocks.lock(attemptID)
	defer unlock()

	sess, err := s.store.Get(ctx, attemptID)
	if errors.Is(err, apperr.ErrNotFound) {
		return s.fromResult(ctx, userID, attemptID)
	}
	if err != nil {
		return Outcome{}, err
	}
	if userID != "" && sess.UserID != userID {
		return Outcome{}, apperr.Forbidden("attempt belongs to another user")
	}
	switch sess.Status {
	case StatusSubmitted:
		return sess.Outcome(), ErrAlreadySubmitted
	case StatusNotStarted:
		return Outcome{}, apperr.Conflict("attempt has not started")
	}

	now := s.now().UTC()
	accepted := map[string]int{}
	if len(opts.Answers) > 0 {
		if s.late(sess, now) {
			s.log.Warn("late answers dropped", "attempt_id", sess.ID, "user_id", sess.UserID, "count", len(opts.Answers))
		} else {
			for qid, sel := range opts.Answers {
				if err := sess.validAnswer(qid, sel); err != nil {
					return Outcome{}, err
				}
				accepted[qid] = sel
			}
		}
	}
	var seen Session
	frozen, err := s.store.Update(ctx, attemptID, func(cur *Session) (time.Duration, error) {
		if cur.Status != StatusInProgress {
			seen = *cur
			return 0, ErrAlreadySubmitted
		}
		for qid, sel := range accepted {
			cur.Answers[qid] = sel
		}
		cur.Status = StatusSubmitted
		cur.SubmittedAt = now
		cur.Auto = opts.Auto || !now.Before(cur.Deadline)
		return s.retention, nil
	})
	switch {
	case errors.Is(err, ErrAlreadySubmitted):
		// frozen by another replica since the read above
		return seen.Outcome(), ErrAlreadySubmitted
	case errors.Is(err, apperr.ErrNotFound):
		return s.fromResult(ctx, userID, attemptID)
	case err != nil:
		return Outcome{}, err
	}

	res, err := s.scorer.Grade(ctx, grading.Submission{
		AttemptID:   frozen.ID,
		UserID:      frozen.UserID,
		ExamID:      frozen.ExamID,
		QuestionIDs: frozen.QuestionIDs,
		Answers:     frozen.Answers,
		StartedAt:   frozen.StartedAt,
		Auto:        frozen.Auto,
	})
	if errors.Is(err, apperr.ErrConflict) {
		// scored by another instance
		if existing, gerr := s.results.GetByAttempt(ctx, sess.ID); gerr == nil {
			frozen = withResult(frozen, existing)
			_ = s.store.Put(ctx, frozen, s.retention)
			return frozen.Outcome(), ErrAlreadySubmitted
		}
	}
	if err != nil {
		s.reopen(ctx, attemptID, now)
		return Outcome{}, err
	}

	frozen = withResult(frozen, res)
	if err := s.store.Put(ctx, frozen, s.retention); err != nil {
		// result is already durable
		s.log.Warn("store submitted session", "attempt_id", sess.ID, "err", err)
	}
	s.log.Info("attempt submitted", "attempt_id", sess.ID, "exam_id", sess.ExamID, "user_id", sess.UserID,
		"auto", frozen.Auto, "score", res.Score, "total", res.Total)
	return frozen.Outcome(), nil
}

// reopen puts a frozen but unscored session back to in_progress so the
// taker or the sweeper can try again. Answers merged by the failed submit are
// kept.
func (s *Service) reopen(ctx context.Context, attemptID string, now time.Time) {
	_, err := s.store.Update(ctx, attemptID, func(cur *Session) (time.Duration, error) {
		if cur.Status != StatusSubmitted || cur.ResultID != "" {
			return 0, errNothingToReopen
		}
		cur.Status = StatusInProgress
		cur.SubmittedAt = time.Time{}
		cur.Auto = false
		return s.liveTTL(*cur, now), nil
	})
	if err != nil && !errors.Is(err, errNothingToReopen) {
		s.log.Error("restore session after failed submit", "attempt_id", attemptID, "err", err)
	}
}

var errNothingToReopen = errors.New("session already scored")

// fromResult answers a submit for a session that is gone from the store but
// was already scored.
func (s *Service) fromResult(ctx context.Context, userID, attemptID string) (Outcome, error) {
	res, err := s.results.GetByAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Outcome{}, apperr.NotFound("attempt " + attemptID)
		}
		return Outcome{}, err
	}
	if userID != "" && res.UserID != userID {
		return Outcome{}, apperr.Forbidden("attempt belongs to another user")
	}
	return Outcome{
		AttemptID: attemptID, ResultID: res.ID, Score: res.Score, Total: res.Total,
		Auto: res.Auto, SubmittedAt: res.SubmittedAt,
	}, ErrAlreadySubmitted
}

func withResult(sess Session, res result.Result) Session {
	sess.ResultID = res.ID
	sess.Score = res.Score
	sess.Total = res.Total
	sess.Auto = res.Auto
	sess.SubmittedAt = res.SubmittedAt
	return sess
}

func (s *Service) late(sess Session, now time.Time) bool {
	return now.After(sess.Deadline.Add(s.grace))
}

// liveTTL keeps a running session until well after its deadline so the
// sweeper and repeat submits can still find it.
func (s *Service) liveTTL(sess Session, now time.Time) time.Duration {
	ttl := sess.Deadline.Add(s.grace + s.retention).Sub(now)
	if ttl < s.retention {
		ttl = s.retention
	}
	return ttl
}

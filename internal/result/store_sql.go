package result

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/events"
)

type Store interface {
	Create(ctx context.Context, r Result, outbox ...events.Event) error
	Get(ctx context.Context, id string) (Result, error)
	GetByAttempt(ctx context.Context, attemptID string) (Result, error)
	ListByUser(ctx context.Context, userID string) ([]Result, error)
}

type SQLStore struct{ db *sql.DB }

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

const resultCols = `id,attempt_id,user_id,exam_id,score,total,auto_submitted,started_at,submitted_at`

// Create writes the result, its breakdown and any outbox events in one
// transaction. A second result for the same attempt fails with ErrConflict
// and leaves nothing behind.
func (s *SQLStore) Create(ctx context.Context, r Result, outbox ...events.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin result tx", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO results (`+resultCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.AttemptID, r.UserID, r.ExamID, r.Score, r.Total, r.Auto,
		r.StartedAt.Unix(), r.SubmittedAt.Unix())
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			return apperr.Conflict("attempt %s already has a result", r.AttemptID)
		}
		return apperr.Storage("insert result", err)
	}
	for i, o := range r.Answers {
		var sel any
		if o.Selected != nil {
			sel = *o.Selected
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO result_answers (result_id,position,question_id,selected,correct)
			VALUES ($1,$2,$3,$4,$5)`, r.ID, i, o.QuestionID, sel, o.Correct); err != nil {
			return apperr.Storage("insert result answer", err)
		}
	}
	for _, e := range outbox {
		if err := events.AppendTx(ctx, tx, e); err != nil {
			return apperr.Storage("append outbox event", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Storage("commit result", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Result, error) {
	return s.getOne(ctx, `SELECT `+resultCols+` FROM results WHERE id=$1`, id)
}

func (s *SQLStore) GetByAttempt(ctx context.Context, attemptID string) (Result, error) {
	return s.getOne(ctx, `SELECT `+resultCols+` FROM results WHERE attempt_id=$1`, attemptID)
}

func (s *SQLStore) getOne(ctx context.Context, q string, arg string) (Result, error) {
	r, err := scanResult(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, apperr.NotFound("result " + arg)
	}
	if err != nil {
		return Result{}, apperr.Storage("get result", err)
	}
	if r.Answers, err = s.answers(ctx, r.ID); err != nil {
		return Result{}, err
	}
	return r, nil
}

func (s *SQLStore) answers(ctx context.Context, resultID string) ([]Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, selected, correct FROM result_answers WHERE result_id=$1 ORDER BY position`, resultID)
	if err != nil {
		return nil, apperr.Storage("list result answers", err)
	}
	defer rows.Close()
	out := []Outcome{}
	for rows.Next() {
		var (
			o   Outcome
			sel sql.NullInt64
		)
		if err := rows.Scan(&o.QuestionID, &sel, &o.Correct); err != nil {
			return nil, apperr.Storage("scan result answer", err)
		}
		if sel.Valid {
			v := int(sel.Int64)
			o.Selected = &v
		}
		out = append(out, o)
	}
	return out, apperr.Storage("list result answers", rows.Err())
}

// ListByUser returns the user's results newest first, without breakdowns.
func (s *SQLStore) ListByUser(ctx context.Context, userID string) ([]Result, error) {
	return s.list(ctx, `SELECT `+resultCols+` FROM results WHERE user_id=$1 ORDER BY submitted_at DESC, id`, userID)
}

func (s *SQLStore) list(ctx context.Context, q, arg string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, q, arg)
	if err != nil {
		return nil, apperr.Storage("list results", err)
	}
	defer rows.Close()
	out := []Result{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, apperr.Storage("scan result", err)
		}
		out = append(out, r)
	}
	return out, apperr.Storage("list results", rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (Result, error) {
	var (
		r                  Result
		started, submitted int64
	)
	if err := sc.Scan(&r.ID, &r.AttemptID, &r.UserID, &r.ExamID, &r.Score, &r.Total, &r.Auto, &started, &submitted); err != nil {
		return Result{}, err
	}
	r.StartedAt = time.Unix(started, 0).UTC()
	r.SubmittedAt = time.Unix(submitted, 0).UTC()
	return r, nil
}

package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const examCols = `id,title,description,code,question_ids_json,duration_minutes,class_id,start_time,end_time,created_at`

func (s *SQLStore) Insert(ctx context.Context, e Exam) error {
	ids, err := json.Marshal(e.QuestionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO exams (`+examCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Title, e.Description, e.Code, string(ids), e.DurationMinutes, e.ClassID,
		unixOrNil(e.StartTime), unixOrNil(e.EndTime), e.CreatedAt.Unix())
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", apperr.ErrDuplicateCode, e.Code)
		}
		return apperr.Storage("insert exam", err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, e Exam) error {
	ids, err := json.Marshal(e.QuestionIDs)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE exams
		SET title=$1, description=$2, code=$3, question_ids_json=$4, duration_minutes=$5,
		    class_id=$6, start_time=$7, end_time=$8
		WHERE id=$9`,
		e.Title, e.Description, e.Code, string(ids), e.DurationMinutes, e.ClassID,
		unixOrNil(e.StartTime), unixOrNil(e.EndTime), e.ID)
	if err != nil {
		if apperr.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", apperr.ErrDuplicateCode, e.Code)
		}
		return apperr.Storage("update exam", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("exam " + e.ID)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examCols+` FROM exams WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, apperr.NotFound("exam " + id)
		}
		return Exam{}, apperr.Storage("get exam", err)
	}
	return e, nil
}

// GetByCode is an exact, case-sensitive match.
func (s *SQLStore) GetByCode(ctx context.Context, code string) (Exam, error) {
	e, err := scanExam(s.db.QueryRowContext(ctx, `SELECT `+examCols+` FROM exams WHERE code=$1`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Exam{}, apperr.NotFound("exam code " + code)
		}
		return Exam{}, apperr.Storage("get exam by code", err)
	}
	return e, nil
}

func (s *SQLStore) CodeTaken(ctx context.Context, code, excludeID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM exams WHERE code=$1 AND id<>$2`, code, excludeID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, apperr.Storage("check exam code", err)
	}
	return true, nil
}

func (s *SQLStore) List(ctx context.Context, opts ListOpts) ([]Exam, error) {
	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	var (
		cond string
		args []any
	)
	if q := strings.TrimSpace(opts.Q); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		cond = ` WHERE LOWER(title) LIKE $1 OR LOWER(code) LIKE $1`
	}
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM exams%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		examCols, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, apperr.Storage("list exams", err)
	}
	defer rows.Close()
	out := []Exam{}
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			return nil, apperr.Storage("scan exam", err)
		}
		out = append(out, e)
	}
	return out, apperr.Storage("list exams", rows.Err())
}

// DeleteUnreferenced checks for results and deletes inside one transaction,
// so a result committed concurrently cannot be orphaned.
func (s *SQLStore) DeleteUnreferenced(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin delete exam", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM results WHERE exam_id=$1 LIMIT 1`, id).Scan(&one)
	switch {
	case err == nil:
		return apperr.Conflict("cannot delete an exam with submitted attempts")
	case !errors.Is(err, sql.ErrNoRows):
		return apperr.Storage("check exam results", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id=$1`, id)
	if err != nil {
		return apperr.Storage("delete exam", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("exam " + id)
	}
	return apperr.Storage("commit delete exam", tx.Commit())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExam(sc scanner) (Exam, error) {
	var (
		e          Exam
		ids        string
		start, end sql.NullInt64
		created    int64
	)
	if err := sc.Scan(&e.ID, &e.Title, &e.Description, &e.Code, &ids, &e.DurationMinutes, &e.ClassID, &start, &end, &created); err != nil {
		return Exam{}, err
	}
	if err := json.Unmarshal([]byte(ids), &e.QuestionIDs); err != nil {
		return Exam{}, fmt.Errorf("exam %s question ids: %w", e.ID, err)
	}
	e.StartTime = timeOrNil(start)
	e.EndTime = timeOrNil(end)
	e.CreatedAt = time.Unix(created, 0).UTC()
	return e, nil
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

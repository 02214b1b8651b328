package question

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

// Store is the question bank. Exams reference questions by id only.
type Store interface {
	Create(ctx context.Context, in Input) (Question, error)
	Update(ctx context.Context, id string, in Input) (Question, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Question, error)
	FetchByIDs(ctx context.Context, ids []string) ([]Question, error)
	ListIDs(ctx context.Context) ([]string, error)
	Search(ctx context.Context, f Filter) (Page, error)
	Facets(ctx context.Context) (subjects, levels []string, err error)
}

type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

const selectCols = `id,content,options_json,correct_answer,explanation,subject,level,duration,created_at`

func (s *SQLStore) Create(ctx context.Context, in Input) (Question, error) {
	if err := in.Validate(); err != nil {
		return Question{}, err
	}
	q := fromInput(uuid.NewString(), in, s.now())
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return Question{}, err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO questions (`+selectCols+`,content_folded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		q.ID, q.Content, string(opts), q.CorrectAnswer, q.Explanation, q.Subject, string(q.Level), q.Duration, q.CreatedAt.UnixNano(),
		fold(q.Content))
	if err != nil {
		return Question{}, apperr.Storage("insert question", err)
	}
	return q, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, in Input) (Question, error) {
	if err := in.Validate(); err != nil {
		return Question{}, err
	}
	q := fromInput(id, in, time.Time{})
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return Question{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE questions
		SET content=$1, options_json=$2, correct_answer=$3, explanation=$4, subject=$5, level=$6, duration=$7,
		    content_folded=$8
		WHERE id=$9`,
		q.Content, string(opts), q.CorrectAnswer, q.Explanation, q.Subject, string(q.Level), q.Duration,
		fold(q.Content), id)
	if err != nil {
		return Question{}, apperr.Storage("update question", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Question{}, apperr.NotFound("question " + id)
	}
	return s.Get(ctx, id)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id=$1`, id)
	if err != nil {
		return apperr.Storage("delete question", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("question " + id)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectCols+` FROM questions WHERE id=$1`, id)
	q, err := scanQuestion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Question{}, apperr.NotFound("question " + id)
		}
		return Question{}, apperr.Storage("get question", err)
	}
	return q, nil
}

// FetchByIDs returns the questions in the order of ids. Unknown ids are
// skipped; callers compare lengths when they need all of them.
func (s *SQLStore) FetchByIDs(ctx context.Context, ids []string) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectCols+` FROM questions WHERE id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, apperr.Storage("fetch questions", err)
	}
	defer rows.Close()
	byID := make(map[string]Question, len(ids))
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, apperr.Storage("scan question", err)
		}
		byID[q.ID] = q
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("fetch questions", err)
	}
	out := make([]Question, 0, len(byID))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *SQLStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM questions`)
	if err != nil {
		return nil, apperr.Storage("list question ids", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("scan question id", err)
		}
		ids = append(ids, id)
	}
	return ids, apperr.Storage("list question ids", rows.Err())
}

func (s *SQLStore) Search(ctx context.Context, f Filter) (Page, error) {
	f = f.normalized()
	var (
		where []string
		args  []any
	)
	if f.Keyword != "" {
		args = append(args, "%"+escapeLike(fold(f.Keyword))+"%")
		where = append(where, fmt.Sprintf(`content_folded LIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.Subject != "" {
		args = append(args, f.Subject)
		where = append(where, fmt.Sprintf("subject = $%d", len(args)))
	}
	if f.Level != "" {
		args = append(args, string(f.Level))
		where = append(where, fmt.Sprintf("level = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	page := Page{Page: f.Page, Limit: f.Limit, Items: []Question{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`+cond, args...).Scan(&page.Total); err != nil {
		return Page{}, apperr.Storage("count questions", err)
	}
	page.TotalPages = (page.Total + f.Limit - 1) / f.Limit

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	q := fmt.Sprintf(`SELECT %s FROM questions%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		selectCols, cond, len(args)-1, len(args))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return Page{}, apperr.Storage("search questions", err)
	}
	defer rows.Close()
	for rows.Next() {
		item, err := scanQuestion(rows)
		if err != nil {
			return Page{}, apperr.Storage("scan question", err)
		}
		page.Items = append(page.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Page{}, apperr.Storage("search questions", err)
	}
	return page, nil
}

func (s *SQLStore) Facets(ctx context.Context) ([]string, []string, error) {
	subjects, err := s.distinct(ctx, "subject")
	if err != nil {
		return nil, nil, err
	}
	levels, err := s.distinct(ctx, "level")
	if err != nil {
		return nil, nil, err
	}
	return subjects, levels, nil
}

func (s *SQLStore) distinct(ctx context.Context, col string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT `+col+` FROM questions WHERE `+col+` <> '' ORDER BY `+col)
	if err != nil {
		return nil, apperr.Storage("distinct "+col, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, apperr.Storage("distinct "+col, err)
		}
		out = append(out, v)
	}
	return out, apperr.Storage("distinct "+col, rows.Err())
}

// fold lower-cases in Go so matching does not depend on the database's
// (often ASCII-only) LOWER.
func fold(s string) string { return strings.ToLower(s) }

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside a LIKE pattern.
func escapeLike(s string) string { return likeEscaper.Replace(s) }

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (Question, error) {
	var (
		q       Question
		opts    string
		level   string
		created int64
	)
	if err := sc.Scan(&q.ID, &q.Content, &opts, &q.CorrectAnswer, &q.Explanation, &q.Subject, &level, &q.Duration, &created); err != nil {
		return Question{}, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return Question{}, fmt.Errorf("question %s options: %w", q.ID, err)
	}
	q.Level = Level(level)
	q.CreatedAt = time.Unix(0, created).UTC()
	return q, nil
}

func fromInput(id string, in Input, now time.Time) Question {
	opts := make([]string, len(in.Options))
	for i, o := range in.Options {
		opts[i] = strings.TrimSpace(o)
	}
	return Question{
		ID:            id,
		Content:       strings.TrimSpace(in.Content),
		Options:       opts,
		CorrectAnswer: *in.CorrectAnswer,
		Explanation:   in.Explanation,
		Subject:       strings.TrimSpace(in.Subject),
		Level:         in.Level,
		Duration:      in.Duration,
		CreatedAt:     now.UTC(),
	}
}

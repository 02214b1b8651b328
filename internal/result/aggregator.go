package result

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

// Aggregator answers the reporting queries over stored results.
type Aggregator struct {
	db    *sql.DB
	store Store
}

func NewAggregator(db *sql.DB, store Store) *Aggregator {
	return &Aggregator{db: db, store: store}
}

// UserHistory lists a user's results newest first with their average score.
func (a *Aggregator) UserHistory(ctx context.Context, userID string) (History, error) {
	list, err := a.store.ListByUser(ctx, userID)
	if err != nil {
		return History{}, err
	}
	h := History{Total: len(list), Results: list}
	if len(list) > 0 {
		sum := 0
		for _, r := range list {
			sum += r.Score
		}
		h.Average = float64(sum) / float64(len(list))
	}
	return h, nil
}

// ExamReport lists every result for the exam with the given code, best first.
// Results of users missing from the directory are kept with empty names.
func (a *Aggregator) ExamReport(ctx context.Context, code string) (Report, error) {
	var rep Report
	err := a.db.QueryRowContext(ctx, `SELECT id, title, code FROM exams WHERE code=$1`, code).
		Scan(&rep.ExamID, &rep.ExamTitle, &rep.ExamCode)
	if errors.Is(err, sql.ErrNoRows) {
		return Report{}, apperr.NotFound("exam code " + code)
	}
	if err != nil {
		return Report{}, apperr.Storage("report exam", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, COALESCE(u.username,''), COALESCE(u.email,''), r.score, r.total, r.submitted_at
		FROM results r LEFT JOIN users u ON u.id = r.user_id
		WHERE r.exam_id=$1
		ORDER BY r.score DESC, r.submitted_at`, rep.ExamID)
	if err != nil {
		return Report{}, apperr.Storage("report rows", err)
	}
	defer rows.Close()
	rep.Rows = []ReportRow{}
	for rows.Next() {
		var (
			row ReportRow
			at  int64
		)
		if err := rows.Scan(&row.ResultID, &row.UserID, &row.Username, &row.Email, &row.Score, &row.Total, &at); err != nil {
			return Report{}, apperr.Storage("scan report row", err)
		}
		row.SubmittedAt = time.Unix(at, 0).UTC()
		rep.Rows = append(rep.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Report{}, apperr.Storage("report rows", err)
	}
	rep.Total = len(rep.Rows)
	return rep, nil
}

// ExamSummaries counts results per exam, including exams nobody has taken.
func (a *Aggregator) ExamSummaries(ctx context.Context) ([]ExamSummary, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT e.id, e.title, e.code, COUNT(r.id)
		FROM exams e LEFT JOIN results r ON r.exam_id = e.id
		GROUP BY e.id, e.title, e.code, e.created_at
		ORDER BY e.created_at DESC, e.id`)
	if err != nil {
		return nil, apperr.Storage("exam summaries", err)
	}
	defer rows.Close()
	out := []ExamSummary{}
	for rows.Next() {
		var s ExamSummary
		if err := rows.Scan(&s.ExamID, &s.Title, &s.Code, &s.TotalResults); err != nil {
			return nil, apperr.Storage("scan exam summary", err)
		}
		out = append(out, s)
	}
	return out, apperr.Storage("exam summaries", rows.Err())
}

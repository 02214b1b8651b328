package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

const TypeResultSubmitted = "result.submitted"

type Event struct {
	Seq       int64           `json:"seq,omitempty"`
	SiteID    string          `json:"site_id,omitempty"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// New marshals payload into an event stamped with now.
func New(typ, key string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Key: key, Data: raw, CreatedAt: now.Unix()}, nil
}

// EventRepo is the event_log table. Rows are written in the same
// transaction as the record they describe and handed to the bus by Relay.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// AppendTx writes e inside tx.
func AppendTx(ctx context.Context, tx *sql.Tx, e Event) error {
	site := e.SiteID
	if site == "" {
		site = "local"
	}
	created := e.CreatedAt
	if created == 0 {
		created = time.Now().Unix()
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, event_key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		site, e.Type, e.Key, string(e.Data), created)
	return err
}

// Pending returns up to limit events the bus has not taken yet, oldest first.
func (r *EventRepo) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, event_key, data, created_at FROM event_log
		 WHERE published_at IS NULL ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Seq, &e.SiteID, &e.Type, &e.Key, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *EventRepo) MarkPublished(ctx context.Context, seq int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE event_log SET published_at=$1 WHERE seq=$2 AND published_at IS NULL`, at.Unix(), seq)
	return err
}

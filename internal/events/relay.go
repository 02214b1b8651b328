package events

import (
	"context"
	"log/slog"
	"time"
)

// Relay drains the event_log outbox into a Publisher in seq order. A failed
// publish stops the drain; the row stays pending for the next round.
type Relay struct {
	repo     *EventRepo
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
	log      *slog.Logger
	kick     chan struct{}
}

func NewRelay(repo *EventRepo, pub Publisher, interval time.Duration, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		repo: repo, pub: pub, interval: interval, batch: 100,
		now: time.Now, log: log, kick: make(chan struct{}, 1),
	}
}

// Kick asks Run to drain now instead of waiting for the next tick.
func (r *Relay) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.Drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.kick:
		}
		r.Drain(ctx)
	}
}

// Drain publishes pending events and reports how many went out.
func (r *Relay) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		pending, err := r.repo.Pending(ctx, r.batch)
		if err != nil {
			r.log.Error("read pending events", "err", err)
			return n
		}
		for _, e := range pending {
			if err := r.pub.Publish(ctx, e); err != nil {
				r.log.Warn("publish event", "seq", e.Seq, "type", e.Type, "key", e.Key, "err", err)
				return n
			}
			if err := r.repo.MarkPublished(ctx, e.Seq, r.now()); err != nil {
				r.log.Error("mark event published", "seq", e.Seq, "err", err)
				return n
			}
			n++
		}
		if len(pending) < r.batch {
			return n
		}
	}
	return n
}

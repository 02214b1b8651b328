package attempt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
)

// Sweeper auto-submits running sessions whose deadline has passed, so an
// attempt is scored even when the client never comes back.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	retries  int
	backoff  time.Duration
	batch    int
	log      *slog.Logger
}

func NewSweeper(svc *Service, interval time.Duration, retries int, backoff time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Second
	}
	if retries < 1 {
		retries = 1
	}
	return &Sweeper{svc: svc, interval: interval, retries: retries, backoff: backoff, batch: 100, log: svc.log}
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.log.Info("attempt sweeper started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			w.log.Info("attempt sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep submits every session that is due now and reports how many were
// scored.
func (w *Sweeper) Sweep(ctx context.Context) int {
	// sessions inside the grace period may still receive a manual submit
	cutoff := w.svc.now().Add(-w.svc.grace)
	ids, err := w.svc.store.Due(ctx, cutoff, w.batch)
	if err != nil {
		w.log.Error("list due attempts", "err", err)
		return 0
	}
	n := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if w.submit(ctx, id) {
			n++
		}
	}
	return n
}

func (w *Sweeper) submit(ctx context.Context, id string) bool {
	wait := w.backoff
	for attempt := 1; attempt <= w.retries; attempt++ {
		out, err := w.svc.AutoSubmit(ctx, id)
		switch {
		case err == nil:
			w.log.Info("attempt auto-submitted", "attempt_id", id, "score", out.Score, "total", out.Total)
			return true
		case errors.Is(err, ErrAlreadySubmitted):
			return false
		case errors.Is(err, apperr.ErrNotFound) && w.gone(ctx, id):
			// only the deadline entry was left
			_ = w.svc.store.Delete(ctx, id)
			return false
		}
		w.log.Warn("auto-submit failed", "attempt_id", id, "try", attempt, "of", w.retries, "err", err)
		if attempt == w.retries {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait *= 2
	}
	metrics.SubmitFailures.Inc()
	w.log.Error("auto-submit gave up", "attempt_id", id, "retries", w.retries)
	return false
}

// gone reports whether the session itself has left the store. A NotFound
// from scoring (say, a missing exam) leaves the session in place to retry.
func (w *Sweeper) gone(ctx context.Context, id string) bool {
	_, err := w.svc.store.Get(ctx, id)
	return errors.Is(err, apperr.ErrNotFound)
}

package question

import (
	"context"
	"math/rand/v2"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

const MaxSample = 100

// Selector produces candidate question sets for exam assembly.
type Selector struct {
	store Store
	rng   *rand.Rand
}

type SelectorOption func(*Selector)

// WithRand fixes the random source; tests use it for reproducible draws.
func WithRand(r *rand.Rand) SelectorOption { return func(s *Selector) { s.rng = r } }

func NewSelector(store Store, opts ...SelectorOption) *Selector {
	s := &Selector{store: store}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SampleRandom draws min(n, M) distinct questions uniformly from the whole
// bank. Callers compare len(result) with n; a small bank is not an error.
func (s *Selector) SampleRandom(ctx context.Context, n int) ([]Question, error) {
	if n < 1 || n > MaxSample {
		return nil, apperr.Validation("count must be between 1 and %d", MaxSample)
	}
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	picked := sampleIDs(ids, n, s.intn)
	if len(picked) == 0 {
		return []Question{}, nil
	}
	return s.store.FetchByIDs(ctx, picked)
}

func (s *Selector) Search(ctx context.Context, f Filter) (Page, error) {
	return s.store.Search(ctx, f)
}

func (s *Selector) intn(n int) int {
	if s.rng != nil {
		return s.rng.IntN(n)
	}
	return rand.IntN(n)
}

// sampleIDs runs a partial Fisher-Yates shuffle over a copy of ids and
// returns the first n slots.
func sampleIDs(ids []string, n int, intn func(int) int) []string {
	pool := dedupe(ids)
	if n > len(pool) {
		n = len(pool)
	}
	for i := 0; i < n; i++ {
		j := i + intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n]
}

// Dedupe drops repeated ids while keeping first-seen order. Random picks and
// manual picks are merged by the caller, so the assembled list can repeat.
func Dedupe(ids []string) []string { return dedupe(ids) }

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

package attempt

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

func running(id, user, exam string, deadline time.Time) Session {
	return Session{
		ID: id, UserID: user, ExamID: exam, Status: StatusInProgress,
		QuestionIDs: []string{"q1"}, OptionCounts: map[string]int{"q1": 2},
		Answers: map[string]int{}, DurationSeconds: 60,
		StartedAt: deadline.Add(-time.Minute), Deadline: deadline,
	}
}

// exerciseStore runs the contract every SessionStore must meet. advance moves
// the store's notion of time forward.
func exerciseStore(t *testing.T, st SessionStore, now time.Time, advance func(time.Duration)) {
	ctx := context.Background()

	if _, err := st.Get(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing session: %v", err)
	}

	a := running("a", "u1", "e1", now.Add(2*time.Second))
	b := running("b", "u2", "e1", now.Add(time.Second))
	c := running("c", "u3", "e1", now.Add(time.Hour))
	for _, s := range []Session{a, b, c} {
		if err := st.Put(ctx, s, 10*time.Second); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.Active(ctx, "u1", "e1")
	if err != nil || got.ID != "a" {
		t.Fatalf("active: %+v, %v", got, err)
	}
	got.Answers["q1"] = 1
	fresh, _ := st.Get(ctx, "a")
	if len(fresh.Answers) != 0 {
		t.Fatal("store handed out a shared answer map")
	}

	if n, err := st.CountLive(ctx, "e1"); err != nil || n != 3 {
		t.Fatalf("live e1 = %d, %v", n, err)
	}
	if n, _ := st.CountLive(ctx, "e2"); n != 0 {
		t.Fatalf("live e2 = %d", n)
	}

	updated, err := st.Update(ctx, "c", func(s *Session) (time.Duration, error) {
		s.Answers["q1"] = 1
		return 10 * time.Second, nil
	})
	if err != nil || updated.Answers["q1"] != 1 {
		t.Fatalf("update: %+v, %v", updated, err)
	}
	errStop := errors.New("stop")
	if _, err := st.Update(ctx, "c", func(s *Session) (time.Duration, error) {
		s.Answers["q1"] = 0
		return 0, errStop
	}); !errors.Is(err, errStop) {
		t.Fatalf("update error: %v", err)
	}
	if cur, _ := st.Get(ctx, "c"); cur.Answers["q1"] != 1 {
		t.Fatalf("aborted update was written: %+v", cur.Answers)
	}
	if _, err := st.Update(ctx, "nope", func(*Session) (time.Duration, error) { return time.Second, nil }); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}

	due, err := st.Due(ctx, now.Add(5*time.Second), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0] != "b" || due[1] != "a" {
		t.Fatalf("due = %v", due)
	}

	a.Status = StatusSubmitted
	if err := st.Put(ctx, a, 10*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Active(ctx, "u1", "e1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("submitted session still active: %v", err)
	}
	due, _ = st.Due(ctx, now.Add(5*time.Second), 10)
	if len(due) != 1 || due[0] != "b" {
		t.Fatalf("submitted session still due: %v", due)
	}

	if n, _ := st.CountLive(ctx, "e1"); n != 2 {
		t.Fatalf("live after submit = %d", n)
	}

	if err := st.Delete(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if n, _ := st.CountLive(ctx, "e1"); n != 1 {
		t.Fatalf("live after delete = %d", n)
	}
	if _, err := st.Get(ctx, "b"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("deleted session: %v", err)
	}

	advance(11 * time.Second)
	if _, err := st.Get(ctx, "c"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expired session still readable: %v", err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	clk := &clock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	st := NewMemoryStore()
	st.now = clk.Now
	exerciseStore(t, st, clk.Now(), clk.Advance)
	if _, err := st.Active(context.Background(), "u3", "e1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expired session still active: %v", err)
	}
}

// Set EXAMS_TEST_REDIS_ADDR to run against a real server.
func TestRedisStoreContract(t *testing.T) {
	addr := os.Getenv("EXAMS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EXAMS_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { client.Close() })
	prefix := "examstest:" + time.Now().Format("150405.000000")
	st := NewRedisStore(client, prefix)
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})
	exerciseStore(t, st, time.Now(), func(d time.Duration) { time.Sleep(d) })
}

func TestRemaining(t *testing.T) {
	start := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	s := running("a", "u", "e", start.Add(10*time.Minute))
	cases := []struct {
		at   time.Duration
		want int
	}{
		{0, 600},
		{1500 * time.Millisecond, 598},
		{10 * time.Minute, 0},
		{11 * time.Minute, 0},
	}
	for _, tc := range cases {
		if got := s.Remaining(start.Add(tc.at)); got != tc.want {
			t.Fatalf("at %v: remaining %d, want %d", tc.at, got, tc.want)
		}
	}
	s.Status = StatusNotStarted
	if s.Remaining(start.Add(time.Hour)) != 60 {
		t.Fatal("not started sessions keep their full duration")
	}
}

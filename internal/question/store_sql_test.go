package question

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/db"
)

func intp(v int) *int { return &v }

// newTestStore returns a store whose clock advances one second per call so
// recency ordering is deterministic.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	st := NewSQLStore(db.OpenTest(t))
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	st.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return st
}

func mustCreate(t *testing.T, st *SQLStore, in Input) Question {
	t.Helper()
	q, err := st.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create %q: %v", in.Content, err)
	}
	return q
}

func TestCreateValidates(t *testing.T) {
	st := newTestStore(t)
	cases := []struct {
		name string
		in   Input
	}{
		{"no content", Input{Options: []string{"a", "b"}, CorrectAnswer: intp(0)}},
		{"one option", Input{Content: "x", Options: []string{"a"}, CorrectAnswer: intp(0)}},
		{"missing answer", Input{Content: "x", Options: []string{"a", "b"}}},
		{"answer out of range", Input{Content: "x", Options: []string{"a", "b"}, CorrectAnswer: intp(2)}},
		{"negative answer", Input{Content: "x", Options: []string{"a", "b"}, CorrectAnswer: intp(-1)}},
		{"bad level", Input{Content: "x", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Level: "expert"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := st.Create(context.Background(), tc.in); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCRUDRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	q := mustCreate(t, st, Input{Content: " What is 2+2? ", Options: []string{"3", "4"}, CorrectAnswer: intp(1), Subject: "math", Level: LevelEasy})
	if q.Content != "What is 2+2?" {
		t.Fatalf("content not trimmed: %q", q.Content)
	}

	got, err := st.Get(ctx, q.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CorrectAnswer != 1 || len(got.Options) != 2 || got.Level != LevelEasy {
		t.Fatalf("unexpected question %+v", got)
	}

	upd, err := st.Update(ctx, q.ID, Input{Content: "What is 3+3?", Options: []string{"6", "7", "8"}, CorrectAnswer: intp(0), Subject: "math", Level: LevelMedium})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if upd.Content != "What is 3+3?" || len(upd.Options) != 3 || upd.Level != LevelMedium {
		t.Fatalf("update not applied: %+v", upd)
	}

	if _, err := st.Update(ctx, "missing", Input{Content: "x", Options: []string{"a", "b"}, CorrectAnswer: intp(0)}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := st.Delete(ctx, q.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.Get(ctx, q.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := st.Delete(ctx, q.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestFetchByIDsKeepsRequestedOrder(t *testing.T) {
	st := newTestStore(t)
	a := mustCreate(t, st, Input{Content: "A", Options: []string{"x", "y"}, CorrectAnswer: intp(0)})
	b := mustCreate(t, st, Input{Content: "B", Options: []string{"x", "y"}, CorrectAnswer: intp(1)})
	c := mustCreate(t, st, Input{Content: "C", Options: []string{"x", "y"}, CorrectAnswer: intp(0)})

	got, err := st.FetchByIDs(context.Background(), []string{c.ID, "nope", a.ID, b.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].ID != c.ID || got[1].ID != a.ID || got[2].ID != b.ID {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestSearchFiltersAndPaginates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, st, Input{Content: "JavaScript closures", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "js", Level: LevelHard})
	mustCreate(t, st, Input{Content: "javascript hoisting", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "js", Level: LevelEasy})
	mustCreate(t, st, Input{Content: "Go channels", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "go", Level: LevelEasy})
	newest := mustCreate(t, st, Input{Content: "JAVASCRIPT promises", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "js", Level: LevelEasy})

	page, err := st.Search(ctx, Filter{Keyword: "javascript"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("keyword match: total=%d items=%d", page.Total, len(page.Items))
	}
	if page.Items[0].ID != newest.ID {
		t.Fatalf("expected newest first, got %q", page.Items[0].Content)
	}

	page, err = st.Search(ctx, Filter{Keyword: "javascript", Level: LevelEasy, Subject: "js"})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("AND filters: total=%d", page.Total)
	}

	page, err = st.Search(ctx, Filter{Page: 2, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 4 || len(page.Items) != 1 || page.TotalPages != 2 {
		t.Fatalf("pagination: %+v", page)
	}
	if page.Items[0].Content != "JavaScript closures" {
		t.Fatalf("last page should hold the oldest question, got %q", page.Items[0].Content)
	}
}

func TestSearchFoldsNonASCII(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	q := mustCreate(t, st, Input{Content: "Đề thi môn Toán", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})
	mustCreate(t, st, Input{Content: "History quiz", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})

	for _, kw := range []string{"Đề", "đề", "ĐỀ THI", "TOÁN", "môn"} {
		page, err := st.Search(ctx, Filter{Keyword: kw})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != 1 || page.Items[0].ID != q.ID {
			t.Fatalf("keyword %q: total=%d", kw, page.Total)
		}
	}

	// edits refresh the folded copy
	if _, err := st.Update(ctx, q.ID, Input{Content: "Ôn tập Vật lý", Options: []string{"a", "b"}, CorrectAnswer: intp(0)}); err != nil {
		t.Fatal(err)
	}
	for kw, want := range map[string]int{"đề": 0, "VẬT LÝ": 1} {
		page, err := st.Search(ctx, Filter{Keyword: kw})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != want {
			t.Fatalf("after update, keyword %q: total=%d want %d", kw, page.Total, want)
		}
	}
}

func TestSearchKeywordIsLiteral(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, st, Input{Content: "abc plain", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})
	mustCreate(t, st, Input{Content: "score 5000", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})
	mustCreate(t, st, Input{Content: "pick a_c or 50% off", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})
	mustCreate(t, st, Input{Content: `path C:\tmp`, Options: []string{"a", "b"}, CorrectAnswer: intp(0)})

	cases := []struct {
		kw   string
		want int
	}{
		{"a_c", 1},
		{"50%", 1},
		{"%", 1},
		{"_", 1},
		{`C:\tmp`, 1},
		{`\`, 1},
	}
	for _, tc := range cases {
		page, err := st.Search(ctx, Filter{Keyword: tc.kw})
		if err != nil {
			t.Fatal(err)
		}
		if page.Total != tc.want {
			t.Fatalf("keyword %q: total=%d want %d", tc.kw, page.Total, tc.want)
		}
	}
}

func TestFacets(t *testing.T) {
	st := newTestStore(t)
	mustCreate(t, st, Input{Content: "a", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "go", Level: LevelEasy})
	mustCreate(t, st, Input{Content: "b", Options: []string{"a", "b"}, CorrectAnswer: intp(0), Subject: "js", Level: LevelEasy})
	mustCreate(t, st, Input{Content: "c", Options: []string{"a", "b"}, CorrectAnswer: intp(0)})
	subjects, levels, err := st.Facets(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 2 || subjects[0] != "go" || subjects[1] != "js" {
		t.Fatalf("subjects = %v", subjects)
	}
	if len(levels) != 1 || levels[0] != "easy" {
		t.Fatalf("levels = %v", levels)
	}
}

func TestPublicWithholdsAnswer(t *testing.T) {
	q := Question{ID: "q1", Content: "c", Options: []string{"a", "b"}, CorrectAnswer: 1, Explanation: "because"}
	p := q.Public()
	p.Options[0] = "mutated"
	if q.Options[0] != "a" {
		t.Fatal("public view must not alias the option slice")
	}
}

package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/attempt"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
	"github.com/mind-engage/mindengage-exams/internal/question"
	"github.com/mind-engage/mindengage-exams/internal/result"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

type testServer struct {
	srv        *httptest.Server
	adminToken string
	userToken  string
	user       users.User
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dbh := db.OpenTest(t)
	ctx := context.Background()

	dir := users.NewDirectory(dbh)
	admin, err := dir.Create(ctx, users.Input{Username: "root", Role: users.RoleAdmin, Password: "rootpass"})
	if err != nil {
		t.Fatal(err)
	}
	ada, err := dir.Create(ctx, users.Input{Username: "ada", Email: "ada@example.com", Role: users.RoleUser, Password: "adapass"})
	if err != nil {
		t.Fatal(err)
	}

	qs := question.NewSQLStore(dbh)
	sessions := attempt.NewMemoryStore()
	exams := exam.NewService(exam.NewSQLStore(dbh), qs, nil, exam.WithLiveAttempts(sessions))
	results := result.NewSQLStore(dbh)
	engine := grading.NewEngine(exams, qs, results)
	attempts := attempt.NewService(sessions, exams, qs, engine, results)

	a := auth.NewAuthService("test-secret")
	r := chi.NewRouter()
	Mount(r, Deps{
		Auth:            a,
		Users:           dir,
		Questions:       qs,
		Selector:        question.NewSelector(qs),
		Exams:           exams,
		Attempts:        attempts,
		Results:         results,
		Reports:         result.NewAggregator(dbh, results),
		EnableLocalAuth: true,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	adminTok, err := a.IssueJWT(admin.ID, admin.Role)
	if err != nil {
		t.Fatal(err)
	}
	userTok, err := a.IssueJWT(ada.ID, ada.Role)
	if err != nil {
		t.Fatal(err)
	}
	return testServer{srv: srv, adminToken: adminTok, userToken: userTok, user: ada}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s testServer) do(t *testing.T, token, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (s testServer) createQuestion(t *testing.T, content string, answer int) string {
	t.Helper()
	var q struct {
		ID string `json:"id"`
	}
	body := `{"content":"` + content + `","options":["a","b","c"],"correct_answer":` + strconv.Itoa(answer) + `,"subject":"js"}`
	if code := s.do(t, s.adminToken, http.MethodPost, "/admin/questions", body, &q); code != http.StatusCreated {
		t.Fatalf("create question: %d", code)
	}
	return q.ID
}

func TestExamFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	qA := s.createQuestion(t, "typeof null", 1)
	qB := s.createQuestion(t, "constant keyword", 0)

	var ex struct {
		ID string `json:"id"`
	}
	body := `{"title":"JS Basics","code":"JS-01","duration_minutes":10,"question_ids":["` + qA + `","` + qB + `"]}`
	if code := s.do(t, s.adminToken, http.MethodPost, "/admin/exams", body, &ex); code != http.StatusCreated {
		t.Fatalf("create exam: %d", code)
	}

	var sum examSummary
	if code := s.do(t, s.userToken, http.MethodGet, "/exams/code/JS-01", "", &sum); code != http.StatusOK {
		t.Fatalf("resolve: %d", code)
	}
	if sum.ExamID != ex.ID || sum.QuestionCount != 2 || sum.DurationMinutes != 10 {
		t.Fatalf("summary %+v", sum)
	}

	var att attemptResponse
	if code := s.do(t, s.userToken, http.MethodPost, "/attempts", `{"exam_id":"`+ex.ID+`"}`, &att); code != http.StatusCreated {
		t.Fatalf("start: %d", code)
	}
	if att.Status != attempt.StatusInProgress || att.RemainingSeconds <= 0 || att.RemainingSeconds > 600 {
		t.Fatalf("attempt %+v", att)
	}

	if code := s.do(t, s.userToken, http.MethodPut, "/attempts/"+att.ID+"/answers/"+qA, `{"selected":1}`, nil); code != http.StatusNoContent {
		t.Fatalf("answer: %d", code)
	}
	if code := s.do(t, s.userToken, http.MethodPut, "/attempts/"+att.ID+"/answers/"+qB, `{"selected":9}`, nil); code != http.StatusBadRequest {
		t.Fatalf("out of range answer: %d", code)
	}

	var out attempt.Outcome
	if code := s.do(t, s.userToken, http.MethodPost, "/attempts/"+att.ID+"/submit", "", &out); code != http.StatusOK {
		t.Fatalf("submit: %d", code)
	}
	if out.Score != 1 || out.Total != 2 || out.Auto {
		t.Fatalf("outcome %+v", out)
	}

	var again struct {
		Error   string          `json:"error"`
		Outcome attempt.Outcome `json:"outcome"`
	}
	if code := s.do(t, s.userToken, http.MethodPost, "/attempts/"+att.ID+"/submit", `{"answers":{"`+qB+`":0}}`, &again); code != http.StatusConflict {
		t.Fatalf("second submit: %d", code)
	}
	if again.Outcome.ResultID != out.ResultID || again.Outcome.Score != 1 {
		t.Fatalf("second submit outcome %+v", again.Outcome)
	}

	var hist result.History
	if code := s.do(t, s.userToken, http.MethodGet, "/results/me", "", &hist); code != http.StatusOK {
		t.Fatalf("history: %d", code)
	}
	if hist.Total != 1 || hist.Results[0].ID != out.ResultID {
		t.Fatalf("history %+v", hist)
	}

	var rep result.Report
	if code := s.do(t, s.adminToken, http.MethodGet, "/admin/results/exams/JS-01", "", &rep); code != http.StatusOK {
		t.Fatalf("report: %d", code)
	}
	if len(rep.Rows) != 1 || rep.Rows[0].Username != "ada" || rep.Rows[0].Score != 1 {
		t.Fatalf("report %+v", rep)
	}
}

func TestPermissions(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name, token, method, path string
		want                      int
	}{
		{"no token", "", http.MethodGet, "/results/me", http.StatusUnauthorized},
		{"bad token", "garbage", http.MethodGet, "/results/me", http.StatusUnauthorized},
		{"user on admin route", s.userToken, http.MethodGet, "/admin/exams", http.StatusForbidden},
		{"user samples questions", s.userToken, http.MethodGet, "/admin/questions/random?count=3", http.StatusForbidden},
		{"user reads reports", s.userToken, http.MethodGet, "/admin/results/exams", http.StatusForbidden},
		{"admin lists exams", s.adminToken, http.MethodGet, "/admin/exams", http.StatusOK},
		{"unknown code", s.userToken, http.MethodGet, "/exams/code/NOPE", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := s.do(t, tc.token, tc.method, tc.path, "", nil); got != tc.want {
				t.Fatalf("got %d want %d", got, tc.want)
			}
		})
	}
}

func TestRandomQuestionsReportsShortfall(t *testing.T) {
	s := newTestServer(t)
	s.createQuestion(t, "one", 0)
	s.createQuestion(t, "two", 1)

	var got struct {
		Requested int                 `json:"requested"`
		Count     int                 `json:"count"`
		Items     []question.Question `json:"items"`
	}
	if code := s.do(t, s.adminToken, http.MethodGet, "/admin/questions/random?count=5", "", &got); code != http.StatusOK {
		t.Fatalf("random: %d", code)
	}
	if got.Requested != 5 || got.Count != 2 || len(got.Items) != 2 {
		t.Fatalf("random %+v", got)
	}
	if got.Items[0].ID == got.Items[1].ID {
		t.Fatal("duplicate question in sample")
	}
}

func TestLoginAndChangePassword(t *testing.T) {
	s := newTestServer(t)

	var login struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	if code := s.do(t, "", http.MethodPost, "/auth/login", `{"username":"ada","password":"adapass"}`, &login); code != http.StatusOK {
		t.Fatalf("login: %d", code)
	}
	if login.UserID != s.user.ID || login.AccessToken == "" {
		t.Fatalf("login %+v", login)
	}

	if code := s.do(t, login.AccessToken, http.MethodPost, "/users/change-password", `{"old_password":"wrong","new_password":"newpass1"}`, nil); code != http.StatusForbidden {
		t.Fatalf("wrong old password: %d", code)
	}
	if code := s.do(t, login.AccessToken, http.MethodPost, "/users/change-password", `{"old_password":"adapass","new_password":"newpass1"}`, nil); code != http.StatusNoContent {
		t.Fatalf("change password: %d", code)
	}
	if code := s.do(t, "", http.MethodPost, "/auth/login", `{"username":"ada","password":"newpass1"}`, nil); code != http.StatusOK {
		t.Fatalf("login with new password: %d", code)
	}
}

func TestBulkCreateUsersCSV(t *testing.T) {
	s := newTestServer(t)
	csvBody := "username,email,role,password\nbob,bob@example.com,user,bobpass\ncarol,,admin,carolpass\n"

	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+"/admin/users/bulk", strings.NewReader(csvBody))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("Authorization", "Bearer "+s.adminToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bulk: %d", resp.StatusCode)
	}

	var list []users.User
	if code := s.do(t, s.adminToken, http.MethodGet, "/admin/users?role=admin", "", &list); code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	if len(list) != 2 {
		t.Fatalf("admins %+v", list)
	}

	// one bad row rejects the whole batch
	body := `[{"username":"dave","role":"user","password":"davepass"},{"username":"erin","role":"user","password":"x"}]`
	if code := s.do(t, s.adminToken, http.MethodPost, "/admin/users/bulk", body, nil); code != http.StatusBadRequest {
		t.Fatalf("bad batch: %d", code)
	}
	if code := s.do(t, s.adminToken, http.MethodGet, "/admin/users?role=user", "", &list); code != http.StatusOK || len(list) != 2 {
		t.Fatalf("users after rejected batch: %d %+v", code, list)
	}
}

func TestParseCSVRequiresColumns(t *testing.T) {
	if _, err := parseCSV(strings.NewReader("username,role\nbob,user\n")); err == nil {
		t.Fatal("expected missing password column error")
	}
	rows, err := parseCSV(strings.NewReader("Password, Username\npw123456,bob\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Username != "bob" || rows[0].Password != "pw123456" {
		t.Fatalf("rows %+v", rows)
	}
}

func TestResolveCodeWithSlash(t *testing.T) {
	s := newTestServer(t)
	qA := s.createQuestion(t, "typeof null", 1)
	var ex struct {
		ID string `json:"id"`
	}
	body := `{"title":"Math","code":"MATH/2025","duration_minutes":30,"question_ids":["` + qA + `"]}`
	if code := s.do(t, s.adminToken, http.MethodPost, "/admin/exams", body, &ex); code != http.StatusCreated {
		t.Fatalf("create exam: %d", code)
	}

	for _, path := range []string{
		"/exams/resolve?code=" + url.QueryEscape("MATH/2025"),
		"/exams/code/MATH%2F2025",
	} {
		var sum examSummary
		if code := s.do(t, s.userToken, http.MethodGet, path, "", &sum); code != http.StatusOK {
			t.Fatalf("%s: %d", path, code)
		}
		if sum.ExamID != ex.ID || sum.Code != "MATH/2025" {
			t.Fatalf("%s: summary %+v", path, sum)
		}
	}
	if code := s.do(t, s.userToken, http.MethodGet, "/exams/resolve?code=MATH", "", nil); code != http.StatusNotFound {
		t.Fatalf("partial code: %d", code)
	}
	if code := s.do(t, s.userToken, http.MethodGet, "/exams/resolve", "", nil); code != http.StatusNotFound {
		t.Fatalf("missing code: %d", code)
	}
}

func TestDeleteExamWhileAttemptRuns(t *testing.T) {
	s := newTestServer(t)
	qA := s.createQuestion(t, "typeof null", 1)
	var ex struct {
		ID string `json:"id"`
	}
	body := `{"title":"JS","code":"JS-DEL","duration_minutes":10,"question_ids":["` + qA + `"]}`
	if code := s.do(t, s.adminToken, http.MethodPost, "/admin/exams", body, &ex); code != http.StatusCreated {
		t.Fatalf("create exam: %d", code)
	}
	if code := s.do(t, s.userToken, http.MethodPost, "/attempts", `{"exam_id":"`+ex.ID+`"}`, nil); code != http.StatusCreated {
		t.Fatalf("start: %d", code)
	}
	if code := s.do(t, s.adminToken, http.MethodDelete, "/admin/exams/"+ex.ID, "", nil); code != http.StatusConflict {
		t.Fatalf("delete while running: %d", code)
	}
}

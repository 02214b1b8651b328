package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", Validation("title required"), http.StatusBadRequest},
		{"duplicate", fmt.Errorf("create: %w", ErrDuplicateCode), http.StatusConflict},
		{"conflict", Conflict("exam has results"), http.StatusConflict},
		{"not found", NotFound("exam"), http.StatusNotFound},
		{"forbidden", Forbidden("not your attempt"), http.StatusForbidden},
		{"storage", Storage("insert", errors.New("disk full")), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Status(tc.err); got != tc.want {
				t.Fatalf("Status(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

func TestMessageHidesStorageDetails(t *testing.T) {
	err := Storage("insert result", errors.New("connection refused to 10.0.0.3"))
	if got := Message(err); got != "internal server error" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(NotFound("exam code")); got != "not found: exam code" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !IsUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected pg 23505 to be a unique violation")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if !IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: exams.code (2067)")) {
		t.Fatal("expected sqlite message to be a unique violation")
	}
	if IsUniqueViolation(nil) {
		t.Fatal("nil is not a violation")
	}
}

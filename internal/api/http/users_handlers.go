package http

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

// GET /admin/users?role=
func ListUsersHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := dir.List(r.Context(), r.URL.Query().Get("role"))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// POST /admin/users
func CreateUserHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in users.Input
		if err := decodeJSON(r, &in); err != nil {
			respondError(w, r, err)
			return
		}
		u, err := dir.Create(r.Context(), in)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, u)
	}
}

// POST /admin/users/bulk
// Accepts a JSON array, or CSV (text/csv or a multipart file= field) with a
// header row naming username, email, role, password. Either every row is
// created or none is.
func BulkCreateUsersHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := io.Reader(io.LimitReader(r.Body, 4<<20))
		ct := r.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "multipart/form-data") {
			f, _, err := r.FormFile("file")
			if err != nil {
				respondError(w, r, apperr.Validation("file required"))
				return
			}
			defer f.Close()
			body = f
		}

		br := bufio.NewReader(body)
		var (
			rows []users.Input
			err  error
		)
		if strings.HasPrefix(ct, "text/csv") || !startsJSON(br) {
			rows, err = parseCSV(br)
		} else if derr := json.NewDecoder(br).Decode(&rows); derr != nil {
			err = apperr.Validation("bad json: %v", derr)
		}
		if err != nil {
			respondError(w, r, err)
			return
		}
		if len(rows) == 0 {
			respondJSON(w, http.StatusOK, map[string]any{"created": 0, "users": []users.User{}})
			return
		}
		created, err := dir.CreateMany(r.Context(), rows)
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, map[string]any{"created": len(created), "users": created})
	}
}

// startsJSON peeks past leading whitespace for '[' or '{'.
func startsJSON(br *bufio.Reader) bool {
	for i := 1; ; i++ {
		b, err := br.Peek(i)
		if err != nil {
			return false
		}
		switch c := b[i-1]; c {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			return c == '[' || c == '{'
		}
	}
}

func parseCSV(r io.Reader) ([]users.Input, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1
	hdr, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Validation("bad csv: %v", err)
	}
	idx := map[string]int{}
	for i, h := range hdr {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range []string{"username", "password"} {
		if _, ok := idx[k]; !ok {
			return nil, apperr.Validation("missing column: %s", k)
		}
	}
	col := func(rec []string, name string) string {
		if i, ok := idx[name]; ok && i < len(rec) {
			return rec[i]
		}
		return ""
	}
	var rows []users.Input
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperr.Validation("bad csv line %d: %v", line, err)
		}
		rows = append(rows, users.Input{
			Username: col(rec, "username"),
			Email:    col(rec, "email"),
			Role:     col(rec, "role"),
			Password: col(rec, "password"),
		})
	}
	return rows, nil
}

// PATCH /admin/users/{userID}/role {role}
func AdminUpdateUserRoleHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Role string `json:"role"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		if err := dir.SetRole(r.Context(), chi.URLParam(r, "userID"), req.Role); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type changePasswordReq struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// POST /users/change-password
func ChangePasswordHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := auth.SubjectFromContext(r.Context())
		if userID == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req changePasswordReq
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, err)
			return
		}
		if err := dir.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
			respondError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /users/me
func MeHandler(dir *users.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := dir.Get(r.Context(), auth.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, u)
	}
}

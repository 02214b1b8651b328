// Package users is the local account directory: lookups for reports and
// password checks for the login endpoint.
package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const bcryptCost = 12

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Input struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type Directory struct {
	db  *sql.DB
	now func() time.Time
}

func NewDirectory(db *sql.DB) *Directory { return &Directory{db: db, now: time.Now} }

func (d *Directory) Get(ctx context.Context, id string) (User, error) {
	var (
		u       User
		created int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, apperr.NotFound("user " + id)
	}
	if err != nil {
		return User{}, apperr.Storage("get user", err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (d *Directory) List(ctx context.Context, role string) ([]User, error) {
	q := `SELECT id, username, email, role, created_at FROM users`
	var args []any
	if role != "" {
		q += ` WHERE role=$1`
		args = append(args, role)
	}
	rows, err := d.db.QueryContext(ctx, q+` ORDER BY username`, args...)
	if err != nil {
		return nil, apperr.Storage("list users", err)
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var (
			u       User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &created); err != nil {
			return nil, apperr.Storage("scan user", err)
		}
		u.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, u)
	}
	return out, apperr.Storage("list users", rows.Err())
}

func (in Input) normalized() (Input, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Role = strings.ToLower(strings.TrimSpace(in.Role))
	if in.Role == "" {
		in.Role = RoleUser
	}
	switch {
	case in.Username == "":
		return in, apperr.Validation("username is required")
	case len(in.Password) < 6:
		return in, apperr.Validation("password for %s must be at least 6 characters", in.Username)
	case !validRole(in.Role):
		return in, apperr.Validation("unknown role %q", in.Role)
	}
	return in, nil
}

func validRole(r string) bool { return r == RoleUser || r == RoleAdmin }

func hashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcryptCost)
	return string(b), err
}

// Create adds a local account with a bcrypt password hash.
func (d *Directory) Create(ctx context.Context, in Input) (User, error) {
	in, err := in.normalized()
	if err != nil {
		return User{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return User{}, err
	}
	return d.insert(ctx, d.db, in, hash)
}

// CreateMany adds every account or none of them.
func (d *Directory) CreateMany(ctx context.Context, ins []Input) ([]User, error) {
	hashes := make([]string, len(ins))
	for i := range ins {
		n, err := ins[i].normalized()
		if err != nil {
			return nil, err
		}
		ins[i] = n
		if hashes[i], err = hashPassword(n.Password); err != nil {
			return nil, err
		}
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Storage("begin users tx", err)
	}
	defer tx.Rollback()
	out := make([]User, 0, len(ins))
	for i, in := range ins {
		u, err := d.insert(ctx, tx, in, hashes[i])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Storage("commit users", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (d *Directory) insert(ctx context.Context, x execer, in Input, hash string) (User, error) {
	u := User{ID: uuid.NewString(), Username: in.Username, Email: in.Email, Role: in.Role, CreatedAt: d.now().UTC()}
	_, err := x.ExecContext(ctx,
		`INSERT INTO users (id, username, email, role, password_hash, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Username, u.Email, u.Role, hash, u.CreatedAt.Unix())
	if apperr.IsUniqueViolation(err) {
		return User{}, apperr.Conflict("username %s is taken", u.Username)
	}
	if err != nil {
		return User{}, apperr.Storage("insert user", err)
	}
	return u, nil
}

var ErrBadCredentials = errors.New("invalid credentials")

// Authenticate checks a username and password pair.
func (d *Directory) Authenticate(ctx context.Context, username, password string) (User, error) {
	var (
		u       User
		hash    string
		created int64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, email, role, password_hash, created_at FROM users WHERE username=$1`,
		strings.TrimSpace(username)).
		Scan(&u.ID, &u.Username, &u.Email, &u.Role, &hash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrBadCredentials
	}
	if err != nil {
		return User{}, apperr.Storage("load credentials", err)
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, ErrBadCredentials
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

// EnsureAdmin creates the bootstrap admin from a configured bcrypt hash when
// the username is not present yet.
func (d *Directory) EnsureAdmin(ctx context.Context, username, passHash string) (bool, error) {
	if username == "" || passHash == "" {
		return false, nil
	}
	if _, err := bcrypt.Cost([]byte(passHash)); err != nil {
		return false, apperr.Validation("admin password hash is not bcrypt: %v", err)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username=$1`, username).Scan(&n); err != nil {
		return false, apperr.Storage("check admin", err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := d.insert(ctx, d.db, Input{Username: username, Role: RoleAdmin}, passHash); err != nil {
		return false, err
	}
	return true, nil
}

// SetRole changes a user's role. The last admin cannot be demoted.
func (d *Directory) SetRole(ctx context.Context, id, role string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	if !validRole(role) {
		return apperr.Validation("unknown role %q", role)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Storage("begin role tx", err)
	}
	defer tx.Rollback()

	var cur string
	err = tx.QueryRowContext(ctx, `SELECT role FROM users WHERE id=$1`, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("user " + id)
	}
	if err != nil {
		return apperr.Storage("get role", err)
	}
	if cur == RoleAdmin && role != RoleAdmin {
		var admins int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE role='admin'`).Scan(&admins); err != nil {
			return apperr.Storage("count admins", err)
		}
		if admins <= 1 {
			return apperr.Conflict("cannot demote the last admin")
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET role=$1 WHERE id=$2`, role, id); err != nil {
		return apperr.Storage("update role", err)
	}
	return apperr.Storage("commit role", tx.Commit())
}

// ChangePassword replaces the hash after checking the current password.
func (d *Directory) ChangePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	if len(newPassword) < 6 {
		return apperr.Validation("new password must be at least 6 characters")
	}
	var stored string
	err := d.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id=$1`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("user " + id)
	}
	if err != nil {
		return apperr.Storage("load password", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(stored), []byte(oldPassword)) != nil {
		return apperr.Forbidden("incorrect old password")
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, id)
	return apperr.Storage("update password", err)
}

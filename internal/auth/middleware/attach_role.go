package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/mind-engage/mindengage-exams/internal/apperr"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/users"
)

type UserLookup interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// AttachRoleFromDirectory replaces the token's role with the directory's, so
// a role change applies before the token expires. Subjects unknown to the
// directory keep their claim role only when allowClaimFallback is set
// (tokens minted by an external identity service).
func AttachRoleFromDirectory(dir UserLookup, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sub := SubjectFromContext(ctx)
			claimRole := rbac.RoleFromContext(ctx) // set by JWTMiddleware

			u, err := dir.Get(ctx, sub)
			switch {
			case err == nil && u.Role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, u.Role)))
			case errors.Is(err, apperr.ErrNotFound):
				if allowClaimFallback && claimRole != "" {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "forbidden", http.StatusForbidden)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}

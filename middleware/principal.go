package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/httperr"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	Email  string
	Role   authgate.Role
	Claims authgate.SessionClaims
}

type principalContextKey struct{}

func principalFromClaims(c authgate.SessionClaims) Principal {
	return Principal{UserID: c.UserID, Email: c.Email, Role: authgate.Role(c.Role), Claims: c}
}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal set by Gate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// RequireAuthenticated rejects requests the gate let through anonymously.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			httperr.Write(w, r, authgate.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits principals holding any of roles. Anonymous callers get
// 401, others 403.
func RequireRole(roles ...authgate.Role) func(http.Handler) http.Handler {
	allowed := make(map[authgate.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httperr.Write(w, r, authgate.ErrUnauthorized)
				return
			}
			if _, ok := allowed[p.Role]; !ok {
				httperr.Write(w, r, authgate.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/httperr"
)

// TwoFactorPath is the 2FA submit route. It sits on the default allow-list;
// everywhere the gate verifies a token, a 2FA-pending one is refused.
const TwoFactorPath = "/api/auth/2fa/validate"

// TokenVerifier is the part of *authgate.Engine the gate needs.
type TokenVerifier interface {
	SubjectOf(token string) (string, error)
	VerifyToken(token string) (authgate.SessionClaims, error)
}

// GateOptions configures Gate. A nil AllowList means DefaultAllowList.
type GateOptions struct {
	AllowList *AllowList
	Logger    *slog.Logger
}

// Gate authenticates bearer tokens.
func Gate(v TokenVerifier, opts GateOptions) func(http.Handler) http.Handler {
	allow := opts.AllowList
	if allow == nil {
		allow = MustAllowList(DefaultAllowList...)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allow.Allowed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if v == nil {
				httperr.Write(w, r, authgate.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				httperr.Write(w, r, authgate.ErrTokenInvalid)
				return
			}
			if _, err := v.SubjectOf(token); err != nil {
				reject(w, r, logger, err)
				return
			}
			claims, err := v.VerifyToken(token)
			if err != nil {
				reject(w, r, logger, err)
				return
			}
			if claims.TwoFactorPending {
				reject(w, r, logger, authgate.ErrTwoFactorRequired)
				return
			}

			ctx := WithPrincipal(r.Context(), principalFromClaims(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.DebugContext(r.Context(), "bearer token rejected",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	httperr.Write(w, r, err)
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

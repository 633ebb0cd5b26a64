// Package httpapi exposes the engine over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/internal/httperr"
	"github.com/MrEthical07/authgate/middleware"
	"github.com/gorilla/mux"
)

// Service is the engine surface the handlers call. *authgate.Engine
// implements it.
type Service interface {
	middleware.TokenVerifier
	Login(ctx context.Context, req authgate.LoginRequest) (authgate.LoginResult, error)
	Register(ctx context.Context, req authgate.RegisterRequest) (authgate.LoginResult, error)
	CompleteTwoFactor(ctx context.Context, email, code string) (authgate.LoginResult, error)
	SetTwoFactorEnabled(ctx context.Context, email string, enabled bool) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req authgate.ResetPasswordRequest) error
	LoginExternal(ctx context.Context, provider, token string) (authgate.LoginResult, error)
	Details(claims authgate.SessionClaims) authgate.AccountDetails
}

// Options configures NewRouter.
type Options struct {
	Logger *slog.Logger
	// AllowList overrides middleware.DefaultAllowList.
	AllowList *middleware.AllowList
	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler
	// Ready backs /healthz. Nil always reports ok.
	Ready func(context.Context) error
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// MaxBodyBytes caps JSON bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

var _ Service = (*authgate.Engine)(nil)

const defaultMaxBodyBytes = 1 << 20

type handlers struct {
	svc     Service
	logger  *slog.Logger
	ready   func(context.Context) error
	maxBody int64
}

// NewRouter builds the routed handler.
//
// Middleware runs in this order: request id, client ip, access log, panic
// recovery, then the token gate.
func NewRouter(svc Service, opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{svc: svc, logger: logger, ready: opts.Ready, maxBody: opts.MaxBodyBytes}
	if h.maxBody <= 0 {
		h.maxBody = defaultMaxBodyBytes
	}

	r := mux.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.ClientIP(opts.TrustProxy),
		middleware.AccessLog(logger),
		middleware.Recoverer(logger),
		middleware.Gate(svc, middleware.GateOptions{AllowList: opts.AllowList, Logger: logger}),
	)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httperr.Write(w, req, httperr.ErrRouteNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		httperr.Write(w, req, httperr.ErrMethodNotAllowed)
	})

	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/forgot-password", h.forgotPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/reset-password", h.resetPassword).Methods(http.MethodPost)
	r.HandleFunc("/auth/oauth2/{provider}", h.externalLogin).Methods(http.MethodPost)
	r.Handle("/auth/details", middleware.RequireAuthenticated(http.HandlerFunc(h.details))).Methods(http.MethodGet)

	r.HandleFunc(middleware.TwoFactorPath, h.validateTwoFactor).Methods(http.MethodPost)
	r.Handle("/api/auth/2fa/toggle", middleware.RequireAuthenticated(http.HandlerFunc(h.toggleTwoFactor))).Methods(http.MethodPatch)

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return r
}

package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/MrEthical07/authgate/internal/httperr"
)

var errPanic = errors.New("handler panic")

// Recoverer logs a handler panic with its stack and answers with the generic
// 500 body.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("uri", r.RequestURI),
					slog.String("stack", string(debug.Stack())),
				)
				httperr.Write(w, r, errPanic)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

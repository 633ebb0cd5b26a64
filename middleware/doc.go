// Package middleware holds the net/http interceptors that sit in front of the
// authgate HTTP surface.
//
// # Gate
//
// [Gate] reads the Authorization header, verifies bearer tokens through the
// engine, and attaches a [Principal] to the request context. Paths on the
// [AllowList] bypass it entirely. A request without a bearer token passes
// through unauthenticated; routes that need an identity add
// [RequireAuthenticated] or [RequireRole].
//
// # Plumbing
//
//   - [RequestID] propagates or generates X-Request-Id.
//   - [ClientIP] records the caller address for audit events.
//   - [Recoverer] turns handler panics into the uniform 500 body.
//   - [AccessLog] writes one slog record per request.
//
// The package never parses tokens itself; every decision is delegated to
// the engine.
package middleware

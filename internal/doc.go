// Package internal holds secret generation and hashing helpers shared by the
// engine flows.
//
// # Sub-packages
//
//   - flows: orchestration for every Engine operation over injected deps
//   - httperr: error to HTTP status and code mapping
//   - limiters: 2FA and forgot-password limits
//   - logging: slog handler setup with request and trace attributes
//   - rate: Redis fixed-window counters
//   - security: posture findings for SecurityReport
//   - stores: Redis challenge cache
package internal

// Package limiters provides the authentication-specific rate limiters built
// on internal/rate.
//
// # Limiters
//
//   - [TwoFactorLimiter]: failed 2FA code submissions per email.
//   - [PasswordResetLimiter]: forgot-password requests per email and per IP.
//
// All limiters are nil-safe: calling any method on a nil receiver returns nil.
//
// # What this package must NOT do
//
//   - Import authgate or any sibling internal package except internal/rate.
//   - Make policy decisions beyond counting; flow functions decide consequences.
package limiters

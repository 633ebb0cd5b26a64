// Package rate provides the Redis fixed-window counter that the limiters in
// internal/limiters are built on.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit. The window starts at the first counted
// event and the key disappears when it ends.
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in internal/limiters).
//   - Be imported outside the authgate module.
package rate

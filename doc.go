// Package authgate validates credentials and issues stateless HS256 session
// tokens, with emailed-code two-factor login and password reset.
//
// An [Engine] is assembled once through [Builder] and is safe for concurrent
// use afterwards. Durable state (accounts and reset tokens) lives behind
// [AccountStore] and [ResetTokenStore]; 2FA codes live in Redis. CAPTCHA,
// mail and external identity are reached through [CaptchaVerifier], [Mailer]
// and [IdentityResolver].
//
// Every failure the Engine returns matches one of the exported Err values
// with errors.Is, or is a [*ValidationError].
//
// The HTTP surface lives in httpapi and the bearer-token gate in middleware;
// store/postgres provides the Postgres stores.
package authgate

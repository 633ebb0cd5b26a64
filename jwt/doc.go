// Package jwt is the session token codec: HS256 issuance and stateless
// verification of [SessionClaims], including the two-factor pending flag the
// request gate branches on.
package jwt

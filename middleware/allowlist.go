package middleware

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultAllowList holds the routes that never require a token.
var DefaultAllowList = []string{
	"/auth/login",
	"/auth/register",
	"/auth/forgot-password",
	"/auth/reset-password",
	TwoFactorPath,
	"/swagger-ui",
	"/v3/api-docs",
}

// AllowList matches request paths that bypass the gate. Plain entries match
// by prefix; entries containing '*' are glob patterns where '*' stops at '/'
// and '**' does not.
type AllowList struct {
	prefixes []string
	globs    []glob.Glob
}

// NewAllowList compiles entries. Blank entries are ignored.
func NewAllowList(entries ...string) (*AllowList, error) {
	a := &AllowList{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "*") {
			a.prefixes = append(a.prefixes, e)
			continue
		}
		g, err := glob.Compile(e, '/')
		if err != nil {
			return nil, fmt.Errorf("allow-list pattern %q: %w", e, err)
		}
		a.globs = append(a.globs, g)
	}
	return a, nil
}

// MustAllowList is NewAllowList for static entries and panics on a bad pattern.
func MustAllowList(entries ...string) *AllowList {
	a, err := NewAllowList(entries...)
	if err != nil {
		panic(err)
	}
	return a
}

// Allowed reports whether path bypasses the gate.
func (a *AllowList) Allowed(path string) bool {
	if a == nil {
		return false
	}
	for _, p := range a.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	for _, g := range a.globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

// Package security derives posture findings from an engine configuration.
// The rules are pure functions so the root package and the service binary
// report the same thing.
package security

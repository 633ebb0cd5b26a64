// Package stores provides the Redis-backed challenge cache used for
// two-factor login codes.
//
// # Design
//
// Each entry is a plain string value under "<prefix>:<key>" with a Redis TTL.
// Set overwrites and resets the TTL, so the most recent code for a key wins.
// Take is a WATCH/MULTI compare-and-delete with retry on contention, which
// makes validation single-use under concurrent submissions. Code comparison
// is constant time.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for transient
// challenge records. It does NOT generate codes or decide outcomes; those
// belong to internal/flows.
package stores

// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// The server runs two limiters: a general one in front of every API route
// and a much stricter one on the upload route, since each upload can fan
// out into thousands of object store writes.
//
// This is a single-instance, in-memory limiter. It does not protect against
// distributed attacks or bandwidth-bill attacks; the body has already been
// accepted by the time it runs. Use an upstream WAF or CDN for those.
package ratelimit

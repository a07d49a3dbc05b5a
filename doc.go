// Package authcore is the session and credential lifecycle core of an
// authentication backend: access-token issuing, refresh-token rotation
// with family-based reuse detection, single-use password-reset tokens,
// and rate limiting with progressive account lockout.
//
// The Engine orchestrates the subpackages; it owns no transport. HTTP
// shaping, status-code mapping, and persistence wiring belong to the
// embedding service (see examples/http-minimal).
package authcore

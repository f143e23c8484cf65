// Package cryptoutil holds the small set of hashing and comparison
// helpers used on the upload path.
//
// Upload credentials are compared in constant time, and archive digests
// are hex-encoded SHA-256 so publish logs can be correlated with the
// exact bytes a client sent.
package cryptoutil

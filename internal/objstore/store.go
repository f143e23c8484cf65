// Package objstore is the object storage capability the publisher writes
// into: a narrow Put/List/Delete surface with an S3 implementation (AWS,
// Cloudflare R2, MinIO) and an in-memory one for tests and local runs.
package objstore

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
)

// Object is a single stored body plus the headers it is served with.
type Object struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// Putter writes one object. Writing an existing key replaces it.
type Putter interface {
	Put(ctx context.Context, key string, obj Object) error
}

// Lister counts objects under a key prefix, stopping at maxKeys.
type Lister interface {
	ListByPrefix(ctx context.Context, prefix string, maxKeys int) (int, error)
}

// Deleter removes objects. Optional: callers type-assert for it.
type Deleter interface {
	Delete(ctx context.Context, keys []string) error
}

// Store is what the publish pipeline needs from a backend.
type Store interface {
	Putter
	Lister
}

// ErrorCode returns the service error code carried by err (e.g. "AccessDenied",
// "NoSuchBucket"), or "" when err did not come from the remote API.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

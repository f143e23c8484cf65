// Package namespace validates game names and checks whether a name is
// already taken in the object store.
//
// A namespace doubles as the key prefix of every published object, so it
// is restricted to [A-Za-z0-9_-]. Existence is derived from the store's
// key listing; no separate index is kept.
package namespace

import (
	"context"
	"errors"
	"strings"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/objstore"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

// MaxLength bounds a sanitized namespace. Longer names are rejected rather
// than truncated so two long names can't collapse into one prefix.
const MaxLength = 128

var (
	// ErrInvalidNamespace means the name is empty after sanitizing or too long.
	ErrInvalidNamespace = errors.New("invalid namespace")

	// ErrStoreQuery means the store listing used for an existence check failed.
	ErrStoreQuery = errors.New("store query failed")
)

// Sanitize replaces every character outside [A-Za-z0-9_-] with "_".
// Sanitize is idempotent.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if allowed(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func allowed(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
}

// Validate sanitizes raw and rejects results that are empty or longer than MaxLength.
func Validate(raw string) (string, error) {
	ns := Sanitize(raw)
	if ns == "" {
		return "", xerrors.Markf(ErrInvalidNamespace, nil, "name is empty")
	}
	if len(ns) > MaxLength {
		return "", xerrors.Markf(ErrInvalidNamespace, nil, "name is %d characters (max %d)", len(ns), MaxLength)
	}
	return ns, nil
}

// Prefix returns the store key prefix for a sanitized namespace.
func Prefix(ns string) string {
	return ns + "/"
}

// Registry answers whether a namespace is occupied, using the store's listing.
type Registry struct {
	store objstore.Lister
}

// NewRegistry returns a Registry backed by store.
func NewRegistry(store objstore.Lister) *Registry {
	return &Registry{store: store}
}

// Exists reports whether any object lives under the namespace's prefix.
// ns must already be sanitized.
func (r *Registry) Exists(ctx context.Context, ns string) (bool, error) {
	n, err := r.store.ListByPrefix(ctx, Prefix(ns), 1)
	if err != nil {
		return false, xerrors.Markf(ErrStoreQuery, err, "list %s", Prefix(ns))
	}
	return n > 0, nil
}

// CheckAvailable validates raw and reports whether its sanitized form is
// free. The answer is advisory: nothing reserves the name between this
// check and a later publish.
func (r *Registry) CheckAvailable(ctx context.Context, raw string) (ns string, available bool, err error) {
	ns, err = Validate(raw)
	if err != nil {
		return "", false, err
	}
	exists, err := r.Exists(ctx, ns)
	if err != nil {
		return ns, false, err
	}
	return ns, !exists, nil
}

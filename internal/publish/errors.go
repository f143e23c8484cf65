package publish

import (
	"errors"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/archive"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/credential"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/namespace"
)

// Sentinels for every way a publish can fail. Errors returned by the
// Pipeline wrap exactly one of these; use errors.Is or KindOf.
var (
	ErrInvalidNamespace      = namespace.ErrInvalidNamespace
	ErrCorruptArchive        = archive.ErrCorruptArchive
	ErrArchiveTooLarge       = archive.ErrArchiveTooLarge
	ErrEmptyArchive          = errors.New("archive contains no usable files")
	ErrMissingRootDocument   = errors.New("index.html not found at the archive root")
	ErrStoreWrite            = errors.New("store write failed")
	ErrStoreQuery            = namespace.ErrStoreQuery
	ErrNamespaceTaken        = errors.New("namespace already in use")
	ErrUnauthorized          = credential.ErrUnauthorized
	ErrCredentialUnavailable = credential.ErrUnavailable
)

// Kind classifies a publish error. It is also the "result" label on metrics.
type Kind string

const (
	KindOK                    Kind = "ok"
	KindInvalidNamespace      Kind = "invalid_namespace"
	KindCorruptArchive        Kind = "corrupt_archive"
	KindArchiveTooLarge       Kind = "archive_too_large"
	KindEmptyArchive          Kind = "empty_archive"
	KindMissingRootDocument   Kind = "missing_root_document"
	KindStoreWrite            Kind = "store_write_failure"
	KindStoreQuery            Kind = "store_query_failure"
	KindNamespaceTaken        Kind = "namespace_taken"
	KindUnauthorized          Kind = "unauthorized"
	KindCredentialUnavailable Kind = "credential_unavailable"
	KindInternal              Kind = "internal"
)

// order matters only where sentinels could both match; they never wrap each other
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnauthorized, KindUnauthorized},
	{ErrCredentialUnavailable, KindCredentialUnavailable},
	{ErrInvalidNamespace, KindInvalidNamespace},
	{ErrArchiveTooLarge, KindArchiveTooLarge},
	{ErrCorruptArchive, KindCorruptArchive},
	{ErrEmptyArchive, KindEmptyArchive},
	{ErrMissingRootDocument, KindMissingRootDocument},
	{ErrNamespaceTaken, KindNamespaceTaken},
	{ErrStoreQuery, KindStoreQuery},
	{ErrStoreWrite, KindStoreWrite},
}

// KindOf classifies err. nil is KindOK; anything unrecognised is KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

package archive

import "errors"

var (
	// ErrCorruptArchive means the buffer is not a readable zip or one of its
	// entries could not be decompressed.
	ErrCorruptArchive = errors.New("corrupt archive")

	// ErrArchiveTooLarge means extraction would exceed the configured Limits.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction limits")
)

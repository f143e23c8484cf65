package archive

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

const (
	// DefaultMaxFileSize is the maximum uncompressed size of a single entry
	DefaultMaxFileSize int64 = 256 * 1024 * 1024 // 256MB

	// DefaultMaxTotalSize is the maximum uncompressed size of all entries
	DefaultMaxTotalSize int64 = 1024 * 1024 * 1024 // 1GB

	// DefaultMaxEntries is the maximum number of entries, directories included
	DefaultMaxEntries = 20000
)

// Limits bounds how much an archive may expand to during Read.
// Zero fields fall back to the package defaults.
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
	MaxEntries   int
}

// DefaultLimits returns the production extraction limits.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:  DefaultMaxFileSize,
		MaxTotalSize: DefaultMaxTotalSize,
		MaxEntries:   DefaultMaxEntries,
	}
}

func (l Limits) withDefaults() Limits {
	if l.MaxFileSize <= 0 {
		l.MaxFileSize = DefaultMaxFileSize
	}
	if l.MaxTotalSize <= 0 {
		l.MaxTotalSize = DefaultMaxTotalSize
	}
	if l.MaxEntries <= 0 {
		l.MaxEntries = DefaultMaxEntries
	}
	return l
}

// Read decodes every entry of the zip held in data using DefaultLimits.
func Read(data []byte) ([]RawEntry, error) {
	return ReadWithLimits(data, DefaultLimits())
}

// ReadWithLimits decodes every entry of the zip held in data. Directory
// entries are kept (IsDir set, no data) so callers can tell an archive with
// no files apart from one that failed to parse.
func ReadWithLimits(data []byte, lim Limits) ([]RawEntry, error) {
	lim = lim.withDefaults()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, xerrors.Markf(ErrCorruptArchive, err, "open zip")
	}

	if len(zr.File) > lim.MaxEntries {
		return nil, xerrors.Markf(ErrArchiveTooLarge, nil, "%d entries (max %d)", len(zr.File), lim.MaxEntries)
	}

	out := make([]RawEntry, 0, len(zr.File))
	var total int64

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			out = append(out, RawEntry{Path: f.Name, IsDir: true})
			continue
		}

		// header sizes can lie, this is only an early reject; the read below is bounded too
		if f.UncompressedSize64 > uint64(lim.MaxFileSize) {
			return nil, xerrors.Markf(ErrArchiveTooLarge, nil, "%s is %d bytes (max %d)",
				f.Name, f.UncompressedSize64, lim.MaxFileSize)
		}

		content, err := readEntry(f, lim.MaxFileSize)
		if err != nil {
			return nil, err
		}

		total += int64(len(content))
		if total > lim.MaxTotalSize {
			return nil, xerrors.Markf(ErrArchiveTooLarge, nil, "total extracted size exceeds %d bytes", lim.MaxTotalSize)
		}

		out = append(out, RawEntry{Path: f.Name, Data: content})
	}

	return out, nil
}

func readEntry(f *zip.File, maxSize int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, xerrors.Markf(ErrCorruptArchive, err, "open %s", f.Name)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxSize+1))
	if err != nil {
		return nil, xerrors.Markf(ErrCorruptArchive, err, "read %s", f.Name)
	}
	if int64(len(content)) > maxSize {
		return nil, xerrors.Markf(ErrArchiveTooLarge, nil, "%s exceeds max size after read (max %d)", f.Name, maxSize)
	}
	return content, nil
}

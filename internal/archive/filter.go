package archive

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/pathutil"
)

const (
	// DefaultMetadataPrefix is the top-level folder macOS Archive Utility adds
	DefaultMetadataPrefix = "__MACOSX/"

	// AppleDoublePrefix marks AppleDouble resource fork files at any depth
	AppleDoublePrefix = "._"
)

// EntryFilter drops entries that must never be published. Only the path is
// inspected, never the content.
type EntryFilter struct {
	// MetadataPrefix is a reserved top-level path prefix. Empty uses DefaultMetadataPrefix.
	MetadataPrefix string
}

// Filter applies the default EntryFilter.
func Filter(entries []RawEntry) []RelevantEntry {
	return EntryFilter{}.Filter(entries)
}

// Filter returns the file entries worth publishing, in archive order. An
// empty result is valid.
func (f EntryFilter) Filter(entries []RawEntry) []RelevantEntry {
	prefix := f.MetadataPrefix
	if prefix == "" {
		prefix = DefaultMetadataPrefix
	}

	out := make([]RelevantEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		p := pathutil.ToSlash(e.Path)
		if !relevant(p, prefix) {
			continue
		}
		out = append(out, RelevantEntry{Path: p, Data: e.Data})
	}
	return out
}

func relevant(p, metadataPrefix string) bool {
	switch {
	case p == "" || strings.HasSuffix(p, "/"):
		return false
	case strings.HasPrefix(p, metadataPrefix):
		return false
	case pathutil.HasSegmentPrefix(p, AppleDoublePrefix):
		return false
	case pathutil.IsAbs(p):
		return false
	case pathutil.HasParentSegment(p):
		return false
	}
	return true
}

package archive

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/contenttype"
)

// Normalize unwraps a single top-level folder shared by every entry and
// resolves each file's content type.
//
// The decision is global: the candidate prefix comes from the first entry
// (everything up to and including its first "/"), and it is stripped from
// all entries only if all of them start with it. Entries left with an
// empty path are dropped.
func Normalize(entries []RelevantEntry) []NormalizedEntry {
	prefix := commonRoot(entries)

	out := make([]NormalizedEntry, 0, len(entries))
	for _, e := range entries {
		rel := strings.TrimPrefix(e.Path, prefix)
		if rel == "" {
			continue
		}
		out = append(out, NormalizedEntry{
			RelativePath:    rel,
			Data:            e.Data,
			ContentType:     contenttype.Resolve(rel),
			ContentEncoding: contenttype.Encoding(rel),
		})
	}
	return out
}

// commonRoot returns the wrapping folder prefix ("game/") or "" when the
// entries do not all share one.
func commonRoot(entries []RelevantEntry) string {
	if len(entries) == 0 {
		return ""
	}
	first := entries[0].Path
	i := strings.IndexByte(first, '/')
	if i < 0 {
		return ""
	}
	candidate := first[:i+1]
	for _, e := range entries[1:] {
		if !strings.HasPrefix(e.Path, candidate) {
			return ""
		}
	}
	return candidate
}

// FindRootDocument returns the entry whose relative path is exactly
// index.html, compared case-insensitively.
func FindRootDocument(entries []NormalizedEntry) (NormalizedEntry, bool) {
	for _, e := range entries {
		if strings.EqualFold(e.RelativePath, RootDocument) {
			return e, true
		}
	}
	return NormalizedEntry{}, false
}

// RootDocument is the file that must exist at the effective root.
const RootDocument = "index.html"

package pathutil

import "strings"

// HasParentSegment reports whether any path segment is "..".
func HasParentSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// HasSegmentPrefix reports whether any segment of p starts with prefix,
// including the first one.
func HasSegmentPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, prefix) {
			return true
		}
	}
	return false
}

// ToSlash rewrites backslash separators to forward slashes. Archives built
// on Windows sometimes store them despite the zip format requiring "/".
func ToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

// IsAbs reports whether p is rooted, either unix style or with a drive letter.
func IsAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	return len(p) >= 2 && p[1] == ':' && ((p[0] >= 'a' && p[0] <= 'z') || (p[0] >= 'A' && p[0] <= 'Z'))
}

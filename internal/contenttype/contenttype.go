// Package contenttype maps published file names to the Content-Type and
// Content-Encoding headers stored alongside each object.
//
// The table is deliberately static rather than backed by mime.TypeByExtension,
// whose answers depend on the host's mime.types files and would make the
// same archive publish differently across machines.
package contenttype

import (
	"path"
	"strings"
)

// Default is returned for any extension not in the table.
const Default = "application/octet-stream"

var byExt = map[string]string{
	".html": "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".wasm": "application/wasm",
	".data": "application/octet-stream",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
}

// Resolve returns the MIME type for p based on its extension, matched
// case-insensitively. Unknown extensions resolve to Default.
func Resolve(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ct, ok := byExt[ext]; ok {
		return ct
	}
	return Default
}

// Encoding returns the Content-Encoding for pre-compressed build output,
// e.g. Unity WebGL "app.wasm.br" or "app.data.gz". Returns "" when the
// file is not pre-compressed.
func Encoding(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".br":
		return "br"
	case ".gz":
		return "gzip"
	}
	return ""
}

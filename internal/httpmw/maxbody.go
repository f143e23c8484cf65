// internal/httpmw/maxbody.go

package httpmw

import (
	"fmt"
	"net/http"
)

// tooLargeBody matches the upload API's error shape.
const tooLargeBody = `{"error":"upload exceeds %d bytes","code":"archive_too_large"}` + "\n"

// MaxBody limits request body size. A declared Content-Length over the limit
// is rejected with 413 before the handler runs; otherwise the body is capped
// and the handler sees an *http.MaxBytesError when it reads past the limit.
func MaxBody(bytes int64) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > bytes {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusRequestEntityTooLarge)
				_, _ = fmt.Fprintf(w, tooLargeBody, bytes)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, bytes)
			next.ServeHTTP(w, r)
		})
	}
}

package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

// panicBody matches the upload API's error shape.
const panicBody = `{"error":"Internal server error.","code":"internal"}` + "\n"

// Recover turns a handler panic into a logged JSON 500. onPanic, if set, runs
// after logging (metrics hook). http.ErrAbortHandler is re-panicked so the
// server can abort the connection as intended.
func Recover(logger log.Logger, onPanic func()) Middleware {
	if logger == nil {
		logger = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}

				err, ok := v.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", v)
				}

				L := log.FromContextOr(r.Context(), logger).With(
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				)
				L.Error(r.Context(), xerrors.WithStack(err), "httpserver panic recovered",
					"panic_stack", string(debug.Stack()),
				)

				if onPanic != nil {
					onPanic()
				}

				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set("Cache-Control", "no-store")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(panicBody))
			}()
			next.ServeHTTP(w, r)
		})
	}
}

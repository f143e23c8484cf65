package log

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"runtime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type slogLogger struct {
	h     slog.Handler
	attrs []slog.Attr
	conf  *loggerConf
}

// loggerConf is shared by a logger and everything derived from it with With.
type loggerConf struct {
	includeErrorLinks bool
	maxErrorLinks     int
	redact            map[string]struct{}
	errorKind         func(error) string
}

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

func newSlog(opts Options) (Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}

	// stack enrichment applies at and above StacktraceLevel
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	// json or logfmt
	var h slog.Handler
	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	if opts.JsonFormat {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	h = otelHandler{next: h}
	h = stackHandler{next: h, level: opts.StacktraceLevel}

	keys := opts.RedactKeys
	if keys == nil {
		keys = DefaultRedactKeys
	}
	redact := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		redact[strings.ToLower(k)] = struct{}{}
	}

	base := []slog.Attr{slog.String("app", opts.App)}
	if opts.Version != "" {
		base = append(base, slog.String("version", opts.Version))
	}

	return &slogLogger{
		h:     h,
		attrs: base,
		conf: &loggerConf{
			includeErrorLinks: opts.IncludeErrorLinks,
			maxErrorLinks:     opts.MaxErrorLinks,
			redact:            redact,
			errorKind:         opts.ErrorKind,
		},
	}, nil
}

// toAttrs converts key/value pairs, dropping non-string keys and a dangling
// key, and masking redacted keys.
func (s *slogLogger) toAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		if _, hide := s.conf.redact[strings.ToLower(k)]; hide {
			out = append(out, slog.String(k, redacted))
			continue
		}
		out = append(out, slog.Any(k, kv[i+1]))
	}
	return out
}

func (s *slogLogger) With(kv ...any) Logger {
	add := s.toAttrs(kv)
	// copy-on-write so loggers are safe to share concurrently
	next := make([]slog.Attr, 0, len(s.attrs)+len(add))
	next = append(next, s.attrs...)
	next = append(next, add...)
	return &slogLogger{h: s.h, attrs: next, conf: s.conf}
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelDebug, msg, s.toAttrs(kv))
}
func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelInfo, msg, s.toAttrs(kv))
}
func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.logWithPC(ctx, slog.LevelWarn, msg, s.toAttrs(kv))
}
func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	attrs := s.toAttrs(kv)
	if err != nil {
		attrs = append(attrs, s.errorAttrs(err)...)
	}
	s.logWithPC(ctx, slog.LevelError, msg, attrs)
}
func (s *slogLogger) Sync() error { return nil }

func (s *slogLogger) errorAttrs(err error) []slog.Attr {
	surface, root := classifyTypes(err)
	out := []slog.Attr{
		slog.Any("err", err),
		slog.String("error_type", surface),
		slog.String("cause_type", root),
	}
	if s.conf.errorKind != nil {
		if kind := s.conf.errorKind(err); kind != "" {
			out = append(out, slog.String("error_kind", kind))
		}
	}
	if chain := errorChain(err); len(chain) > 0 {
		out = append(out, slog.Any("error_chain", chain))
	}
	if s.conf.includeErrorLinks {
		out = append(out, slog.Any("error_links", chainLinks(err, s.conf.maxErrorLinks)))
	}
	return out
}

// for skipping past log handlers
func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if n := runtime.Callers(skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

func (s *slogLogger) logWithPC(ctx context.Context, lvl slog.Level, msg string, attrs []slog.Attr) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// runtime.Callers, callerPC, logWithPC, Debug/Info/Warn/Error
	const skip = 4
	r := slog.NewRecord(time.Now(), lvl, msg, callerPC(skip))
	r.AddAttrs(s.attrs...)
	r.AddAttrs(attrs...)
	_ = s.h.Handle(ctx, r)
}

// otelHandler adds trace_id and span_id from the active span.
type otelHandler struct{ next slog.Handler }

func (h otelHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}
func (h otelHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.next.Handle(ctx, r)
}
func (h otelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return otelHandler{next: h.next.WithAttrs(attrs)}
}
func (h otelHandler) WithGroup(name string) slog.Handler {
	return otelHandler{next: h.next.WithGroup(name)}
}

// stackHandler adds a stack at and above level, preferring one captured on the err attr.
type stackHandler struct {
	next  slog.Handler
	level slog.Level
}

func (h stackHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}
func (h stackHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level {
		var pcs []uintptr
		r.Attrs(func(a slog.Attr) bool {
			if a.Key != "err" {
				return true
			}
			var hs hasStack
			if e, ok := a.Value.Any().(error); ok && errors.As(e, &hs) {
				pcs = hs.StackPCs()
			}
			return false
		})

		if len(pcs) > 0 {
			r.AddAttrs(slog.String("stack", renderPCs(pcs)))
		} else {
			r.AddAttrs(slog.String("stack", captureCleanStack()))
		}
	}
	return h.next.Handle(ctx, r)
}
func (h stackHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return stackHandler{next: h.next.WithAttrs(attrs), level: h.level}
}
func (h stackHandler) WithGroup(name string) slog.Handler {
	return stackHandler{next: h.next.WithGroup(name), level: h.level}
}

func captureCleanStack() string {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// skip: runtime.Callers, captureCleanStack, stackHandler.Handle
	n := runtime.Callers(3, pcs)
	return renderPCs(pcs[:n])
}

var loggingFuncs = []string{"(*slogLogger).", "stackHandler.", "otelHandler.", "captureCleanStack", "renderPCs"}

// loggingFrame reports frames belonging to slog or to this logger's own plumbing.
func loggingFrame(fn string) bool {
	if strings.HasPrefix(fn, "log/slog.") {
		return true
	}
	i := strings.Index(fn, "/internal/log.")
	if i < 0 {
		return false
	}
	rest := fn[i+len("/internal/log."):]
	for _, p := range loggingFuncs {
		if strings.HasPrefix(rest, p) {
			return true
		}
	}
	return false
}

// renderPCs writes func/file:line pairs starting at the first frame outside
// the logging machinery and stopping at the runtime.
func renderPCs(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	include := false
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !include && fr.Function != "" && !loggingFrame(fr.Function) {
			include = true
		}
		if include {
			fmt.Fprintf(&b, "%s\n\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

func errorChain(err error) []string {
	out := make([]string, 0, 8)
	var prev string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if msg != prev {
			out = append(out, msg)
			prev = msg
		}
	}

	// errors.Join and friends
	type multi interface{ Unwrap() []error }
	if m, ok := err.(multi); ok {
		for _, e := range m.Unwrap() {
			if s := e.Error(); s != prev {
				out = append(out, s)
				prev = s
			}
		}
	}
	return out
}

func chainLinks(err error, max int) []map[string]any {
	links := make([]map[string]any, 0, 8)
	depth := 0
	for e := err; e != nil && (max <= 0 || depth < max); e = errors.Unwrap(e) {
		link := map[string]any{"msg": e.Error()}
		var (
			fn, file string
			line     int
			ok       bool
		)
		// a single-frame PC from Wrap/Mark, else the first external frame of a captured stack
		if hp, isPC := e.(hasPC); isPC {
			fn, file, line, ok = frameFromPC(hp.PC())
		} else if hs, isStack := e.(hasStack); isStack {
			fn, file, line, ok = firstExtFrame(hs.StackPCs())
		}
		if ok {
			link["func"], link["file"], link["line"] = fn, file, line
		}
		if depth == 0 || ok {
			links = append(links, link)
		}
		depth++
	}
	return links
}

func frameFromPC(pc uintptr) (fn, file string, line int, ok bool) {
	if pc == 0 {
		return "", "", 0, false
	}
	fr, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return fr.Function, fr.File, fr.Line, true
}

func firstExtFrame(pcs []uintptr) (fn, file string, line int, ok bool) {
	if len(pcs) == 0 {
		return "", "", 0, false
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		internal := strings.HasPrefix(fr.Function, "runtime.") ||
			loggingFrame(fr.Function) ||
			strings.Contains(fr.Function, "/internal/xerrors.")
		if !internal && fr.Function != "" {
			return fr.Function, fr.File, fr.Line, true
		}
		if !more {
			return "", "", 0, false
		}
	}
}

// classifyTypes returns the first non-wrapper type in err's chain and the
// type of the innermost error.
func classifyTypes(err error) (surface, root string) {
	if err == nil {
		return "", ""
	}

	var last error
	for e := err; e != nil; e = errors.Unwrap(e) {
		last = e
		if surface != "" {
			continue
		}
		t := reflect.TypeOf(e)
		u := t
		for u.Kind() == reflect.Ptr {
			u = u.Elem()
		}
		if strings.Contains(u.PkgPath(), "/internal/xerrors") {
			continue
		}
		if u.PkgPath() == "fmt" && u.Name() == "wrapError" {
			continue
		}
		surface = t.String()
	}

	if surface == "" {
		surface = fmt.Sprintf("%T", err)
	}
	return surface, fmt.Sprintf("%T", last)
}

// Package xerrors wraps errors with the caller position or a captured stack
// so the logger can render error_links and stack fields.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

func captureStack(skip int) []uintptr {
	const maxDepth = 64
	pcs := make([]uintptr, maxDepth)
	// value of 2 means skip runtime.Callers + captureStack
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(skip)}
}

func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace adds a stack to err unless something in its chain already carries one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	// only add if not already stacked
	type hasStack interface{ StackPCs() []uintptr }
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// value of 2 means skip runtime.Callers + callerPC
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap annotates err with msg and the caller's position. Returns nil for a nil err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

func New(msg string) error             { return withStackSkip(errors.New(msg), 2) }
func Newf(f string, args ...any) error { return withStackSkip(fmt.Errorf(f, args...), 2) }

// marked attaches a sentinel kind to an error. errors.Is matches the kind
// and anything in the cause chain.
type marked struct {
	kind  error
	cause error
	msg   string
	pc    uintptr
}

func (m *marked) Error() string {
	switch {
	case m.cause != nil && m.msg != "":
		return m.kind.Error() + ": " + m.msg + ": " + m.cause.Error()
	case m.cause != nil:
		return m.kind.Error() + ": " + m.cause.Error()
	case m.msg != "":
		return m.kind.Error() + ": " + m.msg
	}
	return m.kind.Error()
}
func (m *marked) Unwrap() error        { return m.cause }
func (m *marked) Is(target error) bool { return target == m.kind }
func (m *marked) Kind() error          { return m.kind }
func (m *marked) PC() uintptr          { return m.pc }
func (m *marked) IsXerrorsWrapper()    {}

// Mark tags err with kind, rendered as "kind: err". Returns nil for a nil err.
func Mark(kind, err error) error {
	if err == nil {
		return nil
	}
	return &marked{kind: kind, cause: err, pc: callerPC(1)}
}

// Markf tags err with kind and a formatted detail, "kind: detail: err".
// err may be nil, giving "kind: detail".
func Markf(kind, err error, format string, args ...any) error {
	return &marked{kind: kind, cause: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

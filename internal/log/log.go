package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger passed through the service. Key/value
// pairs follow slog conventions; non-string keys are dropped.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App               string
	Version           string
	Commit            string
	BuildId           string
	Level             slog.Level
	StacktraceLevel   slog.Level
	JsonFormat        bool
	MaxErrorLinks     int
	IncludeErrorLinks bool
	Writer            io.Writer

	// RedactKeys are attribute keys whose values are never written, matched
	// case-insensitively. Nil uses DefaultRedactKeys.
	RedactKeys []string

	// ErrorKind classifies errors passed to Error into an "error_kind" attribute.
	// An empty result adds nothing.
	ErrorKind func(error) string
}

// DefaultRedactKeys covers the upload credential and store secrets.
var DefaultRedactKeys = []string{
	"password",
	"upload_password",
	"x-upload-password",
	"secret_access_key",
	"s3_secret_access_key",
	"authorization",
	"auth_token",
	"token",
}

const redacted = "[REDACTED]"

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	x := strings.ToLower(strings.TrimSpace(s))
	switch x {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}

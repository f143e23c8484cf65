package httpserver

import (
	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/health"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    httpmw.Middleware
	RateLimitMW  httpmw.Middleware
	ClientIPOpts httpmw.ClientIPOptions
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes registers the application routes on the router.
	APIRoutes func(chi.Router)

	// MaxBodyBytes caps every request body. Zero means DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

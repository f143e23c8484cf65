// Package httpmw provides HTTP middleware for the upload API server.
//
// Middleware is composed in httpserver.NewHandler, outermost first:
// security headers, recover, request ID, client IP extraction, rate
// limiting, OTEL tracing, trace response headers, metrics, structured
// logging, max body, access log and the chi router.
//
// User-supplied data (query values, user-agent, upload passwords) is kept
// out of logs to prevent credential leaks and log injection.
package httpmw

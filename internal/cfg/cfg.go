package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
)

// EnvPrefix is prepended to every flag name when reading the environment
const EnvPrefix = "ARCADE_"

const (
	StoreS3     = "s3"
	StoreMemory = "memory"
)

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	TrustedProxyHops  int

	// object store
	StoreBackend      string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3R2AccountID     string
	S3PathStyle       bool
	S3AccessKeyID     string
	S3SecretAccessKey string
	CacheControl      string
	PublicURLBase     string

	// upload credential
	UploadPassword         string
	UploadPasswordSSMParam string
	UploadPasswordCacheTTL time.Duration
	InsecureNoPassword     bool

	// publishing
	MaxUploadBytes   int64
	MaxFileBytes     int64
	MaxExtractBytes  int64
	MaxEntries       int
	WriteConcurrency int
	CleanupOnFailure bool
	RequireAvailable bool
	MetadataPrefix   string

	// rate limits
	RateLimitPerSecond float64
	RateLimitBurst     int
	UploadsPerMinute   float64
	UploadBurst        int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "number of trusted proxies in front of the server for X-Forwarded-For")

	fs.StringVar(&c.StoreBackend, "store", StoreS3, "object store backend: s3|memory")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "bucket games are published to")
	fs.StringVar(&c.S3Region, "s3-region", "", "bucket region (defaults to the aws config chain, or auto for R2)")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "custom S3-compatible endpoint url (MinIO, R2)")
	fs.StringVar(&c.S3R2AccountID, "s3-r2-account-id", "", "Cloudflare account id, derives the R2 endpoint")
	fs.BoolVar(&c.S3PathStyle, "s3-path-style", false, "use path-style bucket addressing")
	fs.StringVar(&c.S3AccessKeyID, "s3-access-key-id", "", "static access key id (default credential chain when empty)")
	fs.StringVar(&c.S3SecretAccessKey, "s3-secret-access-key", "", "static secret access key")
	fs.StringVar(&c.CacheControl, "cache-control", "public, max-age=300", "Cache-Control set on published objects")
	fs.StringVar(&c.PublicURLBase, "public-url-base", "", "public base url the bucket is served from, e.g. https://games.example.com")

	fs.StringVar(&c.UploadPassword, "upload-password", "", "shared upload password")
	fs.StringVar(&c.UploadPasswordSSMParam, "upload-password-ssm-param", "", "ssm SecureString parameter holding the upload password")
	fs.DurationVar(&c.UploadPasswordCacheTTL, "upload-password-cache-ttl", 5*time.Minute, "how long the ssm upload password is cached")
	fs.BoolVar(&c.InsecureNoPassword, "insecure-no-upload-password", false, "accept uploads without a password (development only)")

	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 512<<20, "maximum upload request body size")
	fs.Int64Var(&c.MaxFileBytes, "max-file-bytes", 256<<20, "maximum extracted size of a single archive entry")
	fs.Int64Var(&c.MaxExtractBytes, "max-extract-bytes", 1<<30, "maximum total extracted size of an archive")
	fs.IntVar(&c.MaxEntries, "max-entries", 20000, "maximum number of archive entries")
	fs.IntVar(&c.WriteConcurrency, "write-concurrency", 16, "concurrent object writes per publish (1..256)")
	fs.BoolVar(&c.CleanupOnFailure, "cleanup-on-failure", false, "delete already written objects when a publish fails part way")
	fs.BoolVar(&c.RequireAvailable, "require-available", false, "reject publishes to a game name that already has objects")
	fs.StringVar(&c.MetadataPrefix, "metadata-prefix", "__MACOSX/", "top-level archive folder that is never published")

	fs.Float64Var(&c.RateLimitPerSecond, "ratelimit-per-second", 10, "per-ip request refill rate")
	fs.IntVar(&c.RateLimitBurst, "ratelimit-burst", 30, "per-ip request burst")
	fs.Float64Var(&c.UploadsPerMinute, "uploads-per-minute", 2, "per-ip upload refill rate")
	fs.IntVar(&c.UploadBurst, "upload-burst", 3, "per-ip upload burst")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// S3EndpointURL returns the explicit endpoint, the R2 endpoint derived from
// the account id, or "" for AWS S3.
func (c App) S3EndpointURL() string {
	if c.S3Endpoint != "" {
		return c.S3Endpoint
	}
	if c.S3R2AccountID != "" {
		return "https://" + c.S3R2AccountID + ".r2.cloudflarestorage.com"
	}
	return ""
}

// Region returns the configured region, "auto" for R2, or "" to defer to the aws config chain.
func (c App) Region() string {
	if c.S3Region != "" {
		return c.S3Region
	}
	if c.S3R2AccountID != "" {
		return "auto"
	}
	return ""
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}
	if c.TrustedProxyHops < 0 {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXY_HOPS must be >= 0 (got %d)", c.TrustedProxyHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if !isHTTPURL(c.PyroServer) {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	errs = append(errs, validateStore(c)...)
	errs = append(errs, validateCredential(c)...)
	errs = append(errs, validatePublish(c)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateStore(c App) []error {
	var errs []error
	switch c.StoreBackend {
	case StoreMemory:
	case StoreS3:
		if c.S3Bucket == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET is required when STORE=s3"))
		}
		if c.S3Endpoint != "" && c.S3R2AccountID != "" {
			errs = append(errs, fmt.Errorf("set only one of S3_ENDPOINT and S3_R2_ACCOUNT_ID"))
		}
		if c.S3Endpoint != "" && !isHTTPURL(c.S3Endpoint) {
			errs = append(errs, fmt.Errorf("S3_ENDPOINT must be a URL (got %q)", c.S3Endpoint))
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			errs = append(errs, fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORE %q (must be s3|memory)", c.StoreBackend))
	}

	if c.PublicURLBase == "" {
		errs = append(errs, fmt.Errorf("PUBLIC_URL_BASE is required"))
	} else if !isHTTPURL(c.PublicURLBase) {
		errs = append(errs, fmt.Errorf("PUBLIC_URL_BASE must be an http(s) URL (got %q)", c.PublicURLBase))
	}
	return errs
}

func validateCredential(c App) []error {
	var errs []error
	hasStatic := c.UploadPassword != ""
	hasSSM := c.UploadPasswordSSMParam != ""
	switch {
	case hasStatic && hasSSM:
		errs = append(errs, fmt.Errorf("set only one of UPLOAD_PASSWORD and UPLOAD_PASSWORD_SSM_PARAM"))
	case !hasStatic && !hasSSM && !c.InsecureNoPassword:
		errs = append(errs, fmt.Errorf("UPLOAD_PASSWORD or UPLOAD_PASSWORD_SSM_PARAM is required (or INSECURE_NO_UPLOAD_PASSWORD=true)"))
	}
	if (hasStatic || hasSSM) && c.InsecureNoPassword {
		errs = append(errs, fmt.Errorf("INSECURE_NO_UPLOAD_PASSWORD conflicts with a configured upload password"))
	}
	if hasSSM && c.UploadPasswordCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("UPLOAD_PASSWORD_CACHE_TTL must be > 0 (got %s)", c.UploadPasswordCacheTTL))
	}
	return errs
}

func validatePublish(c App) []error {
	var errs []error
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_BYTES must be > 0 (got %d)", c.MaxUploadBytes))
	}
	if c.MaxFileBytes <= 0 || c.MaxExtractBytes <= 0 || c.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_BYTES, MAX_EXTRACT_BYTES and MAX_ENTRIES must be > 0"))
	}
	if c.MaxFileBytes > c.MaxExtractBytes {
		errs = append(errs, fmt.Errorf("MAX_FILE_BYTES (%d) must not exceed MAX_EXTRACT_BYTES (%d)", c.MaxFileBytes, c.MaxExtractBytes))
	}
	if c.WriteConcurrency < 1 || c.WriteConcurrency > 256 {
		errs = append(errs, fmt.Errorf("WRITE_CONCURRENCY must be 1..256 (got %d)", c.WriteConcurrency))
	}
	if c.MetadataPrefix != "" && !strings.HasSuffix(c.MetadataPrefix, "/") {
		errs = append(errs, fmt.Errorf("METADATA_PREFIX must end with / (got %q)", c.MetadataPrefix))
	}
	if c.RateLimitPerSecond <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATELIMIT_PER_SECOND must be > 0 and RATELIMIT_BURST >= 1"))
	}
	if c.UploadsPerMinute <= 0 || c.UploadBurst < 1 {
		errs = append(errs, fmt.Errorf("UPLOADS_PER_MINUTE must be > 0 and UPLOAD_BURST >= 1"))
	}
	return errs
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

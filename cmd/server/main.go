package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/archive"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/credential"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/health"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/objstore"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/publish"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/uploadhttp"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-arcade/internal/version"
)

// dependency probes hit the store and SSM, keep them off the hot path of every readiness check
const readinessCacheTTL = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix ARCADE_ and validate
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl := slog.LevelError
	if conf.StacktraceLevel != "" {
		// already validated
		stackLvl, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Commit:            vi.Commit,
		BuildId:           vi.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		ErrorKind: func(err error) string {
			if k := publish.KindOf(err); k != publish.KindInternal {
				return string(k)
			}
			return ""
		},
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"store", conf.StoreBackend,
		"s3_bucket", conf.S3Bucket,
		"s3_endpoint", conf.S3EndpointURL(),
		"public_url_base", conf.PublicURLBase,
		"upload_password_ssm_param", conf.UploadPasswordSSMParam,
		"max_upload_bytes", conf.MaxUploadBytes,
		"write_concurrency", conf.WriteConcurrency,
		"cleanup_on_failure", conf.CleanupOnFailure,
		"require_available", conf.RequireAvailable,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		Component:     v.Component,
		Version:       vi.Version,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"commit":   vi.Commit,
			"build_id": vi.BuildId,
			"source":   "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	profilingActive := conf.EnablePyroscope && err == nil
	defer func() { stopProf() }()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, v.Component, vi)
	m.SetProfilingActive(profilingActive)

	// object store published games are written to
	var store objstore.Store
	switch conf.StoreBackend {
	case cfg.StoreMemory:
		L.Warn(ctx, "using in-memory object store, published games are lost on restart")
		store = objstore.NewMemStore()
	default:
		s3Client, err := objstore.NewS3Client(ctx, objstore.S3Options{
			Region:          conf.Region(),
			Endpoint:        conf.S3EndpointURL(),
			UsePathStyle:    conf.S3PathStyle,
			AccessKeyID:     conf.S3AccessKeyID,
			SecretAccessKey: conf.S3SecretAccessKey,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create S3 client")
			os.Exit(1)
		}
		s3Store, err := objstore.NewS3Store(s3Client, conf.S3Bucket, conf.CacheControl)
		if err != nil {
			L.Error(ctx, err, "failed to create S3 store")
			os.Exit(1)
		}
		store = s3Store
	}

	// upload credential
	var auth credential.Authorizer
	var authProbe health.Probe = health.Fixed(true, "")
	switch {
	case conf.UploadPasswordSSMParam != "":
		// SSM uses the default AWS chain, the store may be pointed at a non-AWS endpoint
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		secret, err := credential.NewSSMSecret(ssm.NewFromConfig(awsCfg), conf.UploadPasswordSSMParam, conf.UploadPasswordCacheTTL)
		if err != nil {
			L.Error(ctx, err, "failed to create SSM upload password source")
			os.Exit(1)
		}
		auth = secret
		authProbe = health.Cached(secret, readinessCacheTTL)
	case conf.UploadPassword != "":
		auth = credential.NewStatic(conf.UploadPassword)
	default:
		L.Warn(ctx, "upload password disabled, anyone who can reach the API can publish")
		auth = credential.AllowAll()
	}

	pipeline, err := publish.New(publish.Options{
		Store:         store,
		Authorizer:    auth,
		PublicBaseURL: conf.PublicURLBase,
		Logger:        L,
		Recorder:      m,
		Filter:        archive.EntryFilter{MetadataPrefix: conf.MetadataPrefix},
		Limits: archive.Limits{
			MaxFileSize:  conf.MaxFileBytes,
			MaxTotalSize: conf.MaxExtractBytes,
			MaxEntries:   conf.MaxEntries,
		},
		WriteConcurrency: conf.WriteConcurrency,
		CleanupOnFailure: conf.CleanupOnFailure,
		RequireAvailable: conf.RequireAvailable,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create publish pipeline")
		os.Exit(1)
	}

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// ready when not draining and both the store and the credential source answer
	readiness := health.All(
		gate.Probe(),
		health.Cached(health.CheckFunc(func(ctx context.Context) error {
			_, err := store.ListByPrefix(ctx, "", 1)
			return err
		}), readinessCacheTTL),
		authProbe,
	)

	// general per-ip limiter for every route
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitPerSecond, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// uploads are expensive, give them their own much smaller bucket
	uploadLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.UploadsPerMinute/60, conf.UploadBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "upload rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "upload rate limit capacity reached")
		}),
	)

	api := uploadhttp.NewAPI(pipeline, uploadhttp.Options{
		MaxUploadBytes:   conf.MaxUploadBytes,
		Logger:           L,
		UploadMiddleware: uploadLimiter.Middleware,
	})

	// start public http server
	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		// multipart framing on top of the archive itself
		MaxBodyBytes: conf.MaxUploadBytes + 1<<20,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// admin/ops listener serves metrics, health checks and pprof
	// requests from public ips are rejected in middleware in case the port is ever exposed
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so the load balancer stops sending new uploads
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	L.Info(context.Background(), "sleeping 60s for in-flight uploads and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}

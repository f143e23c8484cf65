package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

// validArgs is the minimum needed for Validate to pass with the s3 backend.
var validArgs = []string{
	"-s3-bucket=games",
	"-public-url-base=https://games.example.com",
	"-upload-password=hunter2",
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if c.StoreBackend != StoreS3 {
		t.Errorf("StoreBackend: want %q, got %q", StoreS3, c.StoreBackend)
	}
	if c.MaxUploadBytes != 512<<20 {
		t.Errorf("MaxUploadBytes: want %d, got %d", 512<<20, c.MaxUploadBytes)
	}
	if c.MaxFileBytes != 256<<20 || c.MaxExtractBytes != 1<<30 || c.MaxEntries != 20000 {
		t.Errorf("archive limits: got file=%d total=%d entries=%d", c.MaxFileBytes, c.MaxExtractBytes, c.MaxEntries)
	}
	if c.WriteConcurrency != 16 {
		t.Errorf("WriteConcurrency: want 16, got %d", c.WriteConcurrency)
	}
	if c.MetadataPrefix != "__MACOSX/" {
		t.Errorf("MetadataPrefix: want %q, got %q", "__MACOSX/", c.MetadataPrefix)
	}
	if c.UploadPasswordCacheTTL != 5*time.Minute {
		t.Errorf("UploadPasswordCacheTTL: want 5m, got %s", c.UploadPasswordCacheTTL)
	}
	if c.CleanupOnFailure || c.RequireAvailable || c.InsecureNoPassword {
		t.Error("publish toggles: want all false by default")
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-http-port=9090",
		"-store=memory",
		"-s3-bucket=my-bucket",
		"-s3-r2-account-id=abc123",
		"-s3-path-style=true",
		"-public-url-base=https://cdn.example.com/games",
		"-upload-password-ssm-param=/arcade/upload-password",
		"-upload-password-cache-ttl=30s",
		"-write-concurrency=4",
		"-cleanup-on-failure=true",
		"-require-available=true",
		"-metadata-prefix=.meta/",
	})

	if c.LogJSON {
		t.Error("LogJSON: want false")
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090, got %d", c.HTTPPort)
	}
	if c.StoreBackend != StoreMemory {
		t.Errorf("StoreBackend: want %q, got %q", StoreMemory, c.StoreBackend)
	}
	if c.S3Bucket != "my-bucket" || c.S3R2AccountID != "abc123" || !c.S3PathStyle {
		t.Errorf("s3 fields not applied: %+v", c)
	}
	if c.PublicURLBase != "https://cdn.example.com/games" {
		t.Errorf("PublicURLBase: got %q", c.PublicURLBase)
	}
	if c.UploadPasswordSSMParam != "/arcade/upload-password" {
		t.Errorf("UploadPasswordSSMParam: got %q", c.UploadPasswordSSMParam)
	}
	if c.UploadPasswordCacheTTL != 30*time.Second {
		t.Errorf("UploadPasswordCacheTTL: want 30s, got %s", c.UploadPasswordCacheTTL)
	}
	if c.WriteConcurrency != 4 {
		t.Errorf("WriteConcurrency: want 4, got %d", c.WriteConcurrency)
	}
	if !c.CleanupOnFailure || !c.RequireAvailable {
		t.Error("CleanupOnFailure and RequireAvailable: want true")
	}
	if c.MetadataPrefix != ".meta/" {
		t.Errorf("MetadataPrefix: got %q", c.MetadataPrefix)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"HTTP_PORT", "8088")
	t.Setenv(pfx+"S3_BUCKET", "env-bucket")
	t.Setenv(pfx+"S3_ENDPOINT", "http://minio:9000")
	t.Setenv(pfx+"UPLOAD_PASSWORD", "from-env")
	t.Setenv(pfx+"MAX_UPLOAD_BYTES", "1048576")
	t.Setenv(pfx+"CLEANUP_ON_FAILURE", "true")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.HTTPPort != 8088 {
		t.Errorf("HTTPPort: want 8088, got %d", c.HTTPPort)
	}
	if c.S3Bucket != "env-bucket" {
		t.Errorf("S3Bucket: want %q, got %q", "env-bucket", c.S3Bucket)
	}
	if c.S3Endpoint != "http://minio:9000" {
		t.Errorf("S3Endpoint: got %q", c.S3Endpoint)
	}
	if c.UploadPassword != "from-env" {
		t.Errorf("UploadPassword: got %q", c.UploadPassword)
	}
	if c.MaxUploadBytes != 1048576 {
		t.Errorf("MaxUploadBytes: want 1048576, got %d", c.MaxUploadBytes)
	}
	if !c.CleanupOnFailure {
		t.Error("CleanupOnFailure: want true from env")
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"HTTP_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"STORE", "s3")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-http-port=9090", "-log-level=debug", "-store=memory"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort: want 9090 (cli), got %d", c.HTTPPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if c.StoreBackend != StoreMemory {
		t.Errorf("StoreBackend: want %q (cli), got %q", StoreMemory, c.StoreBackend)
	}

	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"WRITE_CONCURRENCY", "lots")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.WriteConcurrency != 16 {
		t.Errorf("WriteConcurrency: want 16 (default), got %d", c.WriteConcurrency)
	}
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, append([]string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	}, validArgs...))
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MemoryStoreInsecure(t *testing.T) {
	c := newTestConfig(t, []string{
		"-store=memory",
		"-public-url-base=http://localhost:8080/games",
		"-insecure-no-upload-password=true",
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-include-error-links=true",
		"-max-error-links=0",
		"-s3-endpoint=http://minio:9000",
		"-s3-r2-account-id=abc",
		"-s3-access-key-id=AKIA",
		"-public-url-base=ftp://games",
		"-write-concurrency=0",
		"-metadata-prefix=__MACOSX",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	wantErrContains(t, err, "invalid HTTP_PORT")
	wantErrContains(t, err, "invalid ADMIN_PORT")
	wantErrContains(t, err, "invalid LOG_LEVEL")
	wantErrContains(t, err, "invalid STACKTRACE_LEVEL")
	wantErrContains(t, err, "invalid TRACE_SAMPLE")
	wantErrContains(t, err, "PYRO_SERVER must be a URL")
	wantErrContains(t, err, "OTLP_ENDPOINT must be host:port")
	wantErrContains(t, err, "MAX_ERROR_LINKS")
	wantErrContains(t, err, "S3_BUCKET is required")
	wantErrContains(t, err, "set only one of S3_ENDPOINT and S3_R2_ACCOUNT_ID")
	wantErrContains(t, err, "must be set together")
	wantErrContains(t, err, "PUBLIC_URL_BASE must be an http(s) URL")
	wantErrContains(t, err, "UPLOAD_PASSWORD or UPLOAD_PASSWORD_SSM_PARAM is required")
	wantErrContains(t, err, "WRITE_CONCURRENCY")
	wantErrContains(t, err, "METADATA_PREFIX must end with /")
}

func TestValidate_CredentialConflicts(t *testing.T) {
	c := newTestConfig(t, append([]string{
		"-upload-password-ssm-param=/arcade/pw",
		"-insecure-no-upload-password=true",
	}, validArgs...))

	err := Validate(c)
	wantErrContains(t, err, "set only one of UPLOAD_PASSWORD and UPLOAD_PASSWORD_SSM_PARAM")
	wantErrContains(t, err, "INSECURE_NO_UPLOAD_PASSWORD conflicts")
}

func TestValidate_UnknownStore(t *testing.T) {
	c := newTestConfig(t, append([]string{"-store=gcs"}, validArgs...))
	wantErrContains(t, Validate(c), `invalid STORE "gcs"`)
}

func TestS3EndpointAndRegion(t *testing.T) {
	tests := []struct {
		name         string
		c            App
		wantEndpoint string
		wantRegion   string
	}{
		{"aws default chain", App{}, "", ""},
		{"explicit region", App{S3Region: "us-east-2"}, "", "us-east-2"},
		{"minio", App{S3Endpoint: "http://minio:9000"}, "http://minio:9000", ""},
		{"r2", App{S3R2AccountID: "abc123"}, "https://abc123.r2.cloudflarestorage.com", "auto"},
		{"r2 region override", App{S3R2AccountID: "abc123", S3Region: "wnam"}, "https://abc123.r2.cloudflarestorage.com", "wnam"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.S3EndpointURL(); got != tt.wantEndpoint {
				t.Errorf("S3EndpointURL() = %q, want %q", got, tt.wantEndpoint)
			}
			if got := tt.c.Region(); got != tt.wantRegion {
				t.Errorf("Region() = %q, want %q", got, tt.wantRegion)
			}
		})
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}

package publish

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/archive"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/credential"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/namespace"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/objstore"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/xerrors"
)

const (
	// DefaultWriteConcurrency is the number of concurrent store writes per publish.
	DefaultWriteConcurrency = 16
	// DefaultCleanupTimeout bounds deleting a failed publish's partial writes.
	DefaultCleanupTimeout = 30 * time.Second

	tracerName = "github.com/keithlinneman/linnemanlabs-arcade/internal/publish"
)

// UploadRequest is built once at the transport boundary.
type UploadRequest struct {
	Namespace       string
	CredentialToken string
	Archive         []byte
}

// Result describes a completed publish.
type Result struct {
	PublishID       string
	Namespace       string
	RootURL         string
	FileCount       int
	Bytes           int64
	HasRootDocument bool
}

// Recorder receives publish metrics. *metrics.ServerMetrics implements it.
type Recorder interface {
	ObservePublish(result string, d time.Duration, files int, bytes int64)
	ObserveStoreWrite(result string)
	ObserveNamespaceCheck(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObservePublish(string, time.Duration, int, int64) {}
func (nopRecorder) ObserveStoreWrite(string)                         {}
func (nopRecorder) ObserveNamespaceCheck(string)                     {}

// Options configures a Pipeline.
type Options struct {
	// Store receives every published object. Required.
	Store objstore.Store

	// Authorizer verifies UploadRequest.CredentialToken. Required; use
	// credential.AllowAll() to disable the check explicitly.
	Authorizer credential.Authorizer

	// PublicBaseURL is the externally visible base the store is served from,
	// e.g. https://games.example.com. Required.
	PublicBaseURL string

	Logger   log.Logger
	Recorder Recorder

	Filter archive.EntryFilter
	Limits archive.Limits

	// WriteConcurrency bounds in-flight Put calls. Zero means DefaultWriteConcurrency.
	WriteConcurrency int

	// CleanupOnFailure deletes objects already written when a publish fails
	// part way, provided the store implements objstore.Deleter.
	CleanupOnFailure bool
	CleanupTimeout   time.Duration

	// RequireAvailable rejects a publish whose namespace already has objects.
	// The check and the writes are not atomic.
	RequireAvailable bool
}

// Pipeline turns an uploaded archive into objects under a sanitized namespace.
// It is safe for concurrent use.
type Pipeline struct {
	store       objstore.Store
	registry    *namespace.Registry
	auth        credential.Authorizer
	baseURL     string
	logger      log.Logger
	rec         Recorder
	filter      archive.EntryFilter
	limits      archive.Limits
	concurrency int
	cleanup     bool
	cleanupTO   time.Duration
	requireFree bool
	tracer      trace.Tracer
}

// New validates opts and returns a ready Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, xerrors.New("publish: store is required")
	}
	if opts.Authorizer == nil {
		return nil, xerrors.New("publish: authorizer is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.PublicBaseURL), "/")
	if base == "" {
		return nil, xerrors.New("publish: public base url is required")
	}
	if opts.WriteConcurrency < 0 {
		return nil, xerrors.Newf("publish: write concurrency must be >= 0, got %d", opts.WriteConcurrency)
	}

	p := &Pipeline{
		store:       opts.Store,
		registry:    namespace.NewRegistry(opts.Store),
		auth:        opts.Authorizer,
		baseURL:     base,
		logger:      opts.Logger,
		rec:         opts.Recorder,
		filter:      opts.Filter,
		limits:      opts.Limits,
		concurrency: opts.WriteConcurrency,
		cleanup:     opts.CleanupOnFailure,
		cleanupTO:   opts.CleanupTimeout,
		requireFree: opts.RequireAvailable,
		tracer:      otel.Tracer(tracerName),
	}
	if p.logger == nil {
		p.logger = log.Nop()
	}
	if p.rec == nil {
		p.rec = nopRecorder{}
	}
	if p.concurrency == 0 {
		p.concurrency = DefaultWriteConcurrency
	}
	if p.cleanupTO <= 0 {
		p.cleanupTO = DefaultCleanupTimeout
	}
	return p, nil
}

// RootURL returns the public URL of a published namespace's root document.
func (p *Pipeline) RootURL(ns string) string {
	return p.baseURL + "/" + ns + "/"
}

// ValidateNamespace returns the sanitized form of raw or ErrInvalidNamespace.
func (p *Pipeline) ValidateNamespace(raw string) (string, error) {
	return namespace.Validate(raw)
}

// CheckNamespaceAvailable reports whether raw sanitizes to a namespace with
// no objects yet. Advisory only: nothing stops a publish racing in after it.
func (p *Pipeline) CheckNamespaceAvailable(ctx context.Context, raw string) (string, bool, error) {
	ns, available, err := p.registry.CheckAvailable(ctx, raw)
	switch {
	case err != nil:
		p.rec.ObserveNamespaceCheck(string(KindOf(err)))
	case available:
		p.rec.ObserveNamespaceCheck("available")
	default:
		p.rec.ObserveNamespaceCheck("taken")
	}
	return ns, available, err
}

// Publish ingests req.Archive and writes every relevant file to
// {namespace}/{relativePath}. Validation failures never touch the store.
// A write failure may leave a partial namespace behind unless
// CleanupOnFailure is set.
func (p *Pipeline) Publish(ctx context.Context, req UploadRequest) (res *Result, err error) {
	start := time.Now()
	id := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "publish", trace.WithAttributes(
		attribute.String("publish.id", id),
		attribute.Int("publish.archive_bytes", len(req.Archive)),
	))
	L := log.FromContextOr(ctx, p.logger).With("publish_id", id)

	defer func() {
		kind := KindOf(err)
		files, size := 0, int64(0)
		if res != nil {
			files, size = res.FileCount, res.Bytes
		}
		p.rec.ObservePublish(string(kind), time.Since(start), files, size)
		span.SetAttributes(attribute.String("publish.result", string(kind)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(kind))
		}
		span.End()
	}()

	if err := p.auth.Authorize(ctx, req.CredentialToken); err != nil {
		L.Warn(ctx, "publish rejected", "reason", KindOf(err))
		return nil, err
	}

	ns, err := namespace.Validate(req.Namespace)
	if err != nil {
		L.Warn(ctx, "publish rejected", "reason", KindOf(err), "raw_namespace_len", len(req.Namespace))
		return nil, err
	}
	L = L.With("namespace", ns)
	span.SetAttributes(attribute.String("publish.namespace", ns))

	entries, err := p.prepare(ctx, L, req.Archive)
	if err != nil {
		L.Warn(ctx, "publish rejected", "reason", KindOf(err), "error", err.Error())
		return nil, err
	}

	if p.requireFree {
		exists, err := p.registry.Exists(ctx, ns)
		if err != nil {
			p.rec.ObserveNamespaceCheck(string(KindOf(err)))
			L.Error(ctx, err, "namespace check failed")
			return nil, err
		}
		if exists {
			p.rec.ObserveNamespaceCheck("taken")
			L.Warn(ctx, "publish rejected", "reason", KindNamespaceTaken)
			return nil, xerrors.Markf(ErrNamespaceTaken, nil, "%s", ns)
		}
		p.rec.ObserveNamespaceCheck("available")
	}

	written, err := p.write(ctx, L, ns, entries)
	if err != nil {
		L.Error(ctx, err, "publish failed", "written", len(written), "total", len(entries))
		if p.cleanup {
			p.removeWritten(ctx, L, written)
		}
		return nil, err
	}

	res = &Result{
		PublishID:       id,
		Namespace:       ns,
		RootURL:         p.RootURL(ns),
		FileCount:       len(entries),
		Bytes:           archive.TotalSize(entries),
		HasRootDocument: true,
	}
	L.Info(ctx, "publish complete",
		"files", res.FileCount,
		"bytes", res.Bytes,
		"root_url", res.RootURL,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// prepare runs read, filter and normalize, then enforces the
// non-empty and root-document gates.
func (p *Pipeline) prepare(ctx context.Context, L log.Logger, data []byte) ([]archive.NormalizedEntry, error) {
	ctx, span := p.tracer.Start(ctx, "archive.prepare")
	defer span.End()

	raw, err := archive.ReadWithLimits(data, p.limits)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	L.Info(ctx, "archive read",
		"entries", len(raw),
		"archive_bytes", len(data),
		"archive_sha256", cryptoutil.ShortHash(cryptoutil.SHA256Hex(data)),
	)

	relevant := p.filter.Filter(raw)
	L.Info(ctx, "archive filtered", "kept", len(relevant), "dropped", len(raw)-len(relevant))

	normalized := dedupe(archive.Normalize(relevant))
	L.Info(ctx, "archive normalized", "files", len(normalized), "bytes", archive.TotalSize(normalized))

	span.SetAttributes(
		attribute.Int("archive.entries", len(raw)),
		attribute.Int("archive.files", len(normalized)),
	)

	if len(normalized) == 0 {
		return nil, ErrEmptyArchive
	}
	if _, ok := archive.FindRootDocument(normalized); !ok {
		return nil, ErrMissingRootDocument
	}
	return normalized, nil
}

// write puts every entry concurrently. The first failure cancels the
// remaining writes. It returns the keys that were written either way.
func (p *Pipeline) write(ctx context.Context, L log.Logger, ns string, entries []archive.NormalizedEntry) ([]string, error) {
	ctx, span := p.tracer.Start(ctx, "store.write", trace.WithAttributes(
		attribute.Int("store.objects", len(entries)),
		attribute.Int("store.concurrency", p.concurrency),
	))
	defer span.End()

	var (
		mu      sync.Mutex
		written = make([]string, 0, len(entries))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	prefix := namespace.Prefix(ns)
	for _, e := range entries {
		key := prefix + e.RelativePath
		g.Go(func() error {
			err := p.store.Put(gctx, key, objstore.Object{
				Body:            e.Data,
				ContentType:     e.ContentType,
				ContentEncoding: e.ContentEncoding,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					p.rec.ObserveStoreWrite("canceled")
				} else {
					p.rec.ObserveStoreWrite("error")
				}
				return xerrors.Wrapf(err, "put %s", key)
			}
			p.rec.ObserveStoreWrite("ok")

			mu.Lock()
			written = append(written, key)
			mu.Unlock()

			L.Debug(gctx, "object written",
				"key", key,
				"bytes", len(e.Data),
				"content_type", e.ContentType,
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		code := objstore.ErrorCode(err)
		if code != "" {
			span.SetAttributes(attribute.String("store.error_code", code))
		}
		return written, xerrors.Mark(ErrStoreWrite, err)
	}
	return written, nil
}

// removeWritten is best effort; the original write error is what the caller sees.
func (p *Pipeline) removeWritten(ctx context.Context, L log.Logger, keys []string) {
	if len(keys) == 0 {
		return
	}
	d, ok := p.store.(objstore.Deleter)
	if !ok {
		L.Warn(ctx, "cleanup skipped, store cannot delete", "orphaned", len(keys))
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cleanupTO)
	defer cancel()

	if err := d.Delete(cctx, keys); err != nil {
		L.Error(ctx, err, "cleanup failed", "orphaned", len(keys))
		return
	}
	L.Info(ctx, "cleanup complete", "deleted", len(keys))
}

// dedupe keeps the last entry for each relative path, matching what a
// sequential extraction would leave on disk. Order of first appearance is kept.
func dedupe(entries []archive.NormalizedEntry) []archive.NormalizedEntry {
	idx := make(map[string]int, len(entries))
	out := make([]archive.NormalizedEntry, 0, len(entries))
	for _, e := range entries {
		if i, ok := idx[e.RelativePath]; ok {
			out[i] = e
			continue
		}
		idx[e.RelativePath] = len(out)
		out = append(out, e)
	}
	return out
}

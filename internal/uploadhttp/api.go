package uploadhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-arcade/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/log"
	"github.com/keithlinneman/linnemanlabs-arcade/internal/publish"
)

const (
	// DefaultMaxUploadBytes bounds the request body of an upload
	DefaultMaxUploadBytes int64 = 512 * 1024 * 1024

	// maxFieldBytes bounds non-file multipart fields
	maxFieldBytes = 4096

	HeaderGameName       = "X-Game-Name"
	HeaderUploadPassword = "X-Upload-Password"

	FieldArchive  = "gameZip"
	FieldGameName = "gameName"
	FieldPassword = "password"
)

// Publisher is the slice of *publish.Pipeline the API needs
type Publisher interface {
	ValidateNamespace(raw string) (string, error)
	CheckNamespaceAvailable(ctx context.Context, raw string) (string, bool, error)
	Publish(ctx context.Context, req publish.UploadRequest) (*publish.Result, error)
}

type Options struct {
	MaxUploadBytes int64
	Logger         log.Logger

	// UploadMiddleware wraps only the upload route, e.g. a stricter rate limiter.
	UploadMiddleware httpmw.Middleware
}

// API implements the game upload endpoints
type API struct {
	pub      Publisher
	maxBytes int64
	logger   log.Logger
	uploadMW httpmw.Middleware
}

// NewAPI creates a new upload API handler
func NewAPI(pub Publisher, opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &API{
		pub:      pub,
		maxBytes: opts.MaxUploadBytes,
		logger:   opts.Logger,
		uploadMW: opts.UploadMiddleware,
	}
}

// RegisterRoutes attaches upload endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("games"))

		upload := r
		if api.uploadMW != nil {
			upload = r.With(api.uploadMW)
		}
		upload.Post("/api/games", api.HandleUpload)

		r.Get("/api/games/validate", api.HandleValidate)
		r.Get("/api/games/{name}/availability", api.HandleAvailability)
	})
}

// UploadResponse is returned after a successful publish
type UploadResponse struct {
	Message   string `json:"message"`
	GameName  string `json:"gameName"`
	GameURL   string `json:"gameUrl"`
	FileCount int    `json:"fileCount"`
	Status    string `json:"status"`
}

// AvailabilityResponse answers the pre-flight name check
type AvailabilityResponse struct {
	GameName  string `json:"gameName"`
	Available bool   `json:"available"`
}

// ValidateResponse answers a name validation request
type ValidateResponse struct {
	GameName string `json:"gameName"`
	Valid    bool   `json:"valid"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HandleUpload publishes an uploaded archive. It accepts multipart/form-data
// with the archive in the gameZip field, or a raw application/zip body.
func (api *API) HandleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, api.logger)

	r.Body = http.MaxBytesReader(w, r.Body, api.maxBytes)

	req, err := api.uploadRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			api.writeError(ctx, w, http.StatusRequestEntityTooLarge, string(publish.KindArchiveTooLarge),
				fmt.Sprintf("upload exceeds %d bytes", api.maxBytes))
		case errors.Is(err, errUnsupportedMedia):
			api.writeError(ctx, w, http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error())
		default:
			api.writeError(ctx, w, http.StatusBadRequest, "bad_request", err.Error())
		}
		L.Warn(ctx, "upload rejected", "error", err.Error())
		return
	}

	res, err := api.pub.Publish(ctx, req)
	if err != nil {
		api.writePublishError(ctx, w, err)
		return
	}

	api.writeJSON(ctx, w, http.StatusCreated, UploadResponse{
		Message:   fmt.Sprintf("Successfully uploaded game '%s'.", res.Namespace),
		GameName:  res.Namespace,
		GameURL:   res.RootURL,
		FileCount: res.FileCount,
		Status:    "complete",
	})
}

// HandleAvailability reports whether a game name is still free
func (api *API) HandleAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	name, err := pathParam(r, "name")
	if err != nil {
		api.writeError(ctx, w, http.StatusBadRequest, "bad_request", "game name is not a valid path segment")
		return
	}

	ns, available, err := api.pub.CheckNamespaceAvailable(ctx, name)
	if err != nil {
		api.writePublishError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, AvailabilityResponse{GameName: ns, Available: available})
}

// pathParam returns the decoded URL param. chi matches on RawPath when the
// request has one, which leaves the param escaped; otherwise it is already decoded.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

// HandleValidate returns the sanitized form of ?name=
func (api *API) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ns, err := api.pub.ValidateNamespace(r.URL.Query().Get("name"))
	if err != nil {
		api.writePublishError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, ValidateResponse{GameName: ns, Valid: true})
}

var (
	errUnsupportedMedia = errors.New("content type must be multipart/form-data or application/zip")
	errMissingArchive   = errors.New("missing " + FieldArchive + " file")
	errMissingName      = errors.New("missing " + HeaderGameName + " header or " + FieldGameName + " field")
)

// uploadRequest builds the UploadRequest from whichever encoding the client
// used. Headers take precedence over form fields.
func (api *API) uploadRequest(r *http.Request) (publish.UploadRequest, error) {
	req := publish.UploadRequest{
		Namespace:       strings.TrimSpace(r.Header.Get(HeaderGameName)),
		CredentialToken: r.Header.Get(HeaderUploadPassword),
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return req, errUnsupportedMedia
	}

	switch mediaType {
	case "multipart/form-data":
		if err := readMultipart(r, &req); err != nil {
			return req, err
		}
	case "application/zip", "application/x-zip-compressed", "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return req, err
		}
		req.Archive = data
	default:
		return req, errUnsupportedMedia
	}

	if req.Namespace == "" {
		return req, errMissingName
	}
	if len(req.Archive) == 0 {
		return req, errMissingArchive
	}
	return req, nil
}

// readMultipart streams the parts instead of ParseMultipartForm so the
// archive is never spooled to a temp file.
func readMultipart(r *http.Request, req *publish.UploadRequest) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		switch part.FormName() {
		case FieldArchive:
			data, err := io.ReadAll(part)
			if err != nil {
				return err
			}
			req.Archive = data
		case FieldGameName:
			v, err := readField(part)
			if err != nil {
				return err
			}
			if req.Namespace == "" {
				req.Namespace = strings.TrimSpace(v)
			}
		case FieldPassword:
			v, err := readField(part)
			if err != nil {
				return err
			}
			if req.CredentialToken == "" {
				req.CredentialToken = v
			}
		}
		_ = part.Close()
	}
}

func readField(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(b) > maxFieldBytes {
		return "", fmt.Errorf("form field exceeds %d bytes", maxFieldBytes)
	}
	return string(b), nil
}

// statusFor maps a publish error kind to a status and a caller-facing
// message. Messages never include the wrapped error text.
func statusFor(kind publish.Kind) (int, string) {
	switch kind {
	case publish.KindInvalidNamespace:
		return http.StatusBadRequest, "Game name must contain letters, digits, '-' or '_' and be at most 128 characters."
	case publish.KindCorruptArchive:
		return http.StatusBadRequest, "Invalid zip file format."
	case publish.KindEmptyArchive:
		return http.StatusBadRequest, "Invalid zip file: contains no usable files."
	case publish.KindMissingRootDocument:
		return http.StatusBadRequest, "Invalid zip structure: index.html not found at the root level."
	case publish.KindArchiveTooLarge:
		return http.StatusRequestEntityTooLarge, "Zip file expands beyond the allowed size."
	case publish.KindUnauthorized:
		return http.StatusUnauthorized, "Unauthorized: invalid password."
	case publish.KindNamespaceTaken:
		return http.StatusConflict, "A game with this name already exists."
	case publish.KindCredentialUnavailable:
		return http.StatusServiceUnavailable, "Uploads are temporarily unavailable."
	case publish.KindStoreWrite:
		return http.StatusBadGateway, "Failed to store game files."
	case publish.KindStoreQuery:
		return http.StatusBadGateway, "Failed to check game name availability."
	default:
		return http.StatusInternalServerError, "Internal server error."
	}
}

func (api *API) writePublishError(ctx context.Context, w http.ResponseWriter, err error) {
	kind := publish.KindOf(err)
	status, msg := statusFor(kind)
	if status >= 500 {
		log.FromContextOr(ctx, api.logger).Error(ctx, err, "request failed", "code", kind)
	}
	api.writeError(ctx, w, status, string(kind), msg)
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, status int, code, msg string) {
	api.writeJSON(ctx, w, status, ErrorResponse{Error: msg, Code: code})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}

package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/CTAG07/Frond/pkg/templating"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	tracerName = "github.com/CTAG07/Frond/pkg/preview"

	defaultPageType  = "text/html; charset=utf-8"
	defaultAssetType = "application/octet-stream"
)

// Options configures a Handler. Zero values fall back to DefaultOptions.
type Options struct {
	// Site is the site every request is routed against.
	Site SiteRef

	// Templates tunes include assembly.
	Templates templating.Config

	// FetchTimeout bounds each remote asset download.
	FetchTimeout time.Duration

	// MaxInFlight limits concurrently routed requests. Zero uses the default;
	// a negative value disables the limit.
	MaxInFlight int64

	// QueueTimeout bounds how long a request waits for an in-flight slot
	// before failing with ErrOverloaded.
	QueueTimeout time.Duration

	// Hidden lists content-root files that are never served statically,
	// such as the config file.
	Hidden []string

	// Transform, when set, rewrites successful page bodies before they are
	// written, e.g. to inject the reload script. Assets and static files are
	// passed through untouched.
	Transform func(contentType string, body []byte) []byte

	// Observers are told about every routed request after it is written.
	Observers []func(ctx context.Context, o Outcome)

	Metrics *Metrics
	Logger  *slog.Logger
}

// DefaultOptions returns the options used for zero-valued fields.
func DefaultOptions() Options {
	return Options{
		Templates:    templating.DefaultConfig(),
		FetchTimeout: 15 * time.Second,
		MaxInFlight:  64,
		QueueTimeout: 5 * time.Second,
	}
}

// Response is a routed request ready to be written.
type Response struct {
	Kind        Kind
	Status      int
	ContentType string
	Body        []byte

	// File is the content-root name to serve for KindStatic responses. Body
	// is empty for those.
	File string

	// Template is the resolved template name for pages, empty if the site
	// default was used.
	Template string
}

// Outcome summarises a routed request for observers.
type Outcome struct {
	Path     string
	Kind     Kind
	Status   int
	Template string
	Bytes    int
	Duration time.Duration
	Err      error
}

// Handler is the preview request router. It decides per request whether to
// serve a local file, proxy a site asset or render a page, and holds no
// per-request state, so one Handler serves any number of goroutines.
type Handler struct {
	site     Site
	fetcher  Fetcher
	root     fs.FS
	resolver *templating.Resolver
	inliner  *templating.Inliner
	sem      *semaphore.Weighted
	hidden   map[string]struct{}
	tracer   trace.Tracer
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a Handler serving the content root at root.
func NewHandler(site Site, fetcher Fetcher, root fs.FS, opts Options) *Handler {
	defaults := DefaultOptions()
	if opts.Templates == (templating.Config{}) {
		opts.Templates = defaults.Templates
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = defaults.MaxInFlight
	}
	if opts.QueueTimeout <= 0 {
		opts.QueueTimeout = defaults.QueueTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Handler{
		site:     site,
		fetcher:  fetcher,
		root:     root,
		resolver: templating.NewResolver(opts.Logger, root),
		inliner:  templating.NewInliner(opts.Logger, root, opts.Templates),
		hidden:   make(map[string]struct{}, len(opts.Hidden)),
		tracer:   otel.Tracer(tracerName),
		opts:     opts,
		logger:   opts.Logger,
	}
	if opts.MaxInFlight > 0 {
		h.sem = semaphore.NewWeighted(opts.MaxInFlight)
	}
	for _, name := range opts.Hidden {
		h.hidden[templating.Strip(name)] = struct{}{}
	}
	return h
}

// Site returns the site this handler routes against.
func (h *Handler) Site() SiteRef {
	return h.opts.Site
}

func (h *Handler) isHidden(name string) bool {
	_, ok := h.hidden[name]
	return ok
}

// Route classifies urlPath and produces its response. Errors are typed so
// StatusFor can map them; a nil error always comes with a 200 response.
func (h *Handler) Route(ctx context.Context, site SiteRef, urlPath string) (*Response, error) {
	ctx, span := h.tracer.Start(ctx, "preview.route",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("frond.site", site.ID),
			attribute.String("frond.path", urlPath),
		))
	defer span.End()

	kind, file, err := classify(h.root, urlPath, h.isHidden)
	span.SetAttributes(attribute.String("frond.kind", kind.String()))
	if err != nil {
		recordError(span, err)
		return &Response{Kind: kind}, err
	}

	var resp *Response
	switch kind {
	case KindStatic:
		resp = &Response{Kind: KindStatic, Status: http.StatusOK, File: file}
	case KindAsset:
		resp, err = h.routeAsset(ctx, site, urlPath)
	default:
		resp, err = h.routePage(ctx, site, urlPath)
	}
	if err != nil {
		recordError(span, err)
		if resp == nil {
			resp = &Response{Kind: kind}
		}
		return resp, err
	}
	return resp, nil
}

func (h *Handler) routeAsset(ctx context.Context, site SiteRef, urlPath string) (*Response, error) {
	resp := &Response{Kind: KindAsset}

	rctx, span := h.tracer.Start(ctx, "preview.resolve_asset")
	asset, err := h.site.ResolveAsset(rctx, site, urlPath)
	if err == nil && (asset == nil || asset.URL == "") {
		err = ErrAssetNotFound
	}
	if err != nil && !errors.Is(err, ErrAssetNotFound) {
		err = siteError("resolve asset", err)
	}
	recordError(span, err)
	span.End()
	if err != nil {
		return resp, err
	}

	fctx, cancel := context.WithTimeout(ctx, h.opts.FetchTimeout)
	defer cancel()
	fctx, span = h.tracer.Start(fctx, "preview.fetch", trace.WithAttributes(attribute.String("frond.asset_url", asset.URL)))
	fetched, err := h.fetcher.Fetch(fctx, asset.URL)
	if err != nil {
		err = fetchError(fctx, asset.URL, err)
		recordError(span, err)
		span.End()
		return resp, err
	}
	span.SetAttributes(attribute.Int("frond.asset_bytes", len(fetched.Body)))
	span.End()

	resp.Status = http.StatusOK
	resp.ContentType = assetContentType(asset, fetched)
	resp.Body = fetched.Body
	return resp, nil
}

// assetContentType prefers the upstream header, then the site's record,
// then the URL's extension.
func assetContentType(asset *Asset, fetched *Fetched) string {
	if fetched.ContentType != "" {
		return fetched.ContentType
	}
	if asset.ContentType != "" {
		return asset.ContentType
	}
	name := asset.Filename
	if name == "" {
		name = asset.URL
		if u, err := url.Parse(asset.URL); err == nil {
			name = u.Path
		}
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return defaultAssetType
}

func (h *Handler) routePage(ctx context.Context, site SiteRef, urlPath string) (*Response, error) {
	resp := &Response{Kind: KindPage}

	rctx, span := h.tracer.Start(ctx, "preview.resolve_template")
	tmpl, err := h.resolver.Resolve(rctx, templating.Normalize(urlPath))
	recordError(span, err)
	span.End()
	if err != nil {
		return resp, err
	}

	var body *string
	if tmpl != nil {
		resp.Template = tmpl.Name
		ictx, span := h.tracer.Start(ctx, "preview.inline", trace.WithAttributes(attribute.String("frond.template", tmpl.Name)))
		inlined, err := h.inliner.Inline(ictx, tmpl.Content)
		recordError(span, err)
		span.End()
		if err != nil {
			return resp, fmt.Errorf("failed to assemble %s: %w", tmpl.Name, err)
		}
		body = &inlined
	}

	pctx, span := h.tracer.Start(ctx, "preview.render")
	page, err := h.site.RenderPage(pctx, site, urlPath, body)
	if err == nil && page == nil {
		err = ErrNoContent
	}
	if err != nil && !errors.Is(err, ErrNoContent) {
		err = siteError("render page", err)
	}
	recordError(span, err)
	span.End()
	if err != nil {
		return resp, err
	}

	resp.Status = http.StatusOK
	resp.ContentType = page.ContentType
	if resp.ContentType == "" {
		resp.ContentType = defaultPageType
	}
	resp.Body = page.Body
	return resp, nil
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ServeHTTP routes r against the handler's site and writes the response.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	h.opts.Metrics.enter()
	defer h.opts.Metrics.leave()

	resp, err := h.serve(r)
	if resp == nil {
		resp = &Response{}
	}
	written := 0
	if err != nil {
		resp.Status = StatusFor(err)
		h.writeError(w, resp.Status, err)
	} else {
		written = h.write(w, r, resp)
	}

	h.report(r.Context(), Outcome{
		Path:     r.URL.Path,
		Kind:     resp.Kind,
		Status:   resp.Status,
		Template: resp.Template,
		Bytes:    written,
		Duration: time.Since(start),
		Err:      err,
	})
}

func (h *Handler) serve(r *http.Request) (*Response, error) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return nil, ErrMethodNotAllowed
	}
	if h.sem != nil {
		qctx, cancel := context.WithTimeout(r.Context(), h.opts.QueueTimeout)
		err := h.sem.Acquire(qctx, 1)
		cancel()
		if err != nil {
			if r.Context().Err() != nil {
				return nil, r.Context().Err()
			}
			return nil, ErrOverloaded
		}
		defer h.sem.Release(1)
	}
	return h.Route(r.Context(), h.opts.Site, r.URL.Path)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, resp *Response) int {
	if resp.Kind == KindStatic {
		return h.writeStatic(w, r, resp)
	}
	body := resp.Body
	if resp.Kind == KindPage && h.opts.Transform != nil {
		body = h.opts.Transform(resp.ContentType, body)
	}
	w.Header().Set("Content-Type", resp.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(resp.Status)
	if r.Method == http.MethodHead {
		return 0
	}
	n, err := w.Write(body)
	if err != nil {
		h.logger.Debug("Failed to write preview response", "path", r.URL.Path, "error", err)
	}
	return n
}

// writeStatic serves the classified file as it is. Unlike http.ServeFileFS
// it never redirects index.html, and the status actually sent (200, 206,
// 304, 412 or 416) is recorded on resp.
func (h *Handler) writeStatic(w http.ResponseWriter, r *http.Request, resp *Response) int {
	f, err := h.root.Open(resp.File)
	if err != nil {
		resp.Status = http.StatusNotFound
		h.writeError(w, resp.Status, err)
		return 0
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		resp.Status = http.StatusNotFound
		h.writeError(w, resp.Status, fmt.Errorf("%s: %w", resp.File, fs.ErrNotExist))
		return 0
	}
	content, ok := f.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			resp.Status = http.StatusInternalServerError
			h.writeError(w, resp.Status, err)
			return 0
		}
		content = bytes.NewReader(data)
	}

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	http.ServeContent(ww, r, path.Base(resp.File), info.ModTime(), content)
	resp.Status = ww.Status()
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	return ww.BytesWritten()
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status == http.StatusMethodNotAllowed {
		w.Header().Set("Allow", "GET, HEAD")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%d %s\n\n%v\n", status, http.StatusText(status), err)
}

func (h *Handler) report(ctx context.Context, o Outcome) {
	switch {
	case o.Err == nil:
		h.logger.Debug("Served preview request", "path", o.Path, "kind", o.Kind, "status", o.Status, "template", o.Template, "duration", o.Duration)
	case o.Status >= http.StatusInternalServerError:
		h.logger.Error("Preview request failed", "path", o.Path, "kind", o.Kind, "status", o.Status, "reason", outcomeLabel(o.Err), "error", o.Err)
	default:
		h.logger.Info("Preview request rejected", "path", o.Path, "kind", o.Kind, "status", o.Status, "reason", outcomeLabel(o.Err), "error", o.Err)
	}
	h.opts.Metrics.observe(o)
	for _, observe := range h.opts.Observers {
		observe(ctx, o)
	}
}

// Package siteleaf is a client for the parts of the Siteleaf v1 API a
// preview server needs: resolving asset URLs and rendering page previews.
package siteleaf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/dustin/go-humanize"
)

// DefaultAPIBase is the public Siteleaf v1 endpoint.
const DefaultAPIBase = "https://api.siteleaf.com/v1"

const maxResponseBytes = 32 << 20

// Config holds the API location and credentials.
type Config struct {
	APIBase    string `json:"api_base"`
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	TimeoutSec int    `json:"timeout_sec"`
}

// DefaultConfig returns a config for the public API without credentials.
func DefaultConfig() Config {
	return Config{
		APIBase:    DefaultAPIBase,
		TimeoutSec: 30,
	}
}

// APIError is a non-2xx answer from the API that is not a plain not-found.
type APIError struct {
	StatusCode int
	Method     string
	URL        string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("siteleaf: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("siteleaf: %s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

var _ preview.Site = (*Client)(nil)

// Client talks to the Siteleaf API. It is safe for concurrent use.
type Client struct {
	base      string
	key       string
	secret    string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

// NewClient validates cfg and returns a ready Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = DefaultAPIBase
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid siteleaf api base %q", cfg.APIBase)
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		base:      base,
		key:       cfg.APIKey,
		secret:    cfg.APISecret,
		userAgent: "frond",
		http:      &http.Client{Timeout: timeout},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type resolveResponse struct {
	File *struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
		Filename    string `json:"filename"`
	} `json:"file"`
}

// ResolveAsset looks up the uploaded file served at urlPath. Anything the
// API resolves that is not a file counts as not found.
func (c *Client) ResolveAsset(ctx context.Context, site preview.SiteRef, urlPath string) (*preview.Asset, error) {
	endpoint := c.endpoint(site, "resolve") + "?" + url.Values{"url": {urlPath}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, preview.ErrAssetNotFound
	}
	if err := checkStatus(req, resp, body); err != nil {
		return nil, err
	}

	var decoded resolveResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("siteleaf: invalid resolve response: %w", err)
	}
	if decoded.File == nil || decoded.File.URL == "" {
		return nil, preview.ErrAssetNotFound
	}
	return &preview.Asset{
		URL:         decoded.File.URL,
		ContentType: decoded.File.ContentType,
		Filename:    decoded.File.Filename,
	}, nil
}

// RenderPage asks the API to render urlPath. The template field is left
// out entirely when template is nil so the site's own templates apply.
func (c *Client) RenderPage(ctx context.Context, site preview.SiteRef, urlPath string, template *string) (*preview.Page, error) {
	form := url.Values{"url": {urlPath}}
	if template != nil {
		form.Set("template", *template)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(site, "preview"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, preview.ErrNoContent
	}
	if err := checkStatus(req, resp, body); err != nil {
		return nil, err
	}
	return &preview.Page{ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func (c *Client) endpoint(site preview.SiteRef, action string) string {
	return c.base + "/sites/" + url.PathEscape(site.ID) + "/" + action
}

// do sends req with credentials and reads the whole (bounded) body.
func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	if c.key != "" || c.secret != "" {
		req.SetBasicAuth(c.key, c.secret)
	}
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("siteleaf: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("siteleaf: reading %s response: %w", req.URL.Path, err)
	}
	if len(body) > maxResponseBytes {
		return nil, nil, fmt.Errorf("siteleaf: %s response exceeds %s", req.URL.Path, humanize.Bytes(maxResponseBytes))
	}
	c.logger.Debug("Siteleaf API call", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "size", humanize.Bytes(uint64(len(body))), "duration", time.Since(start))
	return resp, body, nil
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func checkStatus(req *http.Request, resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Method: req.Method, URL: req.URL.Path}
	var decoded errorBody
	if json.Unmarshal(body, &decoded) == nil {
		apiErr.Message = decoded.Message
		if apiErr.Message == "" {
			apiErr.Message = decoded.Error
		}
	}
	return apiErr
}

// IsUnauthorized reports whether err is an API rejection of the credentials.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden)
}

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/dustin/go-humanize"
)

// HTTPFetcher downloads http and https asset URLs.
type HTTPFetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
}

var _ preview.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds a fetcher from cfg. A nil client gets one with the
// configured timeout; the caller's context deadline still applies.
func NewHTTPFetcher(cfg Config, client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		timeout := time.Duration(cfg.TimeoutSec) * time.Second
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{client: client, maxBytes: cfg.MaxBytes, userAgent: cfg.UserAgent, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*preview.Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, Err: err}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: resp.StatusCode,
			Err: fmt.Errorf("%w: %s announced", ErrTooLarge, humanize.IBytes(uint64(resp.ContentLength)))}
	}
	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, StatusCode: resp.StatusCode, Err: err}
	}

	f.logger.Debug("Fetched remote asset", "url", rawURL, "size", humanize.Bytes(uint64(len(body))), "duration", time.Since(start))
	return &preview.Fetched{ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

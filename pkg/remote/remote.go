// Package remote downloads asset bodies for the preview server. HTTP and
// S3 fetchers implement preview.Fetcher, and Mux picks one per URL scheme.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/dustin/go-humanize"
)

var (
	// ErrTooLarge is wrapped in a *preview.FetchError when a body exceeds
	// the configured limit.
	ErrTooLarge = errors.New("remote asset too large")

	// ErrUnsupportedScheme is returned by Mux for URLs it has no fetcher for.
	ErrUnsupportedScheme = errors.New("unsupported asset url scheme")
)

// Config tunes the fetchers.
type Config struct {
	// MaxBytes caps a single asset body.
	MaxBytes   int64  `json:"max_bytes"`
	TimeoutSec int    `json:"timeout_sec"`
	UserAgent  string `json:"user_agent"`

	S3 S3Config `json:"s3"`
}

// DefaultConfig allows 64 MiB assets fetched within 15 seconds.
func DefaultConfig() Config {
	return Config{
		MaxBytes:   64 << 20,
		TimeoutSec: 15,
		UserAgent:  "frond",
		S3:         DefaultS3Config(),
	}
}

// readLimited reads r fully, failing with ErrTooLarge past max bytes.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("%w: over %s", ErrTooLarge, humanize.IBytes(uint64(max)))
	}
	return body, nil
}

// Mux dispatches on the URL scheme.
type Mux struct {
	fetchers map[string]preview.Fetcher
}

var _ preview.Fetcher = (*Mux)(nil)

// NewMux returns an empty Mux.
func NewMux() *Mux {
	return &Mux{fetchers: map[string]preview.Fetcher{}}
}

// Handle registers f for the given schemes. It is not safe to call while
// Fetch is in use.
func (m *Mux) Handle(f preview.Fetcher, schemes ...string) *Mux {
	for _, scheme := range schemes {
		m.fetchers[strings.ToLower(scheme)] = f
	}
	return m
}

func (m *Mux) Fetch(ctx context.Context, rawURL string) (*preview.Fetched, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &preview.FetchError{URL: rawURL, Err: err}
	}
	f, ok := m.fetchers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, &preview.FetchError{URL: rawURL, Err: fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)}
	}
	return f.Fetch(ctx, rawURL)
}

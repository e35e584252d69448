package preview

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed matches any *FetchError that was not a timeout.
	ErrFetchFailed = errors.New("asset fetch failed")

	// ErrFetchTimeout matches a *FetchError caused by the fetch deadline.
	ErrFetchTimeout = errors.New("asset fetch timed out")
)

// Fetched is the body of a remote asset and the content type reported by
// the upstream server.
type Fetched struct {
	ContentType string
	Body        []byte
}

// Fetcher downloads remote asset bodies. Implementations must honour
// context cancellation so the fetch deadline bounds the request.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Fetched, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, rawURL string) (*Fetched, error)

func (f FetcherFunc) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	return f(ctx, rawURL)
}

// FetchError describes a failed asset download.
type FetchError struct {
	URL string
	// StatusCode is the upstream status, or 0 if no response was received.
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timed out: %v", e.URL, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: upstream status %d", e.URL, e.StatusCode)
	}
}

func (e *FetchError) Unwrap() []error {
	kind := ErrFetchFailed
	if e.Timeout {
		kind = ErrFetchTimeout
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}

// fetchError normalises err into a *FetchError, flagging it as a timeout
// when the fetch deadline in ctx expired.
func fetchError(ctx context.Context, rawURL string, err error) error {
	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	var fe *FetchError
	if errors.As(err, &fe) {
		if timedOut && !fe.Timeout {
			copied := *fe
			copied.Timeout = true
			return &copied
		}
		return fe
	}
	return &FetchError{URL: rawURL, Timeout: timedOut, Err: err}
}

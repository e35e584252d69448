package preview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/CTAG07/Frond/pkg/templating"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{templating.ErrInvalidPath, http.StatusBadRequest},
		{ErrAssetNotFound, http.StatusNotFound},
		{fmt.Errorf("render: %w", ErrNoContent), http.StatusNotFound},
		{&templating.IncludeError{Name: "a", Err: templating.ErrIncludeCycle}, http.StatusLoopDetected},
		{&templating.IncludeError{Name: "a", Err: templating.ErrIncludeTooDeep}, http.StatusLoopDetected},
		{&templating.IncludeError{Name: "a", Err: templating.ErrIncludeNotFound}, http.StatusInternalServerError},
		{templating.ErrTemplateTooLarge, http.StatusInternalServerError},
		{&FetchError{URL: "u", StatusCode: 500}, http.StatusBadGateway},
		{&FetchError{URL: "u", Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{siteError("render page", errors.New("boom")), http.StatusBadGateway},
		{ErrOverloaded, http.StatusServiceUnavailable},
		{ErrMethodNotAllowed, http.StatusMethodNotAllowed},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestFetchError_Normalise(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	err := fetchError(ctx, "https://x", &FetchError{URL: "https://x", Err: errors.New("read: reset")})
	if !errors.Is(err, ErrFetchTimeout) {
		t.Errorf("expired deadline not reported as timeout: %v", err)
	}
	if errors.Is(err, ErrFetchFailed) {
		t.Errorf("timeout must not match ErrFetchFailed: %v", err)
	}

	err = fetchError(context.Background(), "https://x", errors.New("dial tcp: refused"))
	var fe *FetchError
	if !errors.As(err, &fe) || fe.URL != "https://x" || fe.Timeout {
		t.Errorf("unexpected normalised error: %#v", err)
	}
}

func TestFetchError_Message(t *testing.T) {
	tests := []struct {
		err  *FetchError
		want string
	}{
		{&FetchError{URL: "u", StatusCode: 404}, "fetch u: upstream status 404"},
		{&FetchError{URL: "u", StatusCode: 200, Err: errors.New("asset too large")}, "fetch u: asset too large"},
		{&FetchError{URL: "u", Timeout: true, Err: context.DeadlineExceeded}, "fetch u: timed out: context deadline exceeded"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

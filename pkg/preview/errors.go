package preview

import (
	"context"
	"errors"
	"net/http"

	"github.com/CTAG07/Frond/pkg/templating"
)

var (
	// ErrOverloaded is returned when the in-flight request limit stays full
	// for longer than the queue timeout.
	ErrOverloaded = errors.New("preview server overloaded")

	// ErrMethodNotAllowed is returned for anything but GET and HEAD.
	ErrMethodNotAllowed = errors.New("method not allowed")
)

// StatusLoopDetected is sent when template includes form a cycle.
const StatusLoopDetected = http.StatusLoopDetected

// StatusFor maps a routing error to the HTTP status sent to the browser.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMethodNotAllowed):
		return http.StatusMethodNotAllowed
	case errors.Is(err, templating.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, ErrAssetNotFound), errors.Is(err, ErrNoContent):
		return http.StatusNotFound
	case templating.IsCycle(err):
		return StatusLoopDetected
	case errors.Is(err, ErrFetchTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrFetchFailed), errors.Is(err, ErrSiteFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrOverloaded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		// Missing includes, oversized templates and unreadable files.
		return http.StatusInternalServerError
	}
}

// outcomeLabel is the short error class used in logs and metrics.
func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, templating.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrAssetNotFound):
		return "asset_not_found"
	case errors.Is(err, ErrNoContent):
		return "no_content"
	case errors.Is(err, templating.ErrIncludeCycle):
		return "include_cycle"
	case errors.Is(err, templating.ErrIncludeTooDeep):
		return "include_too_deep"
	case errors.Is(err, templating.ErrIncludeNotFound):
		return "include_not_found"
	case errors.Is(err, templating.ErrTemplateTooLarge):
		return "template_too_large"
	case errors.Is(err, ErrFetchTimeout):
		return "fetch_timeout"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ErrSiteFailed):
		return "site_failed"
	case errors.Is(err, ErrOverloaded):
		return "overloaded"
	case errors.Is(err, ErrMethodNotAllowed):
		return "method_not_allowed"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

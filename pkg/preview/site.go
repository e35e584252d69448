package preview

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrAssetNotFound is returned by Site.ResolveAsset when the site has no
	// asset for the requested path.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrNoContent is returned by Site.RenderPage when the site has nothing
	// to render for the requested path.
	ErrNoContent = errors.New("no content for path")

	// ErrSiteFailed marks failures talking to the Site client itself, as
	// opposed to the site answering that something does not exist.
	ErrSiteFailed = errors.New("site request failed")
)

// SiteRef addresses the site being previewed. It is fixed when the server
// starts and passed explicitly into every routed request.
type SiteRef struct {
	ID string
}

func (s SiteRef) String() string {
	return s.ID
}

// Asset is the metadata the Site returns for an asset path.
type Asset struct {
	// URL is where the asset's bytes live, e.g. an https or s3 URL.
	URL string
	// ContentType is the type recorded by the site, if any. The type sent
	// by the upstream server takes precedence.
	ContentType string
	Filename    string
}

// Page is the output of rendering a page.
type Page struct {
	ContentType string
	Body        []byte
}

// Site is the content-management client that renders previews and knows
// about the site's uploaded assets.
type Site interface {
	// ResolveAsset returns the asset stored under urlPath, or
	// ErrAssetNotFound if there is none.
	ResolveAsset(ctx context.Context, site SiteRef, urlPath string) (*Asset, error)

	// RenderPage renders urlPath with the given template body. A nil
	// template means no local template exists and the site should apply
	// its own default. ErrNoContent reports that nothing could be rendered.
	RenderPage(ctx context.Context, site SiteRef, urlPath string, template *string) (*Page, error)
}

// siteError wraps an unexpected Site client failure with ErrSiteFailed.
func siteError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrSiteFailed, err)
}

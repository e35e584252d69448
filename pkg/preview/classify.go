package preview

import (
	"errors"
	"io/fs"
	"regexp"
	"strings"

	"github.com/CTAG07/Frond/pkg/templating"
)

// Kind is the way a request is served.
type Kind int

const (
	// KindPage requests are rendered from a template by the Site.
	KindPage Kind = iota
	// KindAsset requests are resolved by the Site and fetched remotely.
	KindAsset
	// KindStatic requests name a file in the content root and are served
	// as-is.
	KindStatic
)

func (k Kind) String() string {
	switch k {
	case KindAsset:
		return "asset"
	case KindStatic:
		return "static"
	default:
		return "page"
	}
}

// assetPattern matches stripped paths under the reserved assets prefix or
// that look like file names.
var assetPattern = regexp.MustCompile(`(^assets|\.)`)

// IsAssetPath reports whether urlPath has the shape of an asset request.
func IsAssetPath(urlPath string) bool {
	return assetPattern.MatchString(templating.Strip(urlPath))
}

// Classify decides how urlPath is served, first match wins: an existing
// non-directory entry in fsys is static, an asset-shaped path is an asset,
// anything else is a page. Paths that would step outside fsys fail with
// templating.ErrInvalidPath before fsys is touched.
func Classify(fsys fs.FS, urlPath string) (Kind, error) {
	kind, _, err := classify(fsys, urlPath, nil)
	return kind, err
}

// classify is Classify that also returns the content-root name of a static
// file. Names for which hidden returns true are never served statically.
func classify(fsys fs.FS, urlPath string, hidden func(string) bool) (Kind, string, error) {
	name := templating.Strip(urlPath)
	if name != "" {
		if err := templating.ValidateSegments(strings.Split(name, "/")); err != nil {
			return KindPage, "", err
		}
		if hidden == nil || !hidden(name) {
			info, err := fs.Stat(fsys, name)
			if err == nil && !info.IsDir() {
				return KindStatic, name, nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
				return KindPage, "", err
			}
		}
	}
	if assetPattern.MatchString(name) {
		return KindAsset, "", nil
	}
	return KindPage, "", nil
}

package templating

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned when a request path or include name would
// resolve to something outside the content root, or contains elements the
// filesystem cannot address (empty, "." or ".." segments).
var ErrInvalidPath = errors.New("invalid path")

// Strip removes exactly one trailing and then exactly one leading "/" from
// urlPath. It is not a full trim: "//a//" becomes "/a/".
func Strip(urlPath string) string {
	p := strings.TrimSuffix(urlPath, "/")
	return strings.TrimPrefix(p, "/")
}

// Normalize strips urlPath with Strip and splits the remainder into its
// segments, root first. The empty path yields an empty, non-nil slice.
//
// Empty segments produced by repeated separators are kept; callers that go
// on to touch the filesystem must run ValidateSegments first.
func Normalize(urlPath string) []string {
	p := Strip(urlPath)
	if p == "" {
		return []string{}
	}
	return strings.Split(p, "/")
}

// ValidateSegments reports ErrInvalidPath if any segment is empty, a dot
// segment, or carries a backslash or NUL byte.
func ValidateSegments(segments []string) error {
	for _, seg := range segments {
		switch {
		case seg == "", seg == ".", seg == "..":
			return ErrInvalidPath
		case strings.ContainsAny(seg, "\\\x00"):
			return ErrInvalidPath
		}
	}
	return nil
}

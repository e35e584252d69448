package templating

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"strings"
)

const (
	indexTemplate   = "index.html"
	defaultTemplate = "default.html"
	templateExt     = ".html"
)

// Template is the raw content of a resolved template file along with the
// content-root relative name it was read from.
type Template struct {
	Name    string
	Content string
}

// Candidates returns the ordered list of template files that may serve the
// page addressed by segments, most specific first:
//
//	a/b.html, a/b/index.html, a/b/default.html, a/default.html, default.html
//
// The empty path only has index.html and default.html. Duplicates are not
// removed; the first existing file wins regardless.
func Candidates(segments []string) []string {
	if len(segments) == 0 {
		return []string{indexTemplate, defaultTemplate}
	}

	joined := strings.Join(segments, "/")
	candidates := make([]string, 0, len(segments)+3)
	candidates = append(candidates,
		joined+templateExt,
		joined+"/"+indexTemplate,
		joined+"/"+defaultTemplate,
	)
	for i := len(segments) - 1; i > 0; i-- {
		candidates = append(candidates, strings.Join(segments[:i], "/")+"/"+defaultTemplate)
	}
	return append(candidates, defaultTemplate)
}

// Resolver finds the template for a page by walking its candidate list over
// a content root. It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	fsys   fs.FS
	logger *slog.Logger
}

// NewResolver creates a Resolver reading templates from fsys, which is
// usually os.DirFS of the site's working directory.
func NewResolver(logger *slog.Logger, fsys fs.FS) *Resolver {
	return &Resolver{fsys: fsys, logger: logger}
}

// Resolve returns the first candidate for segments that exists as a
// readable regular file. When no candidate exists it returns a nil
// *Template and a nil error: a page without a template is a normal outcome
// that the renderer handles on its own.
//
// Segments that fail ValidateSegments are rejected with ErrInvalidPath
// before any file is touched.
func (r *Resolver) Resolve(ctx context.Context, segments []string) (*Template, error) {
	if err := ValidateSegments(segments); err != nil {
		return nil, err
	}
	for _, name := range Candidates(segments) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, ok := r.read(name)
		if ok {
			r.logger.Debug("Resolved template", "template", name)
			return &Template{Name: name, Content: content}, nil
		}
	}
	r.logger.Debug("No template found", "segments", len(segments))
	return nil, nil
}

// read loads name if it is a regular file. Missing files and directories
// are silently skipped; anything else unreadable is logged and skipped.
func (r *Resolver) read(name string) (string, bool) {
	info, err := fs.Stat(r.fsys, name)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid) {
			r.logger.Warn("Failed to stat template candidate", "template", name, "error", err)
		}
		return "", false
	}
	if info.IsDir() {
		return "", false
	}
	data, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		r.logger.Warn("Failed to read template candidate", "template", name, "error", err)
		return "", false
	}
	return string(data), true
}

package templating

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrIncludeNotFound is returned when an include directive names a file
	// that does not exist in the content root.
	ErrIncludeNotFound = errors.New("include not found")

	// ErrIncludeCycle is returned when an include appears in its own chain
	// of ancestors, directly or through other includes.
	ErrIncludeCycle = errors.New("include cycle detected")

	// ErrIncludeTooDeep is returned when includes nest deeper than
	// Config.MaxIncludeDepth. It is treated like a cycle by callers.
	ErrIncludeTooDeep = errors.New("include depth limit exceeded")

	// ErrTemplateTooLarge is returned when the inlined template grows past
	// Config.MaxTemplateBytes.
	ErrTemplateTooLarge = errors.New("inlined template too large")
)

// includeTag matches {% include "name" %} and {% include 'name' %}.
var includeTag = regexp.MustCompile(`\{%\s+include\s+['"]([A-Za-z0-9_\-/]+)['"]\s+%\}`)

// IncludeError describes a failed include directive. Err is one of the
// package sentinels, so callers can match with errors.Is.
type IncludeError struct {
	// Name is the include name as written in the directive.
	Name string
	// Chain lists the include names leading to Name, outermost first.
	Chain []string
	Err   error
}

func (e *IncludeError) Error() string {
	if len(e.Chain) == 0 {
		return fmt.Sprintf("include %q: %v", e.Name, e.Err)
	}
	return fmt.Sprintf("include %q (via %s): %v", e.Name, strings.Join(e.Chain, " -> "), e.Err)
}

func (e *IncludeError) Unwrap() error {
	return e.Err
}

// IsCycle reports whether err is a cycle-class inlining failure.
func IsCycle(err error) bool {
	return errors.Is(err, ErrIncludeCycle) || errors.Is(err, ErrIncludeTooDeep)
}

// HasIncludes reports whether content still contains an include directive.
func HasIncludes(content string) bool {
	return includeTag.MatchString(content)
}

// IncludePath maps an include name to its file: the last segment gets
// prefix and ext, so "partials/nav" becomes "partials/_nav.html".
func IncludePath(name, prefix, ext string) (string, error) {
	segments := strings.Split(name, "/")
	if err := ValidateSegments(segments); err != nil {
		return "", err
	}
	dir, leaf := path.Split(name)
	return dir + prefix + leaf + ext, nil
}

// Inliner assembles templates by substituting include directives with the
// content of the files they name. It is safe for concurrent use.
type Inliner struct {
	fsys   fs.FS
	config Config
	logger *slog.Logger
}

// NewInliner creates an Inliner reading include files from fsys.
func NewInliner(logger *slog.Logger, fsys fs.FS, config Config) *Inliner {
	return &Inliner{fsys: fsys, config: config.withDefaults(), logger: logger}
}

// inlineRun is the state of a single Inline call.
type inlineRun struct {
	// expanded memoises includes that have been fully inlined already.
	expanded map[string]string
	reads    int
}

// Inline replaces every include directive in content with the fully inlined
// content of its include file, until no directive remains. Content without
// directives is returned unchanged, which makes Inline idempotent.
//
// It fails with an *IncludeError wrapping ErrIncludeNotFound,
// ErrIncludeCycle, ErrIncludeTooDeep or ErrInvalidPath, or with
// ErrTemplateTooLarge; it never leaves a directive in place.
func (in *Inliner) Inline(ctx context.Context, content string) (string, error) {
	if !includeTag.MatchString(content) {
		return content, nil
	}

	run := &inlineRun{expanded: map[string]string{}}
	// Substitution can join text around a directive into a new directive,
	// so the assembled result is rescanned until it reaches a fixed point.
	for pass := 0; ; pass++ {
		if pass >= in.config.MaxIncludeDepth {
			return "", &IncludeError{Name: firstInclude(content), Err: ErrIncludeTooDeep}
		}
		out, err := in.expand(ctx, run, content, nil)
		if err != nil {
			return "", err
		}
		if !includeTag.MatchString(out) {
			in.logger.Debug("Inlined template", "includes", run.reads, "size", humanize.Bytes(uint64(len(out))))
			return out, nil
		}
		content = out
	}
}

// expand substitutes the directives of content once, inlining each include
// recursively. chain holds the include names that led to content.
func (in *Inliner) expand(ctx context.Context, run *inlineRun, content string, chain []string) (string, error) {
	matches := includeTag.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return content, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		name := content[m[2]:m[3]]
		body, err := in.include(ctx, run, name, chain)
		if err != nil {
			return "", err
		}
		b.WriteString(content[last:m[0]])
		b.WriteString(body)
		last = m[1]
		if int64(b.Len()) > in.config.MaxTemplateBytes {
			return "", ErrTemplateTooLarge
		}
	}
	b.WriteString(content[last:])
	if int64(b.Len()) > in.config.MaxTemplateBytes {
		return "", ErrTemplateTooLarge
	}
	return b.String(), nil
}

// include returns the fully inlined content of the include called name.
func (in *Inliner) include(ctx context.Context, run *inlineRun, name string, chain []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if slices.Contains(chain, name) {
		return "", &IncludeError{Name: name, Chain: slices.Clone(chain), Err: ErrIncludeCycle}
	}
	if body, ok := run.expanded[name]; ok {
		return body, nil
	}
	if len(chain) >= in.config.MaxIncludeDepth {
		return "", &IncludeError{Name: name, Chain: slices.Clone(chain), Err: ErrIncludeTooDeep}
	}

	file, err := IncludePath(name, in.config.IncludePrefix, in.config.IncludeExt)
	if err != nil {
		return "", &IncludeError{Name: name, Chain: slices.Clone(chain), Err: err}
	}
	data, err := fs.ReadFile(in.fsys, file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", &IncludeError{Name: name, Chain: slices.Clone(chain), Err: ErrIncludeNotFound}
		}
		return "", &IncludeError{Name: name, Chain: slices.Clone(chain), Err: fmt.Errorf("failed to read %s: %w", file, err)}
	}
	run.reads++

	body, err := in.expand(ctx, run, string(data), append(slices.Clone(chain), name))
	if err != nil {
		return "", err
	}
	run.expanded[name] = body
	return body, nil
}

func firstInclude(content string) string {
	if m := includeTag.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return ""
}

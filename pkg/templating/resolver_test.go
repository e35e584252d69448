package templating

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"testing/fstest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", []string{}},
		{"/", []string{}},
		{"//", []string{}},
		{"foo", []string{"foo"}},
		{"/foo/", []string{"foo"}},
		{"/a/b/c", []string{"a", "b", "c"}},
		{"//a//", []string{"", "a", ""}},
	}
	for _, tt := range tests {
		got := Normalize(tt.path)
		if !slices.Equal(got, tt.want) {
			t.Errorf("Normalize(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestValidateSegments(t *testing.T) {
	valid := [][]string{{}, {"a"}, {"blog", "post-1"}, {"a.b"}}
	for _, segs := range valid {
		if err := ValidateSegments(segs); err != nil {
			t.Errorf("ValidateSegments(%q) returned %v, want nil", segs, err)
		}
	}
	invalid := [][]string{{".."}, {"a", "..", "b"}, {"."}, {"a", ""}, {"a\\b"}, {"a\x00"}}
	for _, segs := range invalid {
		if err := ValidateSegments(segs); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("ValidateSegments(%q) returned %v, want ErrInvalidPath", segs, err)
		}
	}
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", []string{"index.html", "default.html"}},
		{"/", []string{"index.html", "default.html"}},
		{"/about", []string{"about.html", "about/index.html", "about/default.html", "default.html"}},
		{"/a/b", []string{"a/b.html", "a/b/index.html", "a/b/default.html", "a/default.html", "default.html"}},
		{"/a/b/c", []string{
			"a/b/c.html", "a/b/c/index.html", "a/b/c/default.html",
			"a/b/default.html", "a/default.html", "default.html",
		}},
	}
	for _, tt := range tests {
		got := Candidates(Normalize(tt.path))
		if !slices.Equal(got, tt.want) {
			t.Errorf("Candidates(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestResolver_Resolve(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":         {Data: []byte("home")},
		"default.html":       {Data: []byte("site default")},
		"blog/default.html":  {Data: []byte("blog default")},
		"blog/index.html":    {Data: []byte("blog index")},
		"about.html":         {Data: []byte("")},
		"docs/guide.html/x":  {Data: []byte("not a template")},
		"docs/guide/a.html":  {Data: []byte("a")},
		"shop/index.html":    {Data: []byte("shop")},
		"shop/item.html":     {Data: []byte("item")},
		"shop/item/x/y.html": {Data: []byte("deep")},
	}
	r := NewResolver(discardLogger(), fsys)

	tests := []struct {
		path     string
		wantName string
		wantBody string
	}{
		{"/", "index.html", "home"},
		{"/blog", "blog/index.html", "blog index"},
		{"/blog/post", "blog/default.html", "blog default"},
		{"/blog/2024/post", "blog/default.html", "blog default"},
		{"/about", "about.html", ""},
		{"/docs/guide", "default.html", "site default"},
		{"/shop/item", "shop/item.html", "item"},
		{"/shop/item/x/y", "shop/item/x/y.html", "deep"},
		{"/elsewhere", "default.html", "site default"},
	}
	for _, tt := range tests {
		tmpl, err := r.Resolve(context.Background(), Normalize(tt.path))
		if err != nil {
			t.Fatalf("Resolve(%q) failed: %v", tt.path, err)
		}
		if tmpl == nil {
			t.Fatalf("Resolve(%q) returned no template, want %s", tt.path, tt.wantName)
		}
		if tmpl.Name != tt.wantName || tmpl.Content != tt.wantBody {
			t.Errorf("Resolve(%q) = %s %q, want %s %q", tt.path, tmpl.Name, tmpl.Content, tt.wantName, tt.wantBody)
		}
	}
}

func TestResolver_ResolveNotFound(t *testing.T) {
	r := NewResolver(discardLogger(), fstest.MapFS{
		"other.html": {Data: []byte("x")},
	})
	tmpl, err := r.Resolve(context.Background(), Normalize("/about"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if tmpl != nil {
		t.Errorf("expected no template, got %s", tmpl.Name)
	}
}

func TestResolver_RejectsTraversal(t *testing.T) {
	r := NewResolver(discardLogger(), fstest.MapFS{"default.html": {Data: []byte("x")}})
	for _, p := range []string{"/../etc/passwd", "/a/../../b", "/a//b"} {
		if _, err := r.Resolve(context.Background(), Normalize(p)); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("Resolve(%q) returned %v, want ErrInvalidPath", p, err)
		}
	}
}

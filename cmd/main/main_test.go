package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCandidatesCommand(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"blog/default.html": "blog",
		"default.html":      "site",
	})
	configPath := filepath.Join(t.TempDir(), "frond.json")

	out, err := execute(t, "candidates", "/blog/post", "--root", root, "--config", configPath)
	if err != nil {
		t.Fatalf("candidates failed: %v", err)
	}
	want := strings.Join([]string{
		"/blog/post (page)",
		"  blog/post.html",
		"  blog/post/index.html",
		"  blog/post/default.html",
		"* blog/default.html",
		"* default.html",
		"",
	}, "\n")
	if out != want {
		t.Errorf("candidates output:\n%s\nwant:\n%s", out, want)
	}
	if _, err := os.Stat(configPath); !os.IsNotExist(err) {
		t.Error("candidates created a config file")
	}

	if _, err := execute(t, "candidates", "/a/../b", "--root", root, "--config", configPath); err == nil {
		t.Error("candidates accepted a traversal path")
	}
}

func TestInlineCommand(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"default.html":       "<body>{% include 'partials/nav' %}</body>",
		"partials/_nav.html": "<nav>{% include \"brand\" %}</nav>",
		"_brand.html":        "Frond",
		"loop.html":          "{% include 'loop' %}",
		"_loop.html":         "{% include 'loop' %}",
		"missing.html":       "{% include 'nope' %}",
	})
	configPath := filepath.Join(t.TempDir(), "frond.json")

	out, err := execute(t, "inline", "/default.html", "--root", root, "--config", configPath)
	if err != nil {
		t.Fatalf("inline failed: %v", err)
	}
	if out != "<body><nav>Frond</nav></body>" {
		t.Errorf("inline output = %q", out)
	}

	for _, name := range []string{"loop.html", "missing.html", "absent.html", "../etc/passwd"} {
		if _, err := execute(t, "inline", name, "--root", root, "--config", configPath); err == nil {
			t.Errorf("inline %s succeeded, want error", name)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--short")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out) != Version {
		t.Errorf("version --short = %q, want %q", out, Version)
	}

	out, err = execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "frond "+Version) || !strings.Contains(out, "Go version:") {
		t.Errorf("unexpected version output:\n%s", out)
	}
}

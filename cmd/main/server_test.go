package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/CTAG07/Frond/pkg/livereload"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
}

// fakeSiteleaf serves the two API endpoints for site-1 plus a CDN path the
// resolved assets point at.
func fakeSiteleaf(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("GET /v1/sites/site-1/resolve", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "/assets/logo.png" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"file":{"url":"`+srv.URL+`/cdn/logo.png","filename":"logo.png"}}`)
	})
	mux.HandleFunc("POST /v1/sites/site-1/preview", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm failed: %v", err)
		}
		if r.PostForm.Get("url") == "/gone" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, ok := r.PostForm["template"]; ok {
			io.WriteString(w, r.PostForm.Get("template"))
			return
		}
		io.WriteString(w, "<html><body>site default</body></html>")
	})
	mux.HandleFunc("GET /cdn/logo.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		io.WriteString(w, "PNGDATA")
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testServer struct {
	*Server
	root       string
	actionChan chan string
}

func newTestServer(t *testing.T, configure func(*Config)) *testServer {
	t.Helper()
	api := fakeSiteleaf(t)

	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"index.html":         `<html><body>home {% include "footer" %}</body></html>`,
		"_footer.html":       `<footer>{% include "partials/nav" %}</footer>`,
		"partials/_nav.html": `<nav>NAV</nav>`,
		"blog/default.html":  `<html><body>blog layout</body></html>`,
		"loop.html":          `{% include "loop" %}`,
		"_loop.html":         `{% include "loop" %}`,
		"robots.txt":         "User-agent: *\n",
	})

	cm, err := NewConfigManager(filepath.Join(root, "frond.json"))
	if err != nil {
		t.Fatalf("NewConfigManager failed: %v", err)
	}
	cm.SetLogger(discardLogger())

	config := cm.Get().Apply(Overrides{SiteID: "site-1", ContentRoot: root})
	site := *config.Site
	site.API.APIBase = api.URL + "/v1"
	config.Site = &site
	reload := *config.Reload
	reload.Enabled = false
	config.Reload = &reload
	if configure != nil {
		configure(&config)
	}

	db, err := initDB(filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("initDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := setupStatsSchema(db); err != nil {
		t.Fatalf("setupStatsSchema failed: %v", err)
	}

	actionChan := make(chan string, 1)
	server, err := NewServer(context.Background(), cm, config, discardLogger(), db, nil, actionChan)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Close() })
	return &testServer{Server: server, root: root, actionChan: actionChan}
}

func do(t *testing.T, h http.Handler, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPreviewRouting(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.PreviewHandler()

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"page with nested includes", http.MethodGet, "/", http.StatusOK, "home <footer><nav>NAV</nav></footer>"},
		{"cascade to parent default", http.MethodGet, "/blog/hello", http.StatusOK, "blog layout"},
		{"page without template", http.MethodGet, "/about", http.StatusOK, "site default"},
		{"page without content", http.MethodGet, "/gone", http.StatusNotFound, ""},
		{"static file", http.MethodGet, "/robots.txt", http.StatusOK, "User-agent: *"},
		{"remote asset", http.MethodGet, "/assets/logo.png", http.StatusOK, "PNGDATA"},
		{"missing asset", http.MethodGet, "/assets/nope.png", http.StatusNotFound, ""},
		{"config file is not served", http.MethodGet, "/frond.json", http.StatusNotFound, ""},
		{"include cycle", http.MethodGet, "/loop", http.StatusLoopDetected, "include"},
		{"empty segment", http.MethodGet, "/a//b", http.StatusBadRequest, ""},
		{"post rejected", http.MethodPost, "/", http.StatusMethodNotAllowed, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.wantBody)
			}
			if rec.Header().Get(RequestIDHeader) == "" {
				t.Error("response has no request id")
			}
		})
	}
}

func TestPreviewRouting_LiveReloadInjection(t *testing.T) {
	s := newTestServer(t, func(c *Config) {
		reload := *c.Reload
		reload.Enabled = true
		c.Reload = &reload
	})

	rec := do(t, s.PreviewHandler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, livereload.DefaultPath) || !strings.HasSuffix(body, "</body></html>") {
		t.Errorf("reload script not injected before </body>: %q", body)
	}

	rec = do(t, s.PreviewHandler(), http.MethodGet, "/robots.txt", nil)
	if strings.Contains(rec.Body.String(), livereload.DefaultPath) {
		t.Error("static file was rewritten")
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAdminStats(t *testing.T) {
	s := newTestServer(t, nil)
	for _, p := range []string{"/", "/", "/", "/about", "/assets/nope.png"} {
		do(t, s.PreviewHandler(), http.MethodGet, p, nil)
	}

	rec := do(t, s.AdminHandler(), http.MethodGet, "/api/stats/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d: %s", rec.Code, rec.Body.String())
	}
	summary := decode[GlobalStatsSummary](t, rec)
	if summary.TotalRequests != 5 || summary.UniquePaths != 3 || summary.ErrorRequests != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.TotalBytes == 0 || summary.TotalSize == "" {
		t.Errorf("bytes were not recorded: %+v", summary)
	}

	rec = do(t, s.AdminHandler(), http.MethodGet, "/api/stats/top_paths?limit=2", nil)
	top := decode[[]PathStats](t, rec)
	if len(top) != 2 {
		t.Fatalf("top_paths returned %d rows, want 2", len(top))
	}
	if top[0].Path != "/" || top[0].TotalHits != 3 || top[0].Kind != "page" || top[0].LastTemplate != "index.html" {
		t.Errorf("unexpected top path: %+v", top[0])
	}
}

func TestAdminTemplates(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.AdminHandler()

	rec := do(t, h, http.MethodGet, "/api/templates/candidates?path=/blog/hello", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("candidates status = %d: %s", rec.Code, rec.Body.String())
	}
	report := decode[CandidatesReport](t, rec)
	want := []string{"blog/hello.html", "blog/hello/index.html", "blog/hello/default.html", "blog/default.html", "default.html"}
	if len(report.Candidates) != len(want) {
		t.Fatalf("candidates = %+v, want %v", report.Candidates, want)
	}
	for i, c := range report.Candidates {
		if c.Name != want[i] {
			t.Errorf("candidate %d = %q, want %q", i, c.Name, want[i])
		}
		if c.Exists != (c.Name == "blog/default.html") {
			t.Errorf("candidate %s exists = %v", c.Name, c.Exists)
		}
	}

	rec = do(t, h, http.MethodGet, "/api/templates/candidates?path=/a/../b", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("dot segment candidates status = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/api/templates/resolve?path=/&content=1", nil)
	resolved := decode[ResolveReport](t, rec)
	if resolved.Template == nil || *resolved.Template != "index.html" || !resolved.Includes {
		t.Errorf("unexpected resolve report: %+v", resolved)
	}
	if !strings.Contains(resolved.Content, "<nav>NAV</nav>") || resolved.Bytes != len(resolved.Content) {
		t.Errorf("content not inlined: %+v", resolved)
	}

	rec = do(t, h, http.MethodGet, "/api/templates/resolve?path=/nothing/here", nil)
	if resolved := decode[ResolveReport](t, rec); resolved.Template != nil {
		t.Errorf("expected no template, got %q", *resolved.Template)
	}

	rec = do(t, h, http.MethodGet, "/api/templates/resolve?path=/loop", nil)
	if rec.Code != http.StatusLoopDetected {
		t.Errorf("cycle resolve status = %d, want 508", rec.Code)
	}
}

func TestAdminServer(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.AdminHandler()

	rec := do(t, h, http.MethodGet, "/api/health", nil)
	if health := decode[HealthInfo](t, rec); health.Status != "ok" || health.SiteID != "site-1" {
		t.Errorf("unexpected health: %+v", health)
	}

	rec = do(t, h, http.MethodGet, "/api/server/version", nil)
	if v := decode[VersionInfo](t, rec); v.Version != Version {
		t.Errorf("unexpected version: %+v", v)
	}

	rec = do(t, h, http.MethodPut, "/api/server/config", strings.NewReader(`{"site_config":{"site_id":""}}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("config without site status = %d, want 400", rec.Code)
	}
	rec = do(t, h, http.MethodPut, "/api/server/config", strings.NewReader(`not json`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid json status = %d, want 400", rec.Code)
	}
	rec = do(t, h, http.MethodPut, "/api/server/config", strings.NewReader(`{"site_config":{"site_id":"site-2"}}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("config update status = %d: %s", rec.Code, rec.Body.String())
	}
	reloaded, err := LoadConfig(filepath.Join(s.root, "frond.json"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if reloaded.Site.SiteID != "site-2" {
		t.Errorf("saved site id = %q, want site-2", reloaded.Site.SiteID)
	}

	rec = do(t, h, http.MethodDelete, "/api/health", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE health status = %d, want 405", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/nope", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("unknown route = %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/server/restart", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("restart status = %d", rec.Code)
	}
	if action := <-s.actionChan; action != actionRestart {
		t.Errorf("action = %q, want %q", action, actionRestart)
	}
}

func TestAdminCacheAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.AdminHandler()

	do(t, s.PreviewHandler(), http.MethodGet, "/assets/logo.png", nil)

	rec := do(t, h, http.MethodDelete, "/api/cache?path=/assets/logo.png", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("invalidate status = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/api/cache", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalidate without path status = %d, want 400", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/cache/purge", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("purge status = %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics endpoint returned %d", rec.Code)
	}
}

func TestOpenCache(t *testing.T) {
	db, err := initDB(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("initDB failed: %v", err)
	}
	defer db.Close()

	for _, backend := range []string{"", "memory", "none", "sqlite"} {
		cfg := DefaultConfig().Cache
		cfg.Backend = backend
		c, closeFn, err := openCache(context.Background(), *cfg, db)
		if err != nil || c == nil {
			t.Errorf("openCache(%q) = %v, %v", backend, c, err)
		}
		if closeFn != nil {
			t.Errorf("openCache(%q) returned a close function", backend)
		}
	}
	cfg := DefaultConfig().Cache
	cfg.Backend = "memcached"
	if _, _, err := openCache(context.Background(), *cfg, db); err == nil {
		t.Error("unknown backend accepted")
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CTAG07/Frond/pkg/assetcache"
	"github.com/CTAG07/Frond/pkg/livereload"
	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/CTAG07/Frond/pkg/remote"
	"github.com/CTAG07/Frond/pkg/siteleaf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const cacheSweepInterval = time.Minute

// Server owns everything one server cycle needs: the preview handler, the
// admin API and the background workers.
type Server struct {
	config      Config
	logger      *slog.Logger
	db          *sql.DB
	cache       assetcache.Cache
	closeCache  func() error
	site        *siteleaf.Cached
	preview     *preview.Handler
	reload      *livereload.Server
	watcher     *livereload.Watcher
	statsAPI    *StatsAPI
	serverAPI   *ServerAPI
	templateAPI *TemplateAPI
	previewMux  chi.Router
	adminMux    chi.Router
}

func NewServer(ctx context.Context, cm *ConfigManager, config Config, logger *slog.Logger, db *sql.DB, metrics *preview.Metrics, actionChan chan string) (*Server, error) {
	info, err := os.Stat(config.Server.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open content root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("content root %s is not a directory", config.Server.ContentRoot)
	}
	root := os.DirFS(config.Server.ContentRoot)

	client, err := siteleaf.NewClient(config.Site.API,
		siteleaf.WithLogger(logger),
		siteleaf.WithUserAgent("frond/"+Version))
	if err != nil {
		return nil, fmt.Errorf("failed to create siteleaf client: %w", err)
	}

	cache, closeCache, err := openCache(ctx, *config.Cache, db)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset cache: %w", err)
	}
	site := siteleaf.NewCached(client, cache, config.Cache.TTL(), logger)

	fetcher := remote.NewMux().
		Handle(remote.NewHTTPFetcher(*config.Fetch, nil, logger), "http", "https").
		Handle(remote.NewS3Fetcher(remote.NewS3Client(config.Fetch.S3), config.Fetch.MaxBytes, logger), "s3")

	statsAPI := NewStatsAPI(db, logger)

	opts := preview.Options{
		Site:         preview.SiteRef{ID: config.Site.SiteID},
		Templates:    *config.Templates,
		FetchTimeout: time.Duration(config.Fetch.TimeoutSec) * time.Second,
		MaxInFlight:  int64(config.Server.MaxInFlight),
		QueueTimeout: time.Duration(config.Server.QueueTimeoutMs) * time.Millisecond,
		Hidden:       hiddenFiles(config.Server.ContentRoot, cm.Path(), config.Server.StatsDatabasePath),
		Observers:    []func(context.Context, preview.Outcome){statsAPI.Observe},
		Metrics:      metrics,
		Logger:       logger,
	}

	server := &Server{
		config:     config,
		logger:     logger,
		db:         db,
		cache:      cache,
		closeCache: closeCache,
		site:       site,
		statsAPI:   statsAPI,
	}

	var clients func() int
	if config.Reload.Enabled {
		server.reload = livereload.NewServer(logger)
		server.watcher = livereload.NewWatcher(root, *config.Reload)
		server.watcher.OnChange(server.reload.NotifyChanges)
		opts.Transform = livereload.Inject
		clients = server.reload.ClientCount
	}

	server.preview = preview.NewHandler(site, fetcher, root, opts)
	server.templateAPI = NewTemplateAPI(root, *config.Templates, logger)
	server.serverAPI = NewServerAPI(cm, config, actionChan, clients, logger)

	server.previewMux = chi.NewRouter()
	server.previewMux.Use(withRequestID, accessLog(logger, cm), middleware.Recoverer)
	if server.reload != nil {
		server.previewMux.Handle(livereload.DefaultPath, server.reload)
	}
	server.previewMux.Handle("/*", server.preview)

	server.adminMux = chi.NewRouter()
	server.adminMux.Use(withRequestID, accessLog(logger, cm), middleware.Recoverer)
	server.adminMux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "Not Found")
	})
	server.adminMux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	server.serverAPI.RegisterRoutes(server.adminMux)
	server.statsAPI.RegisterRoutes(server.adminMux)
	server.templateAPI.RegisterRoutes(server.adminMux)
	server.adminMux.Post("/api/cache/purge", server.handlePurgeCache)
	server.adminMux.Delete("/api/cache", server.handleInvalidate)
	server.adminMux.Handle("/metrics", promhttp.Handler())

	return server, nil
}

// PreviewHandler serves the previewed site.
func (s *Server) PreviewHandler() http.Handler {
	return s.previewMux
}

// AdminHandler serves the admin API and metrics.
func (s *Server) AdminHandler() http.Handler {
	return s.adminMux
}

// Run drives the background workers until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.watcher != nil {
		g.Go(func() error {
			s.logger.Info("Watching content root for changes", "root", s.config.Server.ContentRoot)
			return s.watcher.Run(ctx)
		})
	}
	g.Go(func() error {
		s.sweepCache(ctx)
		return nil
	})
	return g.Wait()
}

// Close disconnects reload clients and releases the cache.
func (s *Server) Close() error {
	if s.reload != nil {
		s.reload.Close()
	}
	if s.closeCache != nil {
		return s.closeCache()
	}
	return nil
}

// sweepCache drops expired entries from caches that keep them around.
func (s *Server) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		switch c := s.cache.(type) {
		case *assetcache.Memory:
			if n := c.Sweep(); n > 0 {
				s.logger.Debug("Swept asset cache", "removed", n)
			}
		case *assetcache.SQLite:
			n, err := c.Sweep(ctx)
			if err != nil {
				s.logger.Warn("Failed to sweep asset cache", "error", err)
			} else if n > 0 {
				s.logger.Debug("Swept asset cache", "removed", n)
			}
		}
	}
}

func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Purge(r.Context()); err != nil {
		s.logger.Error("Failed to purge asset cache", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to purge asset cache: %v", err))
		return
	}
	s.logger.Info("Asset cache purged via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleInvalidate forgets the cached asset lookup for ?path=.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Query().Get("path")
	if urlPath == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'path' is required")
		return
	}
	if err := s.site.Invalidate(r.Context(), s.preview.Site(), urlPath); err != nil {
		s.logger.Error("Failed to invalidate cached asset", "path", urlPath, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to invalidate cached asset: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// openCache builds the configured asset cache. The returned close function
// may be nil.
func openCache(ctx context.Context, cfg assetcache.Config, db *sql.DB) (assetcache.Cache, func() error, error) {
	switch strings.ToLower(cfg.Backend) {
	case "none":
		return assetcache.Nop{}, nil, nil
	case "sqlite":
		c, err := assetcache.NewSQLite(db)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	case "redis":
		c, err := assetcache.DialRedis(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	case "", "memory":
		return assetcache.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// hiddenFiles returns the content-root relative names of files that must
// never be served statically. Paths outside the root are skipped, and
// database paths also hide their journal files.
func hiddenFiles(contentRoot string, configPath, databasePath string) []string {
	absRoot, err := filepath.Abs(contentRoot)
	if err != nil {
		return nil
	}
	var hidden []string
	add := func(p string, suffixes ...string) {
		if p == "" {
			return
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}
		rel = filepath.ToSlash(rel)
		hidden = append(hidden, rel)
		for _, suffix := range suffixes {
			hidden = append(hidden, rel+suffix)
		}
	}
	add(configPath)
	add(databaseFile(databasePath), "-wal", "-shm", "-journal")
	return hidden
}

// databaseFile strips the driver options and file: prefix from a SQLite
// data source name.
func databaseFile(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	if dsn == ":memory:" {
		return ""
	}
	return dsn
}

// ensureDataDir creates the directory holding the local database.
func ensureDataDir(config *ServerConfig) error {
	dir := config.DataDir
	if dir == "" {
		dir = filepath.Dir(databaseFile(config.StatsDatabasePath))
	}
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

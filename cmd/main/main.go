package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/Frond/pkg/preview"
	"github.com/CTAG07/Frond/pkg/templating"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var overrides Overrides

	rootCmd := &cobra.Command{
		Use:   "frond",
		Short: "Preview a Siteleaf site from local templates",
		Long: `Frond serves a Siteleaf site using the templates in a local directory.

Pages are rendered by the Siteleaf API with the closest matching local
template, assets are proxied from the site and files that exist locally
are served as they are.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, overrides)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", DefaultConfigPath, "Path to the configuration file")
	addServeFlags(rootCmd, &overrides)

	rootCmd.AddCommand(
		serveCmd(&configPath),
		candidatesCmd(&configPath),
		inlineCmd(&configPath),
		versionCmd(),
	)
	return rootCmd
}

func addServeFlags(cmd *cobra.Command, o *Overrides) {
	cmd.Flags().StringVar(&o.SiteID, "site", "", "Siteleaf site id (overrides site_config.site_id)")
	cmd.Flags().StringVar(&o.ContentRoot, "root", "", "Content root holding the templates (overrides server_config.content_root)")
	cmd.Flags().StringVar(&o.PreviewAddr, "addr", "", "Preview listen address (overrides server_config.preview_addr)")
}

func serveCmd(configPath *string) *cobra.Command {
	var overrides Overrides
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the preview server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, overrides)
		},
	}
	addServeFlags(cmd, &overrides)
	return cmd
}

func candidatesCmd(configPath *string) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "candidates <path>",
		Short: "List the templates tried for a URL path, in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := offlineTemplateAPI(*configPath, root)
			if err != nil {
				return err
			}
			report, err := api.Candidates(args[0])
			if err != nil {
				return err
			}
			return printCandidates(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Content root (overrides server_config.content_root)")
	return cmd
}

func printCandidates(w io.Writer, report *CandidatesReport) error {
	fmt.Fprintf(w, "%s (%s)\n", report.Path, report.Kind)
	for _, c := range report.Candidates {
		mark := " "
		if c.Exists {
			mark = "*"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", mark, c.Name); err != nil {
			return err
		}
	}
	return nil
}

func inlineCmd(configPath *string) *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "inline <file>",
		Short: "Print a template with its includes inlined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := offlineTemplateAPI(*configPath, root)
			if err != nil {
				return err
			}
			name := templating.Strip(args[0])
			content, err := readTemplate(api, name)
			if err != nil {
				return err
			}
			out, err := api.inliner.Inline(cmd.Context(), content)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Content root (overrides server_config.content_root)")
	return cmd
}

func readTemplate(api *TemplateAPI, name string) (string, error) {
	if err := templating.ValidateSegments(templating.Normalize(name)); err != nil {
		return "", err
	}
	data, err := fs.ReadFile(api.root, name)
	if err != nil {
		return "", fmt.Errorf("failed to read template: %w", err)
	}
	return string(data), nil
}

// offlineTemplateAPI builds the template diagnostics for CLI use. The
// config file is read if present but never created.
func offlineTemplateAPI(configPath, root string) (*TemplateAPI, error) {
	config := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if config, err = LoadConfig(configPath); err != nil {
			return nil, err
		}
	}
	if root == "" {
		root = config.Server.ContentRoot
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return NewTemplateAPI(os.DirFS(root), *config.Templates, logger), nil
}

func versionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(w, Version)
				return
			}
			fmt.Fprintf(w, "frond %s\n", Version)
			fmt.Fprintf(w, "  Commit:     %s\n", Commit)
			fmt.Fprintf(w, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
	cmd.Flags().BoolVarP(&short, "short", "s", false, "Print only the version number")
	return cmd
}

// serve runs server cycles until a shutdown is requested.
func serve(configPath string, overrides Overrides) error {
	baseLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	// Collectors register once per process; every cycle shares them.
	metrics := preview.NewMetrics()

	for {
		action, err := run(configPath, overrides, metrics, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}

		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Frond has shut down.")
	return nil
}

func newLogger(config *ServerConfig) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(config.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if strings.EqualFold(config.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// run hosts both servers for one cycle and returns whenever the server is
// shut down or restarted.
func run(configPath string, overrides Overrides, metrics *preview.Metrics, actionChan chan string) (string, error) {
	cm, err := NewConfigManager(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}
	config := cm.Get().Apply(overrides)
	if err = config.Validate(); err != nil {
		return "", err
	}

	logger := newLogger(config.Server)
	cm.SetLogger(logger)
	logger.Info("Starting server cycle...", "site", config.Site.SiteID, "root", config.Server.ContentRoot)

	if err = ensureDataDir(config.Server); err != nil {
		return "", err
	}
	db, err := initDB(config.Server.StatsDatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	if err = setupStatsSchema(db); err != nil {
		logger.Error("Failed to setup stats schema", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(ctx, cm, config, logger, db, metrics, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	previewHttpServer := &http.Server{Addr: config.Server.PreviewAddr, Handler: server.PreviewHandler()}
	adminHttpServer := &http.Server{Addr: config.Server.AdminAddr, Handler: server.AdminHandler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting admin server", "address", adminHttpServer.Addr)
		if err := adminHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting Frond preview server", "address", previewHttpServer.Addr)
		if err := previewHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("preview server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	// Block until the API or an OS signal sends an action, or a server dies.
	var action string
	select {
	case action = <-actionChan:
	case <-gctx.Done():
		action = actionShutdown
	}

	logger.Info("Stopping servers for " + action + "...")
	timeout := time.Duration(config.Server.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err = adminHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", "error", err)
	}
	if err = previewHttpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Preview server shutdown failed", "error", err)
	}
	cancel()
	runErr := g.Wait()
	logger.Info("HTTP servers stopped.")

	if err = server.Close(); err != nil {
		logger.Error("Failed to close asset cache", "error", err)
	}
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", "error", err)
	}

	if runErr != nil {
		return "", runErr
	}
	return action, nil
}

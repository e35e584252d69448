package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/CTAG07/Frond/pkg/assetcache"
	"github.com/CTAG07/Frond/pkg/livereload"
	"github.com/CTAG07/Frond/pkg/remote"
	"github.com/CTAG07/Frond/pkg/siteleaf"
	"github.com/CTAG07/Frond/pkg/templating"
	"github.com/natefinch/atomic"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "frond.json"

var (
	// ErrNoSite is returned by Validate when no site identifier is configured.
	ErrNoSite = errors.New("no site configured: set site_config.site_id or pass --site")

	// ErrInvalidConfig wraps every Validate failure reported by Update.
	ErrInvalidConfig = errors.New("configuration rejected")
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	PreviewAddr        string   `json:"preview_addr"`
	AdminAddr          string   `json:"admin_addr"`
	LogLevel           string   `json:"log_level"`
	LogFormat          string   `json:"log_format"`
	TrustedProxies     []string `json:"trusted_proxies"`
	ContentRoot        string   `json:"content_root"`
	DataDir            string   `json:"data_dir"`
	StatsDatabasePath  string   `json:"stats_database_path"`
	MaxInFlight        int      `json:"max_in_flight"`
	QueueTimeoutMs     int      `json:"queue_timeout_ms"`
	ShutdownTimeoutSec int      `json:"shutdown_timeout_sec"`
}

// SiteConfig names the previewed site and the API serving it.
type SiteConfig struct {
	SiteID string          `json:"site_id"`
	API    siteleaf.Config `json:"api"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server    *ServerConfig      `json:"server_config"`
	Site      *SiteConfig        `json:"site_config"`
	Templates *templating.Config `json:"template_config"`
	Fetch     *remote.Config     `json:"fetch_config"`
	Cache     *assetcache.Config `json:"cache_config"`
	Reload    *livereload.Config `json:"reload_config"`
}

// Overrides are command line values that replace file values for the
// lifetime of the process without being written back.
type Overrides struct {
	SiteID      string
	ContentRoot string
	PreviewAddr string
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		PreviewAddr:        ":4000",
		AdminAddr:          "127.0.0.1:4001",
		LogLevel:           "info",
		LogFormat:          "text",
		TrustedProxies:     []string{},
		ContentRoot:        ".",
		DataDir:            "./.frond",
		StatsDatabasePath:  "./.frond/frond.db?_journal_mode=WAL&_busy_timeout=5000",
		MaxInFlight:        64,
		QueueTimeoutMs:     5000,
		ShutdownTimeoutSec: 10,
	}
}

// DefaultSiteConfig points at the public API with no site selected.
func DefaultSiteConfig() *SiteConfig {
	return &SiteConfig{API: siteleaf.DefaultConfig()}
}

// DefaultConfig returns a Config with every section set to its defaults.
func DefaultConfig() *Config {
	templates := templating.DefaultConfig()
	fetch := remote.DefaultConfig()
	cache := assetcache.DefaultConfig()
	reload := livereload.DefaultConfig()
	return &Config{
		Server:    DefaultServerConfig(),
		Site:      DefaultSiteConfig(),
		Templates: &templates,
		Fetch:     &fetch,
		Cache:     &cache,
		Reload:    &reload,
	}
}

// LoadConfig reads the configuration from a JSON file at the given path.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	file, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			var data []byte
			data, err = json.MarshalIndent(config, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// The server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.fillMissing()

	return config, nil
}

// fillMissing replaces sections a config file set to null.
func (c *Config) fillMissing() {
	def := DefaultConfig()
	if c.Server == nil {
		c.Server = def.Server
	}
	if c.Site == nil {
		c.Site = def.Site
	}
	if c.Templates == nil {
		c.Templates = def.Templates
	}
	if c.Fetch == nil {
		c.Fetch = def.Fetch
	}
	if c.Cache == nil {
		c.Cache = def.Cache
	}
	if c.Reload == nil {
		c.Reload = def.Reload
	}
}

// Apply returns a copy of c with the non-empty overrides applied. The
// sections it touches are copied so c itself is left alone.
func (c Config) Apply(o Overrides) Config {
	if o.ContentRoot != "" || o.PreviewAddr != "" {
		server := *c.Server
		if o.ContentRoot != "" {
			server.ContentRoot = o.ContentRoot
		}
		if o.PreviewAddr != "" {
			server.PreviewAddr = o.PreviewAddr
		}
		c.Server = &server
	}
	if o.SiteID != "" {
		site := *c.Site
		site.SiteID = o.SiteID
		c.Site = &site
	}
	return c
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.Server == nil || c.Site == nil || c.Templates == nil || c.Fetch == nil || c.Cache == nil || c.Reload == nil {
		return errors.New("config is missing a section")
	}
	if strings.TrimSpace(c.Site.SiteID) == "" {
		return ErrNoSite
	}
	if c.Server.PreviewAddr == "" || c.Server.AdminAddr == "" {
		return errors.New("server_config needs both preview_addr and admin_addr")
	}
	switch strings.ToLower(c.Cache.Backend) {
	case "", "none", "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetLogger sets the logger.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Path returns the file the configuration is persisted to.
func (cm *ConfigManager) Path() string {
	return cm.configPath
}

// Get returns a thread-safe copy of the current configuration.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return *cm.config
}

// Update validates the configuration, saves it to disk and refreshes
// derived state. Running servers keep their settings until the next
// restart.
func (cm *ConfigManager) Update(newConfig Config) error {
	newConfig.fillMissing()
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	cm.refreshCache()
	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}

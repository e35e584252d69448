package siteleaf

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/CTAG07/Frond/pkg/assetcache"
	"github.com/CTAG07/Frond/pkg/preview"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a coalesced lookup once it is detached from the
// request that started it.
const lookupTimeout = 30 * time.Second

type cachedAsset struct {
	Asset   *preview.Asset `json:"asset,omitempty"`
	Missing bool           `json:"missing,omitempty"`
}

var _ preview.Site = (*Cached)(nil)

// Cached decorates a Site with an asset lookup cache. Concurrent lookups of
// the same asset share one upstream call, and not-found answers are cached
// too. Page renders always go upstream.
type Cached struct {
	site   preview.Site
	cache  assetcache.Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCached wraps site. A nil cache disables caching but keeps coalescing.
func NewCached(site preview.Site, cache assetcache.Cache, ttl time.Duration, logger *slog.Logger) *Cached {
	if cache == nil {
		cache = assetcache.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{site: site, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(site preview.SiteRef, urlPath string) string {
	return site.ID + ":" + urlPath
}

func (c *Cached) ResolveAsset(ctx context.Context, site preview.SiteRef, urlPath string) (*preview.Asset, error) {
	key := cacheKey(site, urlPath)
	if entry, ok := c.lookup(ctx, key); ok {
		return entry.result()
	}

	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		asset, err := c.site.ResolveAsset(lctx, site, urlPath)
		if err == nil && asset == nil {
			err = preview.ErrAssetNotFound
		}
		switch {
		case err == nil:
			c.store(lctx, key, cachedAsset{Asset: asset})
		case errors.Is(err, preview.ErrAssetNotFound):
			c.store(lctx, key, cachedAsset{Missing: true})
		}
		return asset, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		asset := *res.Val.(*preview.Asset)
		return &asset, nil
	}
}

func (c *Cached) RenderPage(ctx context.Context, site preview.SiteRef, urlPath string, template *string) (*preview.Page, error) {
	return c.site.RenderPage(ctx, site, urlPath, template)
}

// Invalidate drops the cached lookup for urlPath.
func (c *Cached) Invalidate(ctx context.Context, site preview.SiteRef, urlPath string) error {
	return c.cache.Delete(ctx, cacheKey(site, urlPath))
}

func (c *Cached) lookup(ctx context.Context, key string) (cachedAsset, bool) {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, assetcache.ErrMiss) {
			c.logger.Warn("Asset cache read failed", "key", key, "error", err)
		}
		return cachedAsset{}, false
	}
	var entry cachedAsset
	if err := json.Unmarshal(data, &entry); err != nil || (entry.Asset == nil && !entry.Missing) {
		c.logger.Warn("Dropping corrupt asset cache entry", "key", key)
		_ = c.cache.Delete(ctx, key)
		return cachedAsset{}, false
	}
	return entry, true
}

func (c *Cached) store(ctx context.Context, key string, entry cachedAsset) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Asset cache write failed", "key", key, "error", err)
	}
}

func (e cachedAsset) result() (*preview.Asset, error) {
	if e.Missing {
		return nil, preview.ErrAssetNotFound
	}
	asset := *e.Asset
	return &asset, nil
}

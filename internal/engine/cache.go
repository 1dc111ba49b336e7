package engine

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"muhost/internal/checkpoint"
	"muhost/internal/imaging"
)

const defaultOOMRetryTile = 128

// Identity decides engine reuse; any difference triggers a reload.
type Identity struct {
	Path    string `json:"path"`
	Scale   int    `json:"scale"`
	Quality string `json:"quality"`
}

// Adapter turns a catalog checkpoint into a loadable one.
type Adapter interface {
	Adapt(src string) (checkpoint.Adapted, error)
}

// CacheConfig wires a Cache. Zero values get package defaults.
type CacheConfig struct {
	Backend      Backend
	Adapter      Adapter
	UseFP16      bool
	OOMRetryTile int
}

// Cache owns the single resident engine. The mutex is held across ensure and
// inference, so requests run one at a time and an engine is never swapped
// while in use.
type Cache struct {
	mu      sync.Mutex
	backend Backend
	adapter Adapter
	cur     Engine
	ident   Identity
	// specPath is the adapted checkpoint the resident engine was built from.
	specPath string
	loaded   bool
	tile    int
	fp16    bool

	settingsMu sync.RWMutex
	resident   atomic.Pointer[Identity]

	loads  atomic.Uint64
	reuses atomic.Uint64
}

// NewCache builds an empty cache.
func NewCache(cfg CacheConfig) *Cache {
	c := &Cache{backend: cfg.Backend, adapter: cfg.Adapter, fp16: cfg.UseFP16, tile: cfg.OOMRetryTile}
	if c.backend == nil {
		c.backend = NoopBackend{}
	}
	if c.tile <= 0 {
		c.tile = defaultOOMRetryTile
	}
	return c
}

// SetTunables updates precision and OOM retry tile. The resident engine keeps
// its profile until the next reload.
func (c *Cache) SetTunables(useFP16 bool, oomTile int) {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	c.fp16 = useFP16
	if oomTile > 0 {
		c.tile = oomTile
	} else {
		c.tile = defaultOOMRetryTile
	}
}

func (c *Cache) tunables() (bool, int) {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.fp16, c.tile
}

// Backend returns the configured backend.
func (c *Cache) Backend() Backend { return c.backend }

// Loads counts engine builds, including OOM retries.
func (c *Cache) Loads() uint64 { return c.loads.Load() }

// Reuses counts requests served by an already resident engine.
func (c *Cache) Reuses() uint64 { return c.reuses.Load() }

// Current returns the resident identity, if any. It does not wait for an
// in-flight inference.
func (c *Cache) Current() (Identity, bool) {
	if p := c.resident.Load(); p != nil {
		return *p, true
	}
	return Identity{}, false
}

// Run enhances img with the engine for ident and returns an image of exactly
// source size × outScale. On out-of-memory it reloads once with a bounded
// tile and retries. Once the engine lock is held, load and inference run to
// completion: cancellation of ctx is not propagated to the backend.
func (c *Cache) Run(ctx context.Context, ident Identity, img image.Image, outScale int) (image.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	fp16, tile := c.tunables()
	eng, err := c.ensure(ctx, ident, ProfileFor(ident.Quality, fp16), "switch")
	if err != nil {
		return nil, err
	}
	out, err := c.infer(ctx, eng, img, outScale)
	if IsOutOfMemory(err) {
		zlog.Warn().Err(err).Str("model", ident.Path).Int("tile", tile).Msg("engine out of memory; retrying with bounded tile")
		c.drop()
		eng, err = c.ensure(ctx, ident, ProfileFor(ident.Quality, fp16).bounded(tile), "oom_retry")
		if err != nil {
			return nil, err
		}
		out, err = c.infer(ctx, eng, img, outScale)
	}
	if err != nil {
		return nil, err
	}
	w, h := imaging.ScaledSize(img, outScale)
	if b := out.Bounds(); b.Dx() != w || b.Dy() != h {
		out = imaging.Resize(out, w, h)
	}
	return out, nil
}

func (c *Cache) infer(ctx context.Context, eng Engine, img image.Image, outScale int) (image.Image, error) {
	start := time.Now()
	out, err := eng.Enhance(ctx, img, outScale)
	outcome := "ok"
	switch {
	case IsOutOfMemory(err):
		outcome = "oom"
	case err != nil:
		outcome = "error"
	}
	engineInferenceSeconds.WithLabelValues(c.backend.Name(), outcome).Observe(time.Since(start).Seconds())
	if err == nil && out == nil {
		return nil, fmt.Errorf("engine returned no image")
	}
	return out, err
}

// ensure must be called with c.mu held.
func (c *Cache) ensure(ctx context.Context, ident Identity, prof Profile, reason string) (Engine, error) {
	if c.loaded && c.cur != nil && c.ident == ident {
		c.reuses.Add(1)
		return c.cur, nil
	}
	c.drop()
	spec := LoadSpec{Path: ident.Path, Scale: ident.Scale, Profile: prof}
	if c.adapter != nil {
		ad, err := c.adapter.Adapt(ident.Path)
		if err != nil {
			return nil, fmt.Errorf("adapt checkpoint: %w", err)
		}
		spec.Path, spec.Blocks = ad.Path, ad.Blocks
	}
	start := time.Now()
	eng, err := c.backend.Load(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	c.cur, c.ident, c.specPath, c.loaded = eng, ident, spec.Path, true
	c.resident.Store(&ident)
	c.loads.Add(1)
	engineLoadsTotal.WithLabelValues(c.backend.Name(), reason).Inc()
	zlog.Info().Str("model", ident.Path).Int("scale", ident.Scale).Str("quality", ident.Quality).
		Int("tile", prof.Tile).Bool("half", prof.Half).Dur("dur", time.Since(start)).Msg("engine loaded")
	return eng, nil
}

// drop releases the resident engine. Must be called with c.mu held.
func (c *Cache) drop() {
	if c.cur != nil {
		if cl, ok := c.cur.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				zlog.Warn().Err(err).Str("model", c.ident.Path).Msg("engine close failed")
			}
		}
	}
	c.cur, c.ident, c.specPath, c.loaded = nil, Identity{}, "", false
	c.resident.Store(nil)
}

// ReleaseUnder drops the resident engine when its checkpoint lives under dir.
// It waits for an in-flight inference and reports whether an engine was
// dropped.
func (c *Cache) ReleaseUnder(dir string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded || !within(dir, c.specPath) {
		return false
	}
	zlog.Info().Str("model", c.ident.Path).Str("checkpoint", c.specPath).Msg("releasing engine built from removed checkpoint")
	c.drop()
	return true
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Close releases the resident engine.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drop()
	return nil
}


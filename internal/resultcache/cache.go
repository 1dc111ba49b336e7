// Package resultcache stores encoded enhance results on disk, bounded by age
// and total size.
package resultcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"muhost/internal/checkpoint"
	"muhost/internal/common/fsutil"
	"muhost/internal/imaging"
)

// KeyVersion is bumped whenever the meaning of cached bytes changes.
const KeyVersion = "v2"

const defaultSweepInterval = 120 * time.Second

// KeyForURL derives the cache key for an image fetched from url.
func KeyForURL(url string, scale int, quality, format string) string {
	return hashKey(KeyVersion, "url", url, strconv.Itoa(scale), quality, format)
}

// KeyForBody derives the cache key for an uploaded image.
func KeyForBody(body []byte, scale int, quality, format string) string {
	sum := sha256.Sum256(body)
	return hashKey(KeyVersion, "body", hex.EncodeToString(sum[:]), strconv.Itoa(scale), quality, format)
}

func hashKey(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Options configures a Cache. Limits <= 0 are disabled.
type Options struct {
	Dir           string
	MaxBytes      int64
	MaxAge        time.Duration
	SweepInterval time.Duration
	// Now is the clock used for age eviction; time.Now when nil.
	Now func() time.Time
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Ran       bool
	Removed   int
	Freed     int64
	Remaining int64
}

// Cache is a flat directory of <key>.<ext> files. The wrapped_models
// subdirectory and in-progress temp files are never counted or swept.
type Cache struct {
	dir    string
	now    func() time.Time
	remove func(string) error

	limitsMu sync.RWMutex
	maxBytes int64
	maxAge   time.Duration

	sometimes *rate.Sometimes
	sweepMu   sync.Mutex

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates the cache directory if needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, errors.New("resultcache: empty dir")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	iv := opts.SweepInterval
	if iv <= 0 {
		iv = defaultSweepInterval
	}
	c := &Cache{
		dir:       opts.Dir,
		now:       opts.Now,
		remove:    os.Remove,
		maxBytes:  opts.MaxBytes,
		maxAge:    opts.MaxAge,
		sometimes: &rate.Sometimes{Interval: iv},
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// SetLimits replaces the size and age limits used by later sweeps.
func (c *Cache) SetLimits(maxBytes int64, maxAge time.Duration) {
	c.limitsMu.Lock()
	c.maxBytes, c.maxAge = maxBytes, maxAge
	c.limitsMu.Unlock()
}

func (c *Cache) limits() (int64, time.Duration) {
	c.limitsMu.RLock()
	defer c.limitsMu.RUnlock()
	return c.maxBytes, c.maxAge
}

func (c *Cache) path(key, format string) string {
	return filepath.Join(c.dir, key+"."+imaging.Extension(format))
}

// Get returns the stored bytes and their content type. Hits leave the file's
// mtime untouched.
func (c *Cache) Get(key, format string) ([]byte, string, bool) {
	p := c.path(key, format)
	data, err := os.ReadFile(p)
	if err != nil || len(data) == 0 {
		c.misses.Add(1)
		cacheMissesTotal.Inc()
		return nil, "", false
	}
	c.hits.Add(1)
	cacheHitsTotal.Inc()
	return data, imaging.ContentType(imaging.Encoded(format)), true
}

// Put stores data atomically under key.
func (c *Cache) Put(key, format string, data []byte) error {
	if err := fsutil.WriteFileAtomic(c.path(key, format), data, 0o644); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Hits returns the number of Get calls that found an entry.
func (c *Cache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of Get calls that found nothing.
func (c *Cache) Misses() uint64 { return c.misses.Load() }

// Evictions returns the number of files removed by sweeps.
func (c *Cache) Evictions() uint64 { return c.evictions.Load() }

type entry struct {
	path  string
	size  int64
	mtime time.Time
}

// entries lists cache files, skipping directories and temp files.
func (c *Cache) entries() ([]entry, error) {
	des, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]entry, 0, len(des))
	for _, de := range des {
		if de.IsDir() || fsutil.IsTempName(de.Name()) {
			continue
		}
		fi, err := de.Info()
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		out = append(out, entry{path: filepath.Join(c.dir, de.Name()), size: fi.Size(), mtime: fi.ModTime()})
	}
	return out, nil
}

// Usage returns the number of cache files and their total size.
func (c *Cache) Usage() (int, int64, error) {
	es, err := c.entries()
	if err != nil {
		return 0, 0, err
	}
	var total int64
	for _, e := range es {
		total += e.size
	}
	return len(es), total, nil
}

// Sweep enforces the limits. Without force it runs at most once per sweep
// interval; the first call always runs.
func (c *Cache) Sweep(force bool) (SweepResult, error) {
	if force {
		return c.sweep()
	}
	var (
		res SweepResult
		err error
	)
	c.sometimes.Do(func() { res, err = c.sweep() })
	return res, err
}

func (c *Cache) sweep() (SweepResult, error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	res := SweepResult{Ran: true}
	es, err := c.entries()
	if err != nil {
		return res, err
	}
	maxBytes, maxAge := c.limits()
	evict := func(e entry) bool {
		if err := c.remove(e.path); err != nil && !os.IsNotExist(err) {
			return false
		}
		res.Removed++
		res.Freed += e.size
		c.evictions.Add(1)
		cacheEvictionsTotal.Inc()
		return true
	}

	kept := es[:0]
	if maxAge > 0 {
		cutoff := c.now().Add(-maxAge)
		for _, e := range es {
			if e.mtime.Before(cutoff) && evict(e) {
				continue
			}
			kept = append(kept, e)
		}
	} else {
		kept = es
	}

	var total int64
	for _, e := range kept {
		total += e.size
	}
	if maxBytes > 0 && total > maxBytes {
		sort.Slice(kept, func(i, j int) bool {
			if kept[i].mtime.Equal(kept[j].mtime) {
				return kept[i].path < kept[j].path
			}
			return kept[i].mtime.Before(kept[j].mtime)
		})
		for _, e := range kept {
			if total <= maxBytes {
				break
			}
			if evict(e) {
				total -= e.size
			}
		}
	}
	res.Remaining = total
	return res, nil
}

// Clear deletes every cached result. Adapted checkpoints under
// wrapped_models are only removed when includeWrapped is set.
func (c *Cache) Clear(includeWrapped bool) (int, error) {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	es, err := c.entries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, e := range es {
		if err := c.remove(e.path); err == nil {
			removed++
		}
	}
	if includeWrapped {
		wd := filepath.Join(c.dir, checkpoint.WrappedDir)
		n := 0
		_ = filepath.WalkDir(wd, func(_ string, d os.DirEntry, err error) error {
			if err == nil && !d.IsDir() {
				n++
			}
			return nil
		})
		if err := os.RemoveAll(wd); err != nil {
			return removed, fmt.Errorf("remove %s: %w", wd, err)
		}
		removed += n
	}
	return removed, nil
}

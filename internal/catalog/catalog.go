// Package catalog holds the installed super-resolution checkpoints keyed by
// kind, native scale and bucket (source height class or quality tier).
package catalog

import (
	"path/filepath"
	"sort"
	"strconv"

	"muhost/internal/config"
)

// Quality tiers understood by the catalog and the resolver.
const (
	QualityFast     = "fast"
	QualityBalanced = "balanced"
	QualityBest     = "best"
)

// Entry is one mapped checkpoint. Bucket is a height for bucketed entries and
// a quality tier for illustration quality entries.
type Entry struct {
	Kind   string `json:"kind"`
	Scale  int    `json:"scale"`
	Bucket string `json:"bucket"`
	File   string `json:"file"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// Catalog is an immutable snapshot. Build a new one to reflect changes.
type Catalog struct {
	modelsDir string
	// kind -> scale -> height -> file
	buckets map[string]map[int]map[int]string
	// scale -> tier -> file
	quality map[int]map[string]string
}

// Build merges the persisted mapping in s with scan results (when enabled).
// Scanned files override persisted entries key by key; persisted entries the
// scan did not see are kept.
func Build(s config.Settings, modelsDir string, scan *ScanResult) *Catalog {
	c := &Catalog{
		modelsDir: modelsDir,
		buckets:   map[string]map[int]map[int]string{},
		quality:   map[int]map[string]string{},
	}
	for kind, scales := range s.ModelMapByType {
		for sk, heights := range scales {
			scale, err := strconv.Atoi(sk)
			if err != nil {
				continue
			}
			for hk, file := range heights {
				h, err := strconv.Atoi(hk)
				if err != nil || file == "" {
					continue
				}
				c.setBucket(kind, scale, h, file)
			}
		}
	}
	for sk, tiers := range s.IllustrationByQuality {
		scale, err := strconv.Atoi(sk)
		if err != nil {
			continue
		}
		for tier, file := range tiers {
			if file == "" {
				continue
			}
			c.setQuality(scale, tier, file)
		}
	}
	if scan != nil {
		for _, e := range scan.Buckets {
			h, _ := strconv.Atoi(e.Bucket)
			c.setBucket(e.Kind, e.Scale, h, e.File)
		}
		for _, e := range scan.Quality {
			c.setQuality(e.Scale, e.Bucket, e.File)
		}
	}
	for _, tiers := range c.quality {
		if b, ok := tiers[QualityBalanced]; ok {
			if _, has := tiers[QualityFast]; !has {
				tiers[QualityFast] = b
			}
		}
		if f, ok := tiers[QualityFast]; ok {
			if _, has := tiers[QualityBalanced]; !has {
				tiers[QualityBalanced] = f
			}
		}
	}
	return c
}

func (c *Catalog) setBucket(kind string, scale, height int, file string) {
	byScale, ok := c.buckets[kind]
	if !ok {
		byScale = map[int]map[int]string{}
		c.buckets[kind] = byScale
	}
	heights, ok := byScale[scale]
	if !ok {
		heights = map[int]string{}
		byScale[scale] = heights
	}
	heights[height] = file
}

func (c *Catalog) setQuality(scale int, tier, file string) {
	tiers, ok := c.quality[scale]
	if !ok {
		tiers = map[string]string{}
		c.quality[scale] = tiers
	}
	tiers[tier] = file
}

// ModelsDir returns the directory relative file names resolve against.
func (c *Catalog) ModelsDir() string { return c.modelsDir }

// Heights returns the bucket heights mapped for kind at scale, ascending.
func (c *Catalog) Heights(kind string, scale int) []int {
	heights := c.buckets[kind][scale]
	out := make([]int, 0, len(heights))
	for h := range heights {
		out = append(out, h)
	}
	sort.Ints(out)
	return out
}

// Bucket returns the checkpoint file for (kind, scale, height).
func (c *Catalog) Bucket(kind string, scale, height int) (string, bool) {
	f, ok := c.buckets[kind][scale][height]
	return f, ok
}

// HasScale reports whether kind has any bucket at scale.
func (c *Catalog) HasScale(kind string, scale int) bool {
	return len(c.buckets[kind][scale]) > 0
}

// Quality returns the illustration checkpoint file for (scale, tier).
func (c *Catalog) Quality(scale int, tier string) (string, bool) {
	f, ok := c.quality[scale][tier]
	return f, ok
}

// HasIllustration reports whether any illustration entry exists, bucketed or
// by quality.
func (c *Catalog) HasIllustration() bool {
	for _, heights := range c.buckets[config.KindIllustration] {
		if len(heights) > 0 {
			return true
		}
	}
	for _, tiers := range c.quality {
		if len(tiers) > 0 {
			return true
		}
	}
	return false
}

// Path resolves a mapped file name to a filesystem path.
func (c *Catalog) Path(file string) string {
	if filepath.IsAbs(file) || c.modelsDir == "" {
		return file
	}
	return filepath.Join(c.modelsDir, file)
}

// Entries lists every mapping in a stable order (kind, scale, bucket), with
// quality entries listed under the illustration kind after its buckets.
func (c *Catalog) Entries(exists func(string) bool) []Entry {
	var out []Entry
	kinds := make([]string, 0, len(c.buckets))
	for k := range c.buckets {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		scales := sortedKeys(c.buckets[kind])
		for _, scale := range scales {
			for _, h := range c.Heights(kind, scale) {
				out = append(out, c.entry(kind, scale, strconv.Itoa(h), c.buckets[kind][scale][h], exists))
			}
		}
	}
	for _, scale := range sortedKeys(c.quality) {
		for _, tier := range []string{QualityFast, QualityBalanced, QualityBest} {
			if f, ok := c.quality[scale][tier]; ok {
				out = append(out, c.entry(config.KindIllustration, scale, tier, f, exists))
			}
		}
	}
	return out
}

func (c *Catalog) entry(kind string, scale int, bucket, file string, exists func(string) bool) Entry {
	p := c.Path(file)
	e := Entry{Kind: kind, Scale: scale, Bucket: bucket, File: file, Path: p}
	if exists != nil {
		e.Exists = exists(p)
	}
	return e
}

func sortedKeys[V any](m map[int]V) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

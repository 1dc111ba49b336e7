// Package resolver maps a request signal (grayscale flag, source height,
// scale, quality) to a concrete checkpoint from the catalog.
package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"muhost/internal/catalog"
	"muhost/internal/common/fsutil"
	"muhost/internal/config"
)

var defaultHeavy = regexp.MustCompile(`(?i)dat`)

// Request is the per-image input to Resolve.
type Request struct {
	Scale     int
	Quality   string
	Grayscale bool
	Height    int
}

// Options carries capabilities and defaults that come from settings.
type Options struct {
	DefaultQuality string
	// AllowHeavy permits checkpoints whose names match Heavy.
	AllowHeavy bool
	Heavy      *regexp.Regexp
	// Exists checks checkpoint paths; defaults to fsutil.FileExists.
	Exists func(string) bool
}

// Resolution is the chosen checkpoint and how it will be run.
type Resolution struct {
	Path        string `json:"path"`
	Kind        string `json:"kind"`
	ModelScale  int    `json:"model_scale"`
	OutputScale int    `json:"output_scale"`
	Quality     string `json:"quality"`
	// Bucket is the matched height class; 0 for quality-keyed entries.
	Bucket int    `json:"bucket,omitempty"`
	Label  string `json:"label"`
}

// Resolver evaluates its strategies in order against one catalog snapshot.
type Resolver struct {
	cat        *catalog.Catalog
	opts       Options
	strategies []strategy
}

// strategy returns found=false to let the next strategy try.
type strategy func(r *Resolver, q *query) (res Resolution, found bool, err error)

type query struct {
	kind    string
	native  int
	out     int
	quality string
	height  int
}

// New binds a resolver to a catalog snapshot.
func New(cat *catalog.Catalog, opts Options) *Resolver {
	if opts.Heavy == nil {
		opts.Heavy = defaultHeavy
	}
	if opts.Exists == nil {
		opts.Exists = fsutil.FileExists
	}
	return &Resolver{
		cat:  cat,
		opts: opts,
		strategies: []strategy{
			illustrationByQuality,
			illustrationByHeight,
			mangaByHeight,
		},
	}
}

// NormalizeScale clamps a requested output scale into [2, 4].
func NormalizeScale(s int) int {
	if s < 2 {
		return 2
	}
	if s > 4 {
		return 4
	}
	return s
}

// NormalizeQuality returns a known tier, falling back to def and then balanced.
func NormalizeQuality(q, def string) string {
	for _, c := range []string{q, def} {
		switch v := strings.ToLower(strings.TrimSpace(c)); v {
		case catalog.QualityFast, catalog.QualityBalanced, catalog.QualityBest:
			return v
		}
	}
	return catalog.QualityBalanced
}

// Resolve picks the checkpoint for req.
func (r *Resolver) Resolve(req Request) (Resolution, error) {
	q := &query{
		out:     NormalizeScale(req.Scale),
		quality: NormalizeQuality(req.Quality, r.opts.DefaultQuality),
		height:  req.Height,
	}
	q.kind = config.KindManga
	if !req.Grayscale && r.cat.HasIllustration() {
		q.kind = config.KindIllustration
	}
	q.native = 4
	if q.out < 4 && r.cat.HasScale(config.KindManga, 2) {
		q.native = 2
	}
	for _, s := range r.strategies {
		res, found, err := s(r, q)
		if err != nil {
			return Resolution{}, err
		}
		if found {
			return res, nil
		}
	}
	return Resolution{}, ErrNoModelMapped(config.KindManga, q.out, q.height)
}

func (r *Resolver) scaleOrder(native int) []int {
	return dedupInts(native, 4, 2)
}

func (r *Resolver) heavy(file string) bool {
	return !r.opts.AllowHeavy && r.opts.Heavy.MatchString(file)
}

func illustrationByQuality(r *Resolver, q *query) (Resolution, bool, error) {
	if q.kind != config.KindIllustration {
		return Resolution{}, false, nil
	}
	tiers := dedupStrings(q.quality, catalog.QualityBalanced, catalog.QualityFast, catalog.QualityBest)
	for _, scale := range r.scaleOrder(q.native) {
		for _, tier := range tiers {
			file, ok := r.cat.Quality(scale, tier)
			if !ok || r.heavy(file) {
				continue
			}
			p := r.cat.Path(file)
			if !r.opts.Exists(p) {
				continue
			}
			return Resolution{
				Path:        p,
				Kind:        config.KindIllustration,
				ModelScale:  scale,
				OutputScale: q.out,
				Quality:     tier,
				Label:       fmt.Sprintf("%s:%s x%d", config.KindIllustration, tier, q.out),
			}, true, nil
		}
	}
	return Resolution{}, false, nil
}

func illustrationByHeight(r *Resolver, q *query) (Resolution, bool, error) {
	if q.kind != config.KindIllustration {
		return Resolution{}, false, nil
	}
	for _, scale := range r.scaleOrder(q.native) {
		h, ok := NearestBucket(r.cat.Heights(config.KindIllustration, scale), q.height)
		if !ok {
			continue
		}
		file, _ := r.cat.Bucket(config.KindIllustration, scale, h)
		p := r.cat.Path(file)
		if r.heavy(file) || !r.opts.Exists(p) {
			continue
		}
		return r.bucketResolution(config.KindIllustration, p, scale, h, q), true, nil
	}
	return Resolution{}, false, nil
}

func mangaByHeight(r *Resolver, q *query) (Resolution, bool, error) {
	for _, scale := range r.scaleOrder(q.native) {
		h, ok := NearestBucket(r.cat.Heights(config.KindManga, scale), q.height)
		if !ok {
			continue
		}
		file, _ := r.cat.Bucket(config.KindManga, scale, h)
		p := r.cat.Path(file)
		if !r.opts.Exists(p) {
			return Resolution{}, false, ErrModelFileMissing(p)
		}
		return r.bucketResolution(config.KindManga, p, scale, h, q), true, nil
	}
	return Resolution{}, false, nil
}

func (r *Resolver) bucketResolution(kind, path string, scale, h int, q *query) Resolution {
	return Resolution{
		Path:        path,
		Kind:        kind,
		ModelScale:  scale,
		OutputScale: q.out,
		Quality:     q.quality,
		Bucket:      h,
		Label:       fmt.Sprintf("%s:%dp x%d %s", kind, h, q.out, q.quality),
	}
}

// NearestBucket returns the height in ascending buckets closest to h. Ties go
// to the smaller bucket.
func NearestBucket(buckets []int, h int) (int, bool) {
	if len(buckets) == 0 {
		return 0, false
	}
	best := buckets[0]
	bestDist := abs(best - h)
	for _, b := range buckets[1:] {
		if d := abs(b - h); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func dedupInts(vals ...int) []int {
	out := make([]int, 0, len(vals))
	for _, v := range vals {
		seen := false
		for _, o := range out {
			if o == v {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}

func dedupStrings(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		seen := false
		for _, o := range out {
			if o == v {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, v)
		}
	}
	return out
}

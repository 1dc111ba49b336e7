package manager

import (
	"context"
	"time"

	"muhost/internal/engine"
	"muhost/internal/imaging"
	"muhost/internal/resolver"
	"muhost/internal/resultcache"
)

// ModelCache is the X-MU-Model value for results served from the result cache.
const ModelCache = "cache"

// EnhanceRequest describes one image. Exactly one of URL and Body is set.
// Zero Scale and empty Quality/Format fall back to the settings defaults.
type EnhanceRequest struct {
	URL         string
	Body        []byte
	ContentType string
	Scale       int
	Quality     string
	Format      string
}

// EnhanceResult is written back as-is. On passthrough Data holds the source
// bytes and Format is empty.
type EnhanceResult struct {
	Data        []byte
	ContentType string
	Format      string
	Model       string
	Passthrough bool
	Resolution  *resolver.Resolution
}

type params struct {
	scale   int
	quality string
	format  string
	key     string
}

// Enhance runs the enhancement pipeline. Errors that leave no source bytes
// to fall back on (bad input, upstream failure) return an empty result.
// Pipeline failures return Passthrough=true with the source plus the cause.
func (s *Service) Enhance(ctx context.Context, req EnhanceRequest) (EnhanceResult, error) {
	start := time.Now()
	cfg, _ := s.snapshot()
	if req.URL == "" && len(req.Body) == 0 {
		return EnhanceResult{}, ErrUnsupportedRequest("missing url or body")
	}
	scale := req.Scale
	if scale == 0 {
		scale = cfg.DefaultScale
	}
	p := params{
		scale:   resolver.NormalizeScale(scale),
		quality: resolver.NormalizeQuality(req.Quality, cfg.DefaultQuality),
		format:  imaging.NormalizeFormat(req.Format, cfg.DefaultFormat),
	}
	if req.URL != "" {
		p.key = resultcache.KeyForURL(req.URL, p.scale, p.quality, p.format)
	} else {
		p.key = resultcache.KeyForBody(req.Body, p.scale, p.quality, p.format)
	}

	if res, err := s.results.Sweep(false); err != nil {
		zlog.Warn().Err(err).Msg("cache sweep failed")
	} else if res.Removed > 0 {
		zlog.Info().Int("removed", res.Removed).Int64("freed", res.Freed).Msg("cache swept")
	}
	if data, ct, ok := s.results.Get(p.key, p.format); ok {
		enhanceSeconds.WithLabelValues("cache").Observe(time.Since(start).Seconds())
		return EnhanceResult{Data: data, ContentType: ct, Format: imaging.Encoded(p.format), Model: ModelCache}, nil
	}

	src := source{data: req.Body, contentType: sourceContentType(req.ContentType, req.Body)}
	if req.URL != "" {
		var err error
		src, err = s.fetch.Fetch(ctx, req.URL, fetchTimeout(cfg.FetchTimeoutSeconds))
		if err != nil {
			return EnhanceResult{}, err
		}
	}

	out, err := s.run(ctx, src.data, p)
	if err != nil {
		reason := PassthroughReason(err)
		passthroughTotal.WithLabelValues(reason).Inc()
		enhanceSeconds.WithLabelValues("passthrough").Observe(time.Since(start).Seconds())
		zlog.Warn().Err(err).Str("reason", reason).Msg("enhance failed; passing source through")
		s.publish(Event{Name: EventEnhancePassthrough, Fields: map[string]any{"reason": reason, "error": err.Error()}})
		return EnhanceResult{Data: src.data, ContentType: src.contentType, Passthrough: true}, err
	}
	enhanceSeconds.WithLabelValues("enhanced").Observe(time.Since(start).Seconds())
	s.publish(Event{Name: EventEnhanceDone, Model: out.Model, Fields: map[string]any{"bytes": len(out.Data), "dur": time.Since(start)}})
	return out, nil
}

// run is the uncached path: decode, classify, resolve, infer, blend, encode,
// store.
func (s *Service) run(ctx context.Context, data []byte, p params) (EnhanceResult, error) {
	cfg, heavy := s.snapshot()
	img, _, err := imaging.Decode(data)
	if err != nil {
		return EnhanceResult{}, imageError{stage: "decode", cause: err}
	}
	gray := imaging.IsGrayscale(img, cfg.GrayThreshold)
	res, err := resolver.New(s.catalog.Get(), resolver.Options{
		DefaultQuality: cfg.DefaultQuality,
		AllowHeavy:     cfg.AllowDAT2,
		Heavy:          heavy,
	}).Resolve(resolver.Request{
		Scale:     p.scale,
		Quality:   p.quality,
		Grayscale: gray,
		Height:    img.Bounds().Dy(),
	})
	if err != nil {
		return EnhanceResult{}, err
	}
	zlog.Debug().Bool("grayscale", gray).Str("model", res.Label).Str("path", res.Path).Msg("resolved checkpoint")

	out, err := s.engine.Run(ctx, engine.Identity{Path: res.Path, Scale: res.ModelScale, Quality: res.Quality}, img, res.OutputScale)
	if err != nil {
		return EnhanceResult{}, err
	}
	if imaging.ResidualApplies(cfg.Residual.Enabled, cfg.Residual.Strength, cfg.Residual.Pattern, res.Path) {
		out = imaging.BlendResidual(img, out, cfg.Residual.Strength)
	}
	encoded, actual, ct, err := imaging.Encode(out, p.format)
	if err != nil {
		return EnhanceResult{}, imageError{stage: "encode", cause: err}
	}
	if err := s.results.Put(p.key, p.format, encoded); err != nil {
		zlog.Warn().Err(err).Msg("cache write failed")
	}
	return EnhanceResult{Data: encoded, ContentType: ct, Format: actual, Model: res.Label, Resolution: &res}, nil
}

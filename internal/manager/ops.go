package manager

import (
	"regexp"

	"muhost/internal/catalog"
	"muhost/internal/config"
)

// ReloadCatalog rebuilds the catalog from the live settings and, when
// auto_scan_models is on, a fresh scan of the models dir. A failed scan keeps
// the persisted mapping.
func (s *Service) ReloadCatalog() (*catalog.Catalog, error) {
	cfg, _ := s.snapshot()
	var scan *catalog.ScanResult
	if cfg.AutoScanModels {
		res, err := catalog.Scan(s.modelsDir)
		if err != nil {
			zlog.Warn().Err(err).Str("dir", s.modelsDir).Msg("model scan failed; using configured mapping only")
		} else {
			scan = res
		}
	}
	c := catalog.Build(cfg, s.modelsDir, scan)
	s.catalog.Set(c)
	n := 0
	if scan != nil {
		n = len(scan.Buckets) + len(scan.Quality)
	}
	zlog.Info().Str("dir", s.modelsDir).Int("scanned", n).Msg("catalog reloaded")
	s.publish(Event{Name: EventCatalogReloaded, Fields: map[string]any{"scanned": n}})
	return c, nil
}

// UpdateSettings merges a JSON patch into the live settings, persists the
// result and applies it: catalog reload, cache limits, engine tunables.
// models_dir, cache_dir and backend are persisted but take effect on restart.
func (s *Service) UpdateSettings(patch []byte) (config.Settings, error) {
	s.mu.Lock()
	next, err := config.Apply(s.settings, patch)
	if err != nil {
		s.mu.Unlock()
		return config.Settings{}, ErrInvalidSettings(err)
	}
	heavy, err := regexp.Compile(next.HeavyPattern)
	if err != nil {
		s.mu.Unlock()
		return config.Settings{}, ErrInvalidSettings(err)
	}
	if s.settingsPath != "" {
		if err := config.Save(s.settingsPath, next); err != nil {
			s.mu.Unlock()
			return config.Settings{}, err
		}
	}
	s.settings, s.heavy = next, heavy
	s.mu.Unlock()

	s.results.SetLimits(next.CacheMaxBytes, days(next.CacheMaxAgeDays))
	s.engine.SetTunables(next.UseFP16, next.OOMRetryTile)
	if _, err := s.ReloadCatalog(); err != nil {
		return next, err
	}
	s.publish(Event{Name: EventSettingsUpdated})
	return next, nil
}

// ClearCache removes cached results, and adapted checkpoints when
// includeWrapped is set. Clearing adapted checkpoints also forgets the
// conversions and releases an engine built from one.
func (s *Service) ClearCache(includeWrapped bool) (int, error) {
	n, err := s.results.Clear(includeWrapped)
	if includeWrapped {
		s.adapter.Forget()
		s.engine.ReleaseUnder(s.adapter.Dir())
	}
	if err != nil {
		return n, err
	}
	zlog.Info().Int("removed", n).Bool("include_wrapped", includeWrapped).Msg("cache cleared")
	s.publish(Event{Name: EventCacheCleared, Fields: map[string]any{"removed": n, "include_wrapped": includeWrapped}})
	return n, nil
}

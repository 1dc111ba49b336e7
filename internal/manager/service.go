package manager

import (
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"muhost/internal/activity"
	"muhost/internal/catalog"
	"muhost/internal/checkpoint"
	"muhost/internal/config"
	"muhost/internal/engine"
	"muhost/internal/resultcache"
)

var zlog = zerolog.Nop()

// SetLogger sets the package logger used for pipeline diagnostics.
func SetLogger(l zerolog.Logger) { zlog = l }

// Service owns the catalog, engine cache, result cache and activity tracker.
type Service struct {
	mu           sync.RWMutex
	settings     config.Settings
	heavy        *regexp.Regexp
	settingsPath string
	modelsDir    string

	catalog *catalog.Store
	adapter *checkpoint.Adapter
	engine  *engine.Cache
	results *resultcache.Cache
	tracker *activity.Tracker
	fetch   *fetcher
	pub     EventPublisher

	startTime time.Time
	now       func() time.Time
}

// SetEventPublisher replaces the event sink. Nil restores the no-op publisher.
func (s *Service) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	s.mu.Lock()
	s.pub = p
	s.mu.Unlock()
}

func (s *Service) publish(e Event) {
	s.mu.RLock()
	p := s.pub
	s.mu.RUnlock()
	p.Publish(e)
}

// snapshot returns the live settings and compiled heavy pattern.
func (s *Service) snapshot() (config.Settings, *regexp.Regexp) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.heavy
}

// Settings returns a copy of the live settings.
func (s *Service) Settings() config.Settings {
	cfg, _ := s.snapshot()
	return cfg
}

// IdleShutdownAfter returns the configured idle threshold; <= 0 disables.
// It is read on every supervisor tick so POST /config takes effect at once.
func (s *Service) IdleShutdownAfter() time.Duration {
	cfg, _ := s.snapshot()
	if cfg.IdleShutdownMinutes <= 0 {
		return 0
	}
	return time.Duration(cfg.IdleShutdownMinutes * float64(time.Minute))
}

// Tracker returns the activity tracker wrapped around every request.
func (s *Service) Tracker() *activity.Tracker { return s.tracker }

// ModelsDir is the directory scanned for checkpoints.
func (s *Service) ModelsDir() string { return s.modelsDir }

// CacheDir is the result cache directory.
func (s *Service) CacheDir() string { return s.results.Dir() }

// SweepCache runs a cache sweep if the rate limiter allows one.
func (s *Service) SweepCache(force bool) (resultcache.SweepResult, error) {
	return s.results.Sweep(force)
}

// Close releases the resident engine.
func (s *Service) Close() error { return s.engine.Close() }

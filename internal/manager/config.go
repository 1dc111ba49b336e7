package manager

import (
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"time"

	"muhost/internal/activity"
	"muhost/internal/catalog"
	"muhost/internal/checkpoint"
	"muhost/internal/common/fsutil"
	"muhost/internal/config"
	"muhost/internal/engine"
	"muhost/internal/resultcache"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultFetchTimeout   = 20 * time.Second
	defaultMaxSourceBytes = 64 << 20
)

// ManagerConfig encapsulates all tunables for Service construction.
type ManagerConfig struct {
	// SettingsPath is where UpdateSettings persists; empty keeps changes in memory.
	SettingsPath string
	Settings     config.Settings
	// ModelsDir and CacheDir apply when the settings leave them empty.
	ModelsDir string
	CacheDir  string
	// Backend overrides the one described by Settings.Backend.
	Backend        engine.Backend
	HTTPClient     *http.Client
	MaxSourceBytes int64
	Tracker        *activity.Tracker
	Publisher      EventPublisher
	Now            func() time.Time
}

// NewWithConfig constructs a Service from ManagerConfig and builds the first
// catalog.
func NewWithConfig(cfg ManagerConfig) (*Service, error) {
	s := &Service{
		settingsPath: cfg.SettingsPath,
		settings:     cfg.Settings,
		now:          cfg.Now,
		tracker:      cfg.Tracker,
		pub:          cfg.Publisher,
	}
	// Apply defaults if unset
	if s.now == nil {
		s.now = time.Now
	}
	if s.tracker == nil {
		s.tracker = activity.NewTracker(s.now)
	}
	if s.pub == nil {
		s.pub = noopPublisher{}
	}
	s.settings.Normalize()
	if err := config.Validate(s.settings); err != nil {
		return nil, ErrInvalidSettings(err)
	}
	heavy, err := regexp.Compile(s.settings.HeavyPattern)
	if err != nil {
		return nil, ErrInvalidSettings(err)
	}
	s.heavy = heavy

	if s.modelsDir, err = pickDir(s.settings.ModelsDir, cfg.ModelsDir, "models"); err != nil {
		return nil, err
	}
	cacheDir, err := pickDir(s.settings.CacheDir, cfg.CacheDir, "cache")
	if err != nil {
		return nil, err
	}

	s.results, err = resultcache.New(resultcache.Options{
		Dir:      cacheDir,
		MaxBytes: s.settings.CacheMaxBytes,
		MaxAge:   days(s.settings.CacheMaxAgeDays),
		Now:      s.now,
	})
	if err != nil {
		return nil, err
	}
	s.adapter = checkpoint.NewAdapter(cacheDir)

	backend := cfg.Backend
	if backend == nil {
		backend, err = engine.NewBackend(backendOptions(s.settings.Backend))
		if err != nil {
			return nil, ErrInvalidSettings(err)
		}
	}
	s.engine = engine.NewCache(engine.CacheConfig{
		Backend:      backend,
		Adapter:      s.adapter,
		UseFP16:      s.settings.UseFP16,
		OOMRetryTile: s.settings.OOMRetryTile,
	})

	maxSource := cfg.MaxSourceBytes
	if maxSource <= 0 {
		maxSource = defaultMaxSourceBytes
	}
	s.fetch = newFetcher(cfg.HTTPClient, maxSource)

	s.catalog = catalog.NewStore(nil)
	if _, err := s.ReloadCatalog(); err != nil {
		return nil, err
	}
	s.startTime = s.now()
	return s, nil
}

func pickDir(fromSettings, fallback, what string) (string, error) {
	dir := fromSettings
	if dir == "" {
		dir = fallback
	}
	if dir == "" {
		return "", fmt.Errorf("%s dir not configured", what)
	}
	dir, err := fsutil.ExpandHome(dir)
	if err != nil {
		return "", fmt.Errorf("%s dir: %w", what, err)
	}
	return filepath.Abs(dir)
}

func backendOptions(b config.BackendSettings) engine.BackendOptions {
	return engine.BackendOptions{
		Kind:    b.Kind,
		Command: b.Command,
		Args:    b.Args,
		URL:     b.URL,
	}
}

func days(d float64) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(d * float64(24*time.Hour))
}

func fetchTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultFetchTimeout
	}
	return time.Duration(seconds) * time.Second
}

package config

// Settings holds the persisted tunables of the host. The file is created with
// Defaults on first start and rewritten by POST /config.
type Settings struct {
	AutoScanModels bool   `json:"auto_scan_models" yaml:"auto_scan_models" toml:"auto_scan_models"`
	ModelsDir      string `json:"models_dir,omitempty" yaml:"models_dir,omitempty" toml:"models_dir,omitempty"`
	CacheDir       string `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty" toml:"cache_dir,omitempty"`

	// ModelMapByType maps kind -> scale -> height bucket -> checkpoint file.
	ModelMapByType map[string]map[string]map[string]string `json:"model_map_by_type" yaml:"model_map_by_type" toml:"model_map_by_type"`
	// IllustrationByQuality maps scale -> quality tier -> checkpoint file.
	IllustrationByQuality map[string]map[string]string `json:"illustration_by_quality" yaml:"illustration_by_quality" toml:"illustration_by_quality"`

	DefaultScale   int    `json:"default_scale" yaml:"default_scale" toml:"default_scale" validate:"oneof=2 3 4"`
	DefaultQuality string `json:"default_quality" yaml:"default_quality" toml:"default_quality" validate:"oneof=fast balanced best"`
	DefaultFormat  string `json:"default_format" yaml:"default_format" toml:"default_format" validate:"oneof=png jpeg jpg webp"`
	UseFP16        bool   `json:"use_fp16" yaml:"use_fp16" toml:"use_fp16"`

	// AllowDAT2 enables heavy DAT-family checkpoints; HeavyPattern is the
	// case-insensitive regexp identifying them by file name.
	AllowDAT2    bool   `json:"allow_dat2" yaml:"allow_dat2" toml:"allow_dat2"`
	HeavyPattern string `json:"heavy_pattern" yaml:"heavy_pattern" toml:"heavy_pattern" validate:"required"`

	GrayThreshold float64 `json:"gray_threshold" yaml:"gray_threshold" toml:"gray_threshold" validate:"gte=0,lte=64"`

	// Values <= 0 disable the corresponding limit.
	CacheMaxBytes       int64   `json:"cache_max_bytes" yaml:"cache_max_bytes" toml:"cache_max_bytes"`
	CacheMaxAgeDays     float64 `json:"cache_max_age_days" yaml:"cache_max_age_days" toml:"cache_max_age_days"`
	IdleShutdownMinutes float64 `json:"idle_shutdown_minutes" yaml:"idle_shutdown_minutes" toml:"idle_shutdown_minutes"`

	FetchTimeoutSeconds int `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds" toml:"fetch_timeout_seconds" validate:"gte=1,lte=300"`
	OOMRetryTile        int `json:"oom_retry_tile" yaml:"oom_retry_tile" toml:"oom_retry_tile" validate:"gte=16,lte=2048"`

	Residual ResidualSettings `json:"residual" yaml:"residual" toml:"residual"`
	Backend  BackendSettings  `json:"backend" yaml:"backend" toml:"backend"`

	// Older layouts, folded into ModelMapByType by Normalize.
	ModelMap        map[string]string            `json:"model_map,omitempty" yaml:"model_map,omitempty" toml:"model_map,omitempty"`
	ModelMapByScale map[string]map[string]string `json:"model_map_by_scale,omitempty" yaml:"model_map_by_scale,omitempty" toml:"model_map_by_scale,omitempty"`
}

// ResidualSettings gates the residual blend post-process.
type ResidualSettings struct {
	Enabled  bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	Strength float64 `json:"strength" yaml:"strength" toml:"strength" validate:"gte=0,lte=4"`
	Pattern  string  `json:"pattern" yaml:"pattern" toml:"pattern"`
}

// BackendSettings selects and configures the compute backend.
type BackendSettings struct {
	Kind    string   `json:"kind" yaml:"kind" toml:"kind" validate:"oneof=none exec http"`
	Command string   `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty" validate:"required_if=Kind exec"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	URL     string   `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty" validate:"required_if=Kind http"`
}

// Model kinds used as keys of ModelMapByType.
const (
	KindManga        = "manga"
	KindIllustration = "illustration"
)

// Defaults returns the settings written to a fresh config file.
func Defaults() Settings {
	return Settings{
		AutoScanModels: true,
		ModelMapByType: map[string]map[string]map[string]string{
			KindManga: {
				"2": {
					"1200": "2x_MangaJaNai_1200p_V1_ESRGAN_70k.safetensors",
					"1300": "2x_MangaJaNai_1300p_V1_ESRGAN_75k.safetensors",
					"1400": "2x_MangaJaNai_1400p_V1_ESRGAN_70k.safetensors",
					"1500": "2x_MangaJaNai_1500p_V1_ESRGAN_90k.safetensors",
					"1600": "2x_MangaJaNai_1600p_V1_ESRGAN_90k.safetensors",
					"1920": "2x_MangaJaNai_1920p_V1_ESRGAN_70k.safetensors",
					"2048": "2x_MangaJaNai_2048p_V1_ESRGAN_95k.safetensors",
				},
				"4": {
					"1200": "4x_MangaJaNai_1200p_V1_ESRGAN_70k.safetensors",
					"1300": "4x_MangaJaNai_1300p_V1_ESRGAN_75k.safetensors",
					"1400": "4x_MangaJaNai_1400p_V1_ESRGAN_105k.safetensors",
					"1500": "4x_MangaJaNai_1500p_V1_ESRGAN_105k.safetensors",
					"1600": "4x_MangaJaNai_1600p_V1_ESRGAN_70k.safetensors",
					"1920": "4x_MangaJaNai_1920p_V1_ESRGAN_105k.safetensors",
					"2048": "4x_MangaJaNai_2048p_V1_ESRGAN_70k.safetensors",
				},
			},
			KindIllustration: {"2": {}, "4": {}},
		},
		IllustrationByQuality: map[string]map[string]string{
			"4": {
				"fast":     "4x_IllustrationJaNai_V1_ESRGAN_135k.safetensors",
				"balanced": "4x_IllustrationJaNai_V1_ESRGAN_135k.safetensors",
				"best":     "4x_IllustrationJaNai_V1_DAT2_190k.safetensors",
			},
		},
		DefaultScale:        2,
		DefaultQuality:      "balanced",
		DefaultFormat:       "png",
		UseFP16:             true,
		AllowDAT2:           false,
		HeavyPattern:        "(?i)dat",
		GrayThreshold:       6,
		CacheMaxBytes:       2 << 30,
		CacheMaxAgeDays:     14,
		IdleShutdownMinutes: 30,
		FetchTimeoutSeconds: 20,
		OOMRetryTile:        128,
		Residual: ResidualSettings{
			Enabled:  false,
			Strength: 0,
			Pattern:  "residual",
		},
		Backend: BackendSettings{Kind: "none"},
	}
}

// Normalize folds legacy map layouts into ModelMapByType, guarantees non-nil
// maps, and pairs the fast/balanced illustration tiers when only one is set.
func (s *Settings) Normalize() {
	if s.ModelMapByType == nil {
		switch {
		case s.ModelMapByScale != nil:
			s.ModelMapByType = map[string]map[string]map[string]string{
				KindManga:        s.ModelMapByScale,
				KindIllustration: {},
			}
		case s.ModelMap != nil:
			s.ModelMapByType = map[string]map[string]map[string]string{
				KindManga:        {"2": s.ModelMap},
				KindIllustration: {},
			}
		default:
			s.ModelMapByType = map[string]map[string]map[string]string{}
		}
	}
	s.ModelMap = nil
	s.ModelMapByScale = nil
	for _, kind := range []string{KindManga, KindIllustration} {
		if s.ModelMapByType[kind] == nil {
			s.ModelMapByType[kind] = map[string]map[string]string{}
		}
	}
	if s.IllustrationByQuality == nil {
		s.IllustrationByQuality = map[string]map[string]string{}
	}
	PairTiers(s.IllustrationByQuality)
}

// PairTiers fills a missing fast tier from balanced and vice versa.
func PairTiers(byScale map[string]map[string]string) {
	for _, mp := range byScale {
		if mp == nil {
			continue
		}
		if b, ok := mp["balanced"]; ok {
			if _, has := mp["fast"]; !has {
				mp["fast"] = b
			}
		}
		if f, ok := mp["fast"]; ok {
			if _, has := mp["balanced"]; !has {
				mp["balanced"] = f
			}
		}
	}
}

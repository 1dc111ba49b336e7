package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"muhost/internal/common/fsutil"
	"muhost/internal/config"
	"muhost/internal/engine"
	"muhost/internal/httpapi"
	"muhost/internal/manager"
)

const version = "1.0.0"

// newRootCmd builds the command tree. Every flag can also be set through a
// MUHOST_ environment variable, e.g. MUHOST_ADDR or MUHOST_MODELS_DIR.
func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("MUHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "muhost",
		Short:         "Local super-resolution host for the MangaUpscaler extension",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return v.BindPFlags(cmd.Flags())
		},
	}
	pf := root.PersistentFlags()
	pf.String("home", "~/.muhost", "Root directory holding config.json, models/ and cache/")
	pf.String("config", "", "Settings file (.json, .yaml or .toml); defaults to <home>/config.json")
	pf.String("models-dir", "", "Checkpoint directory when the settings do not name one (default <home>/models)")
	pf.String("cache-dir", "", "Result cache directory when the settings do not name one (default <home>/cache)")
	pf.String("log-level", "info", "Log level: debug|info|warn|error")
	pf.String("log-format", "auto", "Log format: auto|console|json")
	pf.String("log-file", "", "Also write logs to this file, rotated by size")

	root.AddCommand(newServeCmd(v), newCacheCmd(v), newConfigCmd(v))
	return root
}

// paths resolves the settings file and directory fallbacks from --home.
type paths struct {
	settings  string
	modelsDir string
	cacheDir  string
}

func resolvePaths(v *viper.Viper) (paths, error) {
	home, err := fsutil.ExpandHome(v.GetString("home"))
	if err != nil {
		return paths{}, fmt.Errorf("home: %w", err)
	}
	p := paths{
		settings:  v.GetString("config"),
		modelsDir: v.GetString("models-dir"),
		cacheDir:  v.GetString("cache-dir"),
	}
	if p.settings == "" {
		p.settings = filepath.Join(home, "config.json")
	}
	if p.modelsDir == "" {
		p.modelsDir = filepath.Join(home, "models")
	}
	if p.cacheDir == "" {
		p.cacheDir = filepath.Join(home, "cache")
	}
	if p.settings, err = fsutil.ExpandHome(p.settings); err != nil {
		return paths{}, fmt.Errorf("config: %w", err)
	}
	return p, nil
}

// openService loads (or creates) the settings file and constructs the
// manager with the process loggers installed.
func openService(v *viper.Viper, log zerolog.Logger) (*manager.Service, error) {
	p, err := resolvePaths(v)
	if err != nil {
		return nil, err
	}
	settings, err := config.EnsureFile(p.settings)
	if err != nil {
		return nil, err
	}
	manager.SetLogger(log.With().Str("component", "manager").Logger())
	engine.SetLogger(log.With().Str("component", "engine").Logger())
	httpapi.SetLogger(log.With().Str("component", "http").Logger())

	svc, err := manager.NewWithConfig(manager.ManagerConfig{
		SettingsPath: p.settings,
		Settings:     settings,
		ModelsDir:    p.modelsDir,
		CacheDir:     p.cacheDir,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("config", p.settings).
		Str("models_dir", svc.ModelsDir()).
		Str("cache_dir", svc.CacheDir()).
		Msg("settings loaded")
	return svc, nil
}

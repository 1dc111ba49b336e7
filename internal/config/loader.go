package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"muhost/internal/common/fsutil"
)

// Load reads a settings file based on its extension.
// Supports: .yaml/.yml, .json, .toml
//
// Scalar fields missing from the file keep their Defaults value; the model
// maps come only from the file so removed entries stay removed.
func Load(path string) (Settings, error) {
	cfg := Defaults()
	cfg.ModelMapByType = nil
	cfg.IllustrationByQuality = nil
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes settings in the format implied by the path extension.
func Save(path string, cfg Settings) error {
	var (
		b   []byte
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		b, err = yaml.Marshal(cfg)
	case ".json":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		err = enc.Encode(cfg)
		b = buf.Bytes()
	case ".toml":
		b, err = toml.Marshal(cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return fsutil.WriteFileAtomic(path, b, 0o644)
}

// EnsureFile loads the settings file at path, creating it with Defaults when
// it does not exist yet.
func EnsureFile(path string) (Settings, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Defaults()); err != nil {
			return Settings{}, fmt.Errorf("create default config: %w", err)
		}
	} else if err != nil {
		return Settings{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known upstream provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live", "openai-realtime", "mock"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	} else if !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name — may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.Name != "" && cfg.Provider.Name != "mock" && cfg.Provider.APIKey == "" {
		errs = append(errs, fmt.Errorf("provider.api_key is required for provider %q", cfg.Provider.Name))
	}

	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; sessions will run without organizational context")
	}

	if cfg.Audio.CaptureGain < 0 {
		errs = append(errs, fmt.Errorf("audio.capture_gain %.2f must not be negative", cfg.Audio.CaptureGain))
	}
	if cfg.Audio.BargeInThreshold < 0 || cfg.Audio.BargeInThreshold > 1 {
		errs = append(errs, fmt.Errorf("audio.barge_in_threshold %.3f is out of range [0, 1]", cfg.Audio.BargeInThreshold))
	}
	if cfg.Audio.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must not be negative", cfg.Audio.BlockSize))
	}

	return errors.Join(errs...)
}

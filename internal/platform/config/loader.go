package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voicestudio-server/internal/platform/errors"
)

// Loader reads configuration from a yaml file, layering environment
// overrides on top of the built-in defaults.
type Loader struct {
	path      string
	useDotEnv bool
}

// NewLoader creates a loader for the given config file path. An empty path
// falls back to ".config.yaml" in the working directory.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ".config.yaml"
	}
	return &Loader{path: path, useDotEnv: true}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config *Config
	Path   string
}

// Load merges defaults, the yaml file (when present) and environment
// variables, then validates the result.
func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			// No .env file is fine, system environment applies.
		}
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(l.path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load",
				fmt.Sprintf("parse %s", l.path), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(errors.KindConfig, "config.load",
			fmt.Sprintf("read %s", l.path), err)
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return &Result{Config: cfg, Path: l.path}, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOICESTUDIO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("VOICESTUDIO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("VOICESTUDIO_UPLOADS_DIR"); v != "" {
		cfg.Paths.Uploads = v
	}
	if v := os.Getenv("VOICESTUDIO_OUTPUTS_DIR"); v != "" {
		cfg.Paths.Outputs = v
	}
	if v := os.Getenv("VOICESTUDIO_VOICES_DIR"); v != "" {
		cfg.Paths.Voices = v
	}
	if v := os.Getenv("VOICESTUDIO_MODELS_DIR"); v != "" {
		cfg.Paths.Models = v
	}
	if v := os.Getenv("VOICESTUDIO_ENGINE_COMMAND"); v != "" {
		cfg.Synthesis.EngineCommand = v
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Newf(errors.KindConfig, "config.validate",
			"invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Audio.SampleRate < 8000 {
		return errors.Newf(errors.KindConfig, "config.validate",
			"sample rate too low: %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.MinDuration <= 0 || cfg.Audio.MaxDuration <= cfg.Audio.MinDuration {
		return errors.Newf(errors.KindConfig, "config.validate",
			"invalid duration window: [%.1f, %.1f]",
			cfg.Audio.MinDuration, cfg.Audio.MaxDuration)
	}
	if cfg.Pool.Workers <= 0 {
		return errors.Newf(errors.KindConfig, "config.validate",
			"worker pool size must be positive: %d", cfg.Pool.Workers)
	}
	return nil
}

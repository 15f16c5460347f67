package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_Load(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, ".config.yaml")

	configContent := `
server:
  ip: "127.0.0.1"
  port: 8080
log:
  log_level: "debug"
  log_dir: "/tmp/logs"
  log_file: "test.log"
paths:
  voices: "/tmp/voices"
audio:
  sample_rate: 16000
`

	err := os.WriteFile(configFile, []byte(configContent), 0o644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	loader := NewLoader(configFile).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	cfg := result.Config

	if cfg.Server.IP != "127.0.0.1" {
		t.Errorf("expected server IP 127.0.0.1, got %s", cfg.Server.IP)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Paths.Voices != "/tmp/voices" {
		t.Errorf("expected voices dir /tmp/voices, got %s", cfg.Paths.Voices)
	}
	// Unset fields keep their defaults.
	if cfg.Paths.Outputs != "data/outputs" {
		t.Errorf("expected default outputs dir, got %s", cfg.Paths.Outputs)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("missing config file should not fail: %v", err)
	}
	if result.Config.Audio.SampleRate != 22050 {
		t.Errorf("expected default sample rate, got %d", result.Config.Audio.SampleRate)
	}
	if result.Config.Training.QualityThreshold != 50.0 {
		t.Errorf("expected default quality threshold, got %f", result.Config.Training.QualityThreshold)
	}
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("VOICESTUDIO_PORT", "9100")
	t.Setenv("VOICESTUDIO_VOICES_DIR", "/srv/voices")

	loader := NewLoader(filepath.Join(t.TempDir(), "absent.yaml")).WithDotEnv(false)
	result, err := loader.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if result.Config.Server.Port != 9100 {
		t.Errorf("expected env port 9100, got %d", result.Config.Server.Port)
	}
	if result.Config.Paths.Voices != "/srv/voices" {
		t.Errorf("expected env voices dir, got %s", result.Config.Paths.Voices)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "sample rate too low",
			mutate:  func(c *Config) { c.Audio.SampleRate = 4000 },
			wantErr: true,
		},
		{
			name:    "inverted duration window",
			mutate:  func(c *Config) { c.Audio.MinDuration = 40; c.Audio.MaxDuration = 30 },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Pool.Workers = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

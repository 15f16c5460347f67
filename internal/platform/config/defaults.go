package config

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Paths: PathsConfig{
			Uploads: "data/uploads",
			Outputs: "data/outputs",
			Voices:  "data/voices",
			Models:  "data/models",
		},
		Audio: AudioConfig{
			SampleRate:  22050,
			MinDuration: 3.0,
			MaxDuration: 30.0,
		},
		Training: TrainingConfig{
			QualityThreshold: 50.0,
			MinTotalDuration: 10.0,
			MaxFiles:         20,
			StepDelay:        "2s",
		},
		Synthesis: SynthesisConfig{
			EngineCommand:    "xtts-cli",
			DefaultReference: "assets/default_voice.wav",
			DefaultLanguage:  "de",
			Languages: []string{
				"de", "en", "es", "fr", "it", "pt", "pl", "tr", "ru",
				"nl", "cs", "ar", "zh", "ja", "hu", "ko",
			},
		},
		Pool: PoolConfig{
			Workers: 4,
		},
	}
}

package config

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Paths     PathsConfig     `yaml:"paths"`
	Audio     AudioConfig     `yaml:"audio"`
	Training  TrainingConfig  `yaml:"training"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Pool      PoolConfig      `yaml:"pool_config"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// PathsConfig holds the four directories the service depends on. All are
// created at startup if absent.
type PathsConfig struct {
	Uploads string `yaml:"uploads"`
	Outputs string `yaml:"outputs"`
	Voices  string `yaml:"voices"`
	Models  string `yaml:"models"`
}

type AudioConfig struct {
	SampleRate  int     `yaml:"sample_rate"`
	MinDuration float64 `yaml:"min_duration"`
	MaxDuration float64 `yaml:"max_duration"`
}

type TrainingConfig struct {
	QualityThreshold float64 `yaml:"quality_threshold"`
	MinTotalDuration float64 `yaml:"min_total_duration"`
	MaxFiles         int     `yaml:"max_files"`
	StepDelay        string  `yaml:"step_delay"`
}

type SynthesisConfig struct {
	EngineCommand    string   `yaml:"engine_command"`
	EngineArgs       []string `yaml:"engine_args"`
	DefaultReference string   `yaml:"default_reference"`
	DefaultLanguage  string   `yaml:"default_language"`
	Languages        []string `yaml:"languages"`
}

type PoolConfig struct {
	Workers int `yaml:"workers"`
}

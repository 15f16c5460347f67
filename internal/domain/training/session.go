// Package training runs the asynchronous pipeline that turns a batch of
// uploaded samples into a ready voice: quality analysis, conditioning,
// validation and the model training step, with progress reporting and
// cooperative cancellation.
package training

import "time"

// Stage is the externally observed pipeline phase. The first reported
// stage is "preprocessing" even though analysis executes first; clients
// depend on these exact strings.
type Stage string

const (
	StagePreprocessing Stage = "preprocessing"
	StageAnalysis      Stage = "analysis"
	StageValidation    Stage = "validation"
	StageTraining      Stage = "training"
	StageCompleted     Stage = "completed"
	StageError         Stage = "error"
)

// Session is a point-in-time snapshot of one training run.
type Session struct {
	ID                  string     `json:"session_id"`
	VoiceID             string     `json:"voice_id"`
	Stage               Stage      `json:"stage"`
	Progress            float64    `json:"progress"`
	Message             string     `json:"message"`
	ErrorMessage        string     `json:"error_message,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// Config describes one training request.
type Config struct {
	VoiceID     string   `json:"voice_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	AudioFiles  []string `json:"audio_files"`

	QualityThreshold float64 `json:"quality_threshold"`
	MinTotalDuration float64 `json:"min_total_duration"`
	MaxFiles         int     `json:"max_files"`

	EnableQualityFilter bool `json:"enable_quality_filter"`
	EnableConditioning  bool `json:"enable_conditioning"`
}

const (
	defaultQualityThreshold = 50.0
	defaultMinTotalDuration = 10.0
	defaultMaxFiles         = 20
)

func (c *Config) applyDefaults() {
	if c.QualityThreshold <= 0 {
		c.QualityThreshold = defaultQualityThreshold
	}
	if c.MinTotalDuration <= 0 {
		c.MinTotalDuration = defaultMinTotalDuration
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = defaultMaxFiles
	}
}

// ProgressFunc receives a session snapshot on every progress update.
type ProgressFunc func(Session)

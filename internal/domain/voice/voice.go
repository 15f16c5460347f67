// Package voice holds the voice identity model and its durable registry.
package voice

import "time"

// Status is the lifecycle state of a voice. Transitions only move forward:
// processing/training may become ready or error, never the reverse.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusTraining   Status = "training"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// validTransition reports whether a voice may move from one status to
// another.
func validTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusProcessing, StatusTraining:
		return to == StatusReady || to == StatusError || to == StatusTraining
	default:
		return false
	}
}

// Voice is a named reference-audio identity usable for synthesis. Owned
// exclusively by the Registry and mutated only through its methods.
type Voice struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	SampleCount int       `json:"sample_count"`
	Duration    float64   `json:"duration"`
	PreviewURL  string    `json:"preview_url,omitempty"`
	Language    string    `json:"language,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// ledger is the on-disk JSON document listing all known voices.
type ledger struct {
	Voices    []Voice   `json:"voices"`
	UpdatedAt time.Time `json:"updated_at"`
}

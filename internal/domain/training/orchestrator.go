package training

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/domain/voice"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
	"voicestudio-server/internal/util/work"
)

// TopicProgress is the event bus topic carrying Session snapshots for
// every run. Per-session snapshots are additionally published on
// TopicProgress + "." + sessionID.
const TopicProgress = "training.progress"

const resultsFilename = "training_results.json"

// trainingSteps are the simulated model training sub-phases. Progress
// values and ordering are part of the observed contract.
var trainingSteps = []struct {
	progress float64
	message  string
}{
	{0.7, "Initializing training..."},
	{0.75, "Loading base model..."},
	{0.8, "Processing audio features..."},
	{0.85, "Training voice embeddings..."},
	{0.9, "Optimizing model parameters..."},
	{0.95, "Validating model quality..."},
	{0.98, "Saving trained model..."},
}

type session struct {
	snapshot  Session
	cancel    context.CancelFunc
	callbacks []ProgressFunc
}

// Orchestrator owns training sessions. StartTraining returns a session id
// immediately; the pipeline runs on a background goroutine, offloading
// signal processing to the worker pool, and reports progress through
// callbacks and the event bus.
type Orchestrator struct {
	log       *logging.Logger
	analyzer  *audio.Analyzer
	cond      *audio.Conditioner
	registry  *voice.Registry
	pool      *work.Pool
	bus       evbus.Bus
	stepDelay time.Duration

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewOrchestrator wires the orchestrator to its collaborators. stepDelay
// is the pause between simulated training sub-phases.
func NewOrchestrator(
	analyzer *audio.Analyzer,
	cond *audio.Conditioner,
	registry *voice.Registry,
	pool *work.Pool,
	bus evbus.Bus,
	stepDelay time.Duration,
	log *logging.Logger,
) *Orchestrator {
	return &Orchestrator{
		log:       log,
		analyzer:  analyzer,
		cond:      cond,
		registry:  registry,
		pool:      pool,
		bus:       bus,
		stepDelay: stepDelay,
		sessions:  make(map[string]*session),
	}
}

// StartTraining registers a session and kicks off the pipeline in the
// background. The returned session id is immediately pollable via
// GetProgress. callback may be nil.
func (o *Orchestrator) StartTraining(cfg Config, callback ProgressFunc) (string, error) {
	const op = "orchestrator.StartTraining"
	if cfg.VoiceID == "" {
		return "", errors.New(errors.KindValidation, op, "voice id must not be empty")
	}
	if len(cfg.AudioFiles) < 1 {
		return "", errors.New(errors.KindValidation, op, "at least one audio file required")
	}
	cfg.applyDefaults()

	if _, err := o.registry.Get(cfg.VoiceID); err != nil {
		if !errors.IsKind(err, errors.KindNotFound) {
			return "", err
		}
		if _, err := o.registry.Create(cfg.VoiceID, cfg.Name, cfg.Description, voice.StatusProcessing); err != nil {
			return "", err
		}
	}

	sessionID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now().UTC()
	s := &session{
		snapshot: Session{
			ID:        sessionID,
			VoiceID:   cfg.VoiceID,
			Stage:     StagePreprocessing,
			Progress:  0.0,
			Message:   "preparing training",
			StartedAt: now,
			UpdatedAt: now,
		},
		cancel: cancel,
	}
	if callback != nil {
		s.callbacks = append(s.callbacks, callback)
	}

	o.mu.Lock()
	o.sessions[sessionID] = s
	o.mu.Unlock()

	go o.run(ctx, sessionID, cfg)

	o.log.InfoTag("TRAIN", "session %s started for voice %s (%d files)",
		sessionID, cfg.VoiceID, len(cfg.AudioFiles))
	return sessionID, nil
}

// GetProgress returns the current snapshot for a session.
func (o *Orchestrator) GetProgress(sessionID string) (Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return s.snapshot, true
}

// Cancel stops a running session. Cancellation is cooperative: work
// already written to disk stays, and the session moves to the error stage.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.RLock()
	s, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	s.cancel()
	o.updateProgress(sessionID, StageError, 0.0, "training cancelled", "training cancelled by user")
	o.log.InfoTag("TRAIN", "session %s cancelled", sessionID)
	return true
}

// Cleanup removes a finished session from the table.
func (o *Orchestrator) Cleanup(sessionID string) {
	o.mu.Lock()
	if s, ok := o.sessions[sessionID]; ok {
		s.cancel()
		delete(o.sessions, sessionID)
	}
	o.mu.Unlock()
}

// Subscribe registers a bus handler for one session's progress snapshots.
func (o *Orchestrator) Subscribe(sessionID string, fn func(Session)) error {
	return o.bus.Subscribe(TopicProgress+"."+sessionID, fn)
}

// Unsubscribe removes a handler registered with Subscribe.
func (o *Orchestrator) Unsubscribe(sessionID string, fn func(Session)) error {
	return o.bus.Unsubscribe(TopicProgress+"."+sessionID, fn)
}

// fileQuality is the per-file entry of the results artifact.
type fileQuality struct {
	File            string   `json:"file"`
	QualityScore    float64  `json:"quality_score"`
	SNR             float64  `json:"snr"`
	Recommendations []string `json:"recommendations"`
}

// qualityReport aggregates the analysis stage output.
type qualityReport struct {
	Files            []fileQuality `json:"files"`
	AverageQuality   float64       `json:"average_quality"`
	ConsistencyScore float64       `json:"consistency_score"`
	Recommendations  []string      `json:"recommendations"`
}

func (o *Orchestrator) run(ctx context.Context, sessionID string, cfg Config) {
	err := o.pipeline(ctx, sessionID, cfg)
	if err == nil {
		return
	}

	if stderrors.Is(err, context.Canceled) {
		// Cancel owns the terminal snapshot; only the voice status is left
		// to settle here.
		if merr := o.registry.MarkError(cfg.VoiceID, "training cancelled by user"); merr != nil {
			o.log.WarnTag("TRAIN", "mark voice %s errored: %v", cfg.VoiceID, merr)
		}
		return
	}
	o.log.ErrorTag("TRAIN", "session %s failed: %v", sessionID, err)
	o.updateProgress(sessionID, StageError, 0.0,
		fmt.Sprintf("training failed: %v", err), err.Error())
	if merr := o.registry.MarkError(cfg.VoiceID, err.Error()); merr != nil {
		o.log.WarnTag("TRAIN", "mark voice %s errored: %v", cfg.VoiceID, merr)
	}
}

func (o *Orchestrator) pipeline(ctx context.Context, sessionID string, cfg Config) error {
	o.updateProgress(sessionID, StageAnalysis, 0.1, "analyzing audio quality", "")
	report := o.analyzeQuality(cfg)

	files := cfg.AudioFiles
	if cfg.EnableQualityFilter {
		files = o.filterByQuality(files, cfg.QualityThreshold)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	o.updateProgress(sessionID, StagePreprocessing, 0.3, "conditioning audio files", "")
	voiceDir := o.registry.VoiceDir(cfg.VoiceID)
	processed, totalDuration, err := o.conditionFiles(ctx, voiceDir, files, cfg.EnableConditioning)
	if err != nil {
		return err
	}
	if len(processed) == 0 {
		return errors.New(errors.KindTraining, "orchestrator.pipeline", "no files processed")
	}

	previewURL := ""
	previewPath := filepath.Join(voiceDir, "preview.wav")
	if err := audio.CopyFile(processed[0], previewPath); err != nil {
		o.log.WarnTag("TRAIN", "preview copy failed for voice %s: %v", cfg.VoiceID, err)
	} else {
		previewURL = "/voices/" + cfg.VoiceID + "/preview.wav"
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// File-count checks judge the input set that entered conditioning, so
	// a transient per-file failure does not fail an otherwise valid batch.
	// Total duration is measured on the conditioned artifacts.
	o.updateProgress(sessionID, StageValidation, 0.6, "validating training data", "")
	if err := o.validate(len(files), totalDuration, cfg); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := o.registry.SetStatus(cfg.VoiceID, voice.StatusTraining); err != nil {
		o.log.WarnTag("TRAIN", "status update for voice %s: %v", cfg.VoiceID, err)
	}
	o.updateProgress(sessionID, StageTraining, 0.7, "training voice model", "")
	if err := o.simulateTraining(ctx, sessionID); err != nil {
		return err
	}

	o.updateProgress(sessionID, StageCompleted, 1.0, "training completed", "")
	if err := o.registry.MarkReady(cfg.VoiceID, len(processed), totalDuration, previewURL); err != nil {
		return err
	}
	o.saveResults(sessionID, cfg, report, len(processed), totalDuration)
	o.log.InfoTag("TRAIN", "session %s completed: voice %s ready with %d samples (%.1fs)",
		sessionID, cfg.VoiceID, len(processed), totalDuration)
	return nil
}

// analyzeQuality scores every input file. Analysis failures are absorbed;
// the report simply stays partial.
func (o *Orchestrator) analyzeQuality(cfg Config) qualityReport {
	var report qualityReport
	var scores []float64
	var readable []string

	for _, path := range cfg.AudioFiles {
		metrics, err := o.analyzer.AnalyzeFile(path)
		if err != nil {
			o.log.WarnTag("TRAIN", "quality analysis failed for %s: %v", path, err)
			continue
		}
		report.Files = append(report.Files, fileQuality{
			File:            path,
			QualityScore:    metrics.QualityScore,
			SNR:             metrics.SNR,
			Recommendations: o.analyzer.Recommendations(metrics),
		})
		scores = append(scores, metrics.QualityScore)
		readable = append(readable, path)
	}

	if len(scores) > 0 {
		var sum float64
		for _, s := range scores {
			sum += s
		}
		report.AverageQuality = sum / float64(len(scores))
		if cmp, err := o.analyzer.Compare(readable); err == nil {
			report.ConsistencyScore = cmp.ConsistencyScore
			report.Recommendations = cmp.Recommendations
		}
	}
	return report
}

func (o *Orchestrator) filterByQuality(paths []string, threshold float64) []string {
	var kept []string
	for _, path := range paths {
		metrics, err := o.analyzer.AnalyzeFile(path)
		if err != nil {
			o.log.WarnTag("TRAIN", "quality check failed for %s: %v", path, err)
			continue
		}
		if metrics.QualityScore >= threshold {
			kept = append(kept, path)
		} else {
			o.log.InfoTag("TRAIN", "filtered %s (quality %.1f below %.1f)",
				filepath.Base(path), metrics.QualityScore, threshold)
		}
	}
	return kept
}

// conditionFiles writes canonical sample_NNN.wav artifacts into the voice
// directory. A file that fails conditioning is skipped, not fatal; the
// original upload is removed only after its conditioned artifact exists.
func (o *Orchestrator) conditionFiles(ctx context.Context, voiceDir string, paths []string, condition bool) ([]string, float64, error) {
	if err := os.MkdirAll(voiceDir, 0o755); err != nil {
		return nil, 0, errors.Wrap(errors.KindStorage, "orchestrator.conditionFiles", "create voice directory", err)
	}

	var processed []string
	var total float64
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		outPath := filepath.Join(voiceDir, fmt.Sprintf("sample_%03d.wav", i))

		if !condition {
			if err := audio.CopyFile(path, outPath); err != nil {
				o.log.WarnTag("TRAIN", "copy failed for %s: %v", path, err)
				continue
			}
			processed = append(processed, outPath)
			total += o.cond.Duration(outPath)
			continue
		}

		var duration float64
		err := o.pool.Do(ctx, func(context.Context) error {
			var cerr error
			duration, cerr = o.cond.ConditionFile(path, outPath)
			return cerr
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, err
			}
			o.log.WarnTag("TRAIN", "conditioning failed for %s: %v", path, err)
			continue
		}
		processed = append(processed, outPath)
		total += duration
		if path != outPath {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				o.log.WarnTag("TRAIN", "remove original %s: %v", path, err)
			}
		}
	}
	return processed, total, nil
}

func (o *Orchestrator) validate(fileCount int, totalDuration float64, cfg Config) error {
	const op = "orchestrator.validate"
	if fileCount < 3 {
		return errors.New(errors.KindValidation, op, "at least 3 audio files required")
	}
	if fileCount > cfg.MaxFiles {
		return errors.Newf(errors.KindValidation, op,
			"too many files: %d (max: %d)", fileCount, cfg.MaxFiles)
	}
	if totalDuration < cfg.MinTotalDuration {
		return errors.Newf(errors.KindValidation, op,
			"total duration too short: %.1fs (min: %.1fs)", totalDuration, cfg.MinTotalDuration)
	}
	return nil
}

func (o *Orchestrator) simulateTraining(ctx context.Context, sessionID string) error {
	for _, step := range trainingSteps {
		o.updateProgress(sessionID, StageTraining, step.progress, step.message, "")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.stepDelay):
		}
	}
	return nil
}

// resultsDocument is the advisory audit artifact written next to the
// samples after a successful run.
type resultsDocument struct {
	SessionID       string        `json:"session_id"`
	VoiceID         string        `json:"voice_id"`
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	TrainingConfig  Config        `json:"training_config"`
	QualityAnalysis qualityReport `json:"quality_analysis"`
	CompletedAt     time.Time     `json:"completed_at"`
	FileCount       int           `json:"file_count"`
	TotalDuration   float64       `json:"total_duration"`
}

func (o *Orchestrator) saveResults(sessionID string, cfg Config, report qualityReport, fileCount int, totalDuration float64) {
	doc := resultsDocument{
		SessionID:       sessionID,
		VoiceID:         cfg.VoiceID,
		Name:            cfg.Name,
		Description:     cfg.Description,
		TrainingConfig:  cfg,
		QualityAnalysis: report,
		CompletedAt:     time.Now().UTC(),
		FileCount:       fileCount,
		TotalDuration:   totalDuration,
	}
	raw, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		o.log.WarnTag("TRAIN", "encode training results: %v", err)
		return
	}
	path := filepath.Join(o.registry.VoiceDir(cfg.VoiceID), resultsFilename)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		o.log.WarnTag("TRAIN", "write training results: %v", err)
	}
}

// updateProgress mutates the session snapshot, recomputes the ETA and
// fans the snapshot out to callbacks and the event bus. Callback panics
// are recovered so a bad listener cannot take down a run.
func (o *Orchestrator) updateProgress(sessionID string, stage Stage, progress float64, message, errMessage string) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if s.snapshot.Stage == StageCompleted || s.snapshot.Stage == StageError {
		// Terminal stages are sticky.
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	s.snapshot.Stage = stage
	s.snapshot.Progress = progress
	s.snapshot.Message = message
	s.snapshot.UpdatedAt = now
	if errMessage != "" {
		s.snapshot.ErrorMessage = errMessage
	}
	if progress > 0 && stage != StageError {
		elapsed := now.Sub(s.snapshot.StartedAt)
		remaining := time.Duration(float64(elapsed)/progress) - elapsed
		eta := now.Add(remaining)
		s.snapshot.EstimatedCompletion = &eta
	}
	snapshot := s.snapshot
	callbacks := make([]ProgressFunc, len(s.callbacks))
	copy(callbacks, s.callbacks)
	o.mu.Unlock()

	for _, cb := range callbacks {
		o.notify(cb, snapshot)
	}
	if o.bus != nil {
		o.bus.Publish(TopicProgress, snapshot)
		o.bus.Publish(TopicProgress+"."+sessionID, snapshot)
	}
}

func (o *Orchestrator) notify(cb ProgressFunc, s Session) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WarnTag("TRAIN", "progress callback panicked: %v", r)
		}
	}()
	cb(s)
}

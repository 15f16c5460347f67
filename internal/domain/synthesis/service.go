package synthesis

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
	"voicestudio-server/internal/util/work"
)

// canonical output sample rate.
const outputRate = 22050

// Request carries one synthesis call. Speed and Temperature arrive
// pre-validated by the transport layer; the service only guards the
// essentials.
type Request struct {
	Text        string
	VoiceID     string
	Language    string
	Speed       float64
	Temperature float64
}

// Service resolves voice references and drives the engine. Engine calls
// run on the worker pool so callers are never blocked by inference.
type Service struct {
	log             *logging.Logger
	engine          Engine
	pool            *work.Pool
	voicesDir       string
	outputsDir      string
	defaultRef      string
	defaultLanguage string
	languages       []string
}

// NewService wires the synthesis service.
func NewService(engine Engine, pool *work.Pool, voicesDir, outputsDir, defaultRef, defaultLanguage string, languages []string, log *logging.Logger) *Service {
	return &Service{
		log:             log,
		engine:          engine,
		pool:            pool,
		voicesDir:       voicesDir,
		outputsDir:      outputsDir,
		defaultRef:      defaultRef,
		defaultLanguage: defaultLanguage,
		languages:       languages,
	}
}

// Ready reports whether the underlying engine can take requests.
func (s *Service) Ready() bool { return s.engine.Ready() }

// Languages returns the supported language codes.
func (s *Service) Languages() []string {
	out := make([]string, len(s.languages))
	copy(out, s.languages)
	return out
}

// Generate synthesizes speech and returns the path of the written output
// file under the outputs directory.
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	const op = "synthesis.Generate"
	if !s.engine.Ready() {
		return "", errors.New(errors.KindSynthesis, op, "model not initialized")
	}
	if strings.TrimSpace(req.Text) == "" {
		return "", errors.New(errors.KindValidation, op, "text must not be empty")
	}
	if req.Language == "" {
		req.Language = s.defaultLanguage
	}
	if req.Speed == 0 {
		req.Speed = 1.0
	}

	reference, err := s.resolveReference(req.VoiceID)
	if err != nil {
		return "", err
	}

	var samples []float64
	var rate int
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var serr error
		samples, rate, serr = s.engine.Synthesize(ctx, req.Text, reference, req.Language, req.Temperature)
		return serr
	})
	if err != nil {
		return "", err
	}
	if rate != outputRate {
		samples = audio.Resample(samples, rate, outputRate)
		rate = outputRate
	}

	outPath := filepath.Join(s.outputsDir, "tts_"+uuid.NewString()+".wav")
	if err := audio.WriteWAV(outPath, samples, rate); err != nil {
		return "", errors.Wrap(errors.KindStorage, op, "write output", err)
	}

	if req.Speed != 1.0 {
		s.adjustSpeed(outPath, req.Speed)
	}

	s.log.InfoTag("TTS", "generated %s (voice %s, %d chars)", filepath.Base(outPath), req.VoiceID, len(req.Text))
	return outPath, nil
}

// resolveReference finds the timbre reference for a voice id: the first
// wav (lexical order) in the voice's directory, then the bundled default
// for voiceID "default", then a not-found error. The fallback ordering is
// part of the contract.
func (s *Service) resolveReference(voiceID string) (string, error) {
	dir := filepath.Join(s.voicesDir, voiceID)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(dir)
		if err == nil {
			var wavs []string
			for _, entry := range entries {
				if !entry.IsDir() && strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
					wavs = append(wavs, entry.Name())
				}
			}
			if len(wavs) > 0 {
				sort.Strings(wavs)
				return filepath.Join(dir, wavs[0]), nil
			}
		}
	}

	if voiceID == "default" {
		if _, err := os.Stat(s.defaultRef); err == nil {
			return s.defaultRef, nil
		}
	}

	return "", errors.Newf(errors.KindNotFound, "synthesis.resolveReference",
		"voice reference for %q not found", voiceID)
}

// adjustSpeed resamples the written file to rate*speed while keeping the
// original header rate, which shifts pitch along with tempo. Failure is
// non-fatal; the unadjusted output stays on disk.
func (s *Service) adjustSpeed(path string, speed float64) {
	clip, err := audio.ReadFile(path)
	if err != nil {
		s.log.WarnTag("TTS", "speed adjustment failed for %s: %v", filepath.Base(path), err)
		return
	}
	newRate := int(float64(clip.Rate) * speed)
	if newRate <= 0 {
		s.log.WarnTag("TTS", "speed adjustment skipped for %s: bad rate %d", filepath.Base(path), newRate)
		return
	}
	resampled := audio.Resample(clip.Samples, clip.Rate, newRate)
	if err := audio.WriteWAV(path, resampled, clip.Rate); err != nil {
		s.log.WarnTag("TTS", "speed adjustment rewrite failed for %s: %v", filepath.Base(path), err)
	}
}

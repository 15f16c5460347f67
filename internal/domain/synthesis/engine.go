// Package synthesis turns text plus a voice reference into an output
// waveform through an external XTTS engine process.
package synthesis

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

// Engine is the external model contract: free text in, raw waveform out.
// Readiness must be queried before accepting synthesis requests.
type Engine interface {
	Synthesize(ctx context.Context, text, referencePath, language string, temperature float64) ([]float64, int, error)
	Ready() bool
}

// ExecEngine shells out to an XTTS command line for each request. The
// command receives the text, reference path, language and temperature as
// flags and must write a wav file at the path given by --output.
type ExecEngine struct {
	log     *logging.Logger
	command string
	args    []string
}

// NewExecEngine builds an engine around the given command. extraArgs are
// prepended before the per-request flags (model paths, device selection).
func NewExecEngine(command string, extraArgs []string, log *logging.Logger) *ExecEngine {
	return &ExecEngine{log: log, command: command, args: extraArgs}
}

// Ready reports whether the engine command is resolvable on PATH.
func (e *ExecEngine) Ready() bool {
	if e.command == "" {
		return false
	}
	_, err := exec.LookPath(e.command)
	return err == nil
}

func (e *ExecEngine) Synthesize(ctx context.Context, text, referencePath, language string, temperature float64) ([]float64, int, error) {
	const op = "engine.Synthesize"

	outPath := filepath.Join(os.TempDir(), "xtts_"+uuid.NewString()+".wav")
	defer os.Remove(outPath)

	args := append([]string{}, e.args...)
	args = append(args,
		"--text", text,
		"--speaker-wav", referencePath,
		"--language", language,
		"--temperature", strconv.FormatFloat(temperature, 'f', 2, 64),
		"--output", outPath,
	)

	cmd := exec.CommandContext(ctx, e.command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindSynthesis, op,
			fmt.Sprintf("engine run failed: %s", truncate(string(output), 512)), err)
	}

	clip, err := audio.ReadFile(outPath)
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindSynthesis, op, "read engine output", err)
	}
	mono := make([]float64, 0, len(clip.Samples)/clip.Channels)
	for i := 0; i < len(clip.Samples); i += clip.Channels {
		var sum float64
		for c := 0; c < clip.Channels; c++ {
			sum += clip.Samples[i+c]
		}
		mono = append(mono, sum/float64(clip.Channels))
	}
	return mono, clip.Rate, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package audio

import (
	"math"

	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

// Gate floor: masked regions are attenuated, never fully silenced.
const gateFloor = 0.1

// Conditioner normalizes raw recordings into canonical reference samples:
// fixed rate, mono, unit peak, bounded duration, noise-gated.
type Conditioner struct {
	log         *logging.Logger
	targetRate  int
	minDuration float64
	maxDuration float64
}

// NewConditioner creates a conditioner producing targetRate mono output with
// durations inside [minDuration, maxDuration] seconds.
func NewConditioner(targetRate int, minDuration, maxDuration float64, log *logging.Logger) *Conditioner {
	return &Conditioner{
		log:         log,
		targetRate:  targetRate,
		minDuration: minDuration,
		maxDuration: maxDuration,
	}
}

// TargetRate returns the canonical output sample rate.
func (c *Conditioner) TargetRate() int { return c.targetRate }

// Condition runs the full pipeline on a decoded clip and returns the
// canonical mono waveform and its rate. Deterministic for a given input.
func (c *Conditioner) Condition(clip Clip) ([]float64, int, error) {
	if len(clip.Samples) == 0 {
		return nil, 0, errors.New(errors.KindValidation, "audio.condition", "empty waveform")
	}
	if clip.Rate <= 0 || clip.Channels <= 0 {
		return nil, 0, errors.Newf(errors.KindValidation, "audio.condition",
			"invalid clip format: rate=%d channels=%d", clip.Rate, clip.Channels)
	}

	// 1. Resample to the canonical rate.
	if clip.Rate != c.targetRate {
		clip = resampleClip(clip, c.targetRate)
	}

	// 2. Downmix to mono.
	samples := downmix(clip)

	// 3. Peak-normalize.
	samples = normalize(samples)

	// 4. Trim leading/trailing silence (20 dB below peak).
	samples = trimSilence(samples, 20)

	// 5. Enforce the duration window.
	samples = c.enforceDuration(samples)

	// 6. Soft noise gate; degrades to pass-through on degenerate input.
	samples = c.noiseGate(samples)

	// 7. Final normalization.
	samples = normalize(samples)

	return samples, c.targetRate, nil
}

// ConditionFile conditions inputPath and writes the canonical wav artifact to
// outputPath. Returns the artifact duration in seconds.
func (c *Conditioner) ConditionFile(inputPath, outputPath string) (float64, error) {
	clip, err := ReadFile(inputPath)
	if err != nil {
		return 0, err
	}

	samples, rate, err := c.Condition(clip)
	if err != nil {
		return 0, err
	}

	if err := WriteWAV(outputPath, samples, rate); err != nil {
		return 0, err
	}
	return float64(len(samples)) / float64(rate), nil
}

// Duration reports a file's duration in seconds; 0 on any error.
func (c *Conditioner) Duration(path string) float64 {
	info, err := ReadInfo(path)
	if err != nil {
		if c.log != nil {
			c.log.WarnTag("Conditioner", "duration lookup failed for %s: %v", path, err)
		}
		return 0
	}
	return info.Duration
}

// Probe reports full format metadata; zero Info on error.
func (c *Conditioner) Probe(path string) Info {
	info, err := ReadInfo(path)
	if err != nil {
		if c.log != nil {
			c.log.WarnTag("Conditioner", "probe failed for %s: %v", path, err)
		}
		return Info{}
	}
	return info
}

// Validate checks a file's minimum requirements for cloning input. Read
// failures report false rather than an error.
func (c *Conditioner) Validate(path string) bool {
	info, err := ReadInfo(path)
	if err != nil {
		if c.log != nil {
			c.log.WarnTag("Conditioner", "validation failed for %s: %v", path, err)
		}
		return false
	}
	if info.Duration < 1.0 {
		if c.log != nil {
			c.log.WarnTag("Conditioner", "audio too short: %.2fs", info.Duration)
		}
		return false
	}
	if info.SampleRate < 8000 {
		if c.log != nil {
			c.log.WarnTag("Conditioner", "sample rate too low: %dHz", info.SampleRate)
		}
		return false
	}
	return true
}

// enforceDuration pads, tiles or truncates so the result lands inside the
// configured window. Very short signals (<= 1s) are zero-padded instead of
// tiled to avoid obvious looping artifacts.
func (c *Conditioner) enforceDuration(samples []float64) []float64 {
	duration := float64(len(samples)) / float64(c.targetRate)
	minSamples := int(c.minDuration * float64(c.targetRate))
	maxSamples := int(c.maxDuration * float64(c.targetRate))

	switch {
	case duration < c.minDuration && duration > 1.0:
		repeats := int(math.Ceil(c.minDuration / duration))
		tiled := make([]float64, 0, repeats*len(samples))
		for i := 0; i < repeats; i++ {
			tiled = append(tiled, samples...)
		}
		return tiled[:minSamples]

	case duration < c.minDuration:
		padded := make([]float64, minSamples)
		copy(padded, samples)
		return padded

	case duration > c.maxDuration:
		return samples[:maxSamples]
	}
	return samples
}

// noiseGate attenuates frames below the 10th-percentile energy threshold.
// The binary frame mask is linearly interpolated back to sample resolution
// and floored at gateFloor so no region is fully silenced.
func (c *Conditioner) noiseGate(samples []float64) []float64 {
	rms := frameRMS(samples)
	if len(rms) < 2 {
		// Too short to derive a mask, pass through.
		return samples
	}

	threshold := percentile(rms, 10)
	mask := make([]float64, len(rms))
	for i, v := range rms {
		if v > threshold {
			mask[i] = 1
		}
	}

	gated := make([]float64, len(samples))
	for i := range samples {
		pos := float64(i) / float64(hopLength)
		lower := int(pos)
		var gain float64
		if lower >= len(mask)-1 {
			gain = mask[len(mask)-1]
		} else {
			frac := pos - float64(lower)
			gain = mask[lower] + frac*(mask[lower+1]-mask[lower])
		}
		gated[i] = samples[i] * math.Max(gain, gateFloor)
	}
	return gated
}

// normalize scales samples to unit peak amplitude.
func normalize(samples []float64) []float64 {
	var peak float64
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(s))
	}
	if peak == 0 {
		return samples
	}
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// trimSilence removes leading and trailing frames more than topDB below the
// loudest frame.
func trimSilence(samples []float64, topDB float64) []float64 {
	rms := frameRMS(samples)
	if len(rms) == 0 {
		return samples
	}

	var peak float64
	for _, v := range rms {
		peak = math.Max(peak, v)
	}
	if peak == 0 {
		return samples
	}
	threshold := peak * math.Pow(10, -topDB/20)

	first, last := -1, -1
	for i, v := range rms {
		if v >= threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return samples
	}

	start := first * hopLength
	end := last*hopLength + frameLength
	if end > len(samples) {
		end = len(samples)
	}
	return samples[start:end]
}

// resampleClip converts a clip to targetRate using linear interpolation,
// channel by channel.
func resampleClip(clip Clip, targetRate int) Clip {
	frames := len(clip.Samples) / clip.Channels
	ratio := float64(targetRate) / float64(clip.Rate)
	outFrames := int(float64(frames) * ratio)
	if outFrames < 1 {
		outFrames = 1
	}

	out := make([]float64, outFrames*clip.Channels)
	for ch := 0; ch < clip.Channels; ch++ {
		for i := 0; i < outFrames; i++ {
			src := float64(i) / ratio
			lower := int(src)
			if lower >= frames-1 {
				out[i*clip.Channels+ch] = clip.Samples[(frames-1)*clip.Channels+ch]
				continue
			}
			frac := src - float64(lower)
			a := clip.Samples[lower*clip.Channels+ch]
			b := clip.Samples[(lower+1)*clip.Channels+ch]
			out[i*clip.Channels+ch] = a + frac*(b-a)
		}
	}

	return Clip{Samples: out, Rate: targetRate, Channels: clip.Channels}
}

// Resample converts a mono waveform to a new rate. Used by synthesis for the
// pitch-affecting speed adjustment.
func Resample(samples []float64, sourceRate, targetRate int) []float64 {
	if sourceRate == targetRate {
		return samples
	}
	clip := resampleClip(Clip{Samples: samples, Rate: sourceRate, Channels: 1}, targetRate)
	return clip.Samples
}

package audio

import (
	"math"
	"path/filepath"
	"testing"
)

// speechLike generates a deterministic signal resembling voiced speech:
// modulated harmonics with short quiet gaps.
func speechLike(duration float64, rate int) []float64 {
	n := int(duration * float64(rate))
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / float64(rate)
		// Quiet gap every second for 150ms.
		if math.Mod(t, 1.0) > 0.85 {
			samples[i] = 0.001 * math.Sin(2*math.Pi*100*t)
			continue
		}
		env := 0.6 + 0.4*math.Sin(2*math.Pi*3*t)
		samples[i] = env * (0.5*math.Sin(2*math.Pi*220*t) +
			0.3*math.Sin(2*math.Pi*440*t) +
			0.2*math.Sin(2*math.Pi*880*(1+0.1*math.Sin(2*math.Pi*2*t))*t))
	}
	return samples
}

func newTestConditioner() *Conditioner {
	return NewConditioner(22050, 3.0, 30.0, nil)
}

func TestConditioner_DurationWindow(t *testing.T) {
	c := newTestConditioner()

	tests := []struct {
		name     string
		duration float64
		rate     int
		channels int
	}{
		{"short repeated", 2.0, 22050, 1},
		{"very short padded", 0.5, 22050, 1},
		{"in range", 5.0, 22050, 1},
		{"too long truncated", 40.0, 22050, 1},
		{"needs resampling", 5.0, 44100, 1},
		{"low rate", 5.0, 16000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := speechLike(tt.duration, tt.rate)
			if tt.channels > 1 {
				samples = interleave(samples, tt.channels)
			}
			clip := Clip{Samples: samples, Rate: tt.rate, Channels: tt.channels}

			out, rate, err := c.Condition(clip)
			if err != nil {
				t.Fatalf("Condition() error: %v", err)
			}
			if rate != 22050 {
				t.Errorf("expected canonical rate 22050, got %d", rate)
			}
			duration := float64(len(out)) / float64(rate)
			if duration < 3.0-0.05 || duration > 30.0+0.05 {
				t.Errorf("duration %.2fs outside [3, 30]", duration)
			}
		})
	}
}

func interleave(mono []float64, channels int) []float64 {
	out := make([]float64, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}

func TestConditioner_StereoDownmix(t *testing.T) {
	c := newTestConditioner()
	mono := speechLike(5.0, 22050)
	clip := Clip{Samples: interleave(mono, 2), Rate: 22050, Channels: 2}

	out, rate, err := c.Condition(clip)
	if err != nil {
		t.Fatalf("Condition() error: %v", err)
	}
	if rate != 22050 {
		t.Errorf("expected rate 22050, got %d", rate)
	}
	var peak float64
	for _, s := range out {
		peak = math.Max(peak, math.Abs(s))
	}
	if math.Abs(peak-1.0) > 1e-6 {
		t.Errorf("expected unit peak after normalization, got %f", peak)
	}
}

func TestConditioner_Idempotent(t *testing.T) {
	c := newTestConditioner()
	clip := Clip{Samples: speechLike(8.0, 44100), Rate: 44100, Channels: 1}

	first, rate1, err := c.Condition(clip)
	if err != nil {
		t.Fatalf("first Condition() error: %v", err)
	}

	second, rate2, err := c.Condition(Clip{Samples: first, Rate: rate1, Channels: 1})
	if err != nil {
		t.Fatalf("second Condition() error: %v", err)
	}
	if rate1 != rate2 {
		t.Errorf("rate changed on second pass: %d -> %d", rate1, rate2)
	}

	d1 := float64(len(first)) / float64(rate1)
	d2 := float64(len(second)) / float64(rate2)
	// Already canonical: only trim rounding may nibble at the edges.
	if math.Abs(d1-d2) > 0.25 {
		t.Errorf("duration drifted on second pass: %.3fs -> %.3fs", d1, d2)
	}
}

func TestConditioner_EmptyInput(t *testing.T) {
	c := newTestConditioner()
	if _, _, err := c.Condition(Clip{Rate: 22050, Channels: 1}); err == nil {
		t.Error("expected error for empty waveform")
	}
}

func TestConditioner_FileRoundTrip(t *testing.T) {
	c := newTestConditioner()
	dir := t.TempDir()

	in := filepath.Join(dir, "raw.wav")
	if err := WriteWAV(in, speechLike(4.0, 22050), 22050); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}

	out := filepath.Join(dir, "sample_000.wav")
	duration, err := c.ConditionFile(in, out)
	if err != nil {
		t.Fatalf("ConditionFile() error: %v", err)
	}
	if duration < 3.0 || duration > 30.0 {
		t.Errorf("artifact duration %.2fs outside window", duration)
	}

	info := c.Probe(out)
	if info.SampleRate != 22050 {
		t.Errorf("expected 22050Hz artifact, got %d", info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("expected mono artifact, got %d channels", info.Channels)
	}
}

func TestConditioner_Validate(t *testing.T) {
	c := newTestConditioner()
	dir := t.TempDir()

	good := filepath.Join(dir, "good.wav")
	if err := WriteWAV(good, speechLike(2.0, 22050), 22050); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}
	if !c.Validate(good) {
		t.Error("expected valid file to pass validation")
	}

	short := filepath.Join(dir, "short.wav")
	if err := WriteWAV(short, speechLike(0.5, 22050), 22050); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}
	if c.Validate(short) {
		t.Error("expected sub-second file to fail validation")
	}

	lowRate := filepath.Join(dir, "lowrate.wav")
	if err := WriteWAV(lowRate, speechLike(2.0, 4000), 4000); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}
	if c.Validate(lowRate) {
		t.Error("expected low-rate file to fail validation")
	}

	if c.Validate(filepath.Join(dir, "missing.wav")) {
		t.Error("expected missing file to fail validation")
	}
	if c.Duration(filepath.Join(dir, "missing.wav")) != 0 {
		t.Error("expected zero duration for missing file")
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roundtrip.wav")

	original := speechLike(1.0, 22050)
	if err := WriteWAV(path, original, 22050); err != nil {
		t.Fatalf("WriteWAV() error: %v", err)
	}

	clip, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if clip.Rate != 22050 || clip.Channels != 1 {
		t.Fatalf("unexpected format: rate=%d channels=%d", clip.Rate, clip.Channels)
	}
	if len(clip.Samples) != len(original) {
		t.Fatalf("sample count mismatch: %d != %d", len(clip.Samples), len(original))
	}
	for i := range original {
		if math.Abs(clip.Samples[i]-original[i]) > 1.0/32000 {
			t.Fatalf("sample %d drifted: %f != %f", i, clip.Samples[i], original[i])
		}
	}
}

func TestReadFile_UnsupportedType(t *testing.T) {
	if _, err := ReadFile("sample.ogg"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

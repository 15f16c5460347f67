package voice

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New(logging.Config{Level: "error", Dir: t.TempDir(), Filename: "test.log"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestRegistry(t *testing.T, dir string) *Registry {
	t.Helper()
	log := newTestLogger(t)
	cond := audio.NewConditioner(22050, 3.0, 30.0, nil)
	r := NewRegistry(dir, cond, log)
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return r
}

// writeSample drops a short sine wav into a voice directory.
func writeSample(t *testing.T, path string, seconds float64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	rate := 22050
	n := int(seconds * float64(rate))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
	}
	if err := audio.WriteWAV(path, samples, rate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	v, err := r.Create("abc123", "Narrator", "deep male voice", StatusProcessing)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.Status != StatusProcessing {
		t.Errorf("status = %s, want %s", v.Status, StatusProcessing)
	}
	if _, err := os.Stat(filepath.Join(dir, "abc123")); err != nil {
		t.Errorf("voice directory not created: %v", err)
	}

	got, err := r.Get("abc123")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Narrator" || got.Description != "deep male voice" {
		t.Errorf("Get = %+v", got)
	}

	if _, err := r.Create("abc123", "Dup", "", StatusProcessing); err == nil {
		t.Error("duplicate Create should fail")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	_, err := r.Get("missing")
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("Get unknown voice: got %v, want not-found", err)
	}
}

func TestRegistryStatusTransitions(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	if _, err := r.Create("v1", "V", "", StatusProcessing); err != nil {
		t.Fatal(err)
	}

	if err := r.SetStatus("v1", StatusTraining); err != nil {
		t.Fatalf("processing -> training: %v", err)
	}
	if err := r.MarkReady("v1", 3, 12.5, "/voices/v1/preview.wav"); err != nil {
		t.Fatalf("training -> ready: %v", err)
	}

	got, _ := r.Get("v1")
	if got.Status != StatusReady || got.SampleCount != 3 || got.Duration != 12.5 {
		t.Errorf("after MarkReady: %+v", got)
	}
	if got.PreviewURL != "/voices/v1/preview.wav" {
		t.Errorf("preview url = %q", got.PreviewURL)
	}

	// Ready is terminal.
	if err := r.SetStatus("v1", StatusProcessing); err == nil {
		t.Error("ready -> processing should be rejected")
	}
	if err := r.MarkError("v1", "boom"); err == nil {
		t.Error("ready -> error should be rejected")
	}
}

func TestRegistryMarkError(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	if _, err := r.Create("v1", "V", "", StatusProcessing); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkError("v1", "no files processed"); err != nil {
		t.Fatalf("MarkError: %v", err)
	}
	got, err := r.Get("v1")
	if err != nil {
		t.Fatalf("Get after error: %v", err)
	}
	if got.Status != StatusError || got.LastError != "no files processed" {
		t.Errorf("errored voice = %+v", got)
	}
}

func TestRegistryRestartKeepsLedger(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	if _, err := r.Create("v1", "Narrator", "described", StatusProcessing); err != nil {
		t.Fatal(err)
	}
	writeSample(t, filepath.Join(dir, "v1", "sample_000.wav"), 3.0)
	if err := r.MarkReady("v1", 1, 3.0, ""); err != nil {
		t.Fatal(err)
	}

	// New process over the same directory.
	r2 := newTestRegistry(t, dir)
	got, err := r2.Get("v1")
	if err != nil {
		t.Fatalf("Get after restart: %v", err)
	}
	if got.Name != "Narrator" || got.Description != "described" {
		t.Errorf("ledger fields lost across restart: %+v", got)
	}
	if got.Status != StatusReady {
		t.Errorf("status = %s, want %s", got.Status, StatusReady)
	}
}

func TestRegistryReconstructsOrphanDirectory(t *testing.T) {
	dir := t.TempDir()
	id := "9f8e7d6c-0000-4000-8000-000000000001"
	writeSample(t, filepath.Join(dir, id, "sample_000.wav"), 3.0)
	writeSample(t, filepath.Join(dir, id, "sample_001.wav"), 4.0)
	writeSample(t, filepath.Join(dir, id, "preview.wav"), 1.0)

	r := newTestRegistry(t, dir)
	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get reconstructed voice: %v", err)
	}
	if got.Name != "Voice 9f8e7d6c" {
		t.Errorf("name = %q, want %q", got.Name, "Voice 9f8e7d6c")
	}
	if got.Status != StatusReady {
		t.Errorf("status = %s, want %s", got.Status, StatusReady)
	}
	if got.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2 (preview excluded)", got.SampleCount)
	}
	if got.Duration < 6.9 || got.Duration > 7.1 {
		t.Errorf("duration = %.2f, want ~7.0", got.Duration)
	}
	if got.PreviewURL != "/voices/"+id+"/preview.wav" {
		t.Errorf("preview url = %q", got.PreviewURL)
	}
}

func TestRegistryEvictsDeletedDirectory(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	if _, err := r.Create("v1", "V", "", StatusProcessing); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(filepath.Join(dir, "v1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := r.Get("v1"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("evicted voice still resolvable: %v", err)
	}
}

func TestRegistryDelete(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	if _, err := r.Create("v1", "V", "", StatusProcessing); err != nil {
		t.Fatal(err)
	}
	writeSample(t, filepath.Join(dir, "v1", "sample_000.wav"), 3.0)

	if err := r.Delete("v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "v1")); !os.IsNotExist(err) {
		t.Error("voice directory survived Delete")
	}
	if err := r.Delete("v1"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRegistrySamples(t *testing.T) {
	dir := t.TempDir()
	id := "orphan01-0000-4000-8000-000000000002"
	writeSample(t, filepath.Join(dir, id, "sample_001.wav"), 3.0)
	writeSample(t, filepath.Join(dir, id, "sample_000.wav"), 3.0)
	writeSample(t, filepath.Join(dir, id, "preview.wav"), 1.0)

	r := newTestRegistry(t, dir)
	paths, err := r.Samples(id)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("len(paths) = %d, want 2", len(paths))
	}
	if filepath.Base(paths[0]) != "sample_000.wav" || filepath.Base(paths[1]) != "sample_001.wav" {
		t.Errorf("sample order wrong: %v", paths)
	}
}

func TestRegistryListOrder(t *testing.T) {
	r := newTestRegistry(t, t.TempDir())
	for _, id := range []string{"a", "b", "c"} {
		if _, err := r.Create(id, "Voice "+id, "", StatusProcessing); err != nil {
			t.Fatal(err)
		}
	}
	voices, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(voices) != 3 {
		t.Fatalf("len = %d, want 3", len(voices))
	}
	for i := 1; i < len(voices); i++ {
		if voices[i].CreatedAt.After(voices[i-1].CreatedAt) {
			t.Errorf("List not newest-first at index %d", i)
		}
	}
}

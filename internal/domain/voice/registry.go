package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/platform/errors"
	"voicestudio-server/internal/platform/logging"
)

const (
	ledgerFilename  = "voices.json"
	previewFilename = "preview.wav"
)

// Registry is the durable catalog of voices. It keeps an in-memory cache
// backed by a whole-file JSON ledger next to the voice directories, and
// reconciles the cache against the filesystem so that voices survive
// restarts and hand-edited directories.
type Registry struct {
	log        *logging.Logger
	voicesDir  string
	ledgerPath string
	cond       *audio.Conditioner

	mu    sync.RWMutex
	cache map[string]*Voice

	// ledgerMu serializes whole-file ledger rewrites so a reader never
	// observes a torn document.
	ledgerMu sync.Mutex
}

// NewRegistry creates a registry rooted at voicesDir. Call Initialize
// before use.
func NewRegistry(voicesDir string, cond *audio.Conditioner, log *logging.Logger) *Registry {
	return &Registry{
		log:        log,
		voicesDir:  voicesDir,
		ledgerPath: filepath.Join(voicesDir, ledgerFilename),
		cond:       cond,
		cache:      make(map[string]*Voice),
	}
}

// Initialize creates the voices directory, loads the ledger if present and
// reconciles the cache against the directories on disk. A missing or
// corrupt ledger is not fatal; the registry rebuilds it from the
// filesystem.
func (r *Registry) Initialize() error {
	if err := os.MkdirAll(r.voicesDir, 0o755); err != nil {
		return errors.Wrap(errors.KindStorage, "registry.Initialize", "create voices directory", err)
	}
	if err := r.loadLedger(); err != nil {
		r.log.WarnTag("VOICE", "ledger unreadable, rebuilding from disk: %v", err)
	}
	if err := r.Refresh(); err != nil {
		return err
	}
	r.log.InfoTag("VOICE", "registry initialized with %d voices", r.count())
	return nil
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// VoiceDir returns the sample directory for a voice id. It does not check
// existence.
func (r *Registry) VoiceDir(id string) string {
	return filepath.Join(r.voicesDir, id)
}

// List refreshes the registry against the filesystem and returns all
// voices sorted by creation time, newest first.
func (r *Registry) List() ([]Voice, error) {
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Voice, 0, len(r.cache))
	for _, v := range r.cache {
		out = append(out, *v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns a snapshot of a single voice.
func (r *Registry) Get(id string) (Voice, error) {
	r.mu.RLock()
	v, ok := r.cache[id]
	if ok {
		snap := *v
		r.mu.RUnlock()
		return snap, nil
	}
	r.mu.RUnlock()

	// The voice may have appeared on disk since the last refresh.
	if err := r.Refresh(); err != nil {
		return Voice{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.cache[id]; ok {
		return *v, nil
	}
	return Voice{}, errors.Newf(errors.KindNotFound, "registry.Get", "voice %q not found", id)
}

// Create registers a new voice in the given initial status and creates its
// sample directory. The id must not already exist.
func (r *Registry) Create(id, name, description string, status Status) (Voice, error) {
	const op = "registry.Create"
	if id == "" {
		return Voice{}, errors.New(errors.KindValidation, op, "voice id must not be empty")
	}
	r.mu.Lock()
	if _, exists := r.cache[id]; exists {
		r.mu.Unlock()
		return Voice{}, errors.Newf(errors.KindValidation, op, "voice %q already exists", id)
	}
	v := &Voice{
		ID:          id,
		Name:        name,
		Description: description,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
	r.cache[id] = v
	snap := *v
	r.mu.Unlock()

	if err := os.MkdirAll(r.VoiceDir(id), 0o755); err != nil {
		r.evict(id)
		return Voice{}, errors.Wrap(errors.KindStorage, op, "create voice directory", err)
	}
	if err := r.persist(); err != nil {
		return Voice{}, err
	}
	r.log.InfoTag("VOICE", "created voice %s (%s)", id, name)
	return snap, nil
}

// SetStatus moves a voice to a new lifecycle status, enforcing forward-only
// transitions, and persists the ledger.
func (r *Registry) SetStatus(id string, status Status) error {
	return r.update("registry.SetStatus", id, func(v *Voice) error {
		if !validTransition(v.Status, status) {
			return errors.Newf(errors.KindValidation, "registry.SetStatus",
				"invalid transition %s -> %s for voice %q", v.Status, status, id)
		}
		v.Status = status
		return nil
	})
}

// MarkReady records a successful training run: sample count, total
// duration and preview URL, and flips the voice to ready.
func (r *Registry) MarkReady(id string, sampleCount int, duration float64, previewURL string) error {
	return r.update("registry.MarkReady", id, func(v *Voice) error {
		if !validTransition(v.Status, StatusReady) {
			return errors.Newf(errors.KindValidation, "registry.MarkReady",
				"invalid transition %s -> %s for voice %q", v.Status, StatusReady, id)
		}
		v.Status = StatusReady
		v.SampleCount = sampleCount
		v.Duration = duration
		v.PreviewURL = previewURL
		v.LastError = ""
		return nil
	})
}

// MarkError records a failed run with its message. The voice stays
// queryable so clients can read what went wrong.
func (r *Registry) MarkError(id, message string) error {
	return r.update("registry.MarkError", id, func(v *Voice) error {
		if !validTransition(v.Status, StatusError) {
			return errors.Newf(errors.KindValidation, "registry.MarkError",
				"invalid transition %s -> %s for voice %q", v.Status, StatusError, id)
		}
		v.Status = StatusError
		v.LastError = message
		return nil
	})
}

func (r *Registry) update(op, id string, fn func(*Voice) error) error {
	r.mu.Lock()
	v, ok := r.cache[id]
	if !ok {
		r.mu.Unlock()
		return errors.Newf(errors.KindNotFound, op, "voice %q not found", id)
	}
	if err := fn(v); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	return r.persist()
}

// Delete removes a voice from the cache and its directory from disk.
// Directory removal is best effort; a failure there is logged but the
// registry entry is gone either way.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	_, ok := r.cache[id]
	if !ok {
		r.mu.Unlock()
		return errors.Newf(errors.KindNotFound, "registry.Delete", "voice %q not found", id)
	}
	delete(r.cache, id)
	r.mu.Unlock()

	if err := os.RemoveAll(r.VoiceDir(id)); err != nil {
		r.log.WarnTag("VOICE", "delete voice %s: directory removal failed: %v", id, err)
	}
	r.log.InfoTag("VOICE", "deleted voice %s", id)
	return r.persist()
}

// Refresh reconciles the cache with the voices directory. Directories with
// no cache entry are reconstructed from their samples; cache entries whose
// directory has disappeared are evicted. The ledger is rewritten only when
// something changed.
func (r *Registry) Refresh() error {
	entries, err := os.ReadDir(r.voicesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.KindStorage, "registry.Refresh", "read voices directory", err)
	}

	onDisk := make(map[string]bool, len(entries))
	changed := false

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		onDisk[id] = true

		r.mu.RLock()
		_, known := r.cache[id]
		r.mu.RUnlock()
		if known {
			continue
		}
		v, err := r.reconstruct(id)
		if err != nil {
			r.log.WarnTag("VOICE", "skipping directory %s: %v", id, err)
			continue
		}
		r.mu.Lock()
		r.cache[id] = v
		r.mu.Unlock()
		changed = true
		r.log.InfoTag("VOICE", "reconstructed voice %s from disk (%d samples, %.1fs)",
			id, v.SampleCount, v.Duration)
	}

	r.mu.Lock()
	for id := range r.cache {
		if !onDisk[id] {
			delete(r.cache, id)
			changed = true
			r.log.InfoTag("VOICE", "evicted voice %s: directory gone", id)
		}
	}
	r.mu.Unlock()

	if changed {
		return r.persist()
	}
	return nil
}

// reconstruct builds a voice entry from a sample directory alone, used
// when the ledger is missing or stale.
func (r *Registry) reconstruct(id string) (*Voice, error) {
	dir := r.VoiceDir(id)
	samples, err := listSamples(dir)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples in %s", dir)
	}

	var total float64
	for _, path := range samples {
		total += r.cond.Duration(path)
	}

	created := time.Now().UTC()
	if info, err := os.Stat(dir); err == nil {
		created = info.ModTime().UTC()
	}

	shortID := id
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	v := &Voice{
		ID:          id,
		Name:        "Voice " + shortID,
		Status:      StatusReady,
		CreatedAt:   created,
		SampleCount: len(samples),
		Duration:    total,
	}
	if _, err := os.Stat(filepath.Join(dir, previewFilename)); err == nil {
		v.PreviewURL = "/voices/" + id + "/" + previewFilename
	}
	return v, nil
}

// listSamples returns the wav files in a voice directory in lexical order,
// excluding the preview artifact.
func listSamples(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == previewFilename || !strings.EqualFold(filepath.Ext(name), ".wav") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}

// Samples returns the sample file paths for a voice in lexical order.
func (r *Registry) Samples(id string) ([]string, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	paths, err := listSamples(r.VoiceDir(id))
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "registry.Samples", "read voice directory", err)
	}
	return paths, nil
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *Registry) loadLedger() error {
	raw, err := os.ReadFile(r.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc ledger
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return err
	}
	r.mu.Lock()
	for i := range doc.Voices {
		v := doc.Voices[i]
		r.cache[v.ID] = &v
	}
	r.mu.Unlock()
	return nil
}

// persist rewrites the whole ledger document. Writes go through a temp
// file and rename so readers never see a partial file.
func (r *Registry) persist() error {
	r.mu.RLock()
	doc := ledger{
		Voices:    make([]Voice, 0, len(r.cache)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, v := range r.cache {
		doc.Voices = append(doc.Voices, *v)
	}
	r.mu.RUnlock()
	sort.Slice(doc.Voices, func(i, j int) bool { return doc.Voices[i].ID < doc.Voices[j].ID })

	raw, err := sonic.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindStorage, "registry.persist", "encode ledger", err)
	}

	r.ledgerMu.Lock()
	defer r.ledgerMu.Unlock()
	tmp := r.ledgerPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errors.Wrap(errors.KindStorage, "registry.persist", "write ledger", err)
	}
	if err := os.Rename(tmp, r.ledgerPath); err != nil {
		return errors.Wrap(errors.KindStorage, "registry.persist", "replace ledger", err)
	}
	return nil
}

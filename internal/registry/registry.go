// Package registry implements StreamRegistry: the keyed table of live
// stream.Context values, lifecycle arbitration (create/get/delete), and the
// age-based GC sweep (§4.4). Directory/file naming is grounded on the
// teacher's storage/persistence-files.go (one path per named entity,
// os.Create/os.Open/os.Remove); the sweep is grounded on
// storage/cache.go's CacheManager, adapted from a memory-budget LRU to a
// pure TTL sweep since §4.4 specifies cleanupOldStreams(maxAgeHours) rather
// than a byte budget.
package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/launix-de/streamcache/internal/cacheerr"
	"github.com/launix-de/streamcache/internal/stream"
)

// Registry owns every live stream.Context, keyed by streamId. The registry
// lock protects only map membership; once a *stream.Context handle is
// extracted the registry lock is released before any per-stream mutation
// runs, so one stream's slow write never blocks another's (§4.4, §5). Lock
// order is fixed: Registry -> Context -> SegmentedFile, and is never taken
// in reverse.
type Registry struct {
	cacheDir string

	mu      sync.RWMutex
	streams map[string]*stream.Context
}

// New ensures cacheDir exists and returns an empty Registry rooted there.
func New(cacheDir string) (*Registry, error) {
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, err
	}
	return &Registry{
		cacheDir: cacheDir,
		streams:  make(map[string]*stream.Context),
	}, nil
}

// validateID rejects ids that would escape cacheDir or collide with
// reserved path components - not mandated by §4.4 but explicitly
// recommended ("implementations SHOULD reject ids containing path
// separators or '..'").
func validateID(id string) error {
	if id == "" || id == "." || id == ".." {
		return cacheerr.ErrInvalidStreamID
	}
	if strings.ContainsAny(id, "/\\") {
		return cacheerr.ErrInvalidStreamID
	}
	return nil
}

func (r *Registry) cachePath(id string) string {
	return filepath.Join(r.cacheDir, id+".cache")
}

// CreateStream registers a new stream.Context for id, failing if id is
// already present or invalid.
func (r *Registry) CreateStream(id string) (*stream.Context, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.streams[id]; exists {
		r.mu.Unlock()
		return nil, cacheerr.ErrStreamExists
	}
	// Reserve the slot before releasing the lock and doing file I/O, so a
	// concurrent CreateStream(id) can't race past the existence check.
	r.streams[id] = nil
	r.mu.Unlock()

	ctx, err := stream.New(id, r.cachePath(id))

	r.mu.Lock()
	if err != nil {
		delete(r.streams, id)
		r.mu.Unlock()
		return nil, err
	}
	r.streams[id] = ctx
	r.mu.Unlock()

	return ctx, nil
}

// GetStream returns the context for id, touching its lastAccessedAt, or
// (nil, false) if absent.
func (r *Registry) GetStream(id string) (*stream.Context, bool) {
	r.mu.RLock()
	ctx, ok := r.streams[id]
	r.mu.RUnlock()
	if !ok || ctx == nil {
		return nil, false
	}
	ctx.Touch()
	return ctx, true
}

// DeleteStream closes the mmap, unlinks the backing file, and removes the
// entry. Reports false if id was already absent (idempotent in effect).
func (r *Registry) DeleteStream(id string) bool {
	r.mu.Lock()
	ctx, ok := r.streams[id]
	if ok {
		delete(r.streams, id)
	}
	r.mu.Unlock()

	if !ok || ctx == nil {
		return false
	}
	_ = ctx.Close()
	_ = os.Remove(ctx.CachePath())
	return true
}

// WriteChunk dispatches to the matching stream.Context.Append after a
// registry lookup.
func (r *Registry) WriteChunk(id string, data []byte) (int, error) {
	ctx, ok := r.GetStream(id)
	if !ok {
		return 0, cacheerr.ErrStreamMissing
	}
	return ctx.Append(data)
}

// ReadChunk dispatches to the matching stream.Context.Read after a registry
// lookup. Status-agnostic by design (§4.3/§9): it does not require the
// stream to be Ready.
func (r *Registry) ReadChunk(id string, offset int64, length int) ([]byte, error) {
	ctx, ok := r.GetStream(id)
	if !ok {
		return nil, cacheerr.ErrStreamMissing
	}
	return ctx.Read(offset, length)
}

// FinalizeStream dispatches to the matching stream.Context.Finalize after a
// registry lookup.
func (r *Registry) FinalizeStream(id string) error {
	ctx, ok := r.GetStream(id)
	if !ok {
		return cacheerr.ErrStreamMissing
	}
	return ctx.Finalize()
}

// ListActive returns a snapshot of currently registered stream ids.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.streams))
	for id, ctx := range r.streams {
		if ctx != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// CleanupOldStreams deletes every stream whose lastAccessedAt is older than
// now-maxAge, returning the ids it removed.
func (r *Registry) CleanupOldStreams(maxAge time.Duration) []string {
	cutoff := time.Now().Add(-maxAge)

	r.mu.RLock()
	var stale []string
	for id, ctx := range r.streams {
		if ctx != nil && ctx.LastAccessedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	removed := make([]string, 0, len(stale))
	for _, id := range stale {
		if r.DeleteStream(id) {
			removed = append(removed, id)
		}
	}
	return removed
}

// Shutdown closes and unlinks every remaining stream, for use at server
// shutdown.
func (r *Registry) Shutdown() {
	for _, id := range r.ListActive() {
		r.DeleteStream(id)
	}
}

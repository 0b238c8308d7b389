// Package stream implements StreamContext: per-stream metadata, the
// UPLOADING/READY/ERROR state machine, and ownership of one
// mmapfile.SegmentedFile (§3, §4.3). Grounded on the teacher's
// storage/shared_resource.go, which models lazily-loaded resources as an
// explicit COLD/SHARED/WRITE state enum guarded by a lock rather than a
// callback chain - the same shape this spec calls for ("callback chains ->
// explicit session state", DESIGN NOTES §9).
package stream

import (
	"sync"
	"time"

	"github.com/launix-de/streamcache/internal/cacheerr"
	"github.com/launix-de/streamcache/internal/mmapfile"
)

// Status is a stream's position in its state machine (§4.3).
type Status uint8

const (
	// Uploading is the initial state: only append/Write and bounded reads are legal.
	Uploading Status = iota
	// Ready is terminal: no further writes, totalSize immutable.
	Ready
	// Error is terminal: the underlying file failed an I/O operation.
	Error
)

func (s Status) String() string {
	switch s {
	case Uploading:
		return "UPLOADING"
	case Ready:
		return "READY"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Context is one stream's metadata plus its backing SegmentedFile. All
// mutating methods hold mu for their duration; Read only holds it long
// enough to snapshot status/offsets before releasing it ahead of the
// (possibly slow) underlying file read, so the read itself runs outside the
// context lock (§5).
type Context struct {
	id        string
	cachePath string

	mu             sync.Mutex
	status         Status
	appendOffset   int64
	totalSize      int64
	createdAt      time.Time
	lastAccessedAt time.Time

	file *mmapfile.SegmentedFile
}

// New constructs a Context in UPLOADING state with an empty backing file
// already created at cachePath.
func New(id, cachePath string) (*Context, error) {
	file := mmapfile.New(cachePath)
	if err := file.Create(0); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Context{
		id:             id,
		cachePath:      cachePath,
		status:         Uploading,
		createdAt:      now,
		lastAccessedAt: now,
		file:           file,
	}, nil
}

// ID returns the stream id this context was created for.
func (c *Context) ID() string { return c.id }

// CachePath returns the backing file's path.
func (c *Context) CachePath() string { return c.cachePath }

// Snapshot is a point-in-time, lock-free copy of a Context's metadata.
type Snapshot struct {
	Status         Status
	AppendOffset   int64
	TotalSize      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Snapshot copies out the current metadata under the context lock.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:         c.status,
		AppendOffset:   c.appendOffset,
		TotalSize:      c.totalSize,
		CreatedAt:      c.createdAt,
		LastAccessedAt: c.lastAccessedAt,
	}
}

// Touch updates lastAccessedAt without otherwise mutating the context.
func (c *Context) Touch() {
	c.mu.Lock()
	c.lastAccessedAt = time.Now()
	c.mu.Unlock()
}

// Append writes data at the current appendOffset, advancing appendOffset
// and totalSize by the bytes actually written. Legal only in Uploading; an
// underlying write failure transitions the context to Error.
func (c *Context) Append(data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != Uploading {
		return 0, cacheerr.ErrInvalidState
	}

	n, err := c.file.Write(c.appendOffset, data)
	c.lastAccessedAt = time.Now()
	if err != nil {
		c.status = Error
		return n, err
	}
	c.appendOffset += int64(n)
	c.totalSize = c.appendOffset
	return n, nil
}

// Finalize truncates the backing file to totalSize, flushes it, and
// transitions Uploading -> Ready. Legal only once, from Uploading.
func (c *Context) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != Uploading {
		return cacheerr.ErrInvalidState
	}

	if err := c.file.Finalize(c.totalSize); err != nil {
		c.status = Error
		return err
	}

	c.status = Ready
	return nil
}

// Read returns bytes in [offset, offset+length), clamped to the readable
// prefix for the current status: appendOffset while Uploading, totalSize
// once Ready. Legal in both Uploading and Ready - §4.3/§9 deliberately omit
// a status check here, matching the source's "read directly from cache"
// behavior, which allows a concurrent reader to observe a partial upload.
func (c *Context) Read(offset int64, length int) ([]byte, error) {
	c.mu.Lock()
	status := c.status
	limit := c.totalSize
	if status == Uploading {
		limit = c.appendOffset
	}
	c.lastAccessedAt = time.Now()
	c.mu.Unlock()

	if status == Error {
		return nil, cacheerr.ErrInvalidState
	}
	if offset < 0 || offset >= limit || length <= 0 {
		return []byte{}, nil
	}
	if offset+int64(length) > limit {
		length = int(limit - offset)
	}
	return c.file.Read(offset, length)
}

// TotalSize returns the current totalSize under the context lock.
func (c *Context) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Status returns the current status under the context lock.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastAccessedAt returns the last-touched time under the context lock, used
// by the registry's GC sweep.
func (c *Context) LastAccessedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAccessedAt
}

// Close releases the backing SegmentedFile's mapped segments and file
// handle. It does not unlink the file; that's the registry's job so that
// "a stream's file is deleted iff its context is removed from the
// registry" (§3) stays a single, registry-owned invariant.
func (c *Context) Close() error {
	return c.file.Close()
}

// Package mmapfile implements SegmentedFile: a single on-disk file exposed
// as offset-addressed read/write over a set of lazily-mapped, fixed-size
// windows (§4.1). Segments are mapped on demand with
// github.com/edsrzf/mmap-go and unmapped on resize/evict/close, so a
// multi-gigabyte stream never needs the whole file resident at once.
//
// Grounded on other_examples' e2b-dev-infra block cache (an mmap-go backed
// ReadAt/WriteAt cache with the same Flush-before-Unmap discipline) and the
// calvinalkan-agent-task slotcache files (segment-boundary handling over a
// raw file-backed mapping); the teacher's own scm/jit.go shows the same
// project reaching for mmap at the syscall level for anonymous executable
// pages, confirming the general comfort with memory mapping even though it
// never does the file-backed case itself.
package mmapfile

import (
	"fmt"
	"os"
	"sort"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	"github.com/launix-de/streamcache/internal/cacheerr"
)

const (
	// SegmentSize is the fixed window size mapped per segment (§3).
	SegmentSize int64 = 1 << 30 // 1 GiB
	// MaxCacheSize is the hard ceiling on any single stream's backing file (§3).
	MaxCacheSize int64 = 8 << 30 // 8 GiB
	// BatchOperationLimit bounds WriteBatch/ReadBatch (§4.1).
	BatchOperationLimit = 1000

	filePerm = 0o644
)

// SegmentedFile provides offset addressing, lazy segment-sized mappings,
// and flush semantics over a real mmap-go region per segment.
type SegmentedFile struct {
	path string

	mu       sync.RWMutex // guards file handle, fileSize, closed
	file     *os.File
	fileSize int64
	closed   bool

	segMu    sync.Mutex // guards the segment map, independent of mu so
	segments map[int64]mmap.MMap // readers can lazily map without blocking each other
}

// New returns a SegmentedFile bound to path. Neither Create nor Open has
// been called yet; the file has no backing handle until one of them runs.
func New(path string) *SegmentedFile {
	return &SegmentedFile{path: path, closed: true}
}

// Path returns the backing file path.
func (f *SegmentedFile) Path() string { return f.path }

// Size returns the current logical file size.
func (f *SegmentedFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fileSize
}

// Create creates (or truncates) the backing file and pre-extends it to
// initialSize. Exclusive.
func (f *SegmentedFile) Create(initialSize int64) error {
	if initialSize < 0 || initialSize > MaxCacheSize {
		return cacheerr.ErrInvalidSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", cacheerr.ErrIO, f.path, err)
	}
	if initialSize > 0 {
		if err := file.Truncate(initialSize); err != nil {
			file.Close()
			return fmt.Errorf("%w: truncate %s: %v", cacheerr.ErrIO, f.path, err)
		}
	}

	f.file = file
	f.fileSize = initialSize
	f.segments = make(map[int64]mmap.MMap)
	f.closed = false
	return nil
}

// Open opens an existing backing file read-write. Exclusive.
func (f *SegmentedFile) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openLocked()
}

func (f *SegmentedFile) openLocked() error {
	if f.file != nil && !f.closed {
		return nil
	}
	file, err := os.OpenFile(f.path, os.O_RDWR, filePerm)
	if err != nil {
		if os.IsNotExist(err) {
			return cacheerr.ErrNotFound
		}
		return fmt.Errorf("%w: open %s: %v", cacheerr.ErrIO, f.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("%w: stat %s: %v", cacheerr.ErrIO, f.path, err)
	}
	f.file = file
	f.fileSize = info.Size()
	f.segments = make(map[int64]mmap.MMap)
	f.closed = false
	return nil
}

// Close unmaps every segment (flushing each first), closes the file handle,
// and is idempotent.
func (f *SegmentedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	unmapErr := f.unmapAllLocked()
	var closeErr error
	if f.file != nil {
		if err := f.file.Close(); err != nil {
			closeErr = fmt.Errorf("%w: close %s: %v", cacheerr.ErrIO, f.path, err)
		}
	}
	f.file = nil
	f.closed = true
	if unmapErr != nil {
		return unmapErr
	}
	return closeErr
}

// unmapAllLocked flushes and unmaps every segment currently mapped. Caller
// must hold f.mu exclusively.
func (f *SegmentedFile) unmapAllLocked() error {
	f.segMu.Lock()
	defer f.segMu.Unlock()
	var firstErr error
	for idx, seg := range f.segments {
		if err := seg.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: flush segment %d: %v", cacheerr.ErrIO, idx, err)
		}
		if err := seg.Unmap(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: unmap segment %d: %v", cacheerr.ErrIO, idx, err)
		}
	}
	f.segments = make(map[int64]mmap.MMap)
	return firstErr
}

// ensureSegment lazily maps segment idx if not already mapped. Caller must
// hold f.mu (either shared or exclusive) so fileSize is stable.
func (f *SegmentedFile) ensureSegment(idx int64) (mmap.MMap, error) {
	f.segMu.Lock()
	defer f.segMu.Unlock()
	if seg, ok := f.segments[idx]; ok {
		return seg, nil
	}
	segStart := idx * SegmentSize
	segLen := SegmentSize
	if remain := f.fileSize - segStart; remain < segLen {
		segLen = remain
	}
	if segLen <= 0 {
		return nil, fmt.Errorf("%w: segment %d out of range", cacheerr.ErrIO, idx)
	}
	seg, err := mmap.MapRegion(f.file, int(segLen), mmap.RDWR, 0, segStart)
	if err != nil {
		return nil, fmt.Errorf("%w: map segment %d: %v", cacheerr.ErrIO, idx, err)
	}
	f.segments[idx] = seg
	return seg, nil
}

// resizeLocked unmaps everything and truncates to newSize. Caller must hold
// f.mu exclusively and have already validated newSize.
func (f *SegmentedFile) resizeLocked(newSize int64) error {
	if newSize == f.fileSize {
		return nil
	}
	if err := f.unmapAllLocked(); err != nil {
		return err
	}
	if err := f.file.Truncate(newSize); err != nil {
		return fmt.Errorf("%w: truncate %s: %v", cacheerr.ErrIO, f.path, err)
	}
	f.fileSize = newSize
	return nil
}

// Resize grows or shrinks the backing file, unmapping all segments first.
// No-op if newSize already equals the current size. Exclusive.
func (f *SegmentedFile) Resize(newSize int64) error {
	if newSize < 0 || newSize > MaxCacheSize {
		return cacheerr.ErrInvalidSize
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.file == nil {
		return cacheerr.ErrClosed
	}
	return f.resizeLocked(newSize)
}

// Finalize truncates the file to finalSize and flushes it. Exclusive
// (delegates to Resize then Flush).
func (f *SegmentedFile) Finalize(finalSize int64) error {
	if err := f.Resize(finalSize); err != nil {
		return err
	}
	return f.Flush()
}

// Write copies data into the file starting at offset, growing the file
// first if necessary. The pages touched by each copied chunk are handed to
// an asynchronous msync (MS_ASYNC) before Write returns; a synchronous sync
// happens in Flush, Finalize, Evict and Close. Exclusive.
func (f *SegmentedFile) Write(offset int64, data []byte) (int, error) {
	if offset < 0 {
		return 0, cacheerr.ErrBounds
	}
	if len(data) == 0 {
		return 0, nil
	}
	end := offset + int64(len(data))
	if end > MaxCacheSize {
		return 0, cacheerr.ErrBounds
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.file == nil {
		return 0, cacheerr.ErrClosed
	}
	if end > f.fileSize {
		if err := f.resizeLocked(end); err != nil {
			return 0, err
		}
	}

	pageSize := int64(os.Getpagesize())
	written := 0
	remaining := data
	cur := offset
	for len(remaining) > 0 {
		idx := cur / SegmentSize
		segStart := idx * SegmentSize
		within := cur - segStart

		seg, err := f.ensureSegment(idx)
		if err != nil {
			return written, err
		}
		chunk := int64(len(seg)) - within
		if chunk > int64(len(remaining)) {
			chunk = int64(len(remaining))
		}
		if chunk <= 0 {
			return written, fmt.Errorf("%w: segment %d exhausted at offset %d", cacheerr.ErrIO, idx, cur)
		}
		copy(seg[within:within+chunk], remaining[:chunk])
		// Segments start on page boundaries, so rounding within down to a
		// page multiple gives msync the aligned address it needs.
		pageStart := within &^ (pageSize - 1)
		if err := unix.Msync(seg[pageStart:within+chunk], unix.MS_ASYNC); err != nil {
			return written, fmt.Errorf("%w: msync segment %d: %v", cacheerr.ErrIO, idx, err)
		}

		written += int(chunk)
		remaining = remaining[chunk:]
		cur += chunk
	}
	return written, nil
}

// Read copies up to length bytes starting at offset. Returns an empty slice
// (not an error) once offset is at or past the current file size - the
// end-of-stream signal relied on by §4.6's GET handling. Shared, except for
// the one-time lazy open described in §4.1.
func (f *SegmentedFile) Read(offset int64, length int) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return []byte{}, nil
	}

	f.mu.RLock()
	needsOpen := f.file == nil
	f.mu.RUnlock()
	if needsOpen {
		if err := f.Open(); err != nil {
			return nil, err
		}
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed || f.file == nil {
		return nil, cacheerr.ErrClosed
	}
	if offset >= f.fileSize {
		return []byte{}, nil
	}
	if offset+int64(length) > f.fileSize {
		length = int(f.fileSize - offset)
	}

	out := make([]byte, length)
	filled := 0
	cur := offset
	for filled < length {
		idx := cur / SegmentSize
		segStart := idx * SegmentSize
		within := cur - segStart

		seg, err := f.ensureSegment(idx)
		if err != nil {
			return nil, err
		}
		chunk := int64(len(seg)) - within
		remain := int64(length - filled)
		if chunk > remain {
			chunk = remain
		}
		copy(out[filled:int64(filled)+chunk], seg[within:within+chunk])
		filled += int(chunk)
		cur += chunk
	}
	return out, nil
}

// Flush forces every currently mapped segment to disk synchronously. Shared.
func (f *SegmentedFile) Flush() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return cacheerr.ErrClosed
	}
	f.segMu.Lock()
	defer f.segMu.Unlock()
	for idx, seg := range f.segments {
		if err := seg.Flush(); err != nil {
			return fmt.Errorf("%w: flush segment %d: %v", cacheerr.ErrIO, idx, err)
		}
	}
	return nil
}

// Prefetch maps the segments covering [offset, offset+length) if needed and
// issues a will-need advisory over each. Shared.
func (f *SegmentedFile) Prefetch(offset int64, length int) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed || f.file == nil {
		return cacheerr.ErrClosed
	}
	if length <= 0 || offset >= f.fileSize {
		return nil
	}
	end := offset + int64(length)
	if end > f.fileSize {
		end = f.fileSize
	}
	idxStart := offset / SegmentSize
	idxEnd := (end - 1) / SegmentSize
	for idx := idxStart; idx <= idxEnd; idx++ {
		seg, err := f.ensureSegment(idx)
		if err != nil {
			return err
		}
		if err := unix.Madvise(seg, unix.MADV_WILLNEED); err != nil {
			return fmt.Errorf("%w: madvise segment %d: %v", cacheerr.ErrIO, idx, err)
		}
	}
	return nil
}

// Evict unmaps the segments covering [offset, offset+length) without
// modifying file contents, flushing first so no write is lost. Exclusive.
func (f *SegmentedFile) Evict(offset int64, length int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return cacheerr.ErrClosed
	}
	if length <= 0 {
		return nil
	}
	end := offset + int64(length)
	idxStart := offset / SegmentSize
	idxEnd := (end - 1) / SegmentSize

	f.segMu.Lock()
	defer f.segMu.Unlock()
	for idx := idxStart; idx <= idxEnd; idx++ {
		seg, ok := f.segments[idx]
		if !ok {
			continue
		}
		if err := seg.Flush(); err != nil {
			return fmt.Errorf("%w: flush segment %d: %v", cacheerr.ErrIO, idx, err)
		}
		if err := seg.Unmap(); err != nil {
			return fmt.Errorf("%w: unmap segment %d: %v", cacheerr.ErrIO, idx, err)
		}
		delete(f.segments, idx)
	}
	return nil
}

// WriteOp is one entry of a WriteBatch call.
type WriteOp struct {
	Offset int64
	Data   []byte
}

// WriteBatch applies ops in ascending-offset order (the call-level ordering
// guarantee of §4.1), rejecting batches over BatchOperationLimit entries.
func (f *SegmentedFile) WriteBatch(ops []WriteOp) (int, error) {
	if len(ops) > BatchOperationLimit {
		return 0, cacheerr.ErrBatchLimit
	}
	sorted := make([]WriteOp, len(ops))
	copy(sorted, ops)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	total := 0
	for _, op := range sorted {
		n, err := f.Write(op.Offset, op.Data)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReadOp is one entry of a ReadBatch call.
type ReadOp struct {
	Offset int64
	Length int
}

// ReadBatch reads each op independently, returning results in the same
// order as the request. Rejects batches over BatchOperationLimit entries.
func (f *SegmentedFile) ReadBatch(ops []ReadOp) ([][]byte, error) {
	if len(ops) > BatchOperationLimit {
		return nil, cacheerr.ErrBatchLimit
	}
	results := make([][]byte, len(ops))
	for i, op := range ops {
		data, err := f.Read(op.Offset, op.Length)
		if err != nil {
			return results, err
		}
		results[i] = data
	}
	return results, nil
}

package mmapfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/launix-de/streamcache/internal/cacheerr"
)

func newTestFile(t *testing.T) *SegmentedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.cache")
	f := New(path)
	if err := f.Create(0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteReadRoundTrip(t *testing.T) {
	f := newTestFile(t)
	want := []byte("hello world")
	n, err := f.Write(0, want)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Write returned %d, want %d", n, len(want))
	}

	got, err := f.Read(0, len(want))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read = %q, want %q", got, want)
	}
}

func TestReadPastEndReturnsEmpty(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read(100, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read past end = %v, want empty", got)
	}
}

func TestReadClampsToFileSize(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := f.Read(3, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "def" {
		t.Fatalf("Read = %q, want %q", got, "def")
	}
}

func TestZeroLengthWriteRead(t *testing.T) {
	f := newTestFile(t)
	n, err := f.Write(0, nil)
	if err != nil || n != 0 {
		t.Fatalf("Write(nil) = %d, %v, want 0, nil", n, err)
	}
	got, err := f.Read(0, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("Read(0,0) = %v, %v, want empty, nil", got, err)
	}
}

func TestWriteAtSegmentBoundary(t *testing.T) {
	f := newTestFile(t)
	offset := SegmentSize
	data := bytes.Repeat([]byte{0xAB}, 16)
	if _, err := f.Write(offset, data); err != nil {
		t.Fatalf("Write at boundary: %v", err)
	}
	got, err := f.Read(offset, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read at boundary mismatch")
	}
}

func TestWriteStraddlingSegments(t *testing.T) {
	f := newTestFile(t)
	offset := SegmentSize - 8
	data := []byte("0123456789ABCDEF") // 16 bytes, straddles the boundary
	if _, err := f.Write(offset, data); err != nil {
		t.Fatalf("Write straddling: %v", err)
	}
	got, err := f.Read(offset, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read straddling = %q, want %q", got, data)
	}
}

func TestMaxCacheSizeRejected(t *testing.T) {
	f := newTestFile(t)
	_, err := f.Write(MaxCacheSize-1, []byte("ab"))
	if err != cacheerr.ErrBounds {
		t.Fatalf("Write past MaxCacheSize = %v, want ErrBounds", err)
	}
}

func TestCreateRejectsOversizedInitialSize(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "x.cache"))
	if err := f.Create(MaxCacheSize + 1); err != cacheerr.ErrInvalidSize {
		t.Fatalf("Create(oversized) = %v, want ErrInvalidSize", err)
	}
}

func TestOpenMissingReturnsNotFound(t *testing.T) {
	f := New(filepath.Join(t.TempDir(), "missing.cache"))
	if err := f.Open(); err != cacheerr.ErrNotFound {
		t.Fatalf("Open(missing) = %v, want ErrNotFound", err)
	}
}

func TestFinalizeTruncatesAndFlushes(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abcdefgh")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Finalize(5); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if f.Size() != 5 {
		t.Fatalf("Size after finalize = %d, want 5", f.Size())
	}
	got, err := f.Read(0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "abcde" {
		t.Fatalf("Read after finalize = %q, want %q", got, "abcde")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newTestFile(t)
	if err := f.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestReopenPreservesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.cache")
	f := New(path)
	if err := f.Create(0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	want := []byte("persisted across reopen")
	if _, err := f.Write(0, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f2 := New(path)
	if err := f2.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f2.Close()
	got, err := f2.Read(0, len(want))
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("Read after reopen = %q, want %q", got, want)
	}
}

func TestWriteBatchOrdersByOffset(t *testing.T) {
	f := newTestFile(t)
	ops := []WriteOp{
		{Offset: 5, Data: []byte("world")},
		{Offset: 0, Data: []byte("hello")},
	}
	if _, err := f.WriteBatch(ops); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	got, err := f.Read(0, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "helloworld" {
		t.Fatalf("Read after WriteBatch = %q, want %q", got, "helloworld")
	}
}

func TestWriteBatchRejectsOverLimit(t *testing.T) {
	f := newTestFile(t)
	ops := make([]WriteOp, BatchOperationLimit+1)
	if _, err := f.WriteBatch(ops); err != cacheerr.ErrBatchLimit {
		t.Fatalf("WriteBatch(over limit) = %v, want ErrBatchLimit", err)
	}
}

func TestReadBatchPreservesOrder(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abcdefghij")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	results, err := f.ReadBatch([]ReadOp{{Offset: 5, Length: 5}, {Offset: 0, Length: 5}})
	if err != nil {
		t.Fatalf("ReadBatch: %v", err)
	}
	if string(results[0]) != "fghij" || string(results[1]) != "abcde" {
		t.Fatalf("ReadBatch order mismatch: %q, %q", results[0], results[1])
	}
}

func TestPrefetchAndEvict(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abcdef")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Prefetch(0, 6); err != nil {
		t.Fatalf("Prefetch: %v", err)
	}
	if err := f.Evict(0, 6); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	got, err := f.Read(0, 6)
	if err != nil {
		t.Fatalf("Read after evict: %v", err)
	}
	if string(got) != "abcdef" {
		t.Fatalf("Read after evict = %q, want %q", got, "abcdef")
	}
}

func TestResizeNoopWhenEqual(t *testing.T) {
	f := newTestFile(t)
	if _, err := f.Write(0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	size := f.Size()
	if err := f.Resize(size); err != nil {
		t.Fatalf("Resize(same): %v", err)
	}
	if f.Size() != size {
		t.Fatalf("Size changed on no-op resize")
	}
}

func TestFileGrowsToLengthOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grown.cache")
	f := New(path)
	if err := f.Create(0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.Write(10, []byte("xyz")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Finalize(13); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 13 {
		t.Fatalf("on-disk size = %d, want 13", info.Size())
	}
}

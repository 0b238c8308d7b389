package stream

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/launix-de/streamcache/internal/cacheerr"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.cache")
	c, err := New("s1", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewContextStartsUploading(t *testing.T) {
	c := newTestContext(t)
	if c.Status() != Uploading {
		t.Fatalf("Status() = %v, want Uploading", c.Status())
	}
	if c.TotalSize() != 0 {
		t.Fatalf("TotalSize() = %d, want 0", c.TotalSize())
	}
}

func TestAppendAdvancesOffsets(t *testing.T) {
	c := newTestContext(t)
	n, err := c.Append([]byte("hello "))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 6 {
		t.Fatalf("Append returned %d, want 6", n)
	}
	n, err = c.Append([]byte("world"))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if n != 5 {
		t.Fatalf("Append returned %d, want 5", n)
	}
	if c.TotalSize() != 11 {
		t.Fatalf("TotalSize() = %d, want 11", c.TotalSize())
	}
}

func TestReadDuringUploadClampsToAppendOffset(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := c.Read(0, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Read = %q, want %q", got, "hello")
	}
	got, err = c.Read(5, 10)
	if err != nil {
		t.Fatalf("Read at appendOffset: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read at appendOffset = %v, want empty", got)
	}
}

func TestFinalizeTransitionsToReady(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("payload")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if c.Status() != Ready {
		t.Fatalf("Status() = %v, want Ready", c.Status())
	}
	if c.TotalSize() != 7 {
		t.Fatalf("TotalSize() = %d, want 7", c.TotalSize())
	}
}

func TestFinalizeTwiceIsRejected(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	if err := c.Finalize(); !errors.Is(err, cacheerr.ErrInvalidState) {
		t.Fatalf("second Finalize = %v, want ErrInvalidState", err)
	}
	if c.Status() != Ready {
		t.Fatalf("Status() after double finalize = %v, want Ready", c.Status())
	}
}

func TestAppendAfterReadyIsRejected(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("x")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := c.Append([]byte("y")); !errors.Is(err, cacheerr.ErrInvalidState) {
		t.Fatalf("Append after Ready = %v, want ErrInvalidState", err)
	}
}

func TestReadAfterReadyServesFullRange(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("hello world")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, err := c.Read(6, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("Read = %q, want %q", got, "world")
	}
}

func TestReadPastTotalSizeReturnsEmpty(t *testing.T) {
	c := newTestContext(t)
	if _, err := c.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, err := c.Read(3, 5)
	if err != nil {
		t.Fatalf("Read past end: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Read past end = %v, want empty", got)
	}
}

func TestRoundTripChunkedAppend(t *testing.T) {
	c := newTestContext(t)
	payload := []byte("the quick brown fox jumps over the lazy dog")
	const chunk = 7
	for i := 0; i < len(payload); i += chunk {
		end := i + chunk
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := c.Append(payload[i:end]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, err := c.Read(0, len(payload))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("Read = %q, want %q", got, payload)
	}
}

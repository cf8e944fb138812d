// Package partialfile backs random-access reads of a remote object with a
// local temp file that may only be partially downloaded, tracking valid
// byte coverage with a rangeset.Set.
package partialfile

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/rangeset"
)

// PartialFile is the shared, exclusively-owned temp file behind a
// remote stream: a single Writer handle (owned by the fetcher) mutates
// it, any number of Reader handles observe it.
type PartialFile struct {
	file      *os.File
	totalLen  int64
	knownLen  bool
	mu        sync.Mutex
	ranges    *rangeset.Set
	notify    *sync.Cond
	closed    bool
}

// New creates a PartialFile backed by a fresh temp file. totalLen is the
// known remote length (0 if unknown, e.g. non-range-capable sources).
func New(totalLen int64) (*PartialFile, error) {
	f, err := os.CreateTemp("", "streamcore-partial-*")
	if err != nil {
		return nil, fmt.Errorf("partialfile: create temp file: %w", err)
	}
	pf := &PartialFile{
		file:     f,
		totalLen: totalLen,
		knownLen: totalLen > 0,
		ranges:   rangeset.New(),
	}
	pf.notify = sync.NewCond(&pf.mu)
	return pf, nil
}

// TotalLen returns the known total length, or 0 if not yet known.
func (pf *PartialFile) TotalLen() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.totalLen
}

// SetTotalLen records the total length once discovered (e.g. from the
// fetcher's first GET when its HEAD request reported no Content-Length).
func (pf *PartialFile) SetTotalLen(n int64) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	pf.totalLen = n
	pf.knownLen = true
	pf.notify.Broadcast()
}

// Writer is the fetcher's exclusive write handle.
type Writer struct{ pf *PartialFile }

// Reader is a shared, blocking-capable read handle used by mediasource.
type Reader struct{ pf *PartialFile }

// NewWriter returns the single write handle for this PartialFile. Callers
// must not create more than one concurrently live Writer.
func (pf *PartialFile) NewWriter() *Writer { return &Writer{pf: pf} }

// NewReader returns a new read handle sharing this PartialFile's data.
func (pf *PartialFile) NewReader() *Reader { return &Reader{pf: pf} }

// WriteAt writes bytes at offset and records the interval as downloaded,
// waking any reader blocked on overlapping bytes.
func (w *Writer) WriteAt(offset int64, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := w.pf.file.WriteAt(p, offset); err != nil {
		return fmt.Errorf("partialfile: write at %d: %w", offset, err)
	}

	w.pf.mu.Lock()
	w.pf.ranges.Insert(offset, offset+int64(len(p)))
	w.pf.notify.Broadcast()
	w.pf.mu.Unlock()
	return nil
}

// ReadAt serves a read purely from already-downloaded bytes, returning
// the number of contiguous bytes available at off (which may be less
// than len(p)) without blocking.
func (r *Reader) ReadAt(off int64, p []byte) (int, error) {
	r.pf.mu.Lock()
	avail := r.pf.ranges.ContainedLengthFrom(off)
	r.pf.mu.Unlock()

	if avail <= 0 {
		return 0, nil
	}
	n := int64(len(p))
	if n > avail {
		n = avail
	}
	read, err := r.pf.file.ReadAt(p[:n], off)
	if err != nil && err != io.EOF {
		return read, fmt.Errorf("partialfile: read at %d: %w", off, err)
	}
	return read, nil
}

// AvailableFrom returns the contiguous byte count downloaded starting
// at off, without blocking.
func (r *Reader) AvailableFrom(off int64) int64 {
	r.pf.mu.Lock()
	defer r.pf.mu.Unlock()
	return r.pf.ranges.ContainedLengthFrom(off)
}

// TotalLen returns the known total length, or 0 if unknown.
func (r *Reader) TotalLen() int64 {
	return r.pf.TotalLen()
}

// WaitForByte blocks until offset becomes downloaded, the PartialFile is
// closed, or timeout elapses. It returns false on timeout.
func (r *Reader) WaitForByte(off int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	r.pf.mu.Lock()
	defer r.pf.mu.Unlock()

	for {
		if r.pf.ranges.Contains(off) {
			return true
		}
		if r.pf.knownLen && off >= r.pf.totalLen {
			// Offset is at or past EOF; nothing more will ever arrive.
			return true
		}
		if r.pf.closed {
			return false
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		// sync.Cond has no timed wait; bound the wake-up latency with a
		// timer goroutine that broadcasts once, then re-check the
		// predicate under the lock.
		timer := time.AfterFunc(minDuration(remaining, 50*time.Millisecond), func() {
			r.pf.mu.Lock()
			r.pf.notify.Broadcast()
			r.pf.mu.Unlock()
		})
		r.pf.notify.Wait()
		timer.Stop()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Close releases the backing temp file and wakes any blocked readers.
// Safe to call once the fetcher and all readers are done.
func (pf *PartialFile) Close() error {
	pf.mu.Lock()
	pf.closed = true
	pf.notify.Broadcast()
	pf.mu.Unlock()

	name := pf.file.Name()
	if err := pf.file.Close(); err != nil {
		return fmt.Errorf("partialfile: close: %w", err)
	}
	return os.Remove(name)
}

// Package mediasource adapts a partialfile.PartialFile (remote, possibly
// incomplete) or a local *os.File into the blocking, seekable byte stream
// the decode package consumes.
package mediasource

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/glebovdev/streamcore/internal/partialfile"
)

// ErrWouldBlockExceeded is returned by Read when the requested offset
// never became available within ReadTimeout.
var ErrWouldBlockExceeded = errors.New("mediasource: would-block exceeded read timeout")

// DefaultReadTimeout is how long a blocking Read waits for bytes that
// have not yet been downloaded before giving up.
const DefaultReadTimeout = 15 * time.Second

// byteRequester lets the source ask a backing fetcher to prioritize an
// offset; satisfied by *fetch.Fetcher without importing it (that would
// make fetch and mediasource import each other's consumers).
type byteRequester interface {
	RequestBytes(offset int64)
}

// SeekableMediaSource is a decode.Source: a blocking Read + non-blocking
// Seek over either a remote PartialFile or a local file.
type SeekableMediaSource struct {
	reader      *partialfile.Reader
	requester   byteRequester // nil for local files
	localFile   *os.File      // nil for remote sources
	offset      int64
	length      int64
	readTimeout time.Duration
}

// NewRemote wraps a PartialFile's Reader handle as a media source. req may
// be nil if the object is already fully downloaded (e.g. reopening a
// cached file) and there is no live fetcher to prod.
func NewRemote(reader *partialfile.Reader, req byteRequester) *SeekableMediaSource {
	return &SeekableMediaSource{
		reader:      reader,
		requester:   req,
		readTimeout: DefaultReadTimeout,
	}
}

// NewLocal wraps an already-open local file. Local sources never block:
// all bytes are available immediately.
func NewLocal(f *os.File) (*SeekableMediaSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mediasource: stat: %w", err)
	}
	return &SeekableMediaSource{
		localFile:   f,
		length:      info.Size(),
		readTimeout: DefaultReadTimeout,
	}, nil
}

// SetReadTimeout overrides DefaultReadTimeout (e.g. from EngineConfig).
func (s *SeekableMediaSource) SetReadTimeout(d time.Duration) { s.readTimeout = d }

func (s *SeekableMediaSource) Read(p []byte) (int, error) {
	if s.localFile != nil {
		n, err := s.localFile.ReadAt(p, s.offset)
		s.offset += int64(n)
		if err != nil && err != io.EOF {
			return n, fmt.Errorf("mediasource: local read: %w", err)
		}
		return n, err
	}

	n, err := s.reader.ReadAt(s.offset, p)
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.offset += int64(n)
		return n, nil
	}

	// No bytes available yet at this offset; nudge the fetcher and wait.
	if s.requester != nil {
		s.requester.RequestBytes(s.offset)
	}
	if !s.reader.WaitForByte(s.offset, s.readTimeout) {
		return 0, fmt.Errorf("mediasource: offset %d: %w", s.offset, ErrWouldBlockExceeded)
	}

	n, err = s.reader.ReadAt(s.offset, p)
	if err != nil {
		return n, err
	}
	s.offset += int64(n)
	if n == 0 {
		// WaitForByte returned true (EOF reached) but nothing to read.
		return 0, io.EOF
	}
	return n, nil
}

func (s *SeekableMediaSource) Seek(offset int64, whence int) (int64, error) {
	length := s.ByteLen()
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.offset + offset
	case io.SeekEnd:
		target = length + offset
	default:
		return 0, fmt.Errorf("mediasource: invalid whence %d", whence)
	}

	if target < 0 {
		target = 0
	}
	if length > 0 && target > length {
		target = length
	}
	s.offset = target
	return s.offset, nil
}

// ByteLen returns the known total length (0 if remote and not yet known).
func (s *SeekableMediaSource) ByteLen() int64 {
	if s.localFile != nil {
		return s.length
	}
	return s.reader.TotalLen()
}

// IsSeekable is always true: both backings support arbitrary Seek.
func (s *SeekableMediaSource) IsSeekable() bool { return true }

// Package decode implements Decoder: format probing plus a lazy, finite,
// restartable sample stream in the container's native StreamSpec.
package decode

import (
	"errors"
	"fmt"
	"io"
	"time"
)

// SampleFormat names the sample representation carried by a StreamSpec.
type SampleFormat int

const (
	SampleFormatF32 SampleFormat = iota
	SampleFormatI16
	SampleFormatU16
)

// StreamSpec describes a contiguous span of decoded samples.
type StreamSpec struct {
	SampleRate uint32
	Channels   uint8 // 1..=32
	Format     SampleFormat
}

// Position is a decode-time offset, expressed both as a sample frame
// index and as a duration for convenience.
type Position struct {
	Frame    int64
	Duration time.Duration
}

var (
	// ErrUnsupportedFormat is returned by Probe/Open (and by a backend
	// meeting an unsupported variant) when the container or codec cannot
	// be decoded by this module.
	ErrUnsupportedFormat = errors.New("decode: unsupported format")
	// ErrCorruptPacket is returned when a packet fails to decode.
	ErrCorruptPacket = errors.New("decode: corrupt packet")
	// ErrResetRequired signals the caller must re-probe the source
	// (e.g. after a codec hard-reset is the only recovery).
	ErrResetRequired = errors.New("decode: reset required")
)

// Decoder is the capability set every format backend implements; the
// concrete backend is picked once at construction from the Format-keyed
// opener registry (spec.md §9's "Decoder trait polymorphism" note).
type Decoder interface {
	// NextPacket advances one packet, returning its position, decoded
	// samples interleaved per frame, and the StreamSpec they were
	// decoded at. It returns io.EOF when the stream is exhausted.
	NextPacket() (Position, []float32, StreamSpec, error)

	// TrySeek seeks to the given time, returning the position actually
	// landed on (seeking past the end returns the end position).
	TrySeek(target time.Duration) (Position, error)

	// TotalDuration returns the container-reported duration, or false
	// if unavailable.
	TotalDuration() (time.Duration, bool)

	// CurrentSpec returns the StreamSpec of the most recently decoded
	// packet (or the initial spec before the first NextPacket call).
	CurrentSpec() StreamSpec

	// Close releases any resources (file handles, subprocesses) held
	// by the decoder.
	Close() error
}

// Format identifies a container/codec pairing this module can decode.
type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatFLAC
	FormatWAV
	FormatAIFF
	FormatVorbis
	FormatOpus
	FormatAAC
	FormatAPE
)

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatFLAC:
		return "flac"
	case FormatWAV:
		return "wav"
	case FormatAIFF:
		return "aiff"
	case FormatVorbis:
		return "vorbis"
	case FormatOpus:
		return "opus"
	case FormatAAC:
		return "aac"
	case FormatAPE:
		return "ape"
	default:
		return "unknown"
	}
}

// Source is the minimal capability Probe/Open need from a media source:
// a seekable byte stream (mediasource.SeekableMediaSource satisfies it).
type Source interface {
	io.ReadSeeker
}

// Opener constructs a Decoder for a Source already identified as fmt.
type Opener func(src Source, mimeHint string) (Decoder, error)

var openers = map[Format]Opener{}

// Register installs the Opener used for a given Format. Format backend
// packages call this from an init() so Probe/Open stay decoupled from
// the concrete decoder implementations (mirroring the teacher's
// per-extension dispatch in openTrack, generalized to a registry).
func Register(f Format, open Opener) {
	openers[f] = open
}

// Open probes src (via mimeHint and content sniffing) and constructs the
// matching format backend.
func Open(src Source, mimeHint string) (Decoder, error) {
	f, err := Probe(src, mimeHint)
	if err != nil {
		return nil, err
	}
	open, ok := openers[f]
	if !ok {
		return nil, fmt.Errorf("decode: %s: %w", f, ErrUnsupportedFormat)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("decode: rewind before open: %w", err)
	}
	return open(src, mimeHint)
}

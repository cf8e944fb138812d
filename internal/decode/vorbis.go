package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/jfreymuth/oggvorbis"
)

func init() {
	Register(FormatVorbis, func(src Source, _ string) (Decoder, error) {
		return openVorbis(src)
	})
}

// vorbisDecoder wraps jfreymuth/oggvorbis, the pure-Go Ogg/Vorbis
// decoder paired with the Opus backend's Ogg demux path (see
// DOMAIN STACK in SPEC_FULL.md).
type vorbisDecoder struct {
	src   Source
	r     *oggvorbis.Reader
	frame int64
}

func openVorbis(src Source) (Decoder, error) {
	r, err := oggvorbis.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("decode: vorbis: %w: %v", ErrCorruptPacket, err)
	}
	return &vorbisDecoder{src: src, r: r}, nil
}

func (d *vorbisDecoder) CurrentSpec() StreamSpec {
	return StreamSpec{
		SampleRate: uint32(d.r.SampleRate()),
		Channels:   uint8(d.r.Channels()),
		Format:     SampleFormatF32,
	}
}

func (d *vorbisDecoder) NextPacket() (Position, []float32, StreamSpec, error) {
	buf := make([]float32, packetFrames*d.r.Channels())
	n, err := d.r.Read(buf)
	if n == 0 {
		if err == nil || err == io.EOF {
			return Position{}, nil, StreamSpec{}, io.EOF
		}
		return Position{}, nil, StreamSpec{}, fmt.Errorf("decode: vorbis: %w: %v", ErrCorruptPacket, err)
	}

	spec := d.CurrentSpec()
	d.frame += int64(n / d.r.Channels())
	pos := Position{
		Frame:    d.frame,
		Duration: time.Duration(float64(d.frame) / float64(spec.SampleRate) * float64(time.Second)),
	}
	return pos, buf[:n], spec, nil
}

// TrySeek re-decodes from the start of the stream, discarding samples
// until target is reached. oggvorbis exposes no granule-position seek
// table, so this is the only correct (if not optimal) implementation;
// callers needing fast seeks should prefer the FLAC/WAV backends.
func (d *vorbisDecoder) TrySeek(target time.Duration) (Position, error) {
	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return Position{}, fmt.Errorf("decode: vorbis: seek: %w", err)
	}
	r, err := oggvorbis.NewReader(d.src)
	if err != nil {
		return Position{}, fmt.Errorf("decode: vorbis: reopen: %w", err)
	}
	d.r = r
	d.frame = 0

	targetFrame := int64(target.Seconds() * float64(d.r.SampleRate()))
	scratch := make([]float32, packetFrames*d.r.Channels())
	for d.frame < targetFrame {
		n, err := d.r.Read(scratch)
		if n == 0 {
			if err == io.EOF || err == nil {
				break
			}
			return Position{}, fmt.Errorf("decode: vorbis: seek skip: %w", err)
		}
		d.frame += int64(n / d.r.Channels())
	}

	return Position{
		Frame:    d.frame,
		Duration: time.Duration(float64(d.frame) / float64(d.r.SampleRate()) * float64(time.Second)),
	}, nil
}

func (d *vorbisDecoder) TotalDuration() (time.Duration, bool) {
	length := d.r.Length()
	if length <= 0 {
		return 0, false
	}
	return time.Duration(float64(length) / float64(d.r.SampleRate()) * float64(time.Second)), true
}

func (d *vorbisDecoder) Close() error { return nil }

package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"
)

// aiffDecoder is a minimal AIFF/AIFF-C PCM decoder. No example in the
// retrieval pack wraps a third-party AIFF library (lofty-rs's own AIFF
// support is a tag reader, not a PCM decoder), so this parses the IFF
// chunk structure directly against the standard library — see
// DESIGN.md for the justification.
type aiffDecoder struct {
	r             io.ReadSeeker
	spec          StreamSpec
	dataStart     int64
	dataLen       int64
	frame         int64
	totalFrames   int64
	bytesPerFrame int64
	bitsPerSample int
}

func init() {
	Register(FormatAIFF, func(src Source, _ string) (Decoder, error) {
		return openAIFF(src)
	})
}

func openAIFF(r io.ReadSeeker) (Decoder, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("decode: aiff: %w", err)
	}

	var form [12]byte
	if _, err := io.ReadFull(r, form[:]); err != nil {
		return nil, fmt.Errorf("decode: aiff: %w: %v", ErrCorruptPacket, err)
	}
	if string(form[0:4]) != "FORM" || (string(form[8:12]) != "AIFF" && string(form[8:12]) != "AIFC") {
		return nil, fmt.Errorf("decode: aiff: %w", ErrUnsupportedFormat)
	}

	d := &aiffDecoder{r: r}

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, fmt.Errorf("decode: aiff: %w: %v", ErrCorruptPacket, err)
		}
		id := string(hdr[0:4])
		size := int64(binary.BigEndian.Uint32(hdr[4:8]))
		chunkStart, _ := r.Seek(0, io.SeekCurrent)

		switch id {
		case "COMM":
			var comm [18]byte
			if _, err := io.ReadFull(r, comm[:]); err != nil {
				return nil, fmt.Errorf("decode: aiff: comm chunk: %w", err)
			}
			channels := binary.BigEndian.Uint16(comm[0:2])
			frames := binary.BigEndian.Uint32(comm[2:6])
			bits := binary.BigEndian.Uint16(comm[6:8])
			rate := extendedToFloat64(comm[8:18])

			d.spec = StreamSpec{SampleRate: uint32(rate), Channels: uint8(channels), Format: SampleFormatI16}
			d.totalFrames = int64(frames)
			d.bitsPerSample = int(bits)
			d.bytesPerFrame = int64(channels) * int64(bits/8)
		case "SSND":
			var ssnd [8]byte
			if _, err := io.ReadFull(r, ssnd[:]); err != nil {
				return nil, fmt.Errorf("decode: aiff: ssnd chunk: %w", err)
			}
			offset := binary.BigEndian.Uint32(ssnd[0:4])
			d.dataStart = chunkStart + 8 + int64(offset)
			d.dataLen = size - 8 - int64(offset)
		}

		// Chunks are padded to even length.
		next := chunkStart + size
		if size%2 != 0 {
			next++
		}
		if _, err := r.Seek(next, io.SeekStart); err != nil {
			break
		}
	}

	if d.bytesPerFrame == 0 || d.dataStart == 0 {
		return nil, fmt.Errorf("decode: aiff: missing COMM/SSND chunk: %w", ErrCorruptPacket)
	}

	if _, err := r.Seek(d.dataStart, io.SeekStart); err != nil {
		return nil, fmt.Errorf("decode: aiff: seek to data: %w", err)
	}
	return d, nil
}

// extendedToFloat64 decodes the 80-bit IEEE 754 extended float AIFF
// uses for its sample rate field.
func extendedToFloat64(b []byte) float64 {
	sign := 1.0
	if b[0]&0x80 != 0 {
		sign = -1.0
	}
	exponent := int(binary.BigEndian.Uint16(b[0:2])&0x7FFF) - 16383
	mantissa := binary.BigEndian.Uint64(b[2:10])
	if mantissa == 0 && exponent == 0 {
		return 0
	}
	return sign * float64(mantissa) * math.Pow(2, float64(exponent-63))
}

func (d *aiffDecoder) CurrentSpec() StreamSpec { return d.spec }

func (d *aiffDecoder) NextPacket() (Position, []float32, StreamSpec, error) {
	if d.frame >= d.totalFrames {
		return Position{}, nil, StreamSpec{}, io.EOF
	}

	remaining := d.totalFrames - d.frame
	n := int64(packetFrames)
	if n > remaining {
		n = remaining
	}

	buf := make([]byte, n*d.bytesPerFrame)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return Position{}, nil, StreamSpec{}, fmt.Errorf("decode: aiff: %w: %v", ErrCorruptPacket, err)
	}

	samples := make([]float32, 0, n*int64(d.spec.Channels))
	bytesPerSample := d.bitsPerSample / 8
	for i := 0; i < len(buf); i += bytesPerSample {
		var v int32
		switch bytesPerSample {
		case 2:
			v = int32(int16(binary.BigEndian.Uint16(buf[i : i+2])))
			samples = append(samples, float32(v)/32768.0)
		case 3:
			v = int32(buf[i])<<16 | int32(buf[i+1])<<8 | int32(buf[i+2])
			if v&0x800000 != 0 {
				v |= -1 << 24
			}
			samples = append(samples, float32(v)/8388608.0)
		default:
			return Position{}, nil, StreamSpec{}, fmt.Errorf("decode: aiff: unsupported bit depth %d: %w", d.bitsPerSample, ErrUnsupportedFormat)
		}
	}

	d.frame += n
	pos := Position{
		Frame:    d.frame,
		Duration: time.Duration(float64(d.frame) / float64(d.spec.SampleRate) * float64(time.Second)),
	}
	return pos, samples, d.spec, nil
}

func (d *aiffDecoder) TrySeek(target time.Duration) (Position, error) {
	frame := int64(target.Seconds() * float64(d.spec.SampleRate))
	if frame > d.totalFrames {
		frame = d.totalFrames
	}
	if frame < 0 {
		frame = 0
	}
	if _, err := d.r.Seek(d.dataStart+frame*d.bytesPerFrame, io.SeekStart); err != nil {
		return Position{}, fmt.Errorf("decode: aiff: seek: %w", err)
	}
	d.frame = frame
	return Position{Frame: frame, Duration: time.Duration(float64(frame) / float64(d.spec.SampleRate) * float64(time.Second))}, nil
}

func (d *aiffDecoder) TotalDuration() (time.Duration, bool) {
	if d.totalFrames == 0 {
		return 0, false
	}
	return time.Duration(float64(d.totalFrames) / float64(d.spec.SampleRate) * float64(time.Second)), true
}

func (d *aiffDecoder) Close() error { return nil }

package transform

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/gopxl/beep/v2"
)

// SpeedMode selects the playback-rate-change backend, a build-time
// capability per spec §9 "Speed backend selection".
type SpeedMode int

const (
	// SpeedModeResample changes rate and pitch together (Rodio-style),
	// implemented on gopxl/beep's linear resampler.
	SpeedModeResample SpeedMode = iota
	// SpeedModeStretch would preserve pitch across a rate change
	// (SoundTouch-style). No pack example or named ecosystem library
	// provides a pitch-preserving stretch in Go; requesting it always
	// falls back to SpeedModeResample and fires onFallback once, per
	// the spec's own "when Stretch is unavailable" escape hatch.
	SpeedModeStretch
)

const resampleQuality = 4

// Speed wraps a decode.Decoder, changing its effective sample rate by
// factor (0.1..10.0) via gopxl/beep's Resampler. The wrapped stream is
// normalized to stereo, matching the device-facing convention the
// teacher's speaker output already assumes.
type Speed struct {
	inner    decode.Decoder
	bridge   *decoderStreamer
	resample *beep.Resampler
	oldRate  beep.SampleRate

	mu         sync.Mutex
	factor     float64
	mode       SpeedMode
	fellBack   bool
	onFallback func()

	frame int64
	spec  decode.StreamSpec
}

// NewSpeed constructs a Speed transform over inner, reading its current
// spec to seed the resampler. onFallback, if non-nil, is invoked at
// most once the first time Stretch mode is requested.
func NewSpeed(inner decode.Decoder, mode SpeedMode, initialFactor float64, onFallback func()) *Speed {
	spec := inner.CurrentSpec()
	bridge := &decoderStreamer{inner: inner, channels: int(spec.Channels)}
	oldRate := beep.SampleRate(spec.SampleRate)

	s := &Speed{
		inner:      inner,
		bridge:     bridge,
		resample:   beep.Resample(resampleQuality, oldRate, oldRate, bridge),
		oldRate:    oldRate,
		factor:     initialFactor,
		mode:       mode,
		onFallback: onFallback,
		spec:       decode.StreamSpec{SampleRate: spec.SampleRate, Channels: 2, Format: decode.SampleFormatF32},
	}
	s.applyFactorLocked(initialFactor)
	return s
}

// SetFactor changes the playback speed (1.0 = unchanged).
func (s *Speed) SetFactor(factor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyFactorLocked(factor)
}

func (s *Speed) applyFactorLocked(factor float64) {
	if factor < 0.1 {
		factor = 0.1
	}
	if factor > 10.0 {
		factor = 10.0
	}
	s.factor = factor

	if s.mode == SpeedModeStretch && !s.fellBack {
		s.fellBack = true
		if s.onFallback != nil {
			s.onFallback()
		}
	}

	// beep.Resampler maps new/old rate ratio to playback speed; to go
	// `factor` times faster we ask the resampler to treat the source as
	// if it were recorded at `oldRate * factor`.
	s.resample.SetRatio(factor)
}

func (s *Speed) Factor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factor
}

func (s *Speed) NextPacket() (decode.Position, []float32, decode.StreamSpec, error) {
	buf := make([][2]float64, 4096)
	n, ok := s.resample.Stream(buf)
	if n == 0 {
		if !ok {
			if err := s.resample.Err(); err != nil {
				return decode.Position{}, nil, decode.StreamSpec{}, fmt.Errorf("transform: speed: %w", err)
			}
			return decode.Position{}, nil, decode.StreamSpec{}, io.EOF
		}
	}

	out := make([]float32, n*2)
	for i := 0; i < n; i++ {
		out[i*2] = float32(buf[i][0])
		out[i*2+1] = float32(buf[i][1])
	}

	s.frame += int64(n)
	pos := decode.Position{
		Frame:    s.frame,
		Duration: time.Duration(float64(s.frame) / float64(s.spec.SampleRate) * float64(time.Second)),
	}
	if !ok {
		return pos, out, s.spec, io.EOF
	}
	return pos, out, s.spec, nil
}

func (s *Speed) TrySeek(target time.Duration) (decode.Position, error) {
	pos, err := s.inner.TrySeek(target)
	if err != nil {
		return decode.Position{}, err
	}
	s.frame = int64(target.Seconds() * float64(s.spec.SampleRate))
	return pos, nil
}

func (s *Speed) TotalDuration() (time.Duration, bool) { return s.inner.TotalDuration() }
func (s *Speed) CurrentSpec() decode.StreamSpec       { return s.spec }
func (s *Speed) Close() error                         { return s.inner.Close() }

// decoderStreamer bridges a decode.Decoder (arbitrary channel count,
// packet-pull) to a beep.Streamer (fixed stereo pairs, pull-by-buffer),
// mirroring the interleave/deinterleave already used by beepadapter.go
// in the opposite direction.
type decoderStreamer struct {
	inner    decode.Decoder
	channels int
	leftover []float32
	err      error
}

func (d *decoderStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	for n < len(samples) {
		if d.channels == 0 || len(d.leftover) < d.channels {
			_, data, spec, err := d.inner.NextPacket()
			if err != nil {
				if err == io.EOF {
					break
				}
				d.err = err
				break
			}
			if len(data) == 0 {
				continue
			}
			d.channels = int(spec.Channels)
			d.leftover = append(d.leftover, data...)
			continue
		}

		frame := d.leftover[:d.channels]
		d.leftover = d.leftover[d.channels:]

		if d.channels == 1 {
			v := float64(frame[0])
			samples[n][0], samples[n][1] = v, v
		} else {
			samples[n][0] = float64(frame[0])
			samples[n][1] = float64(frame[1])
		}
		n++
	}
	return n, n > 0
}

func (d *decoderStreamer) Err() error { return d.err }

package transform

import (
	"io"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
)

// Volume wraps a decode.Decoder, scaling every sample by volume/100
// (linear gain), saturating on clip rather than wrapping.
type Volume struct {
	inner decode.Decoder

	mu      sync.Mutex
	percent int
	gain    float64
	silent  bool
}

// NewVolume constructs a Volume transform at the given initial percent
// (0..100).
func NewVolume(inner decode.Decoder, percent int) *Volume {
	v := &Volume{inner: inner}
	v.SetPercent(percent)
	return v
}

// SetPercent updates the volume level; increasing percent never
// decreases the resulting gain (spec §8 invariant 6).
func (v *Volume) SetPercent(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.percent = percent
	v.silent = percent == 0
	v.gain = float64(percent) / 100
}

func (v *Volume) Percent() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.percent
}

func (v *Volume) NextPacket() (decode.Position, []float32, decode.StreamSpec, error) {
	pos, samples, spec, err := v.inner.NextPacket()
	if err != nil {
		if err != io.EOF {
			return pos, samples, spec, err
		}
	}
	if len(samples) == 0 {
		return pos, samples, spec, err
	}

	v.mu.Lock()
	silent, gain := v.silent, v.gain
	v.mu.Unlock()

	out := make([]float32, len(samples))
	if silent {
		return pos, out, spec, err
	}
	for i, s := range samples {
		scaled := float64(s) * gain
		if scaled > 1 {
			scaled = 1
		} else if scaled < -1 {
			scaled = -1
		}
		out[i] = float32(scaled)
	}
	return pos, out, spec, err
}

func (v *Volume) TrySeek(target time.Duration) (decode.Position, error) { return v.inner.TrySeek(target) }
func (v *Volume) TotalDuration() (time.Duration, bool)                  { return v.inner.TotalDuration() }
func (v *Volume) CurrentSpec() decode.StreamSpec                       { return v.inner.CurrentSpec() }
func (v *Volume) Close() error                                         { return v.inner.Close() }

// Package output implements OutputSink: the audio-callback-facing
// consumer of an AsyncSampleRing, owning the device stream via
// gopxl/beep/v2's speaker package.
package output

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/glebovdev/streamcore/internal/ring"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

// SpeakerBufferSize mirrors the teacher player's device buffer target;
// larger buffers trade latency for underrun resilience.
const SpeakerBufferSize = 250 * time.Millisecond

// ErrFatalDevice is reported (via onDeviceLost) once a second reopen
// attempt after DeviceLost also fails.
var ErrFatalDevice = errors.New("output: device lost, reopen failed")

// Sink owns the device stream for the lifetime of a PlayerEngine
// session: one Sink pulls continuously from one Ring's Consumer across
// every track played in that session, rebuilding the device only when
// the ring delivers a SpecChange frame.
type Sink struct {
	consumer *ring.Consumer

	mu            sync.Mutex
	spec          decode.StreamSpec
	deviceRate    beep.SampleRate
	initialized   bool
	paused        bool
	reopenAttempt int

	shutdown atomic.Bool

	onEOS        func()
	onDeviceLost func(error)

	framesDrained atomic.Int64

	scratch []float32
}

// FramesDrained returns the count of audio frames (one sample per
// channel) actually handed to the device since the last ResetFrameCounter
// call, the basis for the engine's progress clock (spec §4.H).
func (s *Sink) FramesDrained() int64 { return s.framesDrained.Load() }

// ResetFrameCounter zeroes the frame counter, called by the engine at
// the start of each track and after a seek.
func (s *Sink) ResetFrameCounter() { s.framesDrained.Store(0) }

// NewSink opens the device for initialSpec and starts pulling from
// consumer via speaker.Play. onEOS fires (non-blocking, from the audio
// callback — callers must not block in it) every time the ring delivers
// an EndOfStream frame; the engine decides whether that means "track
// over, more follow" or "queue drained".
func NewSink(consumer *ring.Consumer, initialSpec decode.StreamSpec, onEOS func(), onDeviceLost func(error)) (*Sink, error) {
	s := &Sink{
		consumer:     consumer,
		spec:         initialSpec,
		onEOS:        onEOS,
		onDeviceLost: onDeviceLost,
	}
	if err := s.ensureDevice(initialSpec); err != nil {
		return nil, err
	}
	speaker.Play(s)
	return s, nil
}

// SetPaused enforces pause at the sink level: the callback outputs
// silence and does not advance the ring, per spec §4.G.
func (s *Sink) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

// Close stops the sink from advancing the ring on future callbacks.
// Safe to call once playback is fully torn down.
func (s *Sink) Close() { s.shutdown.Store(true) }

func (s *Sink) ensureDevice(spec decode.StreamSpec) error {
	rate := beep.SampleRate(spec.SampleRate)
	if s.initialized && rate == s.deviceRate {
		s.spec = spec
		return nil
	}

	speaker.Clear()
	err := speaker.Init(rate, rate.N(SpeakerBufferSize))
	if err != nil {
		s.reopenAttempt++
		if s.reopenAttempt == 1 {
			log.Warn().Err(err).Msg("output: device init failed, retrying once")
			err = speaker.Init(rate, rate.N(SpeakerBufferSize))
		}
		if err != nil {
			if s.onDeviceLost != nil {
				s.onDeviceLost(fmt.Errorf("%w: %v", ErrFatalDevice, err))
			}
			return fmt.Errorf("%w: %v", ErrFatalDevice, err)
		}
	}
	s.reopenAttempt = 0
	s.deviceRate = rate
	s.initialized = true
	s.spec = spec
	log.Debug().Uint32("sample_rate", spec.SampleRate).Uint8("channels", spec.Channels).Msg("output: device stream (re)configured")
	return nil
}

// Stream implements beep.Streamer, pulled by the speaker's realtime
// audio callback. It never blocks on I/O or takes a lock the producer
// side could hold for long: consumer.Pop is itself wait-free.
func (s *Sink) Stream(samples [][2]float64) (n int, ok bool) {
	if s.shutdown.Load() {
		return 0, false
	}

	s.mu.Lock()
	paused := s.paused
	channels := int(s.spec.Channels)
	s.mu.Unlock()

	if paused || channels == 0 {
		silence(samples)
		return len(samples), true
	}

	if cap(s.scratch) < len(samples)*channels {
		s.scratch = make([]float32, len(samples)*channels)
	}
	scratch := s.scratch[:len(samples)*channels]

	res := s.consumer.Pop(scratch)
	switch res.Kind {
	case ring.Underrun:
		silence(samples)
		return len(samples), true
	case ring.SpecChange:
		if err := s.ensureDevice(res.Spec); err != nil {
			silence(samples)
			return len(samples), true
		}
		silence(samples)
		return len(samples), true
	case ring.EndOfStream:
		if s.onEOS != nil {
			s.onEOS()
		}
		silence(samples)
		return len(samples), true
	default: // Filled
		frames := res.N / channels
		s.framesDrained.Add(int64(frames))
		for i := 0; i < frames; i++ {
			base := i * channels
			if channels == 1 {
				v := float64(scratch[base])
				samples[i][0], samples[i][1] = v, v
			} else {
				samples[i][0] = float64(scratch[base])
				samples[i][1] = float64(scratch[base+1])
			}
		}
		if frames < len(samples) {
			for i := frames; i < len(samples); i++ {
				samples[i] = [2]float64{0, 0}
			}
		}
		return len(samples), true
	}
}

// Err satisfies beep.Streamer; the sink itself never errors (device
// errors surface through onDeviceLost, not this path).
func (s *Sink) Err() error { return nil }

func silence(samples [][2]float64) {
	for i := range samples {
		samples[i] = [2]float64{0, 0}
	}
}

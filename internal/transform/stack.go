package transform

import "github.com/glebovdev/streamcore/internal/decode"

// Options configures a Stack's initial transform parameters.
type Options struct {
	Volume     int // 0..100
	SpeedMode  SpeedMode
	Speed      float64 // 0.1..10.0
	OnSpeedFallback func()
	OnDone          func(error)
}

// Stack is the fully composed transform pipeline: Volume ∘ Speed ∘
// Stoppable ∘ Decoder, wrapped finally by DoneCallback, per spec §4.F.
type Stack struct {
	decode.Decoder // the outermost stage (DoneCallback) satisfies Decoder

	stoppable *Stoppable
	speed     *Speed
	volume    *Volume
}

// NewStack builds the transform chain over a freshly opened decoder.
func NewStack(decoder decode.Decoder, opts Options) *Stack {
	stoppable := NewStoppable(decoder)
	speed := NewSpeed(stoppable, opts.SpeedMode, opts.Speed, opts.OnSpeedFallback)
	volume := NewVolume(speed, opts.Volume)
	done := NewDoneCallback(volume, opts.OnDone)

	return &Stack{
		Decoder:   done,
		stoppable: stoppable,
		speed:     speed,
		volume:    volume,
	}
}

// Stop halts sample production within one ring chunk, without touching
// the wrapped decoder (Skip/Stop command handling).
func (s *Stack) Stop() { s.stoppable.Stop() }

// SetSpeed mutates the speed factor; thread-safe, takes effect
// immediately on the next NextPacket call.
func (s *Stack) SetSpeed(factor float64) { s.speed.SetFactor(factor) }

// Speed returns the current speed factor.
func (s *Stack) Speed() float64 { return s.speed.Factor() }

// SetVolume mutates the volume percent; thread-safe.
func (s *Stack) SetVolume(percent int) { s.volume.SetPercent(percent) }

// VolumePercent returns the current volume percent.
func (s *Stack) VolumePercent() int { return s.volume.Percent() }

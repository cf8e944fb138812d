// Package transform implements the stackable sample-level transforms
// wrapping a decode.Decoder: Stoppable, Speed, Volume, DoneCallback.
// Composition order (outer to inner) is fixed by the engine:
// Volume ∘ Speed ∘ Stoppable ∘ Decoder, wrapped finally by DoneCallback.
package transform

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
)

// Stoppable wraps a decode.Decoder with an atomic stop flag. Once
// stopped, NextPacket reports io.EOF without touching the inner
// decoder again, letting PlayerEngine halt a track (Skip/Stop) without
// reaching into decoder internals.
type Stoppable struct {
	inner   decode.Decoder
	stopped atomic.Bool
}

// NewStoppable wraps inner in a Stoppable gate.
func NewStoppable(inner decode.Decoder) *Stoppable {
	return &Stoppable{inner: inner}
}

// Stop halts sample production. Safe to call from any goroutine, any
// number of times; takes effect within one in-flight NextPacket call.
func (s *Stoppable) Stop() { s.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (s *Stoppable) Stopped() bool { return s.stopped.Load() }

func (s *Stoppable) NextPacket() (decode.Position, []float32, decode.StreamSpec, error) {
	if s.stopped.Load() {
		return decode.Position{}, nil, decode.StreamSpec{}, io.EOF
	}
	return s.inner.NextPacket()
}

func (s *Stoppable) TrySeek(target time.Duration) (decode.Position, error) {
	return s.inner.TrySeek(target)
}

func (s *Stoppable) TotalDuration() (time.Duration, bool) { return s.inner.TotalDuration() }
func (s *Stoppable) CurrentSpec() decode.StreamSpec       { return s.inner.CurrentSpec() }
func (s *Stoppable) Close() error                         { return s.inner.Close() }

package transform

import (
	"io"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
)

// DoneCallback wraps a decode.Decoder and invokes a one-shot callback the
// first time NextPacket reports io.EOF (or any other terminal error).
// The Stack wraps every track in it; PlayerEngine passes no callback and
// observes the end of a track from NextPacket's error in its pump.
type DoneCallback struct {
	inner    decode.Decoder
	once     sync.Once
	onDone   func(error)
}

// NewDoneCallback wraps inner; onDone receives nil on clean EOS or the
// terminal error otherwise, and is called at most once.
func NewDoneCallback(inner decode.Decoder, onDone func(error)) *DoneCallback {
	return &DoneCallback{inner: inner, onDone: onDone}
}

func (d *DoneCallback) NextPacket() (decode.Position, []float32, decode.StreamSpec, error) {
	pos, samples, spec, err := d.inner.NextPacket()
	if err != nil {
		d.once.Do(func() {
			if d.onDone == nil {
				return
			}
			if err == io.EOF {
				d.onDone(nil)
			} else {
				d.onDone(err)
			}
		})
	}
	return pos, samples, spec, err
}

func (d *DoneCallback) TrySeek(target time.Duration) (decode.Position, error) {
	return d.inner.TrySeek(target)
}

func (d *DoneCallback) TotalDuration() (time.Duration, bool) { return d.inner.TotalDuration() }
func (d *DoneCallback) CurrentSpec() decode.StreamSpec       { return d.inner.CurrentSpec() }
func (d *DoneCallback) Close() error                         { return d.inner.Close() }

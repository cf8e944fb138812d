package output

import (
	"context"
	"testing"

	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/glebovdev/streamcore/internal/ring"
)

// newTestSink builds a Sink without touching the real audio device,
// exercising only the Stream()/consumer-pull logic.
func newTestSink(consumer *ring.Consumer, channels uint8) *Sink {
	return &Sink{
		consumer:    consumer,
		spec:        decode.StreamSpec{SampleRate: 44100, Channels: channels, Format: decode.SampleFormatF32},
		initialized: true,
		deviceRate:  44100,
	}
}

func TestStreamOutputsSilenceOnUnderrun(t *testing.T) {
	r := ring.New(4)
	sink := newTestSink(r.NewConsumer(), 2)

	buf := make([][2]float64, 16)
	n, ok := sink.Stream(buf)
	if !ok || n != len(buf) {
		t.Fatalf("Stream on empty ring = (%d, %v), want (%d, true)", n, ok, len(buf))
	}
	for _, s := range buf {
		if s != [2]float64{0, 0} {
			t.Fatalf("expected silence on underrun, got %v", s)
		}
	}
}

func TestStreamPausedOutputsSilenceWithoutAdvancingRing(t *testing.T) {
	r := ring.New(4)
	producer := r.NewProducer()
	consumer := r.NewConsumer()
	sink := newTestSink(consumer, 2)
	sink.SetPaused(true)

	if err := producer.PushData(context.Background(), []float32{0.5, 0.5, 0.25, 0.25}); err != nil {
		t.Fatalf("PushData: %v", err)
	}

	buf := make([][2]float64, 2)
	n, ok := sink.Stream(buf)
	if !ok || n != 2 {
		t.Fatalf("paused Stream = (%d, %v)", n, ok)
	}
	for _, s := range buf {
		if s != [2]float64{0, 0} {
			t.Fatalf("expected silence while paused, got %v", s)
		}
	}

	sink.SetPaused(false)
	n, ok = sink.Stream(buf)
	if !ok || n != 2 {
		t.Fatalf("unpaused Stream = (%d, %v)", n, ok)
	}
	if buf[0][0] != 0.5 || buf[1][0] != 0.25 {
		t.Fatalf("expected buffered data to still be there after unpausing, got %v", buf)
	}
}

func TestStreamEndOfStreamFiresCallbackAndContinuesSilently(t *testing.T) {
	r := ring.New(4)
	producer := r.NewProducer()
	consumer := r.NewConsumer()
	sink := newTestSink(consumer, 2)

	eosCount := 0
	sink.onEOS = func() { eosCount++ }

	if err := producer.PushEOS(context.Background()); err != nil {
		t.Fatalf("PushEOS: %v", err)
	}

	buf := make([][2]float64, 4)
	n, ok := sink.Stream(buf)
	if !ok || n != len(buf) {
		t.Fatalf("Stream at EOS = (%d, %v)", n, ok)
	}
	if eosCount != 1 {
		t.Fatalf("onEOS called %d times, want 1", eosCount)
	}
}

func TestCloseStopsTheStreamer(t *testing.T) {
	r := ring.New(4)
	sink := newTestSink(r.NewConsumer(), 2)
	sink.Close()

	buf := make([][2]float64, 4)
	_, ok := sink.Stream(buf)
	if ok {
		t.Fatal("Stream after Close should return ok=false")
	}
}

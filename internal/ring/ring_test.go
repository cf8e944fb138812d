package ring

import (
	"context"
	"testing"

	"github.com/glebovdev/streamcore/internal/decode"
)

func TestPopUnderrunWhenEmpty(t *testing.T) {
	r := New(4)
	c := r.NewConsumer()

	res := c.Pop(make([]float32, 8))
	if res.Kind != Underrun {
		t.Fatalf("Pop on empty ring = %v, want Underrun", res.Kind)
	}
}

func TestProduceConsumeSequencePreserved(t *testing.T) {
	r := New(4)
	p := r.NewProducer()
	c := r.NewConsumer()

	want := make([]float32, 10000)
	for i := range want {
		want[i] = float32(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.PushData(context.Background(), want)
	}()

	got := make([]float32, 0, len(want))
	buf := make([]float32, 256)
	for len(got) < len(want) {
		res := c.Pop(buf)
		if res.Kind == Filled {
			got = append(got, buf[:res.N]...)
		}
	}

	if err := <-done; err != nil {
		t.Fatalf("PushData: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestSpecChangeDeliveredAtBoundaryOnce(t *testing.T) {
	r := New(4)
	p := r.NewProducer()
	c := r.NewConsumer()
	ctx := context.Background()

	before := []float32{1, 2, 3}
	after := []float32{4, 5, 6}
	spec := decode.StreamSpec{SampleRate: 48000, Channels: 2, Format: decode.SampleFormatF32}

	if err := p.PushData(ctx, before); err != nil {
		t.Fatal(err)
	}
	if err := p.PushSpec(ctx, spec); err != nil {
		t.Fatal(err)
	}
	if err := p.PushData(ctx, after); err != nil {
		t.Fatal(err)
	}
	if err := p.PushEOS(ctx); err != nil {
		t.Fatal(err)
	}

	buf := make([]float32, 3)
	res := c.Pop(buf)
	if res.Kind != Filled || res.N != 3 {
		t.Fatalf("first pop = %+v, want Filled 3", res)
	}

	specSeen := 0
	for i := 0; i < 10; i++ {
		res = c.Pop(buf)
		if res.Kind == SpecChange {
			specSeen++
			if res.Spec != spec {
				t.Fatalf("spec = %+v, want %+v", res.Spec, spec)
			}
			continue
		}
		if res.Kind == Filled {
			if res.N != 3 || buf[0] != 4 {
				t.Fatalf("post-spec pop = %+v, buf=%v", res, buf)
			}
			break
		}
	}
	if specSeen != 1 {
		t.Fatalf("saw %d SpecChange frames, want exactly 1", specSeen)
	}

	res = c.Pop(buf)
	if res.Kind != EndOfStream {
		t.Fatalf("final pop = %+v, want EndOfStream", res)
	}
}

func TestDropPublishesImplicitEOS(t *testing.T) {
	r := New(4)
	p := r.NewProducer()
	c := r.NewConsumer()

	p.Drop()

	res := c.Pop(make([]float32, 4))
	if res.Kind != EndOfStream {
		t.Fatalf("Pop after Drop = %v, want EndOfStream", res.Kind)
	}
}

func TestPushDataCancellation(t *testing.T) {
	r := New(1) // raised to the two-chunk minimum, small so we can fill it
	p := r.NewProducer()

	big := make([]float32, chunkSamples*3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// First chunk may or may not fit depending on scheduling, but with
	// an already-cancelled context the push must return promptly with
	// ctx.Err() rather than hang.
	err := p.PushData(ctx, big)
	if err == nil {
		t.Fatal("PushData with cancelled context returned nil error")
	}
}

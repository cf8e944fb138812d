// Package ring implements AsyncSampleRing: a bounded, single-producer/
// single-consumer channel tuned for audio. The producer side is async
// (the decoder thread bridges blocking pushes through it); the consumer
// side is synchronous and wait-free, intended to run on a realtime audio
// callback that must never block, allocate, or take a lock that a
// suspended goroutine could hold.
package ring

import (
	"context"
	"fmt"

	"github.com/glebovdev/streamcore/internal/decode"
)

// chunkSamples bounds how many interleaved float32 samples a single
// transported Data frame carries. 16 KiB of float32 samples, matching
// the spec's "16 KiB each" chunk sizing.
const chunkSamples = 16 * 1024 / 4

// frameKind tags a RingFrame's payload.
type frameKind int

const (
	frameData frameKind = iota
	frameSpecChange
	frameEOS
)

type ringFrame struct {
	kind    frameKind
	data    []float32
	spec    decode.StreamSpec
}

// Ring is the bounded channel connecting one producer to one consumer.
// Capacity is sized in chunks (see New) to buffer roughly bufferSeconds
// of audio at the producer's declared StreamSpec.
type Ring struct {
	frames    chan ringFrame
	freeList  chan []float32
	closed    chan struct{}
	closeOnce closeOnceState
}

type closeOnceState struct{ done bool }

// New creates a Ring with capacity chunks of chunkSamples samples each.
func New(capacityChunks int) *Ring {
	if capacityChunks < 2 {
		capacityChunks = 2
	}
	r := &Ring{
		frames:   make(chan ringFrame, capacityChunks),
		freeList: make(chan []float32, capacityChunks),
		closed:   make(chan struct{}),
	}
	for i := 0; i < capacityChunks; i++ {
		r.freeList <- make([]float32, chunkSamples)
	}
	return r
}

// CapacityChunksFor sizes a Ring's chunk capacity so that it can buffer
// at least bufferSeconds of audio at the given spec, with headroom for
// at least two in-flight chunks.
func CapacityChunksFor(spec decode.StreamSpec, bufferSeconds float64) int {
	samplesPerSecond := float64(spec.SampleRate) * float64(spec.Channels)
	wanted := (int(samplesPerSecond*bufferSeconds) + chunkSamples - 1) / chunkSamples
	if wanted < 2 {
		wanted = 2
	}
	return wanted
}

// Producer is the decoder thread's handle onto a Ring.
type Producer struct{ r *Ring }

// Consumer is the audio callback's handle onto a Ring.
type Consumer struct {
	r       *Ring
	pending ringFrame
	havePending bool
}

// NewProducer returns the single producer handle. Callers must not run
// more than one Producer concurrently against the same Ring.
func (r *Ring) NewProducer() *Producer { return &Producer{r: r} }

// NewConsumer returns the single consumer handle.
func (r *Ring) NewConsumer() *Consumer { return &Consumer{r: r} }

// PushData copies samples into one or more chunks and enqueues them,
// suspending (cancellation-safe) when the ring has no free chunk. It
// never allocates a sample buffer that outlives the call — chunks come
// from the Ring's reusable free-list.
func (p *Producer) PushData(ctx context.Context, samples []float32) error {
	for len(samples) > 0 {
		n := len(samples)
		if n > chunkSamples {
			n = chunkSamples
		}

		var buf []float32
		select {
		case buf = <-p.r.freeList:
		case <-p.r.closed:
			return fmt.Errorf("ring: producer pushed after close")
		case <-ctx.Done():
			return ctx.Err()
		}

		buf = buf[:n]
		copy(buf, samples[:n])

		select {
		case p.r.frames <- ringFrame{kind: frameData, data: buf}:
		case <-p.r.closed:
			return fmt.Errorf("ring: producer pushed after close")
		case <-ctx.Done():
			// Return the chunk we took so capacity isn't lost.
			select {
			case p.r.freeList <- buf[:cap(buf)]:
			default:
			}
			return ctx.Err()
		}

		samples = samples[n:]
	}
	return nil
}

// PushSpec enqueues a SpecChange frame. It is always immediate relative
// to buffering (it still respects ring backpressure via the channel
// send, matching the "never mid-chunk" ordering guarantee) but carries
// no sample payload and consumes no free-list chunk.
func (p *Producer) PushSpec(ctx context.Context, spec decode.StreamSpec) error {
	select {
	case p.r.frames <- ringFrame{kind: frameSpecChange, spec: spec}:
		return nil
	case <-p.r.closed:
		return fmt.Errorf("ring: producer pushed after close")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PushEOS enqueues the terminal EndOfStream frame.
func (p *Producer) PushEOS(ctx context.Context) error {
	select {
	case p.r.frames <- ringFrame{kind: frameEOS}:
		return nil
	case <-p.r.closed:
		return fmt.Errorf("ring: producer pushed after close")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drop signals that the producer is gone, publishing an implicit EOS to
// the consumer (cancellation: dropping the producer means end-of-stream,
// per spec §4.E).
func (p *Producer) Drop() {
	select {
	case p.r.frames <- ringFrame{kind: frameEOS}:
	default:
		// Ring full: the consumer will drain buffered Data first and
		// then see Close() below as EOS.
	}
}

// PopKind is the tag of a Consumer.Pop result.
type PopKind int

const (
	Filled PopKind = iota
	SpecChange
	EndOfStream
	Underrun
)

// PopResult is the outcome of one Consumer.Pop call.
type PopResult struct {
	Kind PopKind
	N    int               // valid samples written into dst when Kind == Filled
	Spec decode.StreamSpec // valid when Kind == SpecChange
}

// Pop is the audio callback's sync, wait-free read. It never blocks: a
// frame not yet available yields Underrun, which the sink fills with
// silence. Spec/EOS frames are only ever observed at the start of a
// call, never mid-sample, and a Data read never crosses a spec/EOS
// boundary within a single Pop.
func (c *Consumer) Pop(dst []float32) PopResult {
	if !c.havePending {
		select {
		case f := <-c.r.frames:
			c.pending = f
			c.havePending = true
		default:
			return PopResult{Kind: Underrun}
		}
	}

	switch c.pending.kind {
	case frameSpecChange:
		spec := c.pending.spec
		c.havePending = false
		return PopResult{Kind: SpecChange, Spec: spec}
	case frameEOS:
		c.havePending = false
		return PopResult{Kind: EndOfStream}
	default:
		n := copy(dst, c.pending.data)
		if n == len(c.pending.data) {
			// Fully drained this chunk; recycle it for the producer.
			buf := c.pending.data
			c.havePending = false
			select {
			case c.r.freeList <- buf[:cap(buf)]:
			default:
			}
		} else {
			c.pending.data = c.pending.data[n:]
		}
		return PopResult{Kind: Filled, N: n}
	}
}

// Flush discards any frames currently buffered in the channel, returning
// their chunks to the free-list. Used by the engine after a seek so
// stale pre-seek audio is never handed to the consumer. Safe to call
// concurrently with Consumer.Pop: each buffered frame is delivered to
// exactly one receiver, so a frame lost to Flush is simply one the
// consumer never sees, never a torn read. A frame already inside
// Consumer.pending (mid-chunk, already popped once) is not reachable
// from here and plays out as a small stale remainder.
func (r *Ring) Flush() {
	for {
		select {
		case f := <-r.frames:
			if f.kind == frameData {
				select {
				case r.freeList <- f.data[:cap(f.data)]:
				default:
				}
			}
		default:
			return
		}
	}
}

// Close tears down the ring, unblocking any suspended producer push.
func (r *Ring) Close() {
	if r.closeOnce.done {
		return
	}
	r.closeOnce.done = true
	close(r.closed)
}

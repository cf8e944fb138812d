package engine

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/cache"
	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/glebovdev/streamcore/internal/fetch"
	"github.com/glebovdev/streamcore/internal/mediasource"
	"github.com/glebovdev/streamcore/internal/output"
	"github.com/glebovdev/streamcore/internal/ring"
	"github.com/glebovdev/streamcore/internal/taskpool"
	"github.com/glebovdev/streamcore/internal/transform"
	"github.com/rs/zerolog/log"
)

// VolumeStep and SpeedStepFactor size one VolumeUp/Down and
// SpeedUp/Down call (spec §4.H).
const (
	VolumeStep     = 5
	SpeedStepFactor = 1.1
)

// prefetchMsg is delivered from the prefetch goroutine (run through the
// TaskPool) back to the command loop.
type prefetchMsg struct {
	forIndex int
	track    *TrackSource
	err      error
}

type seekRequest struct {
	absolute bool
	amount   time.Duration
}

// Engine is the PlayerEngine (spec §4.H): one goroutine (run) owns all
// mutable state and serializes every command and event through
// channels, so no mutex guards playback state itself. Only the
// subscriber map needs its own lock, since Subscribe/Close can be
// called from any goroutine.
type Engine struct {
	cfg   *config.EngineConfig
	cache *cache.Cache
	pool  *taskpool.Pool

	actions        chan func()
	trackDone      chan trackDoneMsg
	prefetchResult chan prefetchMsg
	ringEOS        chan struct{}
	deviceLost     chan error
	closing        chan struct{}
	closed         chan struct{}
	closeOnce      sync.Once

	subMu     sync.Mutex
	subs      map[int]chan Event
	nextSubID int

	// Fields below are touched only from the run() goroutine.
	ring     *ring.Ring
	consumer *ring.Consumer
	sink     *output.Sink

	status      Status
	queue       []string
	queueIndex  int
	current     *TrackSource
	next        *TrackSource
	prefetching bool

	volume    int
	speed     float64
	speedMode transform.SpeedMode
	gapless   bool
	loopMode  config.LoopMode

	position time.Duration

	speedFallbackFired bool
	rng                *rand.Rand
}

// NewEngine constructs an Engine and starts its command loop. cache may
// be nil to disable probe-metadata caching.
func NewEngine(cfg *config.EngineConfig, c *cache.Cache) *Engine {
	e := &Engine{
		cfg:            cfg,
		cache:          c,
		pool:           taskpool.New(4),
		actions:        make(chan func()),
		trackDone:      make(chan trackDoneMsg, 1),
		prefetchResult: make(chan prefetchMsg, 1),
		ringEOS:        make(chan struct{}, 1),
		deviceLost:     make(chan error, 1),
		closing:        make(chan struct{}),
		closed:         make(chan struct{}),
		subs:           make(map[int]chan Event),
		volume:         config.ClampVolume(cfg.Volume),
		speed:          config.ClampSpeed(cfg.Speed),
		speedMode:      speedModeFromConfig(cfg.SpeedMode),
		gapless:        cfg.Gapless,
		loopMode:       cfg.LoopMode,
		rng:            rand.New(rand.NewSource(1)),
	}
	go e.run()
	return e
}

func speedModeFromConfig(m config.SpeedMode) transform.SpeedMode {
	if m == config.SpeedModeStretch {
		return transform.SpeedModeStretch
	}
	return transform.SpeedModeResample
}

// do enqueues fn on the command loop and blocks until it has run, or
// the engine has shut down.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case e.actions <- wrapped:
		<-done
	case <-e.closed:
	}
}

// run is the single goroutine owning every piece of playback state.
func (e *Engine) run() {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-e.actions:
			fn()
		case msg := <-e.trackDone:
			e.handleTrackDone(msg)
		case msg := <-e.prefetchResult:
			e.handlePrefetchResult(msg)
		case <-e.ringEOS:
			e.handleRingEOS()
		case err := <-e.deviceLost:
			e.handleDeviceLost(err)
		case <-ticker.C:
			e.handleTick()
		case <-e.closing:
			e.teardown()
			close(e.closed)
			return
		}
	}
}

// --- Playback commands -----------------------------------------------

// Play replaces the queue and starts playback at startIndex.
func (e *Engine) Play(queue []string, startIndex int) {
	e.do(func() {
		e.abortCurrentAndNext()
		e.queue = append([]string(nil), queue...)
		e.queueIndex = startIndex
		e.tryPlayFrom(startIndex, 0)
	})
}

// tryPlayFrom attempts to open and play queue[idx], auto-advancing
// forward on open failure up to len(queue) attempts so one bad URL
// doesn't silently stall the queue.
func (e *Engine) tryPlayFrom(idx int, attempts int) {
	if attempts >= len(e.queue) || idx < 0 || idx >= len(e.queue) {
		e.setStatus(Stopped)
		return
	}

	url := e.queue[idx]
	ts, err := openTrack(context.Background(), idx, url, e.cfg, e.cache, e.speedMode, e.speed, e.volume, e.onSpeedFallback)
	if err != nil {
		kind := classifyErr(err)
		e.publish(Event{TrackError: &TrackErrorEvent{Kind: kind, Track: TrackMeta{URL: url, Index: idx}, Err: err}})
		e.tryPlayFrom(idx+1, attempts+1)
		return
	}

	e.queueIndex = idx
	e.playTrack(ts)
}

// playTrack installs ts as the current track: (re)builds the ring and
// sink if needed, starts the decode pump, and flips to Playing.
func (e *Engine) playTrack(ts *TrackSource) {
	if err := e.ensureRingAndSink(ts.stack.CurrentSpec()); err != nil {
		e.publish(Event{FatalDevice: &FatalDeviceEvent{Err: err}})
		ts.Close()
		e.setStatus(Stopped)
		return
	}

	e.current = ts
	e.position = 0
	e.sink.ResetFrameCounter()
	e.sink.SetPaused(false)

	producer := e.ring.NewProducer()
	go ts.pump(producer, e.trackDone)

	e.publish(Event{TrackChanged: &TrackChangedEvent{Track: TrackMeta{URL: ts.url, Index: ts.index}}})
	e.setStatus(Playing)
}

func (e *Engine) ensureRingAndSink(spec decode.StreamSpec) error {
	if e.ring != nil {
		return nil
	}
	capacity := ring.CapacityChunksFor(spec, e.cfg.BufferSeconds)
	e.ring = ring.New(capacity)
	e.consumer = e.ring.NewConsumer()

	onEOS := func() {
		select {
		case e.ringEOS <- struct{}{}:
		default:
		}
	}
	onDeviceLost := func(err error) {
		select {
		case e.deviceLost <- err:
		default:
		}
	}

	sink, err := output.NewSink(e.consumer, spec, onEOS, onDeviceLost)
	if err != nil {
		return err
	}
	e.sink = sink
	return nil
}

func (e *Engine) onSpeedFallback() {
	// openTrack may run on the command loop itself (Play), so the action
	// is queued from a separate goroutine rather than waited on here.
	go e.do(func() {
		if e.speedFallbackFired {
			return
		}
		e.speedFallbackFired = true
		e.publish(Event{SpeedFallback: &SpeedFallbackEvent{}})
	})
}

// Pause pauses playback without tearing anything down.
func (e *Engine) Pause() {
	e.do(func() {
		if e.status != Playing {
			return
		}
		if e.sink != nil {
			e.sink.SetPaused(true)
		}
		e.setStatus(Paused)
	})
}

// Resume resumes a paused session.
func (e *Engine) Resume() {
	e.do(func() {
		if e.status != Paused {
			return
		}
		if e.sink != nil {
			e.sink.SetPaused(false)
		}
		e.setStatus(Playing)
	})
}

// TogglePause flips between Playing and Paused, a no-op when Stopped.
func (e *Engine) TogglePause() {
	e.do(func() {
		switch e.status {
		case Playing:
			if e.sink != nil {
				e.sink.SetPaused(true)
			}
			e.setStatus(Paused)
		case Paused:
			if e.sink != nil {
				e.sink.SetPaused(false)
			}
			e.setStatus(Playing)
		}
	})
}

// Stop halts playback and discards the current and any prefetched track.
func (e *Engine) Stop() {
	e.do(func() {
		e.abortCurrentAndNext()
		e.setStatus(Stopped)
	})
}

// Skip stops the current track's decode; the track then ends as it would
// at end of stream (gapless hand-off to a prefetched next track if one is
// ready, otherwise ring EOS and advance once the ring drains).
func (e *Engine) Skip() {
	e.do(func() {
		if e.current == nil {
			return
		}
		e.current.stack.Stop()
	})
}

// Previous restarts the current track if more than 3s in, otherwise
// moves to the previous queue entry (spec §4.H Previous).
func (e *Engine) Previous() {
	e.do(func() {
		if e.current == nil {
			return
		}
		if e.position > 3*time.Second {
			e.abortCurrentAndNext()
			e.tryPlayFrom(e.queueIndex, 0)
			return
		}
		e.abortCurrentAndNext()
		e.tryPlayFrom(e.queueIndex-1, 0)
	})
}

// Seek requests a seek; amount is an absolute target when absolute is
// true, otherwise a relative offset from the current position.
func (e *Engine) Seek(amount time.Duration, absolute bool) {
	e.do(func() {
		e.handleSeek(seekRequest{absolute: absolute, amount: amount})
	})
}

func (e *Engine) handleSeek(req seekRequest) {
	if e.current == nil {
		return
	}
	target := req.amount
	if !req.absolute {
		target = e.position + req.amount
	}
	if target < 0 {
		target = 0
	}

	pos, err := e.current.stack.TrySeek(target)
	if err != nil {
		log.Debug().Err(err).Msg("engine: seek failed")
		return
	}
	if e.ring != nil {
		e.ring.Flush()
	}
	if e.sink != nil {
		e.sink.ResetFrameCounter()
	}
	e.position = pos.Duration
	e.current.lastPosition.Store(int64(pos.Duration))
}

// SetVolume sets playback volume as a percentage clamped to [0, 100].
func (e *Engine) SetVolume(percent int) {
	e.do(func() { e.handleSetVolume(percent) })
}

func (e *Engine) handleSetVolume(percent int) {
	e.volume = config.ClampVolume(percent)
	if e.current != nil {
		e.current.stack.SetVolume(e.volume)
	}
	if e.next != nil {
		e.next.stack.SetVolume(e.volume)
	}
	e.publish(Event{VolumeChanged: &VolumeChangedEvent{Percent: e.volume}})
}

// VolumeUp/VolumeDown step volume by VolumeStep.
func (e *Engine) VolumeUp()   { e.do(func() { e.handleSetVolume(e.volume + VolumeStep) }) }
func (e *Engine) VolumeDown() { e.do(func() { e.handleSetVolume(e.volume - VolumeStep) }) }

// SetSpeed sets the playback speed factor, clamped to [0.1, 10.0].
func (e *Engine) SetSpeed(factor float64) {
	e.do(func() { e.handleSetSpeed(factor) })
}

func (e *Engine) handleSetSpeed(factor float64) {
	e.speed = config.ClampSpeed(factor)
	if e.current != nil {
		e.current.stack.SetSpeed(e.speed)
	}
	if e.next != nil {
		e.next.stack.SetSpeed(e.speed)
	}
	e.publish(Event{SpeedChanged: &SpeedChangedEvent{Factor: e.speed}})
}

// SpeedUp/SpeedDown multiply/divide speed by SpeedStepFactor.
func (e *Engine) SpeedUp() {
	e.do(func() { e.handleSetSpeed(e.speed * SpeedStepFactor) })
}
func (e *Engine) SpeedDown() {
	e.do(func() { e.handleSetSpeed(e.speed / SpeedStepFactor) })
}

// SetGapless toggles gapless prefetch hand-off.
func (e *Engine) SetGapless(enabled bool) {
	e.do(func() {
		e.gapless = enabled
		if !enabled && e.next != nil {
			e.next.Close()
			e.next = nil
			e.prefetching = false
		}
		e.publish(Event{GaplessChanged: &GaplessChangedEvent{Enabled: enabled}})
	})
}

// SetLoopMode changes queue-exhaustion behavior (spec §4.H).
func (e *Engine) SetLoopMode(mode config.LoopMode) {
	e.do(func() { e.loopMode = mode })
}

// EngineSnapshot is a consistent point-in-time read of engine state.
type EngineSnapshot struct {
	Status        Status
	QueueIndex    int
	QueueLen      int
	Position      time.Duration
	TotalDuration time.Duration
	HasTotal      bool
	Volume        int
	Speed         float64
	Gapless       bool
	LoopMode      config.LoopMode
}

// Snapshot returns a consistent read of engine state, serialized
// through the command loop like every other operation.
func (e *Engine) Snapshot() EngineSnapshot {
	var s EngineSnapshot
	e.do(func() {
		s = EngineSnapshot{
			Status:     e.status,
			QueueIndex: e.queueIndex,
			QueueLen:   len(e.queue),
			Position:   e.position,
			Volume:     e.volume,
			Speed:      e.speed,
			Gapless:    e.gapless,
			LoopMode:   e.loopMode,
		}
		if e.current != nil {
			s.TotalDuration = e.current.totalDuration
			s.HasTotal = e.current.hasTotalDuration
		}
	})
	return s
}

// Close shuts the engine down: stops playback, closes the device, and
// closes every event subscription. Safe to call more than once.
func (e *Engine) Close() {
	e.closeOnce.Do(func() { close(e.closing) })
	<-e.closed
}

func (e *Engine) teardown() {
	e.abortCurrentAndNext()
	if e.sink != nil {
		e.sink.Close()
	}
	if e.ring != nil {
		e.ring.Close()
	}
	e.pool.Close()
	e.closeAllSubscriptions()
}

// --- Internal event handling ------------------------------------------

func (e *Engine) handleTick() {
	if e.current == nil || e.sink == nil {
		return
	}
	if e.status == Playing {
		frames := e.sink.FramesDrained()
		spec := e.current.stack.CurrentSpec()
		if spec.SampleRate > 0 {
			e.position = time.Duration(frames) * time.Second / time.Duration(spec.SampleRate)
		}
	}

	e.publish(Event{Progress: &ProgressEvent{
		Position:      e.position,
		TotalDuration: e.current.totalDuration,
		HasTotal:      e.current.hasTotalDuration,
	}})

	if !e.gapless || e.prefetching || e.next != nil || e.current == nil {
		return
	}
	if remaining, ok := e.current.remaining(); ok && remaining <= e.cfg.PrefetchThreshold {
		e.startPrefetch()
	}
}

// nextQueueEntry resolves the index that should play after the current
// one finishes, honoring loopMode (spec §4.H loop semantics). ok is
// false when playback should stop instead (LoopQueue at end of queue).
func (e *Engine) nextQueueEntry() (idx int, ok bool) {
	if len(e.queue) == 0 {
		return 0, false
	}
	switch e.loopMode {
	case config.LoopSingle:
		return e.queueIndex, true
	case config.LoopRandom:
		return e.rng.Intn(len(e.queue)), true
	default: // LoopQueue
		n := e.queueIndex + 1
		if n >= len(e.queue) {
			return 0, false
		}
		return n, true
	}
}

func (e *Engine) startPrefetch() {
	idx, ok := e.nextQueueEntry()
	if !ok {
		return
	}
	e.prefetching = true
	url := e.queue[idx]

	volume, speed, mode := e.volume, e.speed, e.speedMode
	go func() {
		_ = e.pool.Execute(context.Background(), func(ctx context.Context) error {
			ts, err := openTrack(ctx, idx, url, e.cfg, e.cache, mode, speed, volume, e.onSpeedFallback)
			select {
			case e.prefetchResult <- prefetchMsg{forIndex: idx, track: ts, err: err}:
			case <-e.closed:
				if ts != nil {
					ts.Close()
				}
			}
			return err
		})
	}()
}

func (e *Engine) handlePrefetchResult(msg prefetchMsg) {
	e.prefetching = false
	if msg.err != nil {
		kind := classifyErr(msg.err)
		e.publish(Event{TrackError: &TrackErrorEvent{Kind: kind, Track: TrackMeta{URL: e.queue[msg.forIndex], Index: msg.forIndex}, Err: msg.err}})
		return
	}
	if !e.gapless {
		msg.track.Close()
		return
	}
	e.next = msg.track
}

// handleTrackDone processes a pump goroutine's terminal report: a
// gapless hand-off (current's successor already prefetched and ready)
// never pushes ring EOS, only the next track's frames following a
// SpecChange if the sample spec differs. A non-gapless or
// nothing-prefetched-yet finish pushes ring EOS, deferring the
// Stopped/Eos transition until OutputSink observes the ring drain.
func (e *Engine) handleTrackDone(msg trackDoneMsg) {
	if e.current != msg.track {
		// Stale report from a track already abandoned (Skip/Stop/Previous).
		return
	}

	finishedIdx := e.current.index
	finishedURL := e.current.url

	if !errors.Is(msg.err, io.EOF) {
		// non-EOF error: classify and report, then fall through to the
		// same advance-or-stop logic as a clean finish.
		kind := classifyErr(msg.err)
		e.publish(Event{TrackError: &TrackErrorEvent{Kind: kind, Track: TrackMeta{URL: finishedURL, Index: finishedIdx}, Err: msg.err}})
	}

	if e.gapless && e.next != nil {
		finished := e.current
		nextTrack := e.next
		e.next = nil

		oldSpec := finished.stack.CurrentSpec()
		newSpec := nextTrack.stack.CurrentSpec()
		if oldSpec != newSpec {
			producer := e.ring.NewProducer()
			_ = producer.PushSpec(context.Background(), newSpec)
		}

		e.current = nextTrack
		e.queueIndex = nextTrack.index
		e.position = 0

		producer := e.ring.NewProducer()
		go nextTrack.pump(producer, e.trackDone)

		finished.Close()

		e.publish(Event{TrackChanged: &TrackChangedEvent{Track: TrackMeta{URL: nextTrack.url, Index: nextTrack.index}}})
		return
	}

	// No gapless successor ready: push the final ring EOS and let
	// handleRingEOS flip state once the ring has audibly drained.
	e.current.Close()
	e.current = nil
	if e.ring != nil {
		producer := e.ring.NewProducer()
		_ = producer.PushEOS(context.Background())
	}
}

func (e *Engine) handleRingEOS() {
	if e.current != nil {
		// A gapless hand-off is in flight (or about to be); this EOS
		// belongs to a stale, already-superseded producer. Ignore it.
		return
	}

	idx, ok := e.nextQueueEntry()
	if !ok {
		e.publish(Event{Eos: &EosEvent{}})
		e.setStatus(Stopped)
		return
	}

	e.publish(Event{Eos: &EosEvent{}})
	e.tryPlayFrom(idx, 0)
}

func (e *Engine) handleDeviceLost(err error) {
	e.publish(Event{FatalDevice: &FatalDeviceEvent{Err: err}})
	e.abortCurrentAndNext()
	e.setStatus(Stopped)
}

func (e *Engine) abortCurrentAndNext() {
	if e.current != nil {
		e.current.Close()
		e.current = nil
	}
	if e.next != nil {
		e.next.Close()
		e.next = nil
	}
	e.prefetching = false
	if e.ring != nil {
		e.ring.Flush()
	}
}

func (e *Engine) setStatus(s Status) {
	if e.status == s {
		return
	}
	e.status = s
	e.publish(Event{StateChanged: &StateChangedEvent{Status: s}})
}

// classifyErr maps a track-ending error to a TrackErrorKind for
// TrackErrorEvent (spec §7 error taxonomy).
func classifyErr(err error) TrackErrorKind {
	if errors.Is(err, fetch.ErrFetchFailed) || errors.Is(err, fetch.ErrTruncatedSource) || errors.Is(err, fetch.ErrLengthMismatch) || errors.Is(err, mediasource.ErrWouldBlockExceeded) {
		return TrackErrorFetch
	}
	return TrackErrorDecode
}


package engine

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/fetch"
	"github.com/glebovdev/streamcore/internal/mediasource"
)

func testConfig() *config.EngineConfig {
	cfg := config.DefaultConfig()
	cfg.TickInterval = 10 * time.Millisecond
	return cfg
}

func TestNewEngineStartsStopped(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	snap := e.Snapshot()
	if snap.Status != Stopped {
		t.Errorf("initial Status = %v, want Stopped", snap.Status)
	}
	if snap.Volume != config.DefaultVolume {
		t.Errorf("initial Volume = %d, want %d", snap.Volume, config.DefaultVolume)
	}
}

func TestSetVolumeClampsAndPublishes(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	sub := e.Subscribe()
	defer sub.Close()

	e.SetVolume(150)
	snap := e.Snapshot()
	if snap.Volume != config.MaxVolume {
		t.Errorf("Volume = %d, want clamped to %d", snap.Volume, config.MaxVolume)
	}

	select {
	case ev := <-sub.C():
		if ev.VolumeChanged == nil || ev.VolumeChanged.Percent != config.MaxVolume {
			t.Errorf("got event %+v, want VolumeChanged(%d)", ev, config.MaxVolume)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for VolumeChanged event")
	}
}

func TestVolumeUpDownSteps(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	e.SetVolume(50)
	e.VolumeUp()
	if got := e.Snapshot().Volume; got != 50+VolumeStep {
		t.Errorf("after VolumeUp, Volume = %d, want %d", got, 50+VolumeStep)
	}
	e.VolumeDown()
	e.VolumeDown()
	if got := e.Snapshot().Volume; got != 50-VolumeStep {
		t.Errorf("after VolumeUp+2xVolumeDown, Volume = %d, want %d", got, 50-VolumeStep)
	}
}

func TestSetSpeedClamps(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	e.SetSpeed(50)
	if got := e.Snapshot().Speed; got != config.MaxSpeed {
		t.Errorf("Speed = %v, want clamped to %v", got, config.MaxSpeed)
	}

	e.SetSpeed(0.001)
	if got := e.Snapshot().Speed; got != config.MinSpeed {
		t.Errorf("Speed = %v, want clamped to %v", got, config.MinSpeed)
	}
}

func TestSetGaplessTogglePublishesEvent(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	sub := e.Subscribe()
	defer sub.Close()

	e.SetGapless(false)

	select {
	case ev := <-sub.C():
		if ev.GaplessChanged == nil || ev.GaplessChanged.Enabled {
			t.Errorf("got event %+v, want GaplessChanged(false)", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for GaplessChanged event")
	}

	if e.Snapshot().Gapless {
		t.Error("Gapless still true after SetGapless(false)")
	}
}

func TestSetLoopModePersists(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	e.SetLoopMode(config.LoopSingle)
	if got := e.Snapshot().LoopMode; got != config.LoopSingle {
		t.Errorf("LoopMode = %v, want %v", got, config.LoopSingle)
	}
}

func TestNextQueueEntryLoopQueueStopsAtEnd(t *testing.T) {
	e := &Engine{queue: []string{"a", "b", "c"}, queueIndex: 2, loopMode: config.LoopQueue}
	if _, ok := e.nextQueueEntry(); ok {
		t.Error("nextQueueEntry() at last index under LoopQueue, want ok=false")
	}

	e.queueIndex = 0
	idx, ok := e.nextQueueEntry()
	if !ok || idx != 1 {
		t.Errorf("nextQueueEntry() = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestNextQueueEntryLoopSingleRepeats(t *testing.T) {
	e := &Engine{queue: []string{"a", "b"}, queueIndex: 1, loopMode: config.LoopSingle}
	idx, ok := e.nextQueueEntry()
	if !ok || idx != 1 {
		t.Errorf("nextQueueEntry() = (%d, %v), want (1, true)", idx, ok)
	}
}

func TestNextQueueEntryLoopRandomStaysInBounds(t *testing.T) {
	e := &Engine{queue: []string{"a", "b", "c"}, queueIndex: 0, loopMode: config.LoopRandom, rng: rand.New(rand.NewSource(7))}
	for i := 0; i < 20; i++ {
		idx, ok := e.nextQueueEntry()
		if !ok || idx < 0 || idx >= len(e.queue) {
			t.Fatalf("nextQueueEntry() = (%d, %v), out of bounds", idx, ok)
		}
	}
}

func TestClassifyErrFetchVsDecode(t *testing.T) {
	if got := classifyErr(fetch.ErrFetchFailed); got != TrackErrorFetch {
		t.Errorf("classifyErr(ErrFetchFailed) = %v, want TrackErrorFetch", got)
	}
	if got := classifyErr(mediasource.ErrWouldBlockExceeded); got != TrackErrorFetch {
		t.Errorf("classifyErr(ErrWouldBlockExceeded) = %v, want TrackErrorFetch", got)
	}
	if got := classifyErr(errors.New("boom")); got != TrackErrorDecode {
		t.Errorf("classifyErr(generic) = %v, want TrackErrorDecode", got)
	}
}

func TestSpeedModeFromConfig(t *testing.T) {
	if speedModeFromConfig(config.SpeedModeResample) == speedModeFromConfig(config.SpeedModeStretch) {
		t.Error("speedModeFromConfig should map Resample and Stretch to distinct values")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	e.Close()
	e.Close()
}

func TestSubscribeCloseUnblocksChannel(t *testing.T) {
	e := NewEngine(testConfig(), nil)
	defer e.Close()

	sub := e.Subscribe()
	sub.Close()

	select {
	case _, ok := <-sub.C():
		if ok {
			t.Error("expected closed channel after Subscription.Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription channel to close")
	}
}

package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebovdev/streamcore/internal/cache"
	"github.com/glebovdev/streamcore/internal/config"
	"github.com/glebovdev/streamcore/internal/decode"
	_ "github.com/glebovdev/streamcore/internal/decode/ffmpegdecode" // registers AAC/APE openers
	"github.com/glebovdev/streamcore/internal/fetch"
	"github.com/glebovdev/streamcore/internal/mediasource"
	"github.com/glebovdev/streamcore/internal/partialfile"
	"github.com/glebovdev/streamcore/internal/ring"
	"github.com/glebovdev/streamcore/internal/transform"
	"github.com/rs/zerolog/log"
)

// TrackSource bundles everything spec §3 calls a TrackSource: decoder,
// transform stack, and a cancellation token, plus the bits needed to
// tear the backing fetch/file down cleanly.
type TrackSource struct {
	url   string
	index int

	fetcher   *fetch.Fetcher
	pf        *partialfile.PartialFile
	localFile *os.File

	src     *mediasource.SeekableMediaSource
	decoder decode.Decoder
	stack   *transform.Stack

	format           decode.Format
	totalDuration    time.Duration
	hasTotalDuration bool

	ctx    context.Context
	cancel context.CancelFunc

	framesProduced atomic.Int64
	lastPosition   atomic.Int64 // nanoseconds, decode-side position
}

func isRemoteURL(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func localPathFromURL(url string) string {
	return strings.TrimPrefix(url, "file://")
}

// openTrack resolves url to bytes (remote range fetch or local file),
// probes and opens a Decoder, wires the transform Stack, and caches the
// probed metadata. It does not attach to a ring; the caller decides
// when (and whether, for gapless prefetch) to start pumping. The
// transform Stack's own DoneCallback hook is left unused (nil): pump
// already observes NextPacket's terminal error directly and reports it
// on done, so there is no need for a second notification path.
func openTrack(ctx context.Context, index int, url string, cfg *config.EngineConfig, c *cache.Cache, mode transform.SpeedMode, speed float64, volume int, onSpeedFallback func()) (*TrackSource, error) {
	ctx, cancel := context.WithCancel(ctx)

	ts := &TrackSource{url: url, index: index, ctx: ctx, cancel: cancel}

	var src *mediasource.SeekableMediaSource
	if isRemoteURL(url) {
		fetcher, pf, err := fetch.Open(ctx, url)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("engine: open %s: %w", url, err)
		}
		ts.fetcher = fetcher
		ts.pf = pf

		sms := mediasource.NewRemote(pf.NewReader(), fetcher)
		sms.SetReadTimeout(cfg.ReadTimeout)
		src = sms
	} else {
		f, err := os.Open(localPathFromURL(url))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("engine: open %s: %w", url, err)
		}
		ts.localFile = f

		sms, err := mediasource.NewLocal(f)
		if err != nil {
			f.Close()
			cancel()
			return nil, fmt.Errorf("engine: stat %s: %w", url, err)
		}
		src = sms
	}
	ts.src = src

	format, err := decode.Probe(src, "")
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("engine: probe %s: %w", url, err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		ts.Close()
		return nil, fmt.Errorf("engine: rewind %s: %w", url, err)
	}
	ts.format = format

	decoder, err := decode.Open(src, "")
	if err != nil {
		ts.Close()
		return nil, fmt.Errorf("engine: decode %s: %w", url, err)
	}
	ts.decoder = decoder

	total, hasTotal := decoder.TotalDuration()
	ts.totalDuration = total
	ts.hasTotalDuration = hasTotal

	if c != nil {
		meta := cache.ProbeMetadata{
			Format:        format,
			Spec:          decoder.CurrentSpec(),
			TotalDuration: total,
			HasDuration:   hasTotal,
		}
		if serr := c.SaveProbe(url, meta); serr != nil {
			log.Debug().Err(serr).Str("url", url).Msg("engine: failed to cache probe metadata")
		}
	}

	ts.stack = transform.NewStack(decoder, transform.Options{
		Volume:          volume,
		SpeedMode:       mode,
		Speed:           speed,
		OnSpeedFallback: onSpeedFallback,
	})

	return ts, nil
}

// remaining reports how much of the track is left to decode, given the
// most recently observed decode-side position. Used by the gapless
// prefetch trigger (spec §4.H, threshold default 5s).
func (ts *TrackSource) remaining() (time.Duration, bool) {
	if !ts.hasTotalDuration {
		return 0, false
	}
	pos := time.Duration(ts.lastPosition.Load())
	r := ts.totalDuration - pos
	if r < 0 {
		r = 0
	}
	return r, true
}

// pump runs on its own goroutine (the "decoder thread" of spec §5):
// pulls packets from the transform Stack and pushes them into the ring
// via producer, reporting the terminal outcome on done. It never pushes
// an EndOfStream frame itself — the engine decides whether a finished
// track is followed immediately by a gapless successor (no ring EOS) or
// is truly the end of playback (ring EOS pushed by the engine).
func (ts *TrackSource) pump(producer *ring.Producer, done chan<- trackDoneMsg) {
	ctx := ts.ctx
	var lastSpec decode.StreamSpec
	first := true

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pos, samples, spec, err := ts.stack.NextPacket()
		ts.lastPosition.Store(int64(pos.Duration))

		if err != nil {
			select {
			case done <- trackDoneMsg{track: ts, err: err}:
			case <-ctx.Done():
			}
			return
		}

		if first || spec != lastSpec {
			if perr := producer.PushSpec(ctx, spec); perr != nil {
				return
			}
			lastSpec = spec
			first = false
		}

		if len(samples) > 0 {
			ts.framesProduced.Add(int64(len(samples)) / int64(spec.Channels))
			if perr := producer.PushData(ctx, samples); perr != nil {
				return
			}
		}
	}
}

// Close tears down every resource the track opened: decoder, fetcher,
// partial file, local file handle. Safe to call more than once.
func (ts *TrackSource) Close() {
	ts.cancel()
	if ts.decoder != nil {
		if err := ts.decoder.Close(); err != nil {
			log.Debug().Err(err).Str("url", ts.url).Msg("engine: decoder close error")
		}
	}
	if ts.fetcher != nil {
		if err := ts.fetcher.Close(); err != nil {
			log.Debug().Err(err).Str("url", ts.url).Msg("engine: fetcher close error")
		}
	}
	if ts.localFile != nil {
		ts.localFile.Close()
	}
}

// trackDoneMsg is sent from a pump goroutine to the engine's command
// loop when the decode-side stream ends (cleanly with io.EOF, or with a
// decode/fetch error).
type trackDoneMsg struct {
	track *TrackSource
	err   error
}

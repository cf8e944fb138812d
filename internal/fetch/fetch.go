// Package fetch streams a remote media object into a partialfile.PartialFile
// via HTTP Range requests, honoring seek-ahead requests from the consumer
// by cancelling and restarting its in-flight GET.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebovdev/streamcore/internal/partialfile"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"
)

// Sentinel errors surfaced to the PlayerEngine.
var (
	ErrFetchFailed     = errors.New("fetch: failed")
	ErrTruncatedSource = errors.New("fetch: truncated source (416 range not satisfiable)")
	ErrLengthMismatch  = errors.New("fetch: content-length mismatch between HEAD and GET")
)

const (
	scratchBufSize = 32 * 1024

	// DefaultPrefetchSeconds sizes prefetchWindow, assuming 128 KiB/s:
	// RequestBytes restarts the GET when the requested offset lies more
	// than that window ahead of the write position (or behind it).
	DefaultPrefetchSeconds = 1.0
)

// Fetcher streams one remote object into a PartialFile in the background,
// restarting its GET whenever the consumer seeks ahead of (or far behind)
// the current write position.
type Fetcher struct {
	url    string
	client *retryablehttp.Client
	pf     *partialfile.PartialFile
	writer *partialfile.Writer

	mu          sync.Mutex
	writePos    int64
	cancelGET   context.CancelFunc
	bytesPerSec float64 // estimated from the running download rate

	prefetchWindow int64 // bytes; backpressure threshold

	done chan struct{}
	err  error
}

// newHTTPClient mirrors the teacher player's long-lived streaming client
// configuration (no overall timeout; bounded dial/handshake/header
// timeouts), wrapped in retryablehttp for the exponential backoff the
// spec requires on transient transport errors.
func newHTTPClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 5
	c.RetryWaitMin = 100 * time.Millisecond
	c.RetryWaitMax = 1600 * time.Millisecond
	c.Logger = nil
	c.HTTPClient.Timeout = 0
	return c
}

// Open issues a HEAD request to discover Content-Length and range support,
// creates an empty PartialFile, and starts the background streaming loop.
func Open(ctx context.Context, url string) (*Fetcher, *partialfile.PartialFile, error) {
	client := newHTTPClient()

	head, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch: build HEAD: %w", err)
	}
	resp, err := client.Do(head)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: HEAD %s: %v", ErrFetchFailed, url, err)
	}
	resp.Body.Close()

	var total int64
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	acceptsRanges := strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes")

	pf, err := partialfile.New(total)
	if err != nil {
		return nil, nil, err
	}

	f := &Fetcher{
		url:            url,
		client:         client,
		pf:             pf,
		writer:         pf.NewWriter(),
		prefetchWindow: int64(128 * 1024 * DefaultPrefetchSeconds),
		done:           make(chan struct{}),
	}

	if !acceptsRanges {
		log.Debug().Str("url", url).Msg("fetch: server does not advertise Accept-Ranges; streaming sequentially")
	}

	go f.run(ctx, 0)
	return f, pf, nil
}

// RequestBytes tells the fetcher the consumer now needs bytes starting at
// offset. If the in-flight GET has already passed offset, or is too far
// behind to reach it organically within the prefetch window, the current
// GET is cancelled and a new Range request issued from offset.
func (f *Fetcher) RequestBytes(offset int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset == f.writePos {
		return
	}
	behind := offset - f.writePos
	if behind < 0 || behind > f.prefetchWindow {
		if f.cancelGET != nil {
			f.cancelGET()
		}
		go f.run(context.Background(), offset)
	}
}

// run performs one GET attempt starting at startOffset and streams the
// response body into the PartialFile until EOF, cancellation, or error.
// A new goroutine is spawned (by RequestBytes) rather than looping in
// place, so an in-progress write never races a restart.
func (f *Fetcher) run(parent context.Context, startOffset int64) {
	ctx, cancel := context.WithCancel(parent)

	f.mu.Lock()
	f.writePos = startOffset
	f.cancelGET = cancel
	f.mu.Unlock()

	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		f.fail(fmt.Errorf("fetch: build GET: %w", err))
		return
	}
	if startOffset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return // superseded by a newer run
		}
		f.fail(fmt.Errorf("%w: GET %s: %v", ErrFetchFailed, f.url, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		f.fail(ErrTruncatedSource)
		return
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		f.fail(fmt.Errorf("%w: unexpected status %d", ErrFetchFailed, resp.StatusCode))
		return
	}

	if err := f.checkLength(resp, startOffset); err != nil {
		f.fail(err)
		return
	}

	f.stream(ctx, resp.Body, startOffset)
}

// checkLength cross-validates the GET's reported length (direct or via
// Content-Range) against the PartialFile's HEAD-derived total.
func (f *Fetcher) checkLength(resp *http.Response, startOffset int64) error {
	total := f.pf.TotalLen()
	if total == 0 {
		if resp.ContentLength > 0 {
			f.pf.SetTotalLen(startOffset + resp.ContentLength)
		}
		return nil
	}

	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if n, err := strconv.ParseInt(cr[idx+1:], 10, 64); err == nil && n != total {
				return fmt.Errorf("%w: HEAD=%d Content-Range=%d", ErrLengthMismatch, total, n)
			}
		}
		return nil
	}

	if resp.ContentLength > 0 && startOffset == 0 && resp.ContentLength != total {
		return fmt.Errorf("%w: HEAD=%d GET=%d", ErrLengthMismatch, total, resp.ContentLength)
	}
	return nil
}

func (f *Fetcher) stream(ctx context.Context, body io.Reader, startOffset int64) {
	buf := make([]byte, scratchBufSize)
	pos := startOffset
	lastRateCheck := time.Now()
	bytesSinceCheck := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			if werr := f.writer.WriteAt(pos, buf[:n]); werr != nil {
				f.fail(fmt.Errorf("%w: %v", ErrFetchFailed, werr))
				return
			}
			pos += int64(n)
			bytesSinceCheck += n

			f.mu.Lock()
			f.writePos = pos
			f.mu.Unlock()

			if elapsed := time.Since(lastRateCheck); elapsed >= time.Second {
				f.mu.Lock()
				f.bytesPerSec = float64(bytesSinceCheck) / elapsed.Seconds()
				f.mu.Unlock()
				lastRateCheck = time.Now()
				bytesSinceCheck = 0
			}

			// Backpressure: pause briefly after every write. The pause
			// does not depend on the consumer's read position, so the
			// download is throttled but never stopped while far ahead.
			f.maybeYield(ctx)
		}

		if err != nil {
			if err == io.EOF {
				return
			}
			if ctx.Err() != nil {
				return
			}
			f.fail(fmt.Errorf("%w: body read: %v", ErrFetchFailed, err))
			return
		}
	}
}

func (f *Fetcher) maybeYield(ctx context.Context) {
	f.mu.Lock()
	window := f.prefetchWindow
	f.mu.Unlock()
	if window <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Millisecond):
	}
}

func (f *Fetcher) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	log.Error().Err(err).Str("url", f.url).Msg("fetch: background stream failed")
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

// Err returns the terminal error, if any, after the fetcher has stopped.
func (f *Fetcher) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done reports when the fetcher has hit a terminal (fatal) error. A
// successful full download simply stops without closing Done; callers
// drive shutdown by checking RangeSet coverage against TotalLen.
func (f *Fetcher) Done() <-chan struct{} { return f.done }

// Close cancels any in-flight GET and releases the PartialFile.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	if f.cancelGET != nil {
		f.cancelGET()
	}
	f.mu.Unlock()
	return f.pf.Close()
}

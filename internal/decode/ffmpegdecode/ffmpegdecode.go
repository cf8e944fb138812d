// Package ffmpegdecode decodes formats the pack carries no pure-Go
// decoder for (AAC/M4A, APE) by shelling out to ffmpeg/ffprobe, the
// same exec.CommandContext-plus-stdout-pipe shape the teacher pack's
// arung-agamani-denpa-radio/internal/ffmpeg/encoder.go uses for
// transcoding. See SPEC_FULL.md's DOMAIN STACK for the rationale: no
// go.mod in the retrieval pack carries a pure-Go AAC or APE decoder.
package ffmpegdecode

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os/exec"
	"time"

	"github.com/glebovdev/streamcore/internal/decode"
	"github.com/rs/zerolog/log"
)

const bytesPerSample = 4 // f32le

func init() {
	decode.Register(decode.FormatAAC, func(src decode.Source, _ string) (decode.Decoder, error) {
		return Open(src)
	})
	decode.Register(decode.FormatAPE, func(src decode.Source, _ string) (decode.Decoder, error) {
		return Open(src)
	})
}

// Decoder decodes a format via an ffmpeg subprocess, pulling raw
// interleaved float32le PCM off its stdout.
type Decoder struct {
	src     decode.Source
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	stdout  *bufio.Reader
	spec    decode.StreamSpec
	total   time.Duration
	hasTot  bool
	frame   int64
}

// Open probes src with ffprobe and starts an ffmpeg decode subprocess
// feeding from src's bytes (read sequentially from offset 0 — callers
// must pass a freshly seeked Source).
func Open(src decode.Source) (decode.Decoder, error) {
	spec, total, hasTot, err := probe(src)
	if err != nil {
		return nil, err
	}

	d := &Decoder{src: src, spec: spec, total: total, hasTot: hasTot}
	if err := d.start(0); err != nil {
		return nil, err
	}
	return d, nil
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

func probe(src decode.Source) (decode.StreamSpec, time.Duration, bool, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: probe seek: %w", err)
	}

	cmd := exec.Command("ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", "-i", "pipe:0")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: probe stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: probe stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: ffprobe start: %w", err)
	}

	copyErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(stdin, src)
		stdin.Close()
		copyErr <- err
	}()

	out, readErr := io.ReadAll(stdout)
	waitErr := cmd.Wait()
	if readErr != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: probe read: %w", readErr)
	}
	if waitErr != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: %w: ffprobe: %v", decode.ErrUnsupportedFormat, waitErr)
	}
	if err := <-copyErr; err != nil && err != io.ErrClosedPipe {
		log.Debug().Err(err).Msg("ffmpegdecode: probe input copy ended early")
	}

	var res probeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return decode.StreamSpec{}, 0, false, fmt.Errorf("ffmpegdecode: parse ffprobe json: %w", err)
	}

	spec := decode.StreamSpec{SampleRate: 44100, Channels: 2, Format: decode.SampleFormatF32}
	for _, s := range res.Streams {
		if s.CodecType != "audio" {
			continue
		}
		var rate int
		fmt.Sscanf(s.SampleRate, "%d", &rate)
		if rate > 0 {
			spec.SampleRate = uint32(rate)
		}
		if s.Channels > 0 {
			spec.Channels = uint8(s.Channels)
		}
		break
	}

	var seconds float64
	hasTot := false
	if res.Format.Duration != "" {
		if _, err := fmt.Sscanf(res.Format.Duration, "%g", &seconds); err == nil {
			hasTot = true
		}
	}

	return spec, time.Duration(seconds * float64(time.Second)), hasTot, nil
}

// start launches (or relaunches, for a seek) the decode subprocess.
// startSeconds instructs ffmpeg to discard output before that point —
// an output-side seek, which works regardless of whether the input is
// seekable (it is not, here: it's a pipe).
func (d *Decoder) start(startSeconds float64) error {
	if d.cancel != nil {
		d.cancel()
	}
	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("ffmpegdecode: seek source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	args := []string{"-v", "quiet", "-i", "pipe:0"}
	if startSeconds > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", startSeconds))
	}
	args = append(args,
		"-f", "f32le",
		"-ar", fmt.Sprintf("%d", d.spec.SampleRate),
		"-ac", fmt.Sprintf("%d", d.spec.Channels),
		"-vn", "pipe:1")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpegdecode: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("ffmpegdecode: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegdecode: start: %w", err)
	}

	go func() {
		_, err := io.Copy(stdin, d.src)
		stdin.Close()
		if err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("ffmpegdecode: input copy ended")
		}
	}()

	d.cancel = cancel
	d.cmd = cmd
	d.stdout = bufio.NewReaderSize(stdout, 64*1024)
	d.frame = int64(startSeconds * float64(d.spec.SampleRate))
	return nil
}

func (d *Decoder) CurrentSpec() decode.StreamSpec { return d.spec }

func (d *Decoder) NextPacket() (decode.Position, []float32, decode.StreamSpec, error) {
	frameBytes := bytesPerSample * int(d.spec.Channels)
	buf := make([]byte, 4096*frameBytes)

	n, err := io.ReadFull(d.stdout, buf)
	if n == 0 {
		if err == io.EOF {
			return decode.Position{}, nil, decode.StreamSpec{}, io.EOF
		}
		return decode.Position{}, nil, decode.StreamSpec{}, fmt.Errorf("ffmpegdecode: %w: %v", decode.ErrCorruptPacket, err)
	}
	// A short final read (ErrUnexpectedEOF) still carries valid trailing
	// samples; only a zero-byte read means "truly done".
	n -= n % frameBytes

	samples := make([]float32, n/bytesPerSample)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		samples[i] = math.Float32frombits(bits)
	}

	frames := int64(n / frameBytes)
	d.frame += frames
	pos := decode.Position{
		Frame:    d.frame,
		Duration: time.Duration(float64(d.frame) / float64(d.spec.SampleRate) * float64(time.Second)),
	}
	return pos, samples, d.spec, nil
}

func (d *Decoder) TrySeek(target time.Duration) (decode.Position, error) {
	seconds := target.Seconds()
	if d.hasTot && seconds > d.total.Seconds() {
		seconds = d.total.Seconds()
	}
	if err := d.start(seconds); err != nil {
		return decode.Position{}, err
	}
	return decode.Position{
		Frame:    d.frame,
		Duration: time.Duration(seconds * float64(time.Second)),
	}, nil
}

func (d *Decoder) TotalDuration() (time.Duration, bool) {
	return d.total, d.hasTot
}

func (d *Decoder) Close() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.cmd != nil {
		return d.cmd.Wait()
	}
	return nil
}

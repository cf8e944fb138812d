package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/glebovdev/streamcore/internal/decode/oggdemux"
	"github.com/jj11hh/opus"
)

// opusOutputRate is the fixed sample rate libopus decodes to; Opus
// streams always decode at 48kHz internally regardless of the
// original encode rate.
const opusOutputRate = 48000

func init() {
	Register(FormatOpus, func(src Source, _ string) (Decoder, error) {
		return openOpus(src)
	})
}

// opusDecoder decodes an Ogg/Opus bitstream: oggdemux supplies packets,
// github.com/jj11hh/opus decodes them to interleaved float32 PCM.
// Grounded on the teacher pack's waves/internal/player/opus.go adapter
// shape (an *OggReader paired with an opus codec decoder).
type opusDecoder struct {
	src      Source
	ogg      *oggdemux.Reader
	decoder  *opus.Decoder
	channels int
	preSkip  int

	page      *oggdemux.Page
	packetIdx int
	granule   int64

	pcmScratch []float32
}

func openOpus(src Source) (Decoder, error) {
	ogg := oggdemux.NewReader(src)

	head, err := ogg.ReadPage()
	if err != nil {
		return nil, fmt.Errorf("decode: opus: %w: %v", ErrCorruptPacket, err)
	}
	if len(head.Packets) == 0 {
		return nil, fmt.Errorf("decode: opus: %w: empty identification page", ErrCorruptPacket)
	}
	idPacket := head.Packets[0]
	if len(idPacket) < 19 || string(idPacket[0:8]) != "OpusHead" {
		return nil, fmt.Errorf("decode: opus: %w: missing OpusHead", ErrCorruptPacket)
	}

	channels := int(idPacket[9])
	preSkip := int(binary.LittleEndian.Uint16(idPacket[10:12]))

	dec, err := opus.NewDecoder(opusOutputRate, channels)
	if err != nil {
		return nil, fmt.Errorf("decode: opus: new decoder: %w", err)
	}

	// Skip the mandatory OpusTags comment page.
	if _, err := ogg.ReadPage(); err != nil {
		return nil, fmt.Errorf("decode: opus: comment page: %w", err)
	}

	return &opusDecoder{
		src:        src,
		ogg:        ogg,
		decoder:    dec,
		channels:   channels,
		preSkip:    preSkip,
		pcmScratch: make([]float32, packetFrames*channels),
	}, nil
}

func (d *opusDecoder) CurrentSpec() StreamSpec {
	return StreamSpec{SampleRate: opusOutputRate, Channels: uint8(d.channels), Format: SampleFormatF32}
}

func (d *opusDecoder) NextPacket() (Position, []float32, StreamSpec, error) {
	packet, err := d.nextPacketBytes()
	if err != nil {
		return Position{}, nil, StreamSpec{}, err
	}

	n, err := d.decoder.DecodeFloat32(packet, d.pcmScratch)
	if err != nil {
		return Position{}, nil, StreamSpec{}, fmt.Errorf("decode: opus: %w: %v", ErrCorruptPacket, err)
	}

	d.granule += int64(n)
	spec := d.CurrentSpec()
	pos := Position{
		Frame:    d.granule,
		Duration: time.Duration(float64(d.granule) / float64(opusOutputRate) * float64(time.Second)),
	}
	out := make([]float32, n*d.channels)
	copy(out, d.pcmScratch[:n*d.channels])
	return pos, out, spec, nil
}

func (d *opusDecoder) nextPacketBytes() ([]byte, error) {
	for {
		if d.page == nil || d.packetIdx >= len(d.page.Packets) {
			page, err := d.ogg.ReadPage()
			if err != nil {
				return nil, err
			}
			d.page = page
			d.packetIdx = 0
			continue
		}
		pkt := d.page.Packets[d.packetIdx]
		d.packetIdx++
		if len(pkt) == 0 {
			continue
		}
		return pkt, nil
	}
}

func (d *opusDecoder) TrySeek(target time.Duration) (Position, error) {
	if _, err := d.src.Seek(0, io.SeekStart); err != nil {
		return Position{}, fmt.Errorf("decode: opus: seek: %w", err)
	}
	reopened, err := openOpus(d.src)
	if err != nil {
		return Position{}, fmt.Errorf("decode: opus: reopen: %w", err)
	}
	fresh := reopened.(*opusDecoder)
	*d = *fresh

	targetGranule := int64(target.Seconds() * opusOutputRate)
	for d.granule < targetGranule {
		if _, _, _, err := d.NextPacket(); err != nil {
			if err == io.EOF {
				break
			}
			return Position{}, err
		}
	}
	return Position{
		Frame:    d.granule,
		Duration: time.Duration(float64(d.granule) / float64(opusOutputRate) * float64(time.Second)),
	}, nil
}

func (d *opusDecoder) TotalDuration() (time.Duration, bool) {
	return 0, false // no seek table; unknown until fully scanned
}

func (d *opusDecoder) Close() error { return nil }

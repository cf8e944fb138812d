// Package oggdemux is a minimal Ogg container page/packet demuxer,
// adapted from the teacher pack's llehouerou/waves internal Ogg reader
// (internal/player/ogg.go) so the Opus decode backend doesn't need a
// full third-party container parser — only the codec itself
// (github.com/jj11hh/opus) is external.
package oggdemux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Page is one demuxed Ogg page: zero or more complete packets, plus a
// flag when the page's final segment continues onto the next page.
type Page struct {
	Packets    [][]byte
	Granule    int64
	Serial     uint32
	BOS        bool
	EOS        bool
	Continues  bool // last packet is incomplete, continued on next page
}

// Reader demuxes a continuous sequence of Ogg pages from r, joining
// packets that span a page boundary.
type Reader struct {
	r       io.Reader
	pending []byte // bytes of a packet left incomplete by the previous page
}

// NewReader creates a demuxing Reader over r, which must be positioned
// at the start of an Ogg bitstream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadPage reads and returns the next Ogg page, joining any packet left
// incomplete by the prior page onto this page's first packet.
func (d *Reader) ReadPage() (*Page, error) {
	var hdr [27]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[0:4]) != "OggS" {
		return nil, fmt.Errorf("oggdemux: bad capture pattern")
	}

	headerType := hdr[5]
	granule := int64(binary.LittleEndian.Uint64(hdr[6:14]))
	serial := binary.LittleEndian.Uint32(hdr[14:18])
	segCount := int(hdr[26])

	segTable := make([]byte, segCount)
	if _, err := io.ReadFull(d.r, segTable); err != nil {
		return nil, fmt.Errorf("oggdemux: segment table: %w", err)
	}

	page := &Page{
		Granule: granule,
		Serial:  serial,
		BOS:     headerType&0x02 != 0,
		EOS:     headerType&0x04 != 0,
	}

	var current []byte
	if len(d.pending) > 0 {
		current = d.pending
		d.pending = nil
	}

	for _, segLen := range segTable {
		buf := make([]byte, segLen)
		if segLen > 0 {
			if _, err := io.ReadFull(d.r, buf); err != nil {
				return nil, fmt.Errorf("oggdemux: segment data: %w", err)
			}
		}
		current = append(current, buf...)
		if segLen < 255 {
			page.Packets = append(page.Packets, current)
			current = nil
		}
		// segLen == 255 means the packet continues into the next segment
		// (or, if this was the last segment in the page, the next page).
	}

	if current != nil {
		d.pending = current
		page.Continues = true
	}

	return page, nil
}

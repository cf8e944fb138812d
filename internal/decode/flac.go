package decode

import (
	"io"

	"github.com/gopxl/beep/v2/flac"
)

func init() {
	Register(FormatFLAC, func(src Source, _ string) (Decoder, error) {
		if err := skipID3v2(src); err != nil {
			return nil, err
		}
		return newBeepDecoder(flac.Decode, src)
	})
}

// skipID3v2 skips a prepended ID3v2 tag some FLAC files carry, which
// the FLAC decoder doesn't expect at the start of the stream. Grounded
// on the teacher pack's waves/internal/player/stream.go skipID3v2.
func skipID3v2(r io.ReadSeeker) error {
	header := make([]byte, 10)
	n, err := io.ReadFull(r, header)
	if err != nil {
		_, serr := r.Seek(0, io.SeekStart)
		if serr != nil {
			return serr
		}
		return nil
	}
	if n < 10 || string(header[0:3]) != "ID3" {
		_, err = r.Seek(0, io.SeekStart)
		return err
	}

	size := int64(header[6])<<21 | int64(header[7])<<14 | int64(header[8])<<7 | int64(header[9])
	_, err = r.Seek(10+size, io.SeekStart)
	return err
}

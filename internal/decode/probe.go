package decode

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// mimeHints maps a MIME type (as supplied by, e.g., an HTTP Content-Type
// header) to the Format it implies. Consulted before content sniffing.
var mimeHints = map[string]Format{
	"audio/mpeg":       FormatMP3,
	"audio/mp3":        FormatMP3,
	"audio/flac":       FormatFLAC,
	"audio/x-flac":     FormatFLAC,
	"audio/wav":        FormatWAV,
	"audio/x-wav":      FormatWAV,
	"audio/wave":       FormatWAV,
	"audio/aiff":       FormatAIFF,
	"audio/x-aiff":     FormatAIFF,
	"audio/ogg":        FormatVorbis, // refined by sniffing (Vorbis vs Opus)
	"audio/vorbis":     FormatVorbis,
	"audio/opus":       FormatOpus,
	"audio/aac":        FormatAAC,
	"audio/mp4":        FormatAAC,
	"audio/x-m4a":      FormatAAC,
	"audio/x-monkeys-audio": FormatAPE,
}

// Probe identifies the container/codec of src by MIME hint (if present)
// and by content sniffing, leaving src's position unspecified on return
// (callers must Seek(0) before decoding).
func Probe(src Source, mimeHint string) (Format, error) {
	if mimeHint != "" {
		mt := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeHint, ";", 2)[0]))
		if f, ok := mimeHints[mt]; ok {
			// Ogg containers need sniffing to distinguish Opus/Vorbis
			// even when a hint is present.
			if f != FormatVorbis {
				return f, nil
			}
		}
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, fmt.Errorf("decode: probe seek: %w", err)
	}

	header := make([]byte, 64)
	n, err := io.ReadFull(src, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("decode: probe read: %w", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("fLaC")):
		return FormatFLAC, nil
	case bytes.HasPrefix(header, []byte("RIFF")) && len(header) >= 12 && bytes.Equal(header[8:12], []byte("WAVE")):
		return FormatWAV, nil
	case bytes.HasPrefix(header, []byte("FORM")) && len(header) >= 12 && (bytes.Equal(header[8:12], []byte("AIFF")) || bytes.Equal(header[8:12], []byte("AIFC"))):
		return FormatAIFF, nil
	case bytes.HasPrefix(header, []byte("MAC ")):
		return FormatAPE, nil
	case bytes.HasPrefix(header, []byte("OggS")):
		return probeOggCodec(header)
	case bytes.HasPrefix(header, []byte{0xFF, 0xF1}) || bytes.HasPrefix(header, []byte{0xFF, 0xF9}):
		return FormatAAC, nil // raw ADTS AAC
	case len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")):
		return FormatAAC, nil // MP4/M4A container
	case bytes.HasPrefix(header, []byte("ID3")):
		return FormatMP3, nil
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return FormatMP3, nil // MPEG frame sync with no ID3 tag
	}

	return FormatUnknown, fmt.Errorf("decode: probe: %w", ErrUnsupportedFormat)
}

// probeOggCodec inspects the first Ogg page's payload to tell Vorbis
// and Opus apart; both share the "OggS" magic at the container level.
func probeOggCodec(header []byte) (Format, error) {
	if bytes.Contains(header, []byte("OpusHead")) {
		return FormatOpus, nil
	}
	if bytes.Contains(header, []byte("vorbis")) {
		return FormatVorbis, nil
	}
	// The identification packet may start later than our 64-byte
	// sniff window on an unusually large page header; default to
	// Vorbis and let the demuxer itself fail fast if it's wrong.
	return FormatVorbis, nil
}

package decode

import "github.com/gopxl/beep/v2/wav"

func init() {
	Register(FormatWAV, func(src Source, _ string) (Decoder, error) {
		return newBeepDecoder(wav.Decode, src)
	})
}

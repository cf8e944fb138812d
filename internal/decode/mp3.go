package decode

import "github.com/gopxl/beep/v2/mp3"

func init() {
	Register(FormatMP3, func(src Source, _ string) (Decoder, error) {
		return newBeepDecoder(mp3.Decode, src)
	})
}

package audio

import (
	"errors"
	"fmt"

	"github.com/zaf/g711"
)

// Encoding identifies the wire encoding of captured microphone audio.
type Encoding string

const (
	EncodingLinear16 Encoding = "linear16" // 16-bit little-endian PCM
	EncodingULaw     Encoding = "ulaw"     // ITU-T G.711 µ-law, telephony capture
	EncodingALaw     Encoding = "alaw"     // ITU-T G.711 A-law, telephony capture
)

var ErrOddPCMLength = errors.New("audio: PCM byte slice length must be even (16-bit samples)")

// ToLinear16 converts a captured audio chunk to 16-bit little-endian PCM,
// which is what the streaming recognizers consume. Linear16 input passes
// through untouched.
func ToLinear16(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case EncodingLinear16, "":
		if len(data)%2 != 0 {
			return nil, ErrOddPCMLength
		}
		return data, nil
	case EncodingULaw:
		return g711.DecodeUlaw(data), nil
	case EncodingALaw:
		return g711.DecodeAlaw(data), nil
	default:
		return nil, fmt.Errorf("audio: unsupported encoding %q", enc)
	}
}

// FromLinear16 converts 16-bit little-endian PCM back to the given encoding,
// used when a playback device expects telephony audio.
func FromLinear16(pcm []byte, enc Encoding) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}
	switch enc {
	case EncodingLinear16, "":
		return pcm, nil
	case EncodingULaw:
		return g711.EncodeUlaw(pcm), nil
	case EncodingALaw:
		return g711.EncodeAlaw(pcm), nil
	default:
		return nil, fmt.Errorf("audio: unsupported encoding %q", enc)
	}
}

// PCMToULaw converts a single 16-bit PCM sample to 8-bit µ-law.
func PCMToULaw(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

// ULawToPCM converts a single 8-bit µ-law byte to 16-bit PCM.
func ULawToPCM(u byte) int16 {
	return g711.DecodeUlawFrame(u)
}

package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLinear16PassthroughAndValidation(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	out, err := ToLinear16(pcm, EncodingLinear16)
	require.NoError(t, err)
	assert.Equal(t, pcm, out)

	out, err = ToLinear16(pcm, "")
	require.NoError(t, err)
	assert.Equal(t, pcm, out, "empty encoding defaults to linear16")

	_, err = ToLinear16([]byte{0x01}, EncodingLinear16)
	assert.ErrorIs(t, err, ErrOddPCMLength)

	_, err = ToLinear16(pcm, "opus")
	assert.Error(t, err)
}

func TestULawTranscodeRoundTrip(t *testing.T) {
	ulaw := []byte{0x00, 0x7F, 0xFF, 0x80}

	pcm, err := ToLinear16(ulaw, EncodingULaw)
	require.NoError(t, err)
	assert.Len(t, pcm, len(ulaw)*2, "each µ-law byte expands to one 16-bit sample")

	back, err := FromLinear16(pcm, EncodingULaw)
	require.NoError(t, err)
	assert.Equal(t, ulaw, back, "µ-law survives a decode/encode cycle")
}

func TestSampleFrameConversion(t *testing.T) {
	for _, sample := range []int16{-32000, -1, 0, 1, 512, 32000} {
		u := PCMToULaw(sample)
		decoded := ULawToPCM(u)
		// µ-law is lossy; re-encoding the decoded sample must be stable.
		assert.Equal(t, u, PCMToULaw(decoded))
	}
}

// ABOUTME: Raw L16 audio decoder
// ABOUTME: Decodes headerless big-endian mono 16-bit PCM
package decode

import (
	"fmt"
	"io"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// PCM decodes raw big-endian mono samples at the given rate
func PCM(r io.Reader, sampleRate int) (*Clip, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("raw PCM needs a sample rate, got %d", sampleRate)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM: %w", err)
	}

	samples, err := audio.DecodeBigEndian(data)
	if err != nil {
		return nil, err
	}

	return &Clip{Format: audio.Mono(sampleRate), Samples: samples}, nil
}

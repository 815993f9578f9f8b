// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes a whole MP3 stream to 16-bit stereo samples
package decode

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// MP3 decodes an MP3 stream. go-mp3 always produces 16-bit
// little-endian stereo.
func MP3(r io.Reader) (*Clip, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	return &Clip{
		Format:  audio.Format{SampleRate: decoder.SampleRate(), Channels: 2},
		Samples: audio.DecodeLittleEndian(data[:len(data)&^1]),
	}, nil
}

// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes every frame of a FLAC stream to 16-bit samples
package decode

import (
	"errors"
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// FLAC decodes a FLAC stream, rescaling any bit depth to 16 bits
func FLAC(r io.Reader) (*Clip, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)

	samples := make([]int16, 0, int(info.NSamples)*channels)
	for {
		frame, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("flac frame error: %w", err)
		}

		for i := 0; i < int(frame.BlockSize); i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, to16(frame.Subframes[ch].Samples[i], bitDepth))
			}
		}
	}

	return &Clip{
		Format:  audio.Format{SampleRate: int(info.SampleRate), Channels: channels},
		Samples: samples,
	}, nil
}

func to16(sample int32, bitDepth int) int16 {
	switch {
	case bitDepth > 16:
		return int16(sample >> (bitDepth - 16))
	case bitDepth < 16:
		return int16(sample << (16 - bitDepth))
	default:
		return int16(sample)
	}
}

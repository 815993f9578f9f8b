// ABOUTME: Opus packetizer for the live WebSocket tap
// ABOUTME: Accumulates arbitrary-length sample runs into 20ms frames and encodes each with libopus
package encode

import (
	"fmt"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusPacket is the largest packet libopus will produce
const maxOpusPacket = 4000

// OpusPacketizer turns a stream of samples into 20ms Opus packets. Samples
// that do not fill a frame are held until the next Encode call.
type OpusPacketizer struct {
	encoder   *opus.Encoder
	frameSize int // samples per channel
	channels  int
	pending   []int16
}

// NewOpusPacketizer creates a packetizer. Opus accepts 8, 12, 16, 24 and
// 48 kHz.
func NewOpusPacketizer(format audio.Format) (*OpusPacketizer, error) {
	switch format.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("opus does not support %dHz", format.SampleRate)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := encoder.SetBitrate(32000 * format.Channels); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate: %w", err)
	}

	return &OpusPacketizer{
		encoder:   encoder,
		frameSize: format.SampleRate / 50,
		channels:  format.Channels,
	}, nil
}

// FrameSamples returns the interleaved sample count of one packet
func (p *OpusPacketizer) FrameSamples() int {
	return p.frameSize * p.channels
}

// Pending returns how many samples are waiting for a full frame
func (p *OpusPacketizer) Pending() int {
	return len(p.pending)
}

// Encode appends samples and returns a packet for every complete frame
func (p *OpusPacketizer) Encode(samples []int16) ([][]byte, error) {
	p.pending = append(p.pending, samples...)

	n := p.FrameSamples()
	var packets [][]byte
	for len(p.pending) >= n {
		out := make([]byte, maxOpusPacket)
		size, err := p.encoder.Encode(p.pending[:n], out)
		if err != nil {
			return packets, fmt.Errorf("opus encode failed: %w", err)
		}
		packets = append(packets, out[:size])
		p.pending = p.pending[n:]
	}

	// Keep the backing array from growing without bound
	if len(p.pending) == 0 {
		p.pending = nil
	}
	return packets, nil
}

// ABOUTME: FLAC audio encoder
// ABOUTME: Buffers samples into fixed-size blocks and writes verbatim FLAC frames
package encode

import (
	"fmt"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// FLACBlockSize is the number of samples per channel in each frame
const FLACBlockSize = 4096

// FLACEncoder encodes 16-bit PCM to FLAC
type FLACEncoder struct {
	enc     *flac.Encoder
	format  audio.Format
	pending []int16
	frameNo uint64
	closed  bool
}

// NewFLAC writes a FLAC stream header to w. Close closes w when it is an
// io.Closer and, for seekable writers, rewrites the stream info.
func NewFLAC(w io.Writer, format audio.Format) (*FLACEncoder, error) {
	if format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("unsupported FLAC channel count: %d", format.Channels)
	}

	info := &meta.StreamInfo{
		BlockSizeMin:  16,
		BlockSizeMax:  FLACBlockSize,
		SampleRate:    uint32(format.SampleRate),
		NChannels:     uint8(format.Channels),
		BitsPerSample: 16,
	}

	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create FLAC encoder: %w", err)
	}

	return &FLACEncoder{enc: enc, format: format}, nil
}

// Write buffers samples and emits every complete block
func (e *FLACEncoder) Write(samples []int16) error {
	if e.closed {
		return fmt.Errorf("encoder closed")
	}

	e.pending = append(e.pending, samples...)
	block := FLACBlockSize * e.format.Channels

	for len(e.pending) >= block {
		if err := e.writeFrame(e.pending[:block]); err != nil {
			return err
		}
		e.pending = e.pending[block:]
	}

	// Compact so the backing array does not grow forever
	if cap(e.pending) > 4*block {
		e.pending = append([]int16(nil), e.pending...)
	}
	return nil
}

func (e *FLACEncoder) writeFrame(samples []int16) error {
	channels := e.format.Channels
	n := len(samples) / channels

	subframes := make([]*frame.Subframe, channels)
	for ch := range subframes {
		data := make([]int32, n)
		for i := 0; i < n; i++ {
			data[i] = int32(samples[i*channels+ch])
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   data,
			NSamples:  n,
		}
	}

	layout := frame.ChannelsMono
	if channels == 2 {
		layout = frame.ChannelsLR
	}

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(n),
			SampleRate:        uint32(e.format.SampleRate),
			Channels:          layout,
			BitsPerSample:     16,
			Num:               e.frameNo,
		},
		Subframes: subframes,
	}

	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("failed to write FLAC frame: %w", err)
	}
	e.frameNo++
	return nil
}

// Close writes the final partial block and finishes the stream
func (e *FLACEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if n := len(e.pending) / e.format.Channels; n > 0 {
		if err := e.writeFrame(e.pending[:n*e.format.Channels]); err != nil {
			return err
		}
	}
	e.pending = nil

	if err := e.enc.Close(); err != nil {
		return fmt.Errorf("failed to finish FLAC stream: %w", err)
	}
	return nil
}

//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Cross-platform audio output using PortAudio callback or blocking streams
package output

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// PortAudio output implementation
type PortAudio struct {
	stream  *portaudio.Stream
	fill    FillFunc
	scratch []byte
	buffer  []int16 // blocking-mode stream buffer
}

// NewPortAudio creates a new PortAudio output
func NewPortAudio() Output {
	return &PortAudio{}
}

// Open initializes PortAudio
func (p *PortAudio) Open(format audio.Format, frameCount int, fill FillFunc) error {
	if p.stream != nil {
		return fmt.Errorf("device already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	var (
		stream *portaudio.Stream
		err    error
	)
	if fill != nil {
		p.fill = fill
		p.scratch = make([]byte, format.FrameBytes(frameCount))
		stream, err = portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), frameCount, p.callback)
	} else {
		p.buffer = make([]int16, frameCount*format.Channels)
		stream, err = portaudio.OpenDefaultStream(0, format.Channels, float64(format.SampleRate), frameCount, &p.buffer)
	}
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = stream
	return nil
}

// callback converts the byte-oriented fill into PortAudio's sample buffer
func (p *PortAudio) callback(out []int16) {
	n := len(out) * audio.SampleWidth
	if n > len(p.scratch) {
		p.scratch = make([]byte, n)
	}
	buf := p.scratch[:n]
	p.fill(buf)
	copy(out, audio.DecodeNative(buf))
}

// Write outputs PCM bytes through the blocking stream
func (p *PortAudio) Write(b []byte) error {
	if p.stream == nil {
		return fmt.Errorf("output not opened")
	}
	if p.fill != nil {
		return fmt.Errorf("output opened in callback mode")
	}

	samples := audio.DecodeNative(b)
	for len(samples) > 0 {
		n := copy(p.buffer, samples)
		for i := n; i < len(p.buffer); i++ {
			p.buffer[i] = 0
		}
		samples = samples[n:]
		if err := p.stream.Write(); err != nil {
			return fmt.Errorf("stream write failed: %w", err)
		}
	}

	return nil
}

// Close releases resources
func (p *PortAudio) Close() error {
	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	if err := p.stream.Close(); err != nil {
		return err
	}
	p.stream = nil
	return portaudio.Terminate()
}

// ABOUTME: Synthetic multi-tone packet source
// ABOUTME: Renders one second of superposed cosines and streams it like live hardware
package source

import (
	"context"
	"fmt"
	"math"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// SyntheticConfig configures a Synthetic source
type SyntheticConfig struct {
	// Sink is the ip:port the stream is sent to
	Sink string

	SampleRate        int
	SamplesPerMessage int

	// Tones are the superposed frequencies in Hz (default: DefaultTones)
	Tones []float64

	// Sequenced advances the RTP sequence number and timestamp per message
	// instead of repeating one constant header
	Sequenced bool
}

// Synthetic streams a deterministic test signal
type Synthetic struct {
	config  SyntheticConfig
	samples []int16
	*sender
}

// NewSynthetic renders the test signal for config
func NewSynthetic(config SyntheticConfig) (*Synthetic, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}
	if config.SamplesPerMessage <= 0 || config.SamplesPerMessage > config.SampleRate {
		return nil, fmt.Errorf("invalid samples per message: %d", config.SamplesPerMessage)
	}
	if len(config.Tones) == 0 {
		config.Tones = DefaultTones
	}

	samples := Render(config.SampleRate, config.Tones)

	return &Synthetic{
		config:  config,
		samples: samples,
		sender: newSender("synthetic", config.Sink, audio.EncodeBigEndian(samples),
			config.SampleRate, config.SamplesPerMessage, config.Sequenced),
	}, nil
}

// Render sums one second of cosines at each tone and scales the result so
// its largest magnitude maps to audio.PeakAmplitude. Scaled values are
// truncated towards zero.
func Render(sampleRate int, tones []float64) []int16 {
	sum := make([]float64, sampleRate)
	for i := range sum {
		t := float64(i) / float64(sampleRate)
		for _, f := range tones {
			sum[i] += math.Cos(2 * math.Pi * f * t)
		}
	}

	peak := 0.0
	for _, v := range sum {
		peak = math.Max(peak, math.Abs(v))
	}

	out := make([]int16, sampleRate)
	if peak == 0 {
		return out
	}

	scale := audio.PeakAmplitude / peak
	for i, v := range sum {
		out[i] = int16(math.Max(-audio.PeakAmplitude, math.Min(audio.PeakAmplitude, v*scale)))
	}
	return out
}

// Signal returns the rendered one-second signal
func (s *Synthetic) Signal() []int16 {
	return s.samples
}

// Start launches the send loop
func (s *Synthetic) Start(ctx context.Context) error {
	return s.start(ctx)
}

// Stop sets the stop flag, joins the send loop and closes the socket. It
// returns the send error that ended the loop, if any.
func (s *Synthetic) Stop() error {
	return s.halt()
}

// Messages returns how many datagrams have been sent
func (s *Synthetic) Messages() int64 {
	return s.messages()
}

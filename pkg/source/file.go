// ABOUTME: File-backed packet source
// ABOUTME: Decodes an MP3, FLAC or raw L16 file, converts it to mono at the stream rate and loops it
package source

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/decode"
	"github.com/pcmstream/pcmstream-go/pkg/audio/resample"
)

// FileConfig configures a File source
type FileConfig struct {
	Sink              string
	Path              string
	SampleRate        int
	SamplesPerMessage int
	Sequenced         bool
}

// File streams a decoded audio file in a loop
type File struct {
	config  FileConfig
	samples []int16
	*sender
}

// NewFile decodes the file up front so Start cannot fail on decoding
func NewFile(config FileConfig) (*File, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}
	if config.SamplesPerMessage <= 0 {
		return nil, fmt.Errorf("invalid samples per message: %d", config.SamplesPerMessage)
	}

	clip, err := decode.File(config.Path, config.SampleRate)
	if err != nil {
		return nil, err
	}

	mono := clip.Mono()
	samples := resample.Convert(mono.Samples, mono.Format.SampleRate, config.SampleRate, 1)
	if len(samples) == 0 {
		return nil, fmt.Errorf("%s: too short to stream", filepath.Base(config.Path))
	}

	log.Printf("Loaded %s: %dHz %dch, %v, resampled to %dHz mono",
		filepath.Base(config.Path), clip.Format.SampleRate, clip.Format.Channels,
		clip.Duration(), config.SampleRate)

	return &File{
		config:  config,
		samples: samples,
		sender: newSender("file", config.Sink, audio.EncodeBigEndian(samples),
			config.SampleRate, config.SamplesPerMessage, config.Sequenced),
	}, nil
}

// Samples returns the mono samples being looped
func (f *File) Samples() []int16 {
	return f.samples
}

// Start launches the send loop
func (f *File) Start(ctx context.Context) error {
	return f.start(ctx)
}

// Stop joins the send loop and closes the socket
func (f *File) Stop() error {
	return f.halt()
}

// Messages returns how many datagrams have been sent
func (f *File) Messages() int64 {
	return f.messages()
}

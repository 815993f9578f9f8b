// ABOUTME: Audio output interface definition
// ABOUTME: Common interface for callback-driven and blocking playback backends
package output

import (
	"fmt"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// FillFunc fills one device buffer with host-order 16-bit PCM. It is invoked
// on a thread owned by the audio backend and must not block.
type FillFunc func(out []byte)

// Output represents an audio output device
type Output interface {
	// Open acquires and starts the device. With a non-nil fill the device
	// pulls frameCount samples per period from fill; with a nil fill audio
	// is pushed through Write.
	Open(format audio.Format, frameCount int, fill FillFunc) error

	// Write outputs host-order PCM bytes (blocking mode only)
	Write(p []byte) error

	// Close stops the stream and releases the device
	Close() error
}

// Backends lists the names accepted by New
var Backends = []string{"malgo", "oto", "portaudio", "null"}

// New creates an output backend by name
func New(name string) (Output, error) {
	switch name {
	case "", "malgo":
		return NewMalgo(), nil
	case "oto":
		return NewOto(), nil
	case "portaudio":
		return NewPortAudio(), nil
	case "null":
		return NewNull(), nil
	default:
		return nil, fmt.Errorf("unknown output backend: %s", name)
	}
}

// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for capture file encoders plus extension dispatch
package encode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// Encoder writes host-order samples to an encoded stream
type Encoder interface {
	// Write appends interleaved samples
	Write(samples []int16) error

	// Close flushes buffered audio and closes the underlying writer
	Close() error
}

// Create opens path and returns an encoder chosen by its extension
func Create(path string, format audio.Format) (Encoder, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".flac", ".pcm", ".l16", ".raw":
	default:
		return nil, fmt.Errorf("unsupported capture file type: %q", ext)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	if ext == ".flac" {
		enc, err := NewFLAC(f, format)
		if err != nil {
			f.Close()
			return nil, err
		}
		return enc, nil
	}
	return NewPCM(f), nil
}

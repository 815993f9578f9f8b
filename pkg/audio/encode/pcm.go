// ABOUTME: Raw L16 audio encoder
// ABOUTME: Writes headerless big-endian 16-bit PCM, the wire sample layout
package encode

import (
	"fmt"
	"io"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// PCMEncoder writes raw big-endian samples
type PCMEncoder struct {
	w       io.Writer
	written int64
}

// NewPCM creates a raw L16 encoder
func NewPCM(w io.Writer) *PCMEncoder {
	return &PCMEncoder{w: w}
}

// Write appends samples in big-endian order
func (e *PCMEncoder) Write(samples []int16) error {
	n, err := e.w.Write(audio.EncodeBigEndian(samples))
	e.written += int64(n)
	if err != nil {
		return fmt.Errorf("pcm write failed: %w", err)
	}
	return nil
}

// Written returns the number of bytes written
func (e *PCMEncoder) Written() int64 {
	return e.written
}

// Close closes the writer if it is closable
func (e *PCMEncoder) Close() error {
	if c, ok := e.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

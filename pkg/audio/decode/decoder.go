// ABOUTME: Decoded clip type and file dispatch
// ABOUTME: Picks a decoder by file extension and provides channel downmixing
package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// Clip is a fully decoded recording
type Clip struct {
	Format audio.Format

	// Samples are interleaved when Format.Channels > 1
	Samples []int16
}

// Duration returns the clip's play time
func (c *Clip) Duration() time.Duration {
	return c.Format.Duration(len(c.Samples) * audio.SampleWidth)
}

// Mono averages all channels into a single one
func (c *Clip) Mono() *Clip {
	if c.Format.Channels <= 1 {
		return c
	}

	ch := c.Format.Channels
	out := make([]int16, len(c.Samples)/ch)
	for i := range out {
		var sum int32
		for j := 0; j < ch; j++ {
			sum += int32(c.Samples[i*ch+j])
		}
		out[i] = int16(sum / int32(ch))
	}

	return &Clip{Format: audio.Mono(c.Format.SampleRate), Samples: out}
}

// File decodes the file at path. Raw .pcm and .l16 files carry no header,
// so rawRate gives their sample rate.
func File(path string, rawRate int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var clip *Clip
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		clip, err = MP3(f)
	case ".flac":
		clip, err = FLAC(f)
	case ".pcm", ".l16", ".raw":
		clip, err = PCM(f, rawRate)
	default:
		return nil, fmt.Errorf("unsupported audio file type: %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if len(clip.Samples) == 0 {
		return nil, fmt.Errorf("%s: no audio samples", filepath.Base(path))
	}
	return clip, nil
}

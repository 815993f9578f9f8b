// ABOUTME: Oto-based audio output implementation
// ABOUTME: Oto pulls from a reader; callback mode wraps the fill func, blocking mode uses a pipe
package output

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// oto allows a single context per process, so it is shared between opens
var sharedOto struct {
	ctx    *oto.Context
	format audio.Format
}

// Oto output implementation using oto library
type Oto struct {
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	ready      bool
}

// NewOto creates a new Oto output
func NewOto() Output {
	return &Oto{}
}

// fillReader adapts a FillFunc to the io.Reader oto pulls from
type fillReader struct {
	fill FillFunc
}

func (r fillReader) Read(p []byte) (int, error) {
	n := len(p) &^ 1
	if n == 0 {
		return 0, nil
	}
	r.fill(p[:n])
	return n, nil
}

// Open initializes the output device
func (o *Oto) Open(format audio.Format, frameCount int, fill FillFunc) error {
	if o.player != nil {
		return fmt.Errorf("device already open")
	}

	if sharedOto.ctx == nil {
		op := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   format.Duration(format.FrameBytes(frameCount)),
		}

		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			return fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan

		sharedOto.ctx = ctx
		sharedOto.format = format
	} else if sharedOto.format != format {
		return fmt.Errorf("oto context already running at %dHz/%dch, cannot switch to %dHz/%dch",
			sharedOto.format.SampleRate, sharedOto.format.Channels, format.SampleRate, format.Channels)
	} else if err := sharedOto.ctx.Resume(); err != nil {
		return fmt.Errorf("failed to resume oto context: %w", err)
	}

	o.format = format

	var src io.Reader
	if fill != nil {
		src = fillReader{fill: fill}
	} else {
		o.pipeReader, o.pipeWriter = io.Pipe()
		src = o.pipeReader
	}

	o.player = sharedOto.ctx.NewPlayer(src)
	o.player.SetBufferSize(format.FrameBytes(frameCount))
	o.player.Play()
	o.ready = true

	log.Printf("Audio output initialized: %dHz, %d channels (oto)", format.SampleRate, format.Channels)

	return nil
}

// Write outputs PCM (blocks until the player has consumed it)
func (o *Oto) Write(p []byte) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}
	if o.pipeWriter == nil {
		return fmt.Errorf("output opened in callback mode")
	}

	if _, err := o.pipeWriter.Write(p); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}

	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	var firstErr error

	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Pause()
		if err := o.player.Close(); err != nil {
			firstErr = err
		}
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.ready && sharedOto.ctx != nil {
		// Give oto a moment to stop pulling before suspending
		time.Sleep(o.format.Duration(o.format.FrameBytes(o.format.SampleRate / 100)))
		if err := sharedOto.ctx.Suspend(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	o.ready = false
	return firstErr
}

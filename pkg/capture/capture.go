// ABOUTME: Capture recorder consuming one fan-out queue
// ABOUTME: Drains received payloads into a FLAC or raw L16 file for offline inspection
package capture

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/encode"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
)

// Recorder writes every payload from its queue to an encoder
type Recorder struct {
	format  audio.Format
	queue   *queue.Queue
	enc     encode.Encoder
	samples atomic.Int64
}

// New creates the capture file at path; the extension picks the encoding
func New(path string, format audio.Format, q *queue.Queue) (*Recorder, error) {
	enc, err := encode.Create(path, format)
	if err != nil {
		return nil, err
	}
	return NewWithEncoder(enc, format, q), nil
}

// NewWithEncoder records into an already open encoder
func NewWithEncoder(enc encode.Encoder, format audio.Format, q *queue.Queue) *Recorder {
	return &Recorder{format: format, queue: q, enc: enc}
}

// Run pops payloads until the queue is closed and drained or ctx is
// cancelled, then finishes the file.
func (r *Recorder) Run(ctx context.Context) error {
	var runErr error
	for {
		b, err := r.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrClosed) {
				runErr = err
			}
			break
		}

		samples := audio.DecodeNative(b)
		if err := r.enc.Write(samples); err != nil {
			runErr = fmt.Errorf("capture write: %w", err)
			break
		}
		r.samples.Add(int64(len(samples)))
	}

	if err := r.enc.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("capture close: %w", err)
	}

	n := r.samples.Load()
	log.Printf("Capture finished: %d samples (%v)", n, r.format.Duration(int(n)*audio.SampleWidth))

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// Samples returns how many samples have been written
func (r *Recorder) Samples() int64 {
	return r.samples.Load()
}

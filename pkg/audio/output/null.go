// ABOUTME: Null audio output that discards PCM at real-time pace
// ABOUTME: Used for headless runs and tests where no sound device exists
package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// Null output discards audio while keeping device timing
type Null struct {
	format     audio.Format
	frameCount int
	fill       FillFunc

	consumed atomic.Int64
	stop     chan struct{}
	wg       sync.WaitGroup
	open     bool
}

// NewNull creates a new Null output
func NewNull() Output {
	return &Null{}
}

// Open starts the pacing loop in callback mode
func (n *Null) Open(format audio.Format, frameCount int, fill FillFunc) error {
	if n.open {
		return fmt.Errorf("device already open")
	}
	if frameCount <= 0 {
		return fmt.Errorf("invalid frame count: %d", frameCount)
	}

	n.format = format
	n.frameCount = frameCount
	n.fill = fill
	n.stop = make(chan struct{})
	n.open = true

	if fill != nil {
		n.wg.Add(1)
		go n.run()
	}
	return nil
}

// run pulls one period per tick, as a sound card would
func (n *Null) run() {
	defer n.wg.Done()

	buf := make([]byte, n.format.FrameBytes(n.frameCount))
	ticker := time.NewTicker(n.format.Duration(len(buf)))
	defer ticker.Stop()

	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.fill(buf)
			n.consumed.Add(int64(len(buf)))
		}
	}
}

// Write sleeps for the playback duration of p
func (n *Null) Write(p []byte) error {
	if !n.open {
		return fmt.Errorf("output not initialized")
	}
	if n.fill != nil {
		return fmt.Errorf("output opened in callback mode")
	}
	time.Sleep(n.format.Duration(len(p)))
	n.consumed.Add(int64(len(p)))
	return nil
}

// Consumed returns the number of PCM bytes played so far
func (n *Null) Consumed() int64 {
	return n.consumed.Load()
}

// Close stops the pacing loop
func (n *Null) Close() error {
	if !n.open {
		return nil
	}
	close(n.stop)
	n.wg.Wait()
	n.open = false
	return nil
}

// ABOUTME: Jitter-absorbing PCM player
// ABOUTME: Pre-buffers a queue, then feeds a fixed-size output callback with silence on underrun
package player

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/output"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
)

const (
	// DefaultPrebufferFactor multiplies the messages-per-frame ratio to get
	// the pre-buffer depth
	DefaultPrebufferFactor = 8

	// DefaultPollInterval is how often the queue depth is checked while
	// pre-buffering
	DefaultPollInterval = 10 * time.Millisecond
)

// Config configures a Player
type Config struct {
	SampleRate int

	// FrameCount is the samples demanded per output period (default: SampleRate/10)
	FrameCount int

	PrebufferFactor int
	PollInterval    time.Duration

	// Blocking opens the device without a callback; audio is pushed by Write
	Blocking bool
}

// Stats tracks playback metrics
type Stats struct {
	Frames       int64
	Underruns    int64
	Leftover     int
	QueueDepth   int
	Threshold    int
	LastActivity time.Time
}

// Player turns a bursty queue of payloads into a steady stream of frames
type Player struct {
	config Config
	format audio.Format
	queue  *queue.Queue
	out    output.Output

	// Touched only by the output thread once playback has begun
	empty    []byte
	leftover []byte

	frames       atomic.Int64
	underruns    atomic.Int64
	leftoverLen  atomic.Int64
	lastActivity atomic.Int64
	threshold    atomic.Int64

	mu      sync.Mutex
	started bool
	opened  bool
	stopped bool
	cancel  context.CancelFunc
}

// ErrStopped is returned by Start when Stop ran before the device was opened
var ErrStopped = errors.New("player stopped")

// New creates a player consuming q and playing through out
func New(config Config, q *queue.Queue, out output.Output) (*Player, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", config.SampleRate)
	}
	if config.FrameCount <= 0 {
		config.FrameCount = config.SampleRate / 10
	}
	if config.FrameCount <= 0 {
		return nil, fmt.Errorf("invalid frame count: %d", config.FrameCount)
	}
	if config.PrebufferFactor <= 0 {
		config.PrebufferFactor = DefaultPrebufferFactor
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if q == nil || out == nil {
		return nil, fmt.Errorf("player needs a queue and an output")
	}

	return &Player{
		config: config,
		format: audio.Mono(config.SampleRate),
		queue:  q,
		out:    out,
	}, nil
}

// Threshold returns the pre-buffer depth for a given first message length
func Threshold(frameBytes, firstLen, factor int) int {
	if firstLen <= 0 {
		return factor
	}
	return (frameBytes + firstLen - 1) / firstLen * factor
}

// Start pre-buffers and then opens the output device. It blocks until
// playback has begun or ctx is cancelled.
func (p *Player) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("player already started")
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	p.mu.Unlock()

	p.empty = make([]byte, p.format.FrameBytes(p.config.FrameCount))

	first, err := p.firstMessage(ctx)
	if err != nil {
		return p.prebufferErr(err)
	}
	p.leftover = first
	p.leftoverLen.Store(int64(len(first)))
	p.touch()

	threshold := Threshold(len(p.empty), len(first), p.config.PrebufferFactor)
	p.threshold.Store(int64(threshold))
	log.Printf("Pre-buffering: first message %d bytes, waiting for %d queued messages", len(first), threshold)

	if err := p.waitDepth(ctx, threshold); err != nil {
		return p.prebufferErr(err)
	}

	var fill output.FillFunc
	if !p.config.Blocking {
		fill = p.FillFrame
	}

	// Held across Open so a concurrent Stop either wins before the device
	// exists or waits and then closes it
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return fmt.Errorf("prebuffer: %w", ErrStopped)
	}
	if err := p.out.Open(p.format, p.config.FrameCount, fill); err != nil {
		// Release whatever the backend acquired before failing
		p.out.Close()
		p.stopped = true
		return &audio.DeviceError{Op: "open", Err: err}
	}
	p.opened = true

	log.Printf("Playback started: %dHz, %d samples/frame, %d messages buffered",
		p.config.SampleRate, p.config.FrameCount, p.queue.Len())
	return nil
}

// prebufferErr reports a pre-buffer abort, preferring ErrStopped when Stop
// caused it
func (p *Player) prebufferErr(err error) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		err = ErrStopped
	}
	return fmt.Errorf("prebuffer: %w", err)
}

// firstMessage blocks for the first non-empty payload
func (p *Player) firstMessage(ctx context.Context) ([]byte, error) {
	for {
		b, err := p.queue.Pop(ctx)
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			return b, nil
		}
	}
}

// waitDepth polls the queue until it holds at least n messages
func (p *Player) waitDepth(ctx context.Context, n int) error {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for p.queue.Len() < n {
		if p.queue.Closed() {
			log.Printf("Queue closed during pre-buffer with %d of %d messages, starting anyway", p.queue.Len(), n)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// ProduceFrame returns exactly sampleCount samples of host-order PCM. It
// never blocks: missing data is replaced by silence.
func (p *Player) ProduceFrame(sampleCount int) []byte {
	out := make([]byte, p.format.FrameBytes(sampleCount))
	p.fill(out)
	return out
}

// FillFrame fills a device buffer in place. It is the output callback.
func (p *Player) FillFrame(out []byte) {
	p.fill(out)
}

func (p *Player) fill(out []byte) {
	n := copy(out, p.leftover)
	if n < len(p.leftover) {
		p.leftover = p.leftover[n:]
	} else {
		p.leftover = nil
	}

	got := n > 0
	for n < len(out) {
		msg, ok := p.queue.TryPop()
		if !ok {
			clear(out[n:])
			p.underruns.Add(1)
			break
		}
		got = true
		c := copy(out[n:], msg)
		n += c
		if c < len(msg) {
			p.leftover = msg[c:]
		}
	}

	p.frames.Add(1)
	p.leftoverLen.Store(int64(len(p.leftover)))
	if got {
		p.touch()
	}
}

func (p *Player) touch() {
	p.lastActivity.Store(time.Now().UnixNano())
}

// Write is the blocking playback mode: it pops payloads and writes them to
// the device until timeout elapses (or forever when timeout is zero), ctx is
// cancelled or the queue is closed and drained.
func (p *Player) Write(ctx context.Context, timeout time.Duration) error {
	if !p.config.Blocking {
		return fmt.Errorf("player not in blocking mode")
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if len(p.leftover) > 0 {
		if err := p.out.Write(p.leftover); err != nil {
			return &audio.DeviceError{Op: "write", Err: err}
		}
		p.leftover = nil
		p.leftoverLen.Store(0)
	}

	for {
		// A backlog never blocks Pop, so the deadline is checked here
		if err := wctx.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		msg, err := p.queue.Pop(wctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Our own timeout elapsed
			return nil
		}

		if err := p.out.Write(msg); err != nil {
			return &audio.DeviceError{Op: "write", Err: err}
		}
		p.frames.Add(1)
		p.touch()
	}
}

// Stop stops the stream and releases the device. Safe to call repeatedly.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started || p.stopped {
		return nil
	}
	p.stopped = true
	if p.cancel != nil {
		p.cancel()
	}
	if !p.opened {
		log.Printf("Playback stopped during pre-buffer")
		return nil
	}

	if err := p.out.Close(); err != nil {
		return &audio.DeviceError{Op: "close", Err: err}
	}

	stats := p.snapshot()
	log.Printf("Playback stopped: %d frames, %d underruns", stats.Frames, stats.Underruns)
	return nil
}

// Stats returns a snapshot of playback metrics
func (p *Player) Stats() Stats {
	return p.snapshot()
}

func (p *Player) snapshot() Stats {
	var last time.Time
	if ns := p.lastActivity.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Frames:       p.frames.Load(),
		Underruns:    p.underruns.Load(),
		Leftover:     int(p.leftoverLen.Load()),
		QueueDepth:   p.queue.Len(),
		Threshold:    int(p.threshold.Load()),
		LastActivity: last,
	}
}

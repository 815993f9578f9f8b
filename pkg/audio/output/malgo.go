// ABOUTME: Malgo-based audio output implementation
// ABOUTME: Uses miniaudio via malgo; callback mode pulls frames, blocking mode drains a ring buffer
package output

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	fill     FillFunc
	ready    atomic.Bool

	// Ring buffer for blocking-mode playback
	ringBuffer *RingBuffer
	mu         sync.Mutex
}

// RingBuffer provides thread-safe circular buffer for PCM bytes
type RingBuffer struct {
	buffer   []byte
	readPos  int
	writePos int
	size     int
	count    int // Number of bytes currently in buffer
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer with given capacity (in bytes)
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		buffer: make([]byte, capacity),
		size:   capacity,
	}
}

// Write adds bytes to the ring buffer, returning how many fit
func (rb *RingBuffer) Write(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(p) && rb.count < rb.size {
		rb.buffer[rb.writePos] = p[written]
		rb.writePos = (rb.writePos + 1) % rb.size
		rb.count++
		written++
	}
	return written
}

// Read retrieves bytes from the ring buffer, zero-filling on underrun
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(p) && rb.count > 0 {
		p[read] = rb.buffer[rb.readPos]
		rb.readPos = (rb.readPos + 1) % rb.size
		rb.count--
		read++
	}

	for i := read; i < len(p); i++ {
		p[i] = 0
	}

	return read
}

// Available returns the number of bytes available to read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of free bytes in the buffer
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size - rb.count
}

// NewMalgo creates a new Malgo output
func NewMalgo() Output {
	return &Malgo{}
}

// Open initializes the playback device with the specified format
func (m *Malgo) Open(format audio.Format, frameCount int, fill FillFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("device already open")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(frameCount)
	deviceConfig.Alsa.NoMMap = 1

	m.format = format
	m.fill = fill
	if fill == nil {
		// Half a second of headroom for pushed audio
		m.ringBuffer = NewRingBuffer(format.FrameBytes(format.SampleRate / 2))
	}

	onSamples := func(pOutputSample, pInputSamples []byte, frameCount uint32) {
		m.dataCallback(pOutputSample, frameCount)
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSamples,
	})
	if err != nil {
		m.freeContext(ctx)
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		m.freeContext(ctx)
		return fmt.Errorf("failed to start device: %w", err)
	}

	m.malgoCtx = ctx
	m.device = device
	m.ready.Store(true)

	mode := "callback"
	if fill == nil {
		mode = "blocking"
	}
	log.Printf("Audio output initialized: %dHz, %d channels, %d frames/period (malgo/%s)",
		format.SampleRate, format.Channels, frameCount, mode)

	return nil
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	n := m.format.FrameBytes(int(frameCount))
	if n > len(pOutput) {
		n = len(pOutput)
	}

	if m.fill != nil {
		m.fill(pOutput[:n])
		return
	}
	m.ringBuffer.Read(pOutput[:n])
}

// Write queues PCM for playback, waiting while the ring buffer is full
func (m *Malgo) Write(p []byte) error {
	if !m.ready.Load() {
		return fmt.Errorf("output not initialized")
	}
	if m.ringBuffer == nil {
		return fmt.Errorf("output opened in callback mode")
	}

	period := m.format.Duration(len(p)) / 4
	if period <= 0 {
		period = time.Millisecond
	}

	written := 0
	for written < len(p) {
		n := m.ringBuffer.Write(p[written:])
		written += n
		if n == 0 {
			if !m.ready.Load() {
				return fmt.Errorf("output closed during write")
			}
			time.Sleep(period)
		}
	}

	return nil
}

// Close releases output resources. A failed device stop is returned after
// everything has been released.
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stopErr error
	if m.device != nil {
		m.ready.Store(false)
		if err := m.device.Stop(); err != nil {
			stopErr = fmt.Errorf("failed to stop device: %w", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		m.freeContext(m.malgoCtx)
		m.malgoCtx = nil
	}

	return stopErr
}

func (m *Malgo) freeContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		log.Printf("Warning: malgo context uninit error: %v", err)
	}
	ctx.Free()
}

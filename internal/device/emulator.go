// ABOUTME: Software stand-in for the streaming device
// ABOUTME: Accepts start/stop over TCP and streams a synthetic signal to the commanded sink
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcmstream/pcmstream-go/internal/discovery"
	"github.com/pcmstream/pcmstream-go/pkg/source"
)

// DefaultControlPort is the device's control listener port
const DefaultControlPort = 7

const (
	// readTimeout bounds how long a control client may take to send its command
	readTimeout = 2 * time.Second

	maxCommand = 64
)

// Config configures an Emulator
type Config struct {
	// Addr is the control listener ip:port
	Addr string

	SampleRate        int
	SamplesPerMessage int
	Tones             []float64
	Sequenced         bool

	// Advertise publishes the control endpoint over mDNS
	Advertise bool
	Instance  string
}

// Emulator behaves like the hardware device on the control protocol
type Emulator struct {
	config   Config
	listener net.Listener
	advert   *discovery.Manager

	mu     sync.Mutex
	stream *source.Synthetic
	sink   string

	commands atomic.Int64
	rejected atomic.Int64

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an emulator
func New(config Config) *Emulator {
	return &Emulator{config: config}
}

// Start opens the control listener and serves in the background
func (e *Emulator) Start() error {
	if e.listener != nil {
		return fmt.Errorf("emulator already started")
	}

	ln, err := net.Listen("tcp", e.config.Addr)
	if err != nil {
		return fmt.Errorf("control listen on %s: %w", e.config.Addr, err)
	}
	e.listener = ln

	e.wg.Add(1)
	go e.acceptLoop()

	log.Printf("Device emulator listening on %s (%dHz, %d samples/message)",
		ln.Addr(), e.config.SampleRate, e.config.SamplesPerMessage)

	if e.config.Advertise {
		instance := e.config.Instance
		if instance == "" {
			instance = "pcm-device"
		}
		m := discovery.NewManager(discovery.Config{
			Instance:          instance,
			Port:              ln.Addr().(*net.TCPAddr).Port,
			Role:              discovery.RoleDevice,
			SampleRate:        e.config.SampleRate,
			SamplesPerMessage: e.config.SamplesPerMessage,
		})
		if err := m.Advertise(); err != nil {
			log.Printf("Warning: mDNS advertisement failed: %v", err)
		} else {
			e.advert = m
		}
	}
	return nil
}

// Addr returns the control listener address, or nil before Start
func (e *Emulator) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}
	return e.listener.Addr()
}

func (e *Emulator) acceptLoop() {
	defer e.wg.Done()

	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if !e.closed.Load() {
				log.Printf("Control accept error: %v", err)
			}
			return
		}
		e.handle(conn)
	}
}

// handle serves one control connection. Like the firmware it reads a
// single request, acts on it and never replies.
func (e *Emulator) handle(conn net.Conn) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}

	// Clients disconnect after sending, so read to EOF
	buf, err := io.ReadAll(io.LimitReader(conn, maxCommand))
	if err != nil && len(buf) == 0 {
		log.Printf("Control read from %s failed: %v", conn.RemoteAddr(), err)
		return
	}

	cmd, err := ParseCommand(buf)
	if err != nil {
		e.rejected.Add(1)
		log.Printf("Rejected command from %s: %v", conn.RemoteAddr(), err)
		return
	}
	e.commands.Add(1)

	switch cmd.Op {
	case OpStop:
		e.stopStream()
	case OpStart:
		if err := e.startStream(cmd.Sink.String()); err != nil {
			log.Printf("Failed to start stream to %s: %v", cmd.Sink, err)
		}
	}
}

// startStream replaces any running stream with one aimed at sink
func (e *Emulator) startStream(sink string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		e.stream.Stop()
		e.stream = nil
	}

	s, err := source.NewSynthetic(source.SyntheticConfig{
		Sink:              sink,
		SampleRate:        e.config.SampleRate,
		SamplesPerMessage: e.config.SamplesPerMessage,
		Tones:             e.config.Tones,
		Sequenced:         e.config.Sequenced,
	})
	if err != nil {
		return err
	}
	if err := s.Start(context.Background()); err != nil {
		return err
	}

	e.stream = s
	e.sink = sink
	log.Printf("Streaming audio to %s", sink)
	return nil
}

func (e *Emulator) stopStream() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream == nil {
		return
	}
	if err := e.stream.Stop(); err != nil {
		log.Printf("Stream stop error: %v", err)
	}
	log.Printf("Stopped audio stream to %s after %d messages", e.sink, e.stream.Messages())
	e.stream = nil
	e.sink = ""
}

// Streaming reports the current sink, if a stream is running
func (e *Emulator) Streaming() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink, e.stream != nil
}

// Commands returns how many well-formed commands were handled
func (e *Emulator) Commands() int64 {
	return e.commands.Load()
}

// Rejected returns how many malformed commands were dropped
func (e *Emulator) Rejected() int64 {
	return e.rejected.Load()
}

// Close stops streaming and the control listener
func (e *Emulator) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if e.listener != nil {
		if cerr := e.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	e.wg.Wait()

	e.stopStream()
	if e.advert != nil {
		e.advert.Stop()
	}
	return err
}

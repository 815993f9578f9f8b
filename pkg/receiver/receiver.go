// ABOUTME: UDP audio packet receiver
// ABOUTME: Strips the fixed header, converts payloads to host order and fans them out to queues
package receiver

import (
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
	"github.com/pion/rtp"
)

// DefaultReadTimeout bounds how long one receive call may block before the
// loop re-checks its stop flag
const DefaultReadTimeout = 100 * time.Millisecond

// Config configures a Receiver
type Config struct {
	// Addr is the local ip:port to bind
	Addr string

	// ReadTimeout is the per-read deadline (default: 100ms)
	ReadTimeout time.Duration
}

// Stats tracks receiver metrics
type Stats struct {
	Datagrams    int64
	Bytes        int64
	Malformed    int64
	SequenceGaps int64
	LastSender   string
}

// Receiver ingests UDP datagrams and pushes one copy of each decoded payload
// onto every registered queue
type Receiver struct {
	config Config
	queues []*queue.Queue

	conn *net.UDPConn
	stop atomic.Bool
	done chan struct{}
	err  error // set by the loop before done is closed

	datagrams atomic.Int64
	bytes     atomic.Int64
	malformed atomic.Int64
	gaps      atomic.Int64

	mu         sync.Mutex
	lastSender string
	lastSeq    map[uint32]uint16
	closeOnce  sync.Once
	closeErr   error
}

// New creates a receiver feeding the given queues. The queue set is fixed
// for the receiver's lifetime.
func New(config Config, queues ...*queue.Queue) *Receiver {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}

	return &Receiver{
		config:  config,
		queues:  queues,
		lastSeq: make(map[uint32]uint16),
	}
}

// Run binds the socket and starts the receive loop. It returns once the
// loop is running.
func (r *Receiver) Run() error {
	if r.done != nil {
		return fmt.Errorf("receiver already running")
	}

	addr, err := net.ResolveUDPAddr("udp", r.config.Addr)
	if err != nil {
		return &audio.TransportError{Op: "bind", Addr: r.config.Addr, Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &audio.TransportError{Op: "bind", Addr: r.config.Addr, Err: err}
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.loop()

	log.Printf("Receiver listening on %s (%d queues)", conn.LocalAddr(), len(r.queues))
	return nil
}

// LocalAddr returns the bound address, or nil before Run
func (r *Receiver) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// loop is the receive goroutine
func (r *Receiver) loop() {
	defer close(r.done)

	buf := make([]byte, audio.MaxDatagram)

	for !r.stop.Load() {
		if err := r.conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			r.err = &audio.TransportError{Op: "receive", Addr: r.config.Addr, Err: err}
			return
		}

		n, from, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			r.err = &audio.TransportError{Op: "receive", Addr: r.config.Addr, Err: err}
			log.Printf("Receive loop stopped: %v", r.err)
			return
		}

		r.handleDatagram(buf[:n], from)
	}
}

// handleDatagram decodes one datagram and distributes it
func (r *Receiver) handleDatagram(data []byte, from *net.UDPAddr) {
	r.datagrams.Add(1)

	// Header-only datagrams carry no samples
	if len(data) <= audio.HeaderLen {
		r.drop(fmt.Errorf("%w: %d byte datagram", audio.ErrMalformedPacket, len(data)), from)
		return
	}

	r.observeHeader(data[:audio.HeaderLen], from)

	payload, err := audio.SwapToNative(data[audio.HeaderLen:])
	if err != nil {
		r.drop(err, from)
		return
	}
	r.bytes.Add(int64(len(payload)))

	for i, q := range r.queues {
		if i == len(r.queues)-1 {
			q.Push(payload)
			continue
		}
		c := make([]byte, len(payload))
		copy(c, payload)
		q.Push(c)
	}
}

// drop counts a malformed datagram. Only the first one is logged.
func (r *Receiver) drop(err error, from *net.UDPAddr) {
	if r.malformed.Add(1) == 1 {
		log.Printf("Dropping malformed datagram from %v: %v", from, err)
	}
}

// observeHeader records sender and RTP sequence continuity. It never
// influences what is delivered.
func (r *Receiver) observeHeader(header []byte, from *net.UDPAddr) {
	var h rtp.Header
	parsed := false
	if header[0]>>6 == 2 {
		if _, err := h.Unmarshal(header); err == nil {
			parsed = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if from != nil {
		r.lastSender = from.String()
	}
	if !parsed {
		return
	}

	last, seen := r.lastSeq[h.SSRC]
	r.lastSeq[h.SSRC] = h.SequenceNumber
	if seen && h.SequenceNumber != last && h.SequenceNumber != last+1 {
		r.gaps.Add(1)
	}
}

// Stats returns a snapshot of receiver metrics
func (r *Receiver) Stats() Stats {
	r.mu.Lock()
	sender := r.lastSender
	r.mu.Unlock()

	return Stats{
		Datagrams:    r.datagrams.Load(),
		Bytes:        r.bytes.Load(),
		Malformed:    r.malformed.Load(),
		SequenceGaps: r.gaps.Load(),
		LastSender:   sender,
	}
}

// Done is closed when the receive loop has exited
func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that terminated the loop, if any. Only meaningful
// after Done is closed.
func (r *Receiver) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Close stops the loop, waits for it to exit and then releases the socket.
// It returns the loop's terminal transport error, if there was one.
func (r *Receiver) Close() error {
	if r.done == nil {
		return nil
	}

	r.closeOnce.Do(func() {
		r.stop.Store(true)
		<-r.done

		if err := r.conn.Close(); err != nil {
			log.Printf("Warning: receiver socket close error: %v", err)
		}

		stats := r.Stats()
		log.Printf("Receiver closed: %d datagrams, %d malformed, %d sequence gaps",
			stats.Datagrams, stats.Malformed, stats.SequenceGaps)

		r.closeErr = r.err
	})

	return r.closeErr
}

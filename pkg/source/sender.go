// ABOUTME: Paced UDP sender shared by signal-owning sources
// ABOUTME: Loops a pre-encoded signal to a sink with an RTP header on every message
package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pion/rtp"
)

// PayloadType is the dynamic RTP payload type used for L16 mono
const PayloadType = 96

// sender streams a big-endian signal in fixed-size slices, wrapping at the end
type sender struct {
	name      string
	sink      string
	signal    []byte
	msgBytes  int
	interval  time.Duration
	sequenced bool
	header    rtp.Header
	rawHeader []byte
	cursor    int
	sent      atomic.Int64
	stop      atomic.Bool
	conn      *net.UDPConn
	dst       *net.UDPAddr
	done      chan struct{}
	err       error
}

func newSender(name, sink string, signal []byte, sampleRate, samplesPerMessage int, sequenced bool) *sender {
	id := uuid.New()
	return &sender{
		name:      name,
		sink:      sink,
		signal:    signal,
		msgBytes:  samplesPerMessage * audio.SampleWidth,
		interval:  time.Duration(samplesPerMessage) * time.Second / time.Duration(sampleRate),
		sequenced: sequenced,
		header: rtp.Header{
			Version:     2,
			PayloadType: PayloadType,
			SSRC:        binary.BigEndian.Uint32(id[:4]),
		},
	}
}

func (s *sender) start(ctx context.Context) error {
	if s.done != nil {
		return fmt.Errorf("%s source already started", s.name)
	}

	dst, err := net.ResolveUDPAddr("udp", s.sink)
	if err != nil {
		return &audio.TransportError{Op: "dial", Addr: s.sink, Err: err}
	}

	// Unconnected, so ICMP port-unreachable from a late sink is not fatal
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return &audio.TransportError{Op: "bind", Addr: s.sink, Err: err}
	}

	raw, err := s.header.Marshal()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if len(raw) != audio.HeaderLen {
		conn.Close()
		return fmt.Errorf("header is %d bytes, want %d", len(raw), audio.HeaderLen)
	}

	s.rawHeader = raw
	s.conn = conn
	s.dst = dst
	s.stop.Store(false)
	s.done = make(chan struct{})

	go s.loop(ctx)

	log.Printf("%s source streaming to %s: %d bytes every %v (ssrc %08x)",
		s.name, dst, s.msgBytes, s.interval, s.header.SSRC)
	return nil
}

func (s *sender) loop(ctx context.Context) {
	defer close(s.done)

	msg := make([]byte, audio.HeaderLen+s.msgBytes)

	for !s.stop.Load() && ctx.Err() == nil {
		s.fillHeader(msg[:audio.HeaderLen])
		s.fillPayload(msg[audio.HeaderLen:])

		if _, err := s.conn.WriteToUDP(msg, s.dst); err != nil {
			s.err = &audio.TransportError{Op: "send", Addr: s.sink, Err: err}
			log.Printf("%s source stopped: %v", s.name, s.err)
			return
		}
		s.sent.Add(1)

		time.Sleep(s.interval)
	}
}

func (s *sender) fillHeader(dst []byte) {
	if !s.sequenced {
		copy(dst, s.rawHeader)
		return
	}
	if _, err := s.header.MarshalTo(dst); err == nil {
		s.header.SequenceNumber++
		s.header.Timestamp += uint32(s.msgBytes / audio.SampleWidth)
	}
}

// fillPayload copies the next slice of the signal, wrapping to the start
func (s *sender) fillPayload(dst []byte) {
	n := 0
	for n < len(dst) {
		c := copy(dst[n:], s.signal[s.cursor:])
		n += c
		s.cursor += c
		if s.cursor >= len(s.signal) {
			s.cursor = 0
		}
	}
}

// halt sets the stop flag, joins the loop and then closes the socket. The
// sender can be started again afterwards, from the top of the signal.
func (s *sender) halt() error {
	if s.done == nil {
		return nil
	}

	s.stop.Store(true)
	<-s.done
	s.done = nil
	s.cursor = 0

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			log.Printf("Warning: %s source socket close error: %v", s.name, err)
		}
		s.conn = nil
		log.Printf("%s source stopped after %d messages", s.name, s.sent.Load())
	}
	err := s.err
	s.err = nil
	return err
}

func (s *sender) messages() int64 {
	return s.sent.Load()
}

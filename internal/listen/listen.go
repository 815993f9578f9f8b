// ABOUTME: Datagram listener for debugging a stream on the wire
// ABOUTME: Prints one line per received datagram with its size, sender and RTP sequence
package listen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pion/rtp"
)

const pollInterval = 100 * time.Millisecond

// Run binds addr and writes a line to w for every datagram until ctx is
// cancelled. It returns the number of datagrams seen.
func Run(ctx context.Context, addr string, w io.Writer) (int64, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, &audio.TransportError{Op: "bind", Addr: addr, Err: err}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return 0, &audio.TransportError{Op: "bind", Addr: addr, Err: err}
	}
	defer conn.Close()

	fmt.Fprintf(w, "Listening on %s\n", conn.LocalAddr())
	return serve(ctx, conn, w)
}

func serve(ctx context.Context, conn *net.UDPConn, w io.Writer) (int64, error) {
	var count int64
	buf := make([]byte, audio.MaxDatagram)

	for ctx.Err() == nil {
		if err := conn.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return count, err
		}
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return count, &audio.TransportError{Op: "receive", Addr: conn.LocalAddr().String(), Err: err}
		}
		count++
		fmt.Fprintln(w, Describe(buf[:n], from))
	}
	return count, nil
}

// Describe formats one datagram as "N bytes from IP", plus the RTP
// sequence number when the header parses
func Describe(data []byte, from *net.UDPAddr) string {
	line := fmt.Sprintf("%d bytes from %s", len(data), from.IP)
	if len(data) < audio.HeaderLen || data[0]>>6 != 2 {
		return line
	}
	var h rtp.Header
	if _, err := h.Unmarshal(data); err != nil {
		return line
	}
	return fmt.Sprintf("%s (seq %d, ts %d, ssrc %08x)", line, h.SequenceNumber, h.Timestamp, h.SSRC)
}

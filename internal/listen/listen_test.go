// ABOUTME: Tests for the debug datagram listener
// ABOUTME: Tests line formatting and loopback listening until cancellation
package listen

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

func TestDescribe(t *testing.T) {
	from := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000}

	h := rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 42, Timestamp: 640, SSRC: 0xabcdef01}
	raw, err := h.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"short", []byte{1, 2, 3}, "3 bytes from 10.0.0.7"},
		{"not rtp", []byte("FakeRTPHeadr\x00\x01"), "14 bytes from 10.0.0.7"},
		{"rtp", append(raw, 0, 1), "14 bytes from 10.0.0.7 (seq 42, ts 640, ssrc abcdef01)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Describe(tt.data, from); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

// syncBuffer guards a bytes.Buffer shared with the listener goroutine
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServeLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int64, 1)
	go func() {
		n, _ := serve(ctx, conn, &out)
		done <- n
	}()

	client, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	client.Write(make([]byte, 652))
	client.Write(make([]byte, 20))

	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "\n") < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case n := <-done:
		if n != 2 {
			t.Errorf("counted %d datagrams, want 2", n)
		}
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}

	got := out.String()
	if !strings.Contains(got, "652 bytes from 127.0.0.1") || !strings.Contains(got, "20 bytes from 127.0.0.1") {
		t.Errorf("unexpected output:\n%s", got)
	}
}

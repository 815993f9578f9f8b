// ABOUTME: Tests for the WebSocket tap
// ABOUTME: Tests hello, payload broadcast, slow client dropping and shutdown
package tap

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/queue"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTap(t *testing.T, config Config, q *queue.Queue) *Tap {
	t.Helper()
	tp, err := New(config, q)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tp
}

func waitClients(t *testing.T, tp *Tap, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for tp.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, tp.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTapBroadcast(t *testing.T) {
	q := queue.New()
	tp := newTap(t, Config{Format: audio.Mono(16000)}, q)

	srv := httptest.NewServer(tp.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath

	conns := []*websocket.Conn{dial(t, url), dial(t, url)}
	for _, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("read hello: %v", err)
		}
		if mt != websocket.TextMessage {
			t.Fatalf("hello message type %d", mt)
		}
		var hello Hello
		if err := json.Unmarshal(data, &hello); err != nil {
			t.Fatalf("hello: %v", err)
		}
		if hello.SampleRate != 16000 || hello.Channels != 1 || hello.Encoding != Encoding() {
			t.Errorf("hello = %+v", hello)
		}
		if hello.SessionID == "" {
			t.Error("hello missing session id")
		}
	}
	waitClients(t, tp, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- tp.Run(ctx) }()

	payload := audio.EncodeNative([]int16{100, -100, 200, -200})
	q.Push(payload)

	for i, c := range conns {
		c.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := c.ReadMessage()
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		if mt != websocket.BinaryMessage || !bytes.Equal(data, payload) {
			t.Errorf("client %d got type %d data %v", i, mt, data)
		}
	}

	q.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the queue closed")
	}
}

func TestTapDropsForSlowClient(t *testing.T) {
	tp := newTap(t, Config{Format: audio.Mono(8000)}, queue.New())
	c := &client{id: "slow", sendChan: make(chan []byte, 2)}
	tp.clients[c.id] = c

	for i := 0; i < 5; i++ {
		tp.broadcast([]byte{byte(i), 0})
	}

	if got := c.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	if tp.Sent() != 2 {
		t.Errorf("Sent() = %d, want 2", tp.Sent())
	}
}

func TestTapDisconnect(t *testing.T) {
	tp := newTap(t, Config{Format: audio.Mono(8000)}, queue.New())
	srv := httptest.NewServer(tp.Handler())
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+DefaultPath)
	waitClients(t, tp, 1)

	conn.Close()
	waitClients(t, tp, 0)
}

func TestTapStartAndClose(t *testing.T) {
	tp := newTap(t, Config{Addr: "127.0.0.1:0", Format: audio.Mono(8000)}, queue.New())
	if err := tp.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conn := dial(t, "ws://"+tp.Addr().String()+DefaultPath)
	waitClients(t, tp, 1)

	if err := tp.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	waitClients(t, tp, 0)

	if err := tp.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewRejectsEncoding(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"unknown encoding", Config{Format: audio.Mono(16000), Encoding: "mp3"}},
		{"opus at unsupported rate", Config{Format: audio.Mono(44100), Encoding: EncodingOpus}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config, queue.New()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestTapOpusBroadcast(t *testing.T) {
	q := queue.New()
	tp := newTap(t, Config{Format: audio.Mono(16000), Encoding: EncodingOpus}, q)

	srv := httptest.NewServer(tp.Handler())
	defer srv.Close()
	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http")+DefaultPath)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read hello: %v", err)
	}
	var hello Hello
	if err := json.Unmarshal(data, &hello); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if hello.Encoding != EncodingOpus || hello.FrameMs != 20 {
		t.Errorf("hello = %+v, want opus with 20ms frames", hello)
	}
	waitClients(t, tp, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tp.Run(ctx)

	// 480 samples make one 320-sample frame; 160 more complete the second
	q.Push(audio.EncodeNative(make([]int16, 480)))
	q.Push(audio.EncodeNative(make([]int16, 160)))

	for i := 0; i < 2; i++ {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, pkt, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if mt != websocket.BinaryMessage || len(pkt) == 0 {
			t.Errorf("packet %d: type %d, %d bytes", i, mt, len(pkt))
		}
	}
	if tp.Sent() != 2 {
		t.Errorf("Sent() = %d, want 2", tp.Sent())
	}
}

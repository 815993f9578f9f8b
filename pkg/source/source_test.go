// ABOUTME: Tests for packet sources
// ABOUTME: Tests signal rendering, paced UDP streaming, wraparound and the hardware control commands
package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"github.com/pcmstream/pcmstream-go/pkg/audio/encode"
	"github.com/pion/rtp"
)

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, audio.MaxDatagram)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return buf[:n]
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"synthetic", KindSynthetic, false},
		{"Hardware", KindHardware, false},
		{" file ", KindFile, false},
		{"", KindSynthetic, false},
		{"microphone", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKind(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRenderRange(t *testing.T) {
	tests := []struct {
		name  string
		rate  int
		tones []float64
	}{
		{"default tones at 16k", 16000, DefaultTones},
		{"default tones at 44.1k", 44100, DefaultTones},
		{"single tone", 8000, []float64{1000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := Render(tt.rate, tt.tones)
			if len(signal) != tt.rate {
				t.Fatalf("rendered %d samples, want one second (%d)", len(signal), tt.rate)
			}

			peak := 0
			for i, s := range signal {
				if s < -audio.PeakAmplitude || s > audio.PeakAmplitude {
					t.Fatalf("sample %d = %d outside ±%d", i, s, audio.PeakAmplitude)
				}
				peak = max(peak, abs(int(s)))
			}
			if peak < audio.PeakAmplitude-1 {
				t.Errorf("peak magnitude %d, expected scaling to %d", peak, audio.PeakAmplitude)
			}
		})
	}
}

func TestRenderSilence(t *testing.T) {
	for _, s := range Render(100, nil) {
		if s != 0 {
			t.Fatal("no tones should render silence")
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func TestSenderWraps(t *testing.T) {
	signal := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	s := newSender("test", "127.0.0.1:1", signal, 1000, 3, false)

	want := [][]byte{
		{1, 2, 3, 4, 5, 6},
		{7, 8, 9, 10, 1, 2},
		{3, 4, 5, 6, 7, 8},
		{9, 10, 1, 2, 3, 4},
	}
	for i, w := range want {
		got := make([]byte, 6)
		s.fillPayload(got)
		if !bytes.Equal(got, w) {
			t.Errorf("message %d = %v, want %v", i, got, w)
		}
	}
}

func TestSenderPacing(t *testing.T) {
	s := newSender("test", "127.0.0.1:1", make([]byte, 32000), 16000, 320, false)
	if s.interval != 20*time.Millisecond {
		t.Errorf("interval = %v, want 20ms", s.interval)
	}
	if s.msgBytes != 640 {
		t.Errorf("message bytes = %d, want 640", s.msgBytes)
	}
}

func TestSyntheticStreams(t *testing.T) {
	sink := listenUDP(t)

	src, err := NewSynthetic(SyntheticConfig{
		Sink:              sink.LocalAddr().String(),
		SampleRate:        16000,
		SamplesPerMessage: 320,
	})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	signal := src.Signal()
	var firstHeader []byte
	for i := 0; i < 3; i++ {
		msg := readDatagram(t, sink)
		if len(msg) != audio.HeaderLen+640 {
			t.Fatalf("message %d is %d bytes, want %d", i, len(msg), audio.HeaderLen+640)
		}

		var h rtp.Header
		if _, err := h.Unmarshal(msg); err != nil {
			t.Fatalf("header: %v", err)
		}
		if h.Version != 2 || h.PayloadType != PayloadType {
			t.Errorf("header = v%d pt%d, want v2 pt%d", h.Version, h.PayloadType, PayloadType)
		}
		if firstHeader == nil {
			firstHeader = msg[:audio.HeaderLen]
		} else if !bytes.Equal(firstHeader, msg[:audio.HeaderLen]) {
			t.Error("unsequenced header should be constant")
		}

		samples, err := audio.DecodeBigEndian(msg[audio.HeaderLen:])
		if err != nil {
			t.Fatalf("payload: %v", err)
		}
		for j, s := range samples {
			if s != signal[i*320+j] {
				t.Fatalf("message %d sample %d = %d, want %d", i, j, s, signal[i*320+j])
			}
		}
	}

	start := time.Now()
	if err := src.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Stop took %v, expected about one send interval", elapsed)
	}
	if src.Messages() < 3 {
		t.Errorf("Messages() = %d, want at least 3", src.Messages())
	}

	// Second Stop is harmless
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSyntheticSequenced(t *testing.T) {
	sink := listenUDP(t)

	src, err := NewSynthetic(SyntheticConfig{
		Sink:              sink.LocalAddr().String(),
		SampleRate:        16000,
		SamplesPerMessage: 160,
		Sequenced:         true,
	})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer src.Stop()

	var prev rtp.Header
	for i := 0; i < 3; i++ {
		var h rtp.Header
		if _, err := h.Unmarshal(readDatagram(t, sink)); err != nil {
			t.Fatalf("header: %v", err)
		}
		if i > 0 {
			if h.SequenceNumber != prev.SequenceNumber+1 {
				t.Errorf("sequence %d follows %d", h.SequenceNumber, prev.SequenceNumber)
			}
			if h.Timestamp != prev.Timestamp+160 {
				t.Errorf("timestamp %d follows %d", h.Timestamp, prev.Timestamp)
			}
			if h.SSRC != prev.SSRC {
				t.Error("SSRC changed mid-stream")
			}
		}
		prev = h
	}
}

func TestSyntheticRestart(t *testing.T) {
	sink := listenUDP(t)
	src, err := NewSynthetic(SyntheticConfig{Sink: sink.LocalAddr().String(), SampleRate: 16000, SamplesPerMessage: 160})
	if err != nil {
		t.Fatalf("NewSynthetic: %v", err)
	}
	signal := src.Signal()

	for round := 0; round < 2; round++ {
		if err := src.Start(context.Background()); err != nil {
			t.Fatalf("Start in round %d: %v", round, err)
		}

		// Each run begins at the top of the signal
		samples, err := audio.DecodeBigEndian(readDatagram(t, sink)[audio.HeaderLen:])
		if err != nil {
			t.Fatalf("payload: %v", err)
		}
		if samples[1] != signal[1] || samples[159] != signal[159] {
			t.Errorf("round %d did not restart the signal", round)
		}

		if err := src.Stop(); err != nil {
			t.Fatalf("Stop in round %d: %v", round, err)
		}
		drain(sink)
	}
}

// drain discards datagrams left over from a stopped run
func drain(conn *net.UDPConn) {
	buf := make([]byte, audio.MaxDatagram)
	for {
		conn.SetReadDeadline(time.Now().Add(20 * time.Millisecond))
		if _, _, err := conn.ReadFromUDP(buf); err != nil {
			return
		}
	}
}

func TestSyntheticContextStopsLoop(t *testing.T) {
	sink := listenUDP(t)
	src, _ := NewSynthetic(SyntheticConfig{Sink: sink.LocalAddr().String(), SampleRate: 8000, SamplesPerMessage: 80})

	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	select {
	case <-src.done:
	case <-time.After(time.Second):
		t.Fatal("send loop ignored context cancellation")
	}
	src.Stop()
}

func TestNewSyntheticValidates(t *testing.T) {
	tests := []struct {
		name   string
		config SyntheticConfig
	}{
		{"zero rate", SyntheticConfig{SamplesPerMessage: 320}},
		{"zero message", SyntheticConfig{SampleRate: 16000}},
		{"message longer than signal", SyntheticConfig{SampleRate: 100, SamplesPerMessage: 101}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSynthetic(tt.config); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStartCommand(t *testing.T) {
	tests := []struct {
		sink    string
		want    string
		wantErr bool
	}{
		{"127.0.0.1:54321", "start 7f000001 d431", false},
		{"192.168.1.20:80", "start c0a80114 0050", false},
		{"10.0.0.255:65535", "start 0a0000ff ffff", false},
		{"[::1]:54321", "", true},
		{"localhost:54321", "", true},
		{"127.0.0.1:99999", "", true},
		{"127.0.0.1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.sink, func(t *testing.T) {
			got, err := StartCommand(tt.sink)
			if (err != nil) != tt.wantErr {
				t.Fatalf("StartCommand(%q) error = %v", tt.sink, err)
			}
			if got != tt.want {
				t.Errorf("StartCommand(%q) = %q, want %q", tt.sink, got, tt.want)
			}
		})
	}
}

// captureCommands accepts connections and reports what each one sent
func captureCommands(t *testing.T) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	cmds := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			data, _ := io.ReadAll(conn)
			conn.Close()
			cmds <- string(data)
		}
	}()
	return ln.Addr().String(), cmds
}

func waitCommand(t *testing.T, cmds <-chan string) string {
	t.Helper()
	select {
	case c := <-cmds:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no command received")
		return ""
	}
}

func TestHardwareCommands(t *testing.T) {
	device, cmds := captureCommands(t)

	hw, err := NewHardware(HardwareConfig{Device: device, Sink: "127.0.0.1:54321"})
	if err != nil {
		t.Fatalf("NewHardware: %v", err)
	}

	var _ PacketSource = hw

	if err := hw.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}

	if err := hw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := waitCommand(t, cmds); got != "start 7f000001 d431" {
		t.Errorf("start command = %q", got)
	}

	if err := hw.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := waitCommand(t, cmds); got != "stop" {
		t.Errorf("stop command = %q", got)
	}
}

func TestHardwareDialError(t *testing.T) {
	// Reserve a port then free it so nothing is listening
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	hw, err := NewHardware(HardwareConfig{Device: addr, Sink: "127.0.0.1:54321", DialTimeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewHardware: %v", err)
	}

	err = hw.Start(context.Background())
	var te *audio.TransportError
	if !errors.As(err, &te) || te.Op != "dial" {
		t.Errorf("expected dial TransportError, got %v", err)
	}
}

func TestNewHardwareValidates(t *testing.T) {
	if _, err := NewHardware(HardwareConfig{Sink: "127.0.0.1:1"}); err == nil {
		t.Error("expected error without a device address")
	}
	if _, err := NewHardware(HardwareConfig{Device: "127.0.0.1:1", Sink: "nowhere"}); err == nil {
		t.Error("expected error for an invalid sink")
	}
}

func TestFileSourceStreams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tones.flac")
	enc, err := encode.Create(path, audio.Mono(32000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := enc.Write(Render(32000, []float64{440})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sink := listenUDP(t)
	src, err := NewFile(FileConfig{
		Sink:              sink.LocalAddr().String(),
		Path:              path,
		SampleRate:        16000,
		SamplesPerMessage: 320,
	})
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	if n := len(src.Samples()); n < 15990 || n > 16000 {
		t.Errorf("resampled clip has %d samples, want about 16000", n)
	}

	if err := src.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	msg := readDatagram(t, sink)
	if err := src.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}

	samples, err := audio.DecodeBigEndian(msg[audio.HeaderLen:])
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	for i, s := range samples {
		if s != src.Samples()[i] {
			t.Fatalf("sample %d = %d, want %d", i, s, src.Samples()[i])
		}
	}
}

func TestFileSourceMissing(t *testing.T) {
	_, err := NewFile(FileConfig{Sink: "127.0.0.1:1", Path: "/nonexistent/clip.flac", SampleRate: 16000, SamplesPerMessage: 320})
	if err == nil {
		t.Error("expected error for a missing file")
	}
}

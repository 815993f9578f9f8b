// ABOUTME: Tests for capture encoders
// ABOUTME: Round-trips FLAC frames through the mewkiz decoder, checks raw L16 output and Opus framing
package encode

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/pcmstream/pcmstream-go/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

func ramp(n int) []int16 {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16((i*37)%65536 - 32768)
	}
	return s
}

func decodeAll(t *testing.T, r io.Reader) ([]int16, uint32) {
	t.Helper()
	stream, err := flac.New(r)
	if err != nil {
		t.Fatalf("flac.New: %v", err)
	}

	var out []int16
	for {
		f, err := stream.ParseNext()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ParseNext: %v", err)
		}
		for _, s := range f.Subframes[0].Samples {
			out = append(out, int16(s))
		}
	}
	return out, stream.Info.SampleRate
}

func TestFLACRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		total int
		chunk int
	}{
		{"exact blocks", FLACBlockSize * 2, FLACBlockSize},
		{"partial last block", FLACBlockSize + 320, 320},
		{"single short block", 160, 160},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			enc, err := NewFLAC(&buf, audio.Mono(16000))
			if err != nil {
				t.Fatalf("NewFLAC: %v", err)
			}

			want := ramp(tt.total)
			for i := 0; i < len(want); i += tt.chunk {
				end := min(i+tt.chunk, len(want))
				if err := enc.Write(want[i:end]); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			got, rate := decodeAll(t, &buf)
			if rate != 16000 {
				t.Errorf("sample rate = %d, want 16000", rate)
			}
			if len(got) != len(want) {
				t.Fatalf("decoded %d samples, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestFLACRejectsChannels(t *testing.T) {
	if _, err := NewFLAC(io.Discard, audio.Format{SampleRate: 16000, Channels: 6}); err == nil {
		t.Error("expected error for 6 channels")
	}
}

func TestFLACWriteAfterClose(t *testing.T) {
	var buf bytes.Buffer
	enc, err := NewFLAC(&buf, audio.Mono(8000))
	if err != nil {
		t.Fatalf("NewFLAC: %v", err)
	}
	enc.Close()
	if err := enc.Write([]int16{1}); err == nil {
		t.Error("Write after Close should fail")
	}
	if err := enc.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}

func TestPCMEncoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewPCM(&buf)
	if err := enc.Write([]int16{1, -2, 0x1234}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte{0x00, 0x01, 0xFF, 0xFE, 0x12, 0x34}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("encoded = %x, want %x", buf.Bytes(), want)
	}
	if enc.Written() != 6 {
		t.Errorf("Written() = %d, want 6", enc.Written())
	}
}

func TestCreateByExtension(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		file    string
		wantErr bool
	}{
		{"capture.flac", false},
		{"capture.FLAC", false},
		{"capture.pcm", false},
		{"capture.l16", false},
		{"capture.wav", true},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			enc, err := Create(path, audio.Mono(16000))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if err := enc.Write(ramp(400)); err != nil {
				t.Fatalf("Write: %v", err)
			}
			if err := enc.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if st, err := os.Stat(path); err != nil || st.Size() == 0 {
				t.Errorf("expected a non-empty file, stat err %v", err)
			}
		})
	}
}

func TestOpusPacketizer(t *testing.T) {
	p, err := NewOpusPacketizer(audio.Mono(16000))
	if err != nil {
		t.Fatalf("NewOpusPacketizer: %v", err)
	}
	if p.FrameSamples() != 320 {
		t.Fatalf("FrameSamples() = %d, want 320", p.FrameSamples())
	}

	tests := []struct {
		in          int
		wantPackets int
		wantPending int
	}{
		{100, 0, 100},
		{600, 2, 60},
		{260, 1, 0},
	}

	dec, err := opus.NewDecoder(16000, 1)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	for i, tt := range tests {
		packets, err := p.Encode(ramp(tt.in))
		if err != nil {
			t.Fatalf("step %d: Encode: %v", i, err)
		}
		if len(packets) != tt.wantPackets {
			t.Errorf("step %d: %d packets, want %d", i, len(packets), tt.wantPackets)
		}
		if p.Pending() != tt.wantPending {
			t.Errorf("step %d: %d pending, want %d", i, p.Pending(), tt.wantPending)
		}

		for _, pkt := range packets {
			pcm := make([]int16, 320)
			n, err := dec.Decode(pkt, pcm)
			if err != nil {
				t.Fatalf("step %d: Decode: %v", i, err)
			}
			if n != 320 {
				t.Errorf("step %d: decoded %d samples, want 320", i, n)
			}
		}
	}
}

func TestOpusPacketizerRejectsRate(t *testing.T) {
	if _, err := NewOpusPacketizer(audio.Mono(44100)); err == nil {
		t.Error("expected error for 44100Hz")
	}
}

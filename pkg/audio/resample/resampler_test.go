// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation resampling between sample rates
package resample

import (
	"testing"
)

func TestNewResampler(t *testing.T) {
	r := New(44100, 16000, 1)

	if r.inputRate != 44100 {
		t.Errorf("expected inputRate 44100, got %d", r.inputRate)
	}
	if r.outputRate != 16000 {
		t.Errorf("expected outputRate 16000, got %d", r.outputRate)
	}
	if r.channels != 1 {
		t.Errorf("expected channels 1, got %d", r.channels)
	}
}

func TestResampleLengths(t *testing.T) {
	tests := []struct {
		name     string
		inRate   int
		outRate  int
		channels int
		inLen    int
		wantLen  int
	}{
		{"downsample 48k to 16k", 48000, 16000, 1, 4800, 1600},
		{"upsample 8k to 16k", 8000, 16000, 1, 800, 1600},
		{"stereo 32k to 16k", 32000, 16000, 2, 2000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := make([]int16, tt.inLen)
			for i := range input {
				input[i] = int16(i % 1000)
			}
			out := Convert(input, tt.inRate, tt.outRate, tt.channels)
			if diff := len(out) - tt.wantLen; diff < -tt.channels*2 || diff > 0 {
				t.Errorf("expected ~%d samples, got %d", tt.wantLen, len(out))
			}
		})
	}
}

func TestResampleInterpolates(t *testing.T) {
	// Doubling the rate puts a midpoint between each pair
	input := []int16{0, 100, 200, 300}
	out := Convert(input, 8000, 16000, 1)

	want := []int16{0, 50, 100, 150, 200, 250, 300, 300}
	if len(out) != len(want) {
		t.Fatalf("got %d samples, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestConvertSameRateCopies(t *testing.T) {
	input := []int16{1, 2, 3}
	out := Convert(input, 16000, 16000, 1)
	out[0] = 99
	if input[0] != 1 {
		t.Error("Convert at equal rates must not alias its input")
	}
}

func TestResampleEmpty(t *testing.T) {
	r := New(44100, 16000, 1)
	if n := r.Resample(nil, make([]int16, 10)); n != 0 {
		t.Errorf("expected 0 samples from empty input, got %d", n)
	}
}

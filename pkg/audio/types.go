// ABOUTME: Audio type definitions
// ABOUTME: Defines stream format and 16-bit PCM byte-order conversions
package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// SampleWidth is the size of one encoded sample in bytes
	SampleWidth = 2

	// HeaderLen is the fixed packet header length preceding every payload
	HeaderLen = 12

	// MaxDatagram is the largest datagram read from the socket
	MaxDatagram = 65535

	// PeakAmplitude is the magnitude generated signals are scaled to,
	// leaving headroom under the int16 ceiling
	PeakAmplitude = 32760
)

// Format describes a mono 16-bit PCM stream
type Format struct {
	SampleRate int
	Channels   int
}

// Mono returns a single-channel format at the given rate
func Mono(sampleRate int) Format {
	return Format{SampleRate: sampleRate, Channels: 1}
}

// FrameBytes returns the byte length of n samples per channel
func (f Format) FrameBytes(n int) int {
	return n * f.Channels * SampleWidth
}

// Duration returns the play time of n bytes
func (f Format) Duration(n int) time.Duration {
	samples := n / (f.Channels * SampleWidth)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// DecodeBigEndian converts a wire payload to samples
func DecodeBigEndian(payload []byte) ([]int16, error) {
	if len(payload)%SampleWidth != 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrMalformedPacket, len(payload))
	}
	samples := make([]int16, len(payload)/SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.BigEndian.Uint16(payload[i*2:]))
	}
	return samples, nil
}

// EncodeBigEndian converts samples to wire order
func EncodeBigEndian(samples []int16) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.BigEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeLittleEndian converts little-endian bytes, as produced by software
// decoders, to samples. A trailing odd byte is ignored.
func DecodeLittleEndian(data []byte) []int16 {
	samples := make([]int16, len(data)/SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// EncodeNative converts samples to the host byte order used by audio devices
func EncodeNative(samples []int16) []byte {
	out := make([]byte, len(samples)*SampleWidth)
	for i, s := range samples {
		binary.NativeEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeNative converts host-order bytes back to samples.
// A trailing odd byte is ignored.
func DecodeNative(data []byte) []int16 {
	samples := make([]int16, len(data)/SampleWidth)
	for i := range samples {
		samples[i] = int16(binary.NativeEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SwapToNative re-encodes a big-endian payload in host order without an
// intermediate sample slice
func SwapToNative(payload []byte) ([]byte, error) {
	if len(payload)%SampleWidth != 0 {
		return nil, fmt.Errorf("%w: payload length %d", ErrMalformedPacket, len(payload))
	}
	out := make([]byte, len(payload))
	for i := 0; i < len(payload); i += SampleWidth {
		binary.NativeEndian.PutUint16(out[i:], binary.BigEndian.Uint16(payload[i:]))
	}
	return out, nil
}

// Clamp16 saturates a wide sample to the int16 range
func Clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

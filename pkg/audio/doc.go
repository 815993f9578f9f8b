// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, wire constants, byte-order helpers and error types
// Package audio provides the PCM fundamentals shared by the pcmstream packages.
//
// Audio on the wire is mono signed 16-bit PCM, big-endian, behind a fixed
// 12-byte header. Audio handed to output devices is the same samples in the
// host byte order. This package converts between the two and defines the
// error types the pipeline components report:
//   - TransportError: socket bind/send/receive failures
//   - DeviceError: audio output failures
//   - ErrMalformedPacket: payloads that are not whole samples
//
// Example:
//
//	native, err := audio.SwapToNative(datagram[audio.HeaderLen:])
//	if errors.Is(err, audio.ErrMalformedPacket) {
//	    // drop it
//	}
package audio

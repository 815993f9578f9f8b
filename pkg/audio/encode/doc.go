// ABOUTME: Audio encoder package for writing captured PCM to files
// ABOUTME: Provides Encoder interface and implementations for FLAC and raw L16, plus Opus packets
// Package encode writes 16-bit PCM to disk and packetizes it for the tap.
//
// Supports: FLAC (mewkiz/flac, verbatim subframes), raw big-endian L16 and
// 20ms Opus packets (hraban/opus) for live streaming.
//
// Example:
//
//	enc, err := encode.Create("capture.flac", audio.Mono(16000))
//	err = enc.Write(samples)
//	err = enc.Close()
package encode

// ABOUTME: Sample rate conversion package
// ABOUTME: Brings decoded 16-bit audio to the stream's sampling frequency
// Package resample converts interleaved int16 audio between sample rates
// by linear interpolation. The file source uses it to play a 44.1kHz track
// into a 16kHz stream.
//
// Example:
//
//	mono := clip.Mono()
//	samples := resample.Convert(mono.Samples, mono.Format.SampleRate, 16000, 1)
package resample

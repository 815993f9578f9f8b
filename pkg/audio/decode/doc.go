// ABOUTME: Audio file decoders for the file source
// ABOUTME: Decodes MP3, FLAC and raw L16 files to 16-bit clips
// Package decode loads audio files into memory as 16-bit PCM clips.
//
// Supports: MP3 (go-mp3), FLAC (mewkiz/flac) and raw big-endian L16,
// the same sample layout used on the wire.
//
// Example:
//
//	clip, err := decode.File("tones.flac", 16000)
//	mono := clip.Mono()
package decode

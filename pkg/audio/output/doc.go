// ABOUTME: Audio output package for playing audio
// ABOUTME: Provides Output interface with malgo, oto, PortAudio and null backends
// Package output provides audio playback backends.
//
// Every backend supports two modes. In callback mode the backend's own
// real-time thread pulls each period from a FillFunc. In blocking mode the
// caller pushes PCM with Write. The malgo backend is the default; PortAudio
// requires the "portaudio" build tag; the null backend paces a fill callback
// with a ticker and discards the audio, for headless runs.
//
// Example:
//
//	out, _ := output.New("malgo")
//	err := out.Open(audio.Mono(16000), 1600, player.FillFrame)
//	defer out.Close()
package output

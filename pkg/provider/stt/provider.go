// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram)
// and exposes a uniform streaming interface. The central abstraction is
// StreamHandle: once opened, a stream accepts raw PCM audio frames and emits
// two streams of Transcript values — low-latency interim results and
// authoritative finals.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition settings for a new
// STT stream. All fields must be compatible with what the underlying
// provider supports.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz (e.g., 16000).
	SampleRate int

	// Channels is the number of audio channels. 1 = mono, which most
	// streaming STT providers require.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). An empty string uses the provider default.
	Language string

	// Diarize requests speaker attribution on transcripts when the provider
	// supports it. Fragments then carry a small-integer Speaker index.
	Diarize bool
}

// StreamHandle represents an open STT streaming connection. It is an
// interface so that test code can provide mock implementations without a
// live provider connection.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so leaks goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type StreamHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate, Channels, and
	// bit depth agreed in StreamConfig. SendAudio returns an error once the
	// underlying connection is closed or broken.
	SendAudio(chunk []byte) error

	// Ping sends a protocol-level keep-alive to the provider so that idle
	// control channels are not reaped during genuine silence. It returns an
	// error when the connection is closed or broken.
	Ping() error

	// Interims returns a read-only channel emitting low-latency interim
	// Transcript values. These must not be written to the authoritative
	// transcript log. The channel is closed when the stream ends.
	Interims() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative final
	// Transcript values. The channel is closed when the stream ends —
	// whether by Close or by an abnormal provider-side disconnect.
	Finals() <-chan Transcript

	// Close terminates the stream, asking the provider to flush any pending
	// audio first. Safe to call multiple times.
	Close() error
}

// Provider is a factory for STT streaming connections.
type Provider interface {
	// StartStream opens a new streaming transcription connection. The
	// context bounds connection establishment only; the returned handle
	// outlives it.
	StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error)
}

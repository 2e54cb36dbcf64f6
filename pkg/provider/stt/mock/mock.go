// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller opens streams with the expected
// StreamConfig and to script per-dial outcomes (e.g., fail twice, then
// succeed). Use Stream to feed controlled Transcript values and inspect
// which audio chunks were delivered.
package mock

import (
	"context"
	"sync"

	"github.com/auricle-audio/auricle/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartStreamFunc, if non-nil, fully controls StartStream behaviour.
	// The call is still recorded first. Use it to script sequences of
	// failures and successes across reconnect attempts.
	StartStreamFunc func(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error)

	// Stream is the StreamHandle returned by StartStream when
	// StartStreamFunc is nil. If both are nil, StartStream returns a fresh
	// default Stream with buffered channels.
	Stream stt.StreamHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream
	// when StartStreamFunc is nil.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns a handle per the fields above.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.StreamHandle, error) {
	p.mu.Lock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	fn := p.StartStreamFunc
	h := p.Stream
	err := p.StartStreamErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if h != nil {
		return h, nil
	}
	return NewStream(), nil
}

// Dials returns the number of recorded StartStream calls. Thread-safe.
func (p *Provider) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Stream is a mock implementation of stt.StreamHandle.
// Tests feed transcripts through InterimsCh/FinalsCh and close them (or call
// Close) when done.
type Stream struct {
	mu sync.Mutex

	// InterimsCh is the channel returned by Interims(). Tests own this
	// channel and are responsible for sending to and closing it.
	InterimsCh chan stt.Transcript

	// FinalsCh is the channel returned by Finals(). Tests own this channel.
	FinalsCh chan stt.Transcript

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// PingErr, if non-nil, is returned by every Ping call.
	PingErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// SendAudioCalls records a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// PingCount is the number of times Ping was called.
	PingCount int

	// CloseCount is the number of times Close was called.
	CloseCount int

	closeOnce sync.Once
}

// NewStream returns a Stream with buffered transcript channels.
func NewStream() *Stream {
	return &Stream{
		InterimsCh: make(chan stt.Transcript, 16),
		FinalsCh:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the chunk and returns SendAudioErr.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make([]byte, len(chunk))
	copy(c, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, c)
	return s.SendAudioErr
}

// SetSendAudioErr swaps the error returned by subsequent SendAudio calls.
func (s *Stream) SetSendAudioErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioErr = err
}

// Sent returns copies of all chunks delivered via SendAudio.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SendAudioCalls))
	copy(out, s.SendAudioCalls)
	return out
}

// Ping records the call and returns PingErr.
func (s *Stream) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingCount++
	return s.PingErr
}

// Pings returns how many times Ping was called. Thread-safe.
func (s *Stream) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingCount
}

// Interims returns InterimsCh.
func (s *Stream) Interims() <-chan stt.Transcript { return s.InterimsCh }

// Finals returns FinalsCh.
func (s *Stream) Finals() <-chan stt.Transcript { return s.FinalsCh }

// Close records the call, closes the transcript channels once, and returns
// CloseErr.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCount++
	err := s.CloseErr
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		if s.InterimsCh != nil {
			close(s.InterimsCh)
		}
		if s.FinalsCh != nil {
			close(s.FinalsCh)
		}
	})
	return err
}

// Closes returns how many times Close was called. Thread-safe.
func (s *Stream) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCount
}

// Ensure Stream implements stt.StreamHandle at compile time.
var _ stt.StreamHandle = (*Stream)(nil)

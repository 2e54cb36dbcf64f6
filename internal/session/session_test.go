package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auricle-audio/auricle/internal/analysis"
	"github.com/auricle-audio/auricle/internal/transcript"
	"github.com/auricle-audio/auricle/pkg/provider/stt"
	sttmock "github.com/auricle-audio/auricle/pkg/provider/stt/mock"
)

// capturePublisher records delivered transcript blocks.
type capturePublisher struct {
	mu     sync.Mutex
	blocks []string
}

func (c *capturePublisher) Publish(_ context.Context, _, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, text)
	return nil
}

func (c *capturePublisher) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.blocks))
	copy(out, c.blocks)
	return out
}

var _ analysis.Publisher = (*capturePublisher)(nil)

func newTestSession(t *testing.T, p stt.Provider, pub analysis.Publisher) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		ID:       "sess-test",
		Provider: p,
		Stream:   stt.StreamConfig{SampleRate: 16000, Channels: 1},
		Supervision: SupervisorConfig{
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		Transcript:  transcript.Config{Dwell: time.Hour},
		Publisher:   pub,
		IdleTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSession_ShortPacketIsSilenceMarker(t *testing.T) {
	p := &sttmock.Provider{}
	s := newTestSession(t, p, nil)
	defer s.Close("test done")

	// Packets of header size or less carry no frame and must not reach the
	// provider, so no upstream connection is dialed for them.
	for _, packet := range [][]byte{nil, {0x01}, {0x01, 0x02, 0x03}} {
		if err := s.HandleAudio(t.Context(), packet); err != nil {
			t.Fatalf("HandleAudio(%d bytes): %v", len(packet), err)
		}
	}

	if p.Dials() != 0 {
		t.Errorf("expected no upstream dials for silence markers, got %d", p.Dials())
	}
}

func TestSession_ShortPacketStillCountsAsActivity(t *testing.T) {
	p := &sttmock.Provider{}
	s := newTestSession(t, p, nil)
	defer s.Close("test done")

	before := s.LastActivity()
	time.Sleep(5 * time.Millisecond)
	if err := s.HandleAudio(t.Context(), []byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("HandleAudio: %v", err)
	}

	if !s.LastActivity().After(before) {
		t.Error("expected a silence marker to advance the activity clock")
	}
}

func TestSession_FinalsFlowIntoFlush(t *testing.T) {
	h := sttmock.NewStream()
	p := &sttmock.Provider{Stream: h}
	pub := &capturePublisher{}
	s := newTestSession(t, p, pub)
	defer s.Close("test done")

	if err := s.sup.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.FinalsCh <- stt.Transcript{Text: "testing one two", Speaker: 0, IsFinal: true}
	waitFor(t, func() bool { return s.acc.Pending() })

	want := "Speaker 0: testing one two"
	if got := s.Flush(); got != want {
		t.Errorf("flushed text = %q, want %q", got, want)
	}
	blocks := pub.all()
	if len(blocks) != 1 || blocks[0] != want {
		t.Errorf("delivered blocks = %v, want [%q]", blocks, want)
	}
}

func TestSession_CloseFlushesBufferedTranscript(t *testing.T) {
	h := sttmock.NewStream()
	p := &sttmock.Provider{Stream: h}
	pub := &capturePublisher{}
	s := newTestSession(t, p, pub)

	if err := s.sup.Connect(t.Context()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	h.FinalsCh <- stt.Transcript{Text: "parting words", Speaker: 2, IsFinal: true}
	waitFor(t, func() bool { return s.acc.Pending() })

	s.Close("test")
	s.Close("test") // idempotent

	blocks := pub.all()
	if len(blocks) != 1 {
		t.Fatalf("expected exactly one delivered block, got %d", len(blocks))
	}
	if want := "Speaker 2: parting words"; blocks[0] != want {
		t.Errorf("delivered block = %q, want %q", blocks[0], want)
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("state after close = %v, want closed", got)
	}
}

func TestSession_TerminationFlushesExactlyOnce(t *testing.T) {
	// Dials never succeed, so the first upstream send exhausts the
	// reconnect budget. The buffered transcript must be flushed exactly
	// once during the resulting teardown.
	p := &sttmock.Provider{StartStreamErr: errors.New("refused")}
	pub := &capturePublisher{}
	s, err := NewSession(SessionConfig{
		ID:       "doomed",
		Provider: p,
		Stream:   stt.StreamConfig{SampleRate: 16000, Channels: 1},
		Supervision: SupervisorConfig{
			MaxAttempts: 2,
			BackoffBase: time.Millisecond,
			BackoffCap:  5 * time.Millisecond,
		},
		Transcript:  transcript.Config{Dwell: time.Hour},
		Publisher:   pub,
		IdleTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	s.acc.Accept(transcript.Fragment{Text: "last words", Speaker: 0, IsFinal: true})

	if err := s.sup.Send(t.Context(), []byte("pcm")); !errors.Is(err, ErrTerminated) {
		t.Fatalf("expected ErrTerminated, got %v", err)
	}

	waitFor(t, func() bool { return s.State() == StateTerminated && len(pub.all()) > 0 })

	blocks := pub.all()
	if len(blocks) != 1 {
		t.Fatalf("expected exactly one flush delivery, got %d", len(blocks))
	}
	if want := "Speaker 0: last words"; blocks[0] != want {
		t.Errorf("delivered block = %q, want %q", blocks[0], want)
	}

	// Teardown already ran; a later explicit close must not flush again.
	s.Close("again")
	if n := len(pub.all()); n != 1 {
		t.Errorf("expected no further deliveries, got %d", n)
	}
}

func TestSession_IdleAutoCloseDetachesFromRegistry(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, 20*time.Millisecond))

	s, err := r.GetOrCreate("sleepy")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	waitFor(t, func() bool { return r.Len() == 0 })
	waitFor(t, func() bool { return s.State() == StateClosed })
}

func TestSession_ActivityDefersIdleClose(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, 60*time.Millisecond))
	defer r.CloseAll("test done")

	s, err := r.GetOrCreate("chatty")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Keep packets arriving more often than the idle timeout.
	for i := 0; i < 5; i++ {
		if err := s.HandleAudio(t.Context(), []byte{0x01, 0x02, 0x03}); err != nil {
			t.Fatalf("HandleAudio: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	if r.Len() != 1 {
		t.Errorf("expected the active session to survive, registry length = %d", r.Len())
	}
}

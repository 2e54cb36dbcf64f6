package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/auricle-audio/auricle/pkg/provider/stt"
	sttmock "github.com/auricle-audio/auricle/pkg/provider/stt/mock"
)

// newTestFactory builds sessions against the given provider. Sessions get a
// long idle timeout unless the test wants auto-close behaviour.
func newTestFactory(p stt.Provider, idle time.Duration) Factory {
	return func(id string) (*Session, error) {
		return NewSession(SessionConfig{
			ID:       id,
			Provider: p,
			Stream:   stt.StreamConfig{SampleRate: 16000, Channels: 1},
			Supervision: SupervisorConfig{
				BackoffBase: time.Millisecond,
				BackoffCap:  5 * time.Millisecond,
			},
			IdleTimeout: idle,
		})
	}
}

func TestRegistry_ConcurrentGetOrCreateConverges(t *testing.T) {
	var created atomic.Int32
	inner := newTestFactory(&sttmock.Provider{}, time.Hour)
	r := NewRegistry(func(id string) (*Session, error) {
		created.Add(1)
		return inner(id)
	})
	defer r.CloseAll("test done")

	const workers = 16
	sessions := make([]*Session, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.GetOrCreate("device-7")
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if sessions[i] != sessions[0] {
			t.Fatal("concurrent creators did not converge on one session")
		}
	}
	if n := created.Load(); n != 1 {
		t.Errorf("factory called %d times, want 1", n)
	}
	if r.Len() != 1 {
		t.Errorf("registry length = %d, want 1", r.Len())
	}
}

func TestRegistry_GetAbsentReturnsNil(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, time.Hour))
	if s := r.Get("nobody"); s != nil {
		t.Errorf("expected nil for unknown id, got %v", s.ID())
	}
}

func TestRegistry_RemoveTearsDown(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, time.Hour))

	s, err := r.GetOrCreate("device-1")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if !r.Remove("device-1", "test") {
		t.Fatal("expected Remove to report an existing session")
	}
	if r.Len() != 0 {
		t.Errorf("registry length = %d after remove, want 0", r.Len())
	}
	if got := s.State(); got != StateClosed {
		t.Errorf("removed session state = %v, want closed", got)
	}
	if r.Remove("device-1", "test") {
		t.Error("expected Remove to report false for an absent session")
	}
}

func TestRegistry_FactoryErrorNotCached(t *testing.T) {
	boom := errors.New("no decoder for you")
	fail := true
	inner := newTestFactory(&sttmock.Provider{}, time.Hour)
	r := NewRegistry(func(id string) (*Session, error) {
		if fail {
			return nil, boom
		}
		return inner(id)
	})
	defer r.CloseAll("test done")

	if _, err := r.GetOrCreate("device-2"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("failed creation must not register a session, length = %d", r.Len())
	}

	fail = false
	if _, err := r.GetOrCreate("device-2"); err != nil {
		t.Fatalf("expected later creation to succeed, got %v", err)
	}
}

func TestRegistry_ListSnapshots(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, time.Hour))
	defer r.CloseAll("test done")

	for _, id := range []string{"a", "b"} {
		if _, err := r.GetOrCreate(id); err != nil {
			t.Fatalf("GetOrCreate(%s): %v", id, err)
		}
	}

	infos := r.List()
	if len(infos) != 2 {
		t.Fatalf("listed %d sessions, want 2", len(infos))
	}
	seen := map[string]bool{}
	for _, info := range infos {
		seen[info.ID] = true
		if info.State != StateIdle.String() {
			t.Errorf("session %s state = %q, want idle", info.ID, info.State)
		}
		if info.CreatedAt.IsZero() || info.LastActivity.IsZero() {
			t.Errorf("session %s has zero timestamps", info.ID)
		}
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("listing missed a session: %v", seen)
	}
}

func TestRegistry_SweepRemovesStale(t *testing.T) {
	// Idle auto-close is effectively off; only the sweep may reap.
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, time.Hour))

	s, err := r.GetOrCreate("device-3")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Sweep(ctx, 10*time.Millisecond, 20*time.Millisecond)
	}()

	waitFor(t, func() bool { return r.Len() == 0 })
	if got := s.State(); got != StateClosed {
		t.Errorf("swept session state = %v, want closed", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop on context cancellation")
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(newTestFactory(&sttmock.Provider{}, time.Hour))

	var all []*Session
	for _, id := range []string{"x", "y", "z"} {
		s, err := r.GetOrCreate(id)
		if err != nil {
			t.Fatalf("GetOrCreate(%s): %v", id, err)
		}
		all = append(all, s)
	}

	r.CloseAll("shutdown")

	if r.Len() != 0 {
		t.Errorf("registry length = %d after CloseAll, want 0", r.Len())
	}
	for _, s := range all {
		if got := s.State(); got != StateClosed {
			t.Errorf("session %s state = %v, want closed", s.ID(), got)
		}
	}
}

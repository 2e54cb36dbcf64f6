package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/internal/observe"
)

// Factory builds a new Session for an identifier. Called by the Registry
// with its lock held, so it must not block on network I/O — NewSession only
// assembles state; the upstream dial happens on first audio.
type Factory func(id string) (*Session, error)

// Registry is the process-wide map from session identifier to Session. It
// owns creation and teardown: GetOrCreate is the only entry point for
// obtaining a session, and concurrent creators for the same identifier
// converge on a single instance.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry using factory for new sessions.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating it if absent. At most
// one Session is ever created per identifier.
func (r *Registry) GetOrCreate(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	s, err := r.factory(id)
	if err != nil {
		return nil, err
	}
	s.onGone = func() { r.detach(id) }
	r.sessions[id] = s

	observe.DefaultMetrics().ActiveSessions.Add(context.Background(), 1)
	slog.Info("session: created", "session_id", id)
	return s, nil
}

// Get returns the session for id, or nil when absent.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Remove detaches the session for id and tears it down: final flush, then
// connection close. Returns false when no such session existed.
func (r *Registry) Remove(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close(reason)
	return true
}

// detach drops id from the map without touching the session; used by a
// session tearing itself down (idle close, termination).
func (r *Registry) detach(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Info is a point-in-time snapshot of one session for the ops listing.
type Info struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// List returns a snapshot of all live sessions. Per-session fields are read
// after the registry lock is released.
func (r *Registry) List() []Info {
	r.mu.Lock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	out := make([]Info, 0, len(snapshot))
	for _, s := range snapshot {
		out = append(out, Info{
			ID:           s.ID(),
			State:        s.State().String(),
			CreatedAt:    s.CreatedAt(),
			LastActivity: s.LastActivity(),
		})
	}
	return out
}

// Sweep runs the fleet-wide health sweep until ctx is cancelled: every
// interval it scans all sessions and tears down any whose last activity
// exceeds staleness, guarding against leaked sessions whose close events
// were lost. The sweep holds no per-session lock beyond the single
// LastActivity read.
func (r *Registry) Sweep(ctx context.Context, interval, staleness time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, info := range r.List() {
			if time.Since(info.LastActivity) <= staleness {
				continue
			}
			slog.Warn("session: sweeping stale session",
				"session_id", info.ID,
				"state", info.State,
				"last_activity", info.LastActivity,
			)
			r.Remove(info.ID, "stale")
		}
	}
}

// CloseAll tears down every live session; used at server shutdown.
func (r *Registry) CloseAll(reason string) {
	for _, info := range r.List() {
		r.Remove(info.ID, reason)
	}
}

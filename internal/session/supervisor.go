package session

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/pkg/audio/opus"
	"github.com/auricle-audio/auricle/pkg/provider/stt"
)

// Default supervision parameters, applied when the corresponding
// SupervisorConfig field is zero.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepaliveInterval = 12 * time.Second
	defaultMaxAttempts       = 5
	defaultBackoffBase       = 500 * time.Millisecond
	defaultBackoffCap        = 8 * time.Second

	// silenceFrameMs is the duration of the synthetic silent frame sent
	// alongside keep-alive pings, for providers that reap idle audio
	// channels rather than idle control channels.
	silenceFrameMs = 20
)

// Errors surfaced by [Supervisor.Send].
var (
	// ErrClosed is returned after a graceful close.
	ErrClosed = errors.New("session: supervisor is closed")

	// ErrTerminated is returned once the reconnect budget is exhausted.
	// The session will not retry further; callers must start a new one.
	ErrTerminated = errors.New("session: reconnect budget exhausted")
)

// SupervisorConfig configures a [Supervisor].
type SupervisorConfig struct {
	// SessionID labels log records and metrics.
	SessionID string

	// Provider dials upstream STT streams.
	Provider stt.Provider

	// Stream is the audio format and recognition settings for every dial.
	Stream stt.StreamConfig

	// ConnectTimeout bounds a single dial. Default 10s.
	ConnectTimeout time.Duration

	// KeepaliveInterval is the period between protocol pings while Open.
	// Default 12s.
	KeepaliveInterval time.Duration

	// MaxAttempts is the number of consecutive dial failures tolerated
	// before the session terminates. Default 5.
	MaxAttempts int

	// BackoffBase is the initial reconnect delay; it grows by 1.5x per
	// consecutive failure up to BackoffCap. Defaults 500ms / 8s.
	BackoffBase time.Duration
	BackoffCap  time.Duration

	// OnFinal receives every final transcript from the provider, across
	// reconnects, in arrival order. Must be non-nil.
	OnFinal func(stt.Transcript)

	// OnTerminated is called (once, from its own goroutine) after the
	// reconnect budget is exhausted so the owner can flush and tear down.
	// May be nil.
	OnTerminated func()
}

// Supervisor owns one upstream STT connection for a session and keeps it
// alive across an unreliable link: dial with bounded timeout, reconnect with
// exponential backoff up to a budget, keep-alive pinging with a synthetic
// silence frame, and single-replay of an audio payload whose send hit a
// broken socket.
//
// Exactly one live stream handle exists at a time; a replaced handle is
// fully closed before the new one is adopted. All methods are safe for
// concurrent use. A graceful [Supervisor.Close] wins over any in-flight
// reconnect: the done channel is checked inside the backoff wait and before
// a freshly dialed handle is adopted.
type Supervisor struct {
	sessionID string
	provider  stt.Provider
	streamCfg stt.StreamConfig

	connectTimeout    time.Duration
	keepaliveInterval time.Duration
	maxAttempts       int
	backoffBase       time.Duration
	backoffCap        time.Duration

	onFinal      func(stt.Transcript)
	onTerminated func()

	// opMu serialises connection operations (send, dial, reconnect, close
	// teardown). It may be held across backoff waits.
	opMu sync.Mutex

	// mu guards the fast-changing fields below.
	mu       sync.Mutex
	state    State
	handle   stt.StreamHandle
	attempts int

	done      chan struct{}
	closeOnce sync.Once
	termOnce  sync.Once
	wg        sync.WaitGroup
}

// NewSupervisor creates a Supervisor in [StateIdle]. The first Send (or an
// explicit [Supervisor.Connect]) dials the provider.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = defaultBackoffCap
	}

	s := &Supervisor{
		sessionID:         cfg.SessionID,
		provider:          cfg.Provider,
		streamCfg:         cfg.Stream,
		connectTimeout:    cfg.ConnectTimeout,
		keepaliveInterval: cfg.KeepaliveInterval,
		maxAttempts:       cfg.MaxAttempts,
		backoffBase:       cfg.BackoffBase,
		backoffCap:        cfg.BackoffCap,
		onFinal:           cfg.OnFinal,
		onTerminated:      cfg.OnTerminated,
		state:             StateIdle,
		done:              make(chan struct{}),
	}

	s.wg.Add(1)
	go s.keepaliveLoop()

	return s
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the provider eagerly. Optional: the first Send connects on
// demand.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if _, err := s.currentHandle(); err == nil {
		return nil
	} else if errors.Is(err, ErrClosed) || errors.Is(err, ErrTerminated) {
		return err
	}
	return s.reconnect(ctx)
}

// Send delivers one PCM payload upstream, connecting first if needed. On a
// send failure against a broken socket it reconnects immediately (within the
// backoff budget) and replays the same payload exactly once against the new
// connection. A failed replay drops the payload and returns the error; the
// next Send drives another reconnect.
func (s *Supervisor) Send(ctx context.Context, pcm []byte) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	h, err := s.currentHandle()
	if errors.Is(err, errNotConnected) {
		if err := s.reconnect(ctx); err != nil {
			return err
		}
		h, err = s.currentHandle()
	}
	if err != nil {
		return err
	}

	start := time.Now()
	sendErr := h.SendAudio(pcm)
	if sendErr == nil {
		observe.DefaultMetrics().SendDuration.Record(ctx, time.Since(start).Seconds())
		return nil
	}
	slog.Warn("session: send failed, reconnecting",
		"session_id", s.sessionID,
		"err", sendErr,
	)
	s.dropHandle(h)

	if err := s.reconnect(ctx); err != nil {
		return err
	}
	h, err = s.currentHandle()
	if err != nil {
		return err
	}

	// The failed payload is replayed exactly once against the fresh
	// connection; if that also fails it is dropped and the next Send (or
	// keep-alive tick) drives recovery.
	if err := h.SendAudio(pcm); err != nil {
		slog.Warn("session: replayed payload failed, dropping",
			"session_id", s.sessionID,
			"err", err,
		)
		s.dropHandle(h)
		return err
	}
	return nil
}

// Close gracefully shuts the connection down: Closing → Closed. Safe to
// call multiple times; close wins over any concurrently scheduled reconnect.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	s.opMu.Lock()
	s.mu.Lock()
	h := s.handle
	s.handle = nil
	if !s.state.Terminal() {
		s.state = StateClosing
	}
	s.mu.Unlock()

	if h != nil {
		_ = h.Close()
	}

	s.mu.Lock()
	if s.state == StateClosing {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.opMu.Unlock()

	s.wg.Wait()
	return nil
}

// errNotConnected is an internal signal that no handle is currently live but
// the supervisor is not in a terminal state.
var errNotConnected = errors.New("session: not connected")

// currentHandle returns the live handle, or an error describing why there is
// none.
func (s *Supervisor) currentHandle() (stt.StreamHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateTerminated:
		return nil, ErrTerminated
	case s.state == StateClosing || s.state == StateClosed:
		return nil, ErrClosed
	case s.handle == nil:
		return nil, errNotConnected
	}
	return s.handle, nil
}

// dropHandle releases a broken handle and moves to StateBackoff, provided
// the handle is still current.
func (s *Supervisor) dropHandle(h stt.StreamHandle) {
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
		if !s.state.Terminal() && s.state != StateClosing {
			s.state = StateBackoff
		}
	}
	s.mu.Unlock()
	_ = h.Close()
}

// reconnect dials until success, graceful close, caller cancellation, or
// budget exhaustion. Must be called with opMu held. The attempt counter
// carries across calls and resets only on a successful dial, so the budget
// bounds *consecutive* failures. Caller cancellation is not an upstream
// failure and never counts against the budget.
func (s *Supervisor) reconnect(ctx context.Context) error {
	for {
		select {
		case <-s.done:
			return ErrClosed
		default:
		}
		if err := ctx.Err(); err != nil {
			// The caller went away; that says nothing about upstream
			// health. The budget is untouched and the next Send retries.
			return err
		}

		s.setState(StateConnecting)

		dialCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
		h, err := s.provider.StartStream(dialCtx, s.streamCfg)
		cancel()

		if err == nil {
			// Close may have raced the dial; it wins.
			select {
			case <-s.done:
				_ = h.Close()
				return ErrClosed
			default:
			}

			s.mu.Lock()
			wasRetry := s.attempts > 0
			s.attempts = 0
			s.handle = h
			s.state = StateOpen
			s.mu.Unlock()

			if wasRetry {
				observe.DefaultMetrics().RecordReconnect(ctx, true)
			}
			slog.Info("session: upstream connected", "session_id", s.sessionID)

			s.wg.Add(1)
			go s.consume(h)
			return nil
		}

		if ctx.Err() != nil {
			// The dial failed because the caller was cancelled, not
			// because the provider refused; do not count it.
			s.setState(StateBackoff)
			return ctx.Err()
		}

		observe.DefaultMetrics().RecordReconnect(ctx, false)

		s.mu.Lock()
		s.attempts++
		attempt := s.attempts
		s.mu.Unlock()

		if attempt > s.maxAttempts {
			slog.Error("session: reconnect budget exhausted",
				"session_id", s.sessionID,
				"attempts", attempt,
				"err", err,
			)
			s.terminate()
			return ErrTerminated
		}

		delay := backoffDelay(s.backoffBase, s.backoffCap, attempt)
		slog.Warn("session: dial failed, backing off",
			"session_id", s.sessionID,
			"attempt", attempt,
			"max_attempts", s.maxAttempts,
			"backoff", delay,
			"err", err,
		)

		s.setState(StateBackoff)
		select {
		case <-s.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// terminate moves to the terminal StateTerminated and notifies the owner so
// buffered transcript is flushed and resources released. Never retried
// automatically.
func (s *Supervisor) terminate() {
	s.termOnce.Do(func() {
		s.mu.Lock()
		h := s.handle
		s.handle = nil
		s.state = StateTerminated
		s.mu.Unlock()

		if h != nil {
			_ = h.Close()
		}
		s.closeOnce.Do(func() {
			close(s.done)
		})

		observe.DefaultMetrics().Terminations.Add(context.Background(), 1)

		if s.onTerminated != nil {
			// Run the owner's teardown outside the current call stack; it
			// re-enters Close, which must not deadlock against opMu.
			go s.onTerminated()
		}
	})
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = st
	}
	s.mu.Unlock()
}

// consume forwards transcripts from one handle until its channels close.
// Interims are transient and only drained; finals go to the owner in arrival
// order. A reader exit while the handle is still current and nominally Open
// is an abnormal provider-side close: the handle is dropped so the next Send
// or keep-alive tick reconnects.
func (s *Supervisor) consume(h stt.StreamHandle) {
	defer s.wg.Done()

	interims := h.Interims()
	finals := h.Finals()
	for interims != nil || finals != nil {
		select {
		case t, ok := <-finals:
			if !ok {
				finals = nil
				continue
			}
			s.onFinal(t)
		case _, ok := <-interims:
			if !ok {
				interims = nil
				continue
			}
		}
	}

	s.mu.Lock()
	abnormal := s.handle == h && s.state == StateOpen
	if abnormal {
		s.handle = nil
		s.state = StateBackoff
	}
	s.mu.Unlock()

	if abnormal {
		slog.Warn("session: upstream closed abnormally", "session_id", s.sessionID)
		_ = h.Close()
	}
}

// keepaliveLoop pings the provider while Open so idle control channels are
// not reaped, and sends a minimal synthetic silent frame for providers that
// time out idle audio channels instead. Synthetic frames are not genuine
// source audio and never touch the session's activity clock. A keep-alive
// failure is a transient connection error: the handle is dropped and the
// next tick or Send reconnects. A tick that finds the connection in Backoff
// (provider dropped during source silence) drives the reconnect itself, so
// the session does not stay dark until the next audio packet.
func (s *Supervisor) keepaliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		h, err := s.currentHandle()
		if errors.Is(err, errNotConnected) && s.State() == StateBackoff {
			s.opMu.Lock()
			if _, herr := s.currentHandle(); errors.Is(herr, errNotConnected) {
				if rerr := s.reconnect(context.Background()); rerr != nil {
					slog.Warn("session: keep-alive reconnect failed",
						"session_id", s.sessionID,
						"err", rerr,
					)
				}
			}
			h, err = s.currentHandle()
			s.opMu.Unlock()
		}
		if err != nil {
			continue
		}

		if err := h.Ping(); err != nil {
			slog.Warn("session: keep-alive ping failed",
				"session_id", s.sessionID,
				"err", err,
			)
			s.dropHandle(h)
			continue
		}

		silence := opus.SilenceFrame(s.streamCfg.SampleRate, s.streamCfg.Channels, silenceFrameMs)
		if err := h.SendAudio(silence); err != nil {
			slog.Warn("session: keep-alive silence frame failed",
				"session_id", s.sessionID,
				"err", err,
			)
			s.dropHandle(h)
		}
	}
}

// backoffDelay computes base·1.5^(attempt−1) capped at cap.
func backoffDelay(base, cap time.Duration, attempt int) time.Duration {
	d := float64(base) * math.Pow(1.5, float64(attempt-1))
	if d > float64(cap) {
		return cap
	}
	return time.Duration(d)
}

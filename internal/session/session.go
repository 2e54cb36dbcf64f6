// Package session owns the per-source transcription lifecycle: one Session
// aggregate per audio source, a ConnectionSupervisor keeping its upstream
// STT link alive, and a Registry mapping source identifiers to sessions.
//
// Everything a session needs — codec state, segmenter, transcript
// accumulator, supervisor, timers — lives on the one aggregate, so the whole
// lot is created and torn down atomically. Sessions share no mutable state
// except the registry map.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/internal/analysis"
	"github.com/auricle-audio/auricle/internal/archive"
	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/internal/transcript"
	"github.com/auricle-audio/auricle/pkg/audio/opus"
	"github.com/auricle-audio/auricle/pkg/audio/segment"
	"github.com/auricle-audio/auricle/pkg/provider/stt"
	"go.opentelemetry.io/otel/metric"
)

// Session is the aggregate of all per-source state: decoder, segmenter,
// accumulator, supervisor, idle timer, and activity clock. Exactly one
// Session exists per source identifier at a time; it owns exclusive access
// to its upstream connection.
//
// Exported methods are safe for concurrent use. Audio packets are processed
// in receipt order: HandleAudio serialises internally.
type Session struct {
	id        string
	createdAt time.Time

	// ioMu serialises the audio pipeline so packets keep receipt order and
	// the stateful decoder/segmenter see one packet at a time.
	ioMu      sync.Mutex
	decoder   *opus.Decoder
	segmenter *segment.Segmenter

	acc   *transcript.Accumulator
	sup   *Supervisor
	store archive.Store

	idleTimeout time.Duration
	idleTimer   *time.Timer

	actMu        sync.Mutex
	lastActivity time.Time

	closeOnce sync.Once

	// onGone detaches the session from its registry; set by the Registry.
	onGone func()
}

// SessionConfig assembles the collaborators for one Session.
type SessionConfig struct {
	ID          string
	Provider    stt.Provider
	Stream      stt.StreamConfig
	Publisher   analysis.Publisher
	Store       archive.Store
	Supervision SupervisorConfig  // SessionID/Provider/Stream/callbacks filled in by NewSession
	Transcript  transcript.Config // SessionID/OnFlush filled in by NewSession
	SegmentLen  time.Duration     // archival segment duration
	IdleTimeout time.Duration     // auto-close after this long without genuine audio
}

// NewSession builds a Session in StateIdle. The upstream connection is
// dialed on the first audio packet.
func NewSession(cfg SessionConfig) (*Session, error) {
	dec, err := opus.NewDecoderFormat(cfg.Stream.SampleRate, cfg.Stream.Channels)
	if err != nil {
		return nil, err
	}

	store := cfg.Store
	if store == nil {
		store = archive.Discard{}
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = analysis.LogOnly{}
	}
	if cfg.SegmentLen <= 0 {
		cfg.SegmentLen = 5 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	s := &Session{
		id:           cfg.ID,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		decoder:      dec,
		segmenter:    segment.New(cfg.Stream.SampleRate, cfg.Stream.Channels, cfg.SegmentLen),
		store:        store,
		idleTimeout:  cfg.IdleTimeout,
	}

	tCfg := cfg.Transcript
	tCfg.SessionID = cfg.ID
	tCfg.OnFlush = func(text string) {
		analysis.Handoff(context.Background(), pub, cfg.ID, text)
	}
	s.acc = transcript.New(tCfg)

	supCfg := cfg.Supervision
	supCfg.SessionID = cfg.ID
	supCfg.Provider = cfg.Provider
	supCfg.Stream = cfg.Stream
	supCfg.OnFinal = func(t stt.Transcript) {
		s.acc.Accept(transcript.Fragment{
			Text:     t.Text,
			Speaker:  t.Speaker,
			IsFinal:  t.IsFinal,
			Received: t.Received,
		})
	}
	supCfg.OnTerminated = func() {
		slog.Warn("session: terminated after reconnect budget", "session_id", cfg.ID)
		s.detach()
		s.Close("terminated")
	}
	s.sup = NewSupervisor(supCfg)

	// The auto-close timer presumes the source has ended after prolonged
	// silence. Only genuine audio resets it; supervisor keep-alives do not.
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		slog.Info("session: auto-closing after source inactivity",
			"session_id", cfg.ID,
			"idle_timeout", s.idleTimeout,
		)
		s.detach()
		s.Close("idle")
	})

	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the upstream connection state.
func (s *Session) State() State { return s.sup.State() }

// LastActivity returns the time of the last genuine audio packet.
func (s *Session) LastActivity() time.Time {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	return s.lastActivity
}

// HandleAudio runs one compressed packet through the pipeline: decode →
// activity touch → segment/archive → upstream send. A decode error drops
// the packet and keeps the stream healthy; the codec self-heals on the next
// valid frame. Send errors have already been through the supervisor's
// reconnect-and-replay path when they surface here.
func (s *Session) HandleAudio(ctx context.Context, packet []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.touch()

	pcm, err := s.decoder.Decode(packet)
	if err != nil {
		observe.Logger(ctx).Warn("session: dropping undecodable packet",
			"session_id", s.id,
			"bytes", len(packet),
			"err", err,
		)
		observe.DefaultMetrics().AudioPackets.Add(ctx, 1,
			metric.WithAttributes(observe.Attr("status", "decode_error")))
		return nil
	}
	observe.DefaultMetrics().AudioPackets.Add(ctx, 1,
		metric.WithAttributes(observe.Attr("status", "ok")))
	if len(pcm) == 0 {
		return nil
	}

	if seg := s.segmenter.Write(pcm); seg != nil {
		s.archiveSegment(ctx, seg)
	}

	return s.sup.Send(ctx, pcm)
}

// Flush forces the accumulator to emit whatever is buffered. Returns the
// flushed text ("" when the buffer was empty).
func (s *Session) Flush() string {
	return s.acc.Flush()
}

// Close tears the session down: final transcript flush (delivered before
// any resource is released), trailing segment archival, upstream close, and
// timer cancellation. Idempotent; close wins over concurrent reconnects.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.idleTimer.Stop()

		// Flush before releasing anything so buffered speech is never lost
		// to a connection problem.
		s.acc.Close()

		s.ioMu.Lock()
		if seg := s.segmenter.Flush(); seg != nil {
			s.archiveSegment(context.Background(), seg)
		}
		s.ioMu.Unlock()

		_ = s.sup.Close()

		observe.DefaultMetrics().ActiveSessions.Add(context.Background(), -1)
		slog.Info("session: closed", "session_id", s.id, "reason", reason)
	})
}

// touch records genuine source activity and re-arms the auto-close timer,
// atomically cancelling the previous pending firing.
func (s *Session) touch() {
	s.actMu.Lock()
	s.lastActivity = time.Now()
	s.actMu.Unlock()
	s.idleTimer.Reset(s.idleTimeout)
}

func (s *Session) archiveSegment(ctx context.Context, seg *segment.Segment) {
	if err := s.store.Put(s.id, seg); err != nil {
		observe.Logger(ctx).Warn("session: segment archival failed",
			"session_id", s.id,
			"segment", seg.Index,
			"err", err,
		)
		return
	}
	observe.DefaultMetrics().SegmentsArchived.Add(ctx, 1)
}

// detach unlinks the session from its registry, if attached.
func (s *Session) detach() {
	if s.onGone != nil {
		s.onGone()
	}
}

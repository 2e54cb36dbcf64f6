// Package transcript buffers finalized transcript fragments per session and
// renders them into coherent, deduplicated, speaker-aware text blocks.
//
// Only final fragments mutate the buffer. Each accepted fragment is checked
// against a bounded window of recently accepted fragments using a
// Levenshtein-ratio similarity score; near-duplicates — typically provider
// re-emissions of overlapping finals across reconnects — are discarded.
// Accepted fragments from the same speaker are joined with spaces; a speaker
// change inserts a paragraph break and a speaker label. The buffer flushes
// on an inactivity dwell, on explicit request, or at session teardown.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/auricle-audio/auricle/internal/observe"
	"github.com/auricle-audio/auricle/pkg/provider/stt"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	defaultDwell        = 45 * time.Second
	defaultThreshold    = 0.82
	defaultRecentWindow = 12
)

// Fragment is one finalized piece of transcribed speech.
type Fragment struct {
	// Text is the transcribed content. Fragments that are empty after
	// trimming are ignored.
	Text string

	// Speaker is the diarized speaker index, or stt.SpeakerUnknown.
	Speaker int

	// IsFinal marks the fragment as authoritative. Interim fragments never
	// mutate the buffer.
	IsFinal bool

	// Received is the arrival timestamp.
	Received time.Time
}

// FlushFunc receives the rendered text block of a non-empty flush.
type FlushFunc func(text string)

// Config configures an [Accumulator].
type Config struct {
	// SessionID labels log records and is not otherwise interpreted.
	SessionID string

	// Dwell is the inactivity period after the last accepted fragment
	// before the buffer flushes automatically. Defaults to 45s.
	Dwell time.Duration

	// DuplicateThreshold is the similarity score in (0,1] at or above which
	// a fragment is considered a near-duplicate and discarded.
	// Defaults to 0.82.
	DuplicateThreshold float64

	// RecentWindow is the number of recently accepted fragments retained
	// for duplicate detection. Defaults to 12.
	RecentWindow int

	// OnFlush is invoked with the rendered text of every non-empty flush,
	// regardless of trigger. May be nil.
	OnFlush FlushFunc
}

// Accumulator buffers final transcript fragments for one session.
// All methods are safe for concurrent use.
type Accumulator struct {
	sessionID string
	dwell     time.Duration
	threshold float64
	windowMax int
	onFlush   FlushFunc

	mu          sync.Mutex
	parts       []string
	lastSpeaker int
	window      []string // normalized texts of recently accepted fragments
	timer       *time.Timer
	closed      bool
}

// New creates an Accumulator with defaults applied for zero Config fields.
func New(cfg Config) *Accumulator {
	if cfg.Dwell <= 0 {
		cfg.Dwell = defaultDwell
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = defaultThreshold
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = defaultRecentWindow
	}
	return &Accumulator{
		sessionID:   cfg.SessionID,
		dwell:       cfg.Dwell,
		threshold:   cfg.DuplicateThreshold,
		windowMax:   cfg.RecentWindow,
		onFlush:     cfg.OnFlush,
		lastSpeaker: stt.SpeakerUnknown,
	}
}

// Accept processes one fragment. Interim fragments, fragments that are empty
// after trimming, and near-duplicates of recently accepted fragments are
// discarded. Accepted fragments are appended to the buffer with speaker-turn
// rendering and reset the pending flush deadline.
func (a *Accumulator) Accept(f Fragment) {
	if !f.IsFinal {
		return
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return
	}
	norm := Normalize(text)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	for _, prev := range a.window {
		if Similarity(norm, prev) >= a.threshold {
			slog.Debug("transcript: dropped near-duplicate fragment",
				"session_id", a.sessionID,
				"text", text,
			)
			observe.DefaultMetrics().DuplicatesDropped.Add(context.Background(), 1)
			return
		}
	}

	a.appendLocked(text, f.Speaker)
	a.window = append(a.window, norm)
	if len(a.window) > a.windowMax {
		a.window = append(a.window[:0:0], a.window[len(a.window)-a.windowMax:]...)
	}
	a.scheduleFlushLocked()
}

// appendLocked renders the fragment into the buffer. Same-speaker fragments
// join with a single space; a speaker change starts a new paragraph with a
// speaker label. Fragments without speaker attribution continue the current
// turn.
func (a *Accumulator) appendLocked(text string, speaker int) {
	switch {
	case len(a.parts) == 0:
		if speaker != stt.SpeakerUnknown {
			a.parts = append(a.parts, speakerLabel(speaker)+text)
		} else {
			a.parts = append(a.parts, text)
		}
	case speaker != stt.SpeakerUnknown && speaker != a.lastSpeaker:
		a.parts = append(a.parts, "\n\n"+speakerLabel(speaker)+text)
	default:
		a.parts = append(a.parts, " "+text)
	}
	if speaker != stt.SpeakerUnknown {
		a.lastSpeaker = speaker
	}
}

// Flush renders and clears the buffer, cancels the pending deadline, and
// delivers the text to the OnFlush callback. It returns the rendered text,
// which is empty when nothing was buffered (in which case no callback
// fires). Flush never fails: the buffer is authoritative memory, not the
// downstream call.
func (a *Accumulator) Flush() string {
	return a.flush("explicit")
}

// Close performs a final flush and permanently stops the accumulator. Later
// Accept and Flush calls become no-ops. Returns the final flushed text.
func (a *Accumulator) Close() string {
	text := a.flush("teardown")
	a.mu.Lock()
	a.closed = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()
	return text
}

// Pending reports whether the buffer currently holds unflushed text.
func (a *Accumulator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.parts) > 0
}

func (a *Accumulator) flush(trigger string) string {
	a.mu.Lock()
	if a.closed || len(a.parts) == 0 {
		if a.timer != nil {
			a.timer.Stop()
			a.timer = nil
		}
		a.mu.Unlock()
		return ""
	}

	text := strings.Join(a.parts, "")
	a.parts = nil
	// A fresh block is self-describing: the next fragment re-states its
	// speaker label. The duplicate window intentionally survives the flush
	// so re-emissions straddling a flush boundary are still caught.
	a.lastSpeaker = stt.SpeakerUnknown
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	onFlush := a.onFlush
	a.mu.Unlock()

	observe.DefaultMetrics().RecordFlush(context.Background(), trigger)
	slog.Debug("transcript: flush",
		"session_id", a.sessionID,
		"trigger", trigger,
		"chars", len(text),
	)
	if onFlush != nil {
		onFlush(text)
	}
	return text
}

// scheduleFlushLocked (re)arms the dwell timer, cancelling any pending
// firing for the previous deadline. Must be called with a.mu held.
func (a *Accumulator) scheduleFlushLocked() {
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.dwell, func() {
		a.flush("dwell")
	})
}

func speakerLabel(speaker int) string {
	return fmt.Sprintf("Speaker %d: ", speaker)
}
